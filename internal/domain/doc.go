// Package domain contains the core scheduling entities, their status state
// machines, and validation logic. It represents the heart of the engine,
// independent of any specific infrastructure or delivery mechanism.
package domain
