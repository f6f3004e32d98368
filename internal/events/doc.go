// Package events provides types and interfaces for an event-driven architecture.
//
// This package defines event types and handler interfaces that allow for loose coupling
// between components in the system. Business features emit a TaskRequestEvent instead of
// calling the scheduling engine directly, enabling better separation of concerns and
// reducing circular dependencies.
//
// The primary components are:
// - TaskRequestEvent: Represents a request to enqueue a background task
// - EventHandler: Interface for components that can handle events
// - EventEmitter: Interface for components that can emit events
package events
