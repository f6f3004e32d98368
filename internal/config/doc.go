// Package config loads and validates the engine's configuration from
// environment variables and optional config files. All settings carry
// defaults tuned for the reporting workload; only the database URL and the
// trigger secret hash must be supplied. Validation runs at load time so a
// misconfigured deployment fails at startup instead of mid-pass.
package config
