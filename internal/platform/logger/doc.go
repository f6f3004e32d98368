// Package logger configures structured JSON logging on top of log/slog.
//
// Every pass runner and store logs through a *slog.Logger handed down at
// construction, so tests can swap in silent or capturing handlers. The
// helpers here set up the process-wide default from configuration and
// propagate request-scoped loggers through contexts.
package logger
