// Package task implements the scheduling engine's passes: dispatching due
// tasks to registered handlers, reviewing the dead-letter backlog, and
// sweeping expired claims. Passes are stateless and time-boxed; a cron
// trigger starts one, it claims what it can within its budget, and every
// outcome is written back through the task store. Correctness under
// concurrent passes comes from the store's atomic claims, not from any
// single-runner assumption.
package task
