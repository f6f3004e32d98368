// Package service contains the application-facing operations of the
// scheduling engine. The host application talks to the engine through
// SchedulingService: enqueueing tasks, creating and steering workflows,
// and inspecting the dead letter set. Pass execution itself lives in
// internal/task and internal/workflow; this layer validates requests,
// applies engine defaults and owns the transactional boundaries around
// writes.
//
// Services depend on domain entities and store interfaces, never on the
// Postgres implementations, so every operation here is testable against
// in-memory stores.
package service
