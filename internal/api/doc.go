// Package api exposes the engine's trigger endpoints: one POST per pass
// under /internal/cron/ plus a liveness check. It translates HTTP concerns
// into pass invocations and pass summaries into JSON responses; all
// correctness lives behind it in the store.
package api
