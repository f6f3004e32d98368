package api

import (
	"context"
	"net/http"
	"time"

	"github.com/glintlabs/glint-api/internal/api/shared"
	"github.com/glintlabs/glint-api/internal/task"
	"github.com/glintlabs/glint-api/internal/workflow"
)

// DispatchPass runs one dispatcher pass at the logical time of the
// triggering invocation.
type DispatchPass interface {
	RunPass(ctx context.Context, now time.Time) (task.DispatchSummary, error)
}

// ReviewPass inspects one batch of dead-lettered tasks.
type ReviewPass interface {
	Review(ctx context.Context, now time.Time) (task.ReviewSummary, error)
}

// WorkflowPass advances workflows through their step sequences.
type WorkflowPass interface {
	RunPass(ctx context.Context, now time.Time) (workflow.AdvanceSummary, error)
}

// MaintenancePass sweeps stuck claims and takes a status census.
type MaintenancePass interface {
	RunPass(ctx context.Context, now time.Time) (task.MaintenanceSummary, error)
}

// DispatchResponse is the body returned by POST /internal/cron/dispatch.
type DispatchResponse struct {
	task.DispatchSummary
	Timestamp time.Time `json:"timestamp"`
}

// ReviewResponse is the body returned by POST /internal/cron/review.
type ReviewResponse struct {
	task.ReviewSummary
	Timestamp time.Time `json:"timestamp"`
}

// WorkflowResponse is the body returned by POST /internal/cron/workflows.
type WorkflowResponse struct {
	workflow.AdvanceSummary
	Timestamp time.Time `json:"timestamp"`
}

// MaintenanceResponse is the body returned by POST /internal/cron/maintenance.
type MaintenanceResponse struct {
	task.MaintenanceSummary
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse is the body returned by GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// TriggerHandler exposes the engine's passes as cron trigger endpoints.
// Each invocation runs exactly one pass against a single logical time; the
// external scheduler provides the cadence, the handler provides none of it.
type TriggerHandler struct {
	dispatcher DispatchPass
	reviewer   ReviewPass
	advancer   WorkflowPass
	janitor    MaintenancePass

	now func() time.Time
}

// NewTriggerHandler creates a TriggerHandler over the four passes.
func NewTriggerHandler(
	dispatcher DispatchPass,
	reviewer ReviewPass,
	advancer WorkflowPass,
	janitor MaintenancePass,
) *TriggerHandler {
	return &TriggerHandler{
		dispatcher: dispatcher,
		reviewer:   reviewer,
		advancer:   advancer,
		janitor:    janitor,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch handles POST /internal/cron/dispatch. Per-task failures are part
// of a normal pass and come back inside the 200 summary; only a pass that
// could not run to completion produces an error status.
func (h *TriggerHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	summary, err := h.dispatcher.RunPass(r.Context(), now)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, DispatchResponse{
		DispatchSummary: summary,
		Timestamp:       now,
	})
}

// Review handles POST /internal/cron/review.
func (h *TriggerHandler) Review(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	summary, err := h.reviewer.Review(r.Context(), now)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ReviewResponse{
		ReviewSummary: summary,
		Timestamp:     now,
	})
}

// AdvanceWorkflows handles POST /internal/cron/workflows.
func (h *TriggerHandler) AdvanceWorkflows(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	summary, err := h.advancer.RunPass(r.Context(), now)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, WorkflowResponse{
		AdvanceSummary: summary,
		Timestamp:      now,
	})
}

// Maintain handles POST /internal/cron/maintenance.
func (h *TriggerHandler) Maintain(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	summary, err := h.janitor.RunPass(r.Context(), now)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, MaintenanceResponse{
		MaintenanceSummary: summary,
		Timestamp:          now,
	})
}

// Health handles GET /health.
func (h *TriggerHandler) Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: h.now(),
	})
}
