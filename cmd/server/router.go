package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/glintlabs/glint-api/internal/api"
	apiMiddleware "github.com/glintlabs/glint-api/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes
// and middleware. The trigger endpoints sit behind the shared-secret check;
// only the liveness probe is open.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	triggerHandler := api.NewTriggerHandler(
		app.dispatcher,
		app.reviewer,
		app.advancer,
		app.janitor,
	)
	cronAuth := apiMiddleware.NewCronAuth(app.secretVerifier, app.config.Trigger.SecretHash)

	// Register routes
	r.Route("/internal/cron", func(r chi.Router) {
		r.Use(cronAuth.Authenticate)
		r.Post("/dispatch", triggerHandler.Dispatch)
		r.Post("/review", triggerHandler.Review)
		r.Post("/workflows", triggerHandler.AdvanceWorkflows)
		r.Post("/maintenance", triggerHandler.Maintain)
	})

	// Health check endpoint
	r.Get("/health", triggerHandler.Health)

	return r
}
