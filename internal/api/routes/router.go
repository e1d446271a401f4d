package routes

import (
	"net/http"

	"github.com/medigate/navigator/internal/api/handlers"
	"github.com/medigate/navigator/internal/api/middleware"
	"github.com/medigate/navigator/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	workflowHandler *handlers.WorkflowHandler
	healthHandler   *handlers.HealthHandler

	cacheMiddleware *middleware.CacheMiddleware
	metrics         *observability.Metrics
}

// NewRouter creates a new router
func NewRouter(
	workflowHandler *handlers.WorkflowHandler,
	healthHandler *handlers.HealthHandler,
	cacheMiddleware *middleware.CacheMiddleware,
	metrics *observability.Metrics,
) *Router {
	return &Router{
		mux:             http.NewServeMux(),
		workflowHandler: workflowHandler,
		healthHandler:   healthHandler,
		cacheMiddleware: cacheMiddleware,
		metrics:         metrics,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", r.healthHandler.Health)

	// Workflow endpoints
	r.mux.HandleFunc("POST /api/workflows", r.workflowHandler.StartWorkflow)
	r.mux.HandleFunc("GET /api/workflows/{id}", r.workflowHandler.GetWorkflow)
	r.mux.HandleFunc("POST /api/workflows/{id}/symptom", r.workflowHandler.SubmitSymptom)
	r.mux.HandleFunc("POST /api/workflows/{id}/answers", r.workflowHandler.SubmitAnswers)
	r.mux.HandleFunc("POST /api/workflows/{id}/facilities", r.workflowHandler.LookupFacilities)
	r.mux.HandleFunc("POST /api/workflows/{id}/enrichment", r.workflowHandler.EnrichClinics)
	r.mux.HandleFunc("POST /api/workflows/{id}/note", r.workflowHandler.GenerateNote)
	r.mux.HandleFunc("POST /api/workflows/{id}/restart", r.workflowHandler.RestartWorkflow)

	// Reference data endpoints
	r.mux.HandleFunc("GET /api/reference-points", r.workflowHandler.ListReferencePoints)

	// Apply middleware in reverse order (last middleware wraps first)
	// CORS must be outermost so cached responses also get CORS headers.

	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(handler)

	if r.cacheMiddleware != nil {
		handler = r.cacheMiddleware.Middleware(handler)
	}

	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.ResponseOptimization(handler)
	handler = middleware.CORSMiddleware(handler)

	return handler
}
