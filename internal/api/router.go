package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	apiContext "lanceiq/internal/api/context"
	"lanceiq/internal/api/handlers"
	"lanceiq/internal/api/middleware"
)

type Dependencies struct {
	HealthHandler    *handlers.HealthHandler
	TargetHandler    *handlers.TargetHandler
	DeliveryHandler  *handlers.DeliveryHandler
	ReconcileHandler *handlers.ReconcileHandler
	CaseHandler      *handlers.CaseHandler
	AckHandler       *handlers.AckHandler
	AuthMiddleware   *middleware.AuthMiddleware
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	router.GET("/health", wrap(deps.HealthHandler.Handle))

	// Destination acknowledgement callback. Unauthenticated; the signed
	// headers are the credential.
	router.POST("/api/v1/ack/:workspace_id/:target_id",
		chain(deps.AckHandler.Handle, middleware.RateLimit("ack")))

	authMid := deps.AuthMiddleware

	// Delivery targets
	router.POST("/api/v1/targets",
		chain(deps.TargetHandler.Create, authMid.Handle, middleware.RateLimit("api_write")))
	router.GET("/api/v1/targets",
		chain(deps.TargetHandler.List, authMid.Handle, middleware.RateLimit("api_read")))
	router.GET("/api/v1/targets/:target_id",
		chain(deps.TargetHandler.Get, authMid.Handle, middleware.RateLimit("api_read")))
	router.PATCH("/api/v1/targets/:target_id",
		chain(deps.TargetHandler.Update, authMid.Handle, middleware.RateLimit("api_write")))
	router.DELETE("/api/v1/targets/:target_id",
		chain(deps.TargetHandler.Deactivate, authMid.Handle, middleware.RateLimit("api_write")))
	router.POST("/api/v1/targets/:target_id/test",
		chain(deps.TargetHandler.TestWebhook, authMid.Handle, middleware.RateLimit("api_write")))
	router.POST("/api/v1/targets/:target_id/health-check",
		chain(deps.TargetHandler.HealthCheck, authMid.Handle, middleware.RateLimit("trigger")))

	// Delivery jobs
	router.POST("/api/v1/events/:event_id/replay",
		chain(deps.DeliveryHandler.Replay, authMid.Handle, middleware.RateLimit("api_write")))
	router.POST("/api/v1/delivery/run",
		chain(deps.DeliveryHandler.RunWorker, authMid.Handle, middleware.RateLimit("trigger")))
	router.GET("/api/v1/delivery/jobs/:job_id",
		chain(deps.DeliveryHandler.GetJob, authMid.Handle, middleware.RateLimit("api_read")))
	router.POST("/api/v1/delivery/jobs/:job_id/run",
		chain(deps.DeliveryHandler.RunJob, authMid.Handle, middleware.RateLimit("trigger")))

	// Provider integrations and reconciliation
	router.POST("/api/v1/integrations",
		chain(deps.ReconcileHandler.CreateIntegration, authMid.Handle, middleware.RateLimit("api_write")))
	router.POST("/api/v1/integrations/:integration_id/health-check",
		chain(deps.ReconcileHandler.IntegrationHealthCheck, authMid.Handle, middleware.RateLimit("trigger")))
	router.POST("/api/v1/reconciliation/runs",
		chain(deps.ReconcileHandler.Run, authMid.Handle, middleware.RateLimit("trigger")))
	router.GET("/api/v1/reconciliation/runs/:run_id",
		chain(deps.ReconcileHandler.GetRun, authMid.Handle, middleware.RateLimit("api_read")))

	// Reconciliation cases
	router.GET("/api/v1/cases",
		chain(deps.CaseHandler.List, authMid.Handle, middleware.RateLimit("api_read")))
	router.GET("/api/v1/cases/:case_id",
		chain(deps.CaseHandler.Get, authMid.Handle, middleware.RateLimit("api_read")))
	router.POST("/api/v1/cases/:case_id/resolve",
		chain(deps.CaseHandler.Resolve, authMid.Handle, middleware.RateLimit("api_write")))
	router.POST("/api/v1/cases/:case_id/replay",
		chain(deps.CaseHandler.Replay, authMid.Handle, middleware.RateLimit("api_write")))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Inject params into context
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}
