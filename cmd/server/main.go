package main

import (
	"fmt"
	"log"
	"net/http"

	"lanceiq/internal/api"
	"lanceiq/internal/api/handlers"
	"lanceiq/internal/api/middleware"
	"lanceiq/internal/engine/delivery"
	"lanceiq/internal/engine/outbound"
	"lanceiq/internal/engine/reconcile"
	"lanceiq/internal/pkg/logger"
	"lanceiq/internal/platform/audit"
	"lanceiq/internal/platform/auth"
	"lanceiq/internal/platform/config"
	"lanceiq/internal/platform/database"
	"lanceiq/internal/platform/repositories"
	"lanceiq/internal/platform/secrets"
)

func main() {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.Logging)

	db, err := database.NewDB(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	box, err := secrets.NewBox(cfg.Secrets.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize secrets box: %v", err)
	}

	// Repositories
	targetRepo := repositories.NewTargetRepository(db)
	jobRepo := repositories.NewJobRepository(db)
	breakerRepo := repositories.NewBreakerRepository(db)
	nonceRepo := repositories.NewNonceRepository(db)
	eventRepo := repositories.NewIngestedEventRepository(db)
	integrationRepo := repositories.NewIntegrationRepository(db)
	runRepo := repositories.NewRunRepository(db)
	objectRepo := repositories.NewProviderObjectRepository(db)
	caseRepo := repositories.NewCaseRepository(db)
	serviceTokenRepo := repositories.NewServiceTokenRepository(db)

	// Services
	tokenSvc := auth.NewTokenService(cfg.JWT)
	authz := auth.RoleAuthorizer{}
	sink := audit.NewDBSink(db)

	guard := outbound.NewGuard(cfg.Delivery.AllowHTTP)
	client := outbound.NewClient(guard, cfg.Delivery.HTTPTimeout, cfg.Delivery.MaxRedirects, cfg.Delivery.MaxResponseBytes)
	breakerControl := delivery.NewBreakerControl(breakerRepo, cfg.Delivery.BreakerThreshold, cfg.Delivery.BreakerCooldown)
	queue := delivery.NewQueue(jobRepo, targetRepo, cfg.Delivery.MaxAttempts)
	worker := delivery.NewWorker(jobRepo, targetRepo, breakerControl, client, cfg.Signing.KeyID, cfg.Delivery.BatchLimit)
	checker := delivery.NewHealthChecker(targetRepo, breakerControl, client, cfg.Signing.KeyID)
	ackVerifier := delivery.NewAckVerifier(targetRepo, nonceRepo, cfg.Delivery.SignatureSkewWindow, cfg.Delivery.ReplayNonceTTL)

	clients := map[string]reconcile.ProviderClient{
		"stripe": reconcile.NewStripeClient(cfg.Reconciliation.ProviderTimeout),
	}
	engine := reconcile.NewEngine(
		integrationRepo, eventRepo, jobRepo, targetRepo, runRepo, objectRepo, caseRepo,
		box, clients, cfg.Reconciliation.Window, cfg.Reconciliation.ProviderTimeout,
	)

	// Handlers
	deps := &api.Dependencies{
		HealthHandler:    handlers.NewHealthHandler(db),
		TargetHandler:    handlers.NewTargetHandler(targetRepo, breakerControl, checker, queue, guard, authz, sink),
		DeliveryHandler:  handlers.NewDeliveryHandler(queue, worker, jobRepo, eventRepo, authz, sink),
		ReconcileHandler: handlers.NewReconcileHandler(engine, runRepo, integrationRepo, box, clients, authz, sink),
		CaseHandler:      handlers.NewCaseHandler(caseRepo, eventRepo, queue, authz, sink),
		AckHandler:       handlers.NewAckHandler(ackVerifier, sink),
		AuthMiddleware:   middleware.NewAuthMiddleware(tokenSvc, serviceTokenRepo),
	}
	router := api.NewRouter(deps)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Printf("Server starting on %s", addr)
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
