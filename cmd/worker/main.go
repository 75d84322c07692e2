package main

import (
	"context"
	"log"
	"time"

	"lanceiq/internal/engine/delivery"
	"lanceiq/internal/engine/outbound"
	"lanceiq/internal/engine/reconcile"
	"lanceiq/internal/pkg/logger"
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

	targetRepo := repositories.NewTargetRepository(db)
	jobRepo := repositories.NewJobRepository(db)
	breakerRepo := repositories.NewBreakerRepository(db)
	eventRepo := repositories.NewIngestedEventRepository(db)
	integrationRepo := repositories.NewIntegrationRepository(db)
	runRepo := repositories.NewRunRepository(db)
	objectRepo := repositories.NewProviderObjectRepository(db)
	caseRepo := repositories.NewCaseRepository(db)
	workspaceRepo := repositories.NewWorkspaceRepository(db)

	guard := outbound.NewGuard(cfg.Delivery.AllowHTTP)
	client := outbound.NewClient(guard, cfg.Delivery.HTTPTimeout, cfg.Delivery.MaxRedirects, cfg.Delivery.MaxResponseBytes)
	breakerControl := delivery.NewBreakerControl(breakerRepo, cfg.Delivery.BreakerThreshold, cfg.Delivery.BreakerCooldown)
	worker := delivery.NewWorker(jobRepo, targetRepo, breakerControl, client, cfg.Signing.KeyID, cfg.Delivery.BatchLimit)
	checker := delivery.NewHealthChecker(targetRepo, breakerControl, client, cfg.Signing.KeyID)

	clients := map[string]reconcile.ProviderClient{
		"stripe": reconcile.NewStripeClient(cfg.Reconciliation.ProviderTimeout),
	}
	engine := reconcile.NewEngine(
		integrationRepo, eventRepo, jobRepo, targetRepo, runRepo, objectRepo, caseRepo,
		box, clients, cfg.Reconciliation.Window, cfg.Reconciliation.ProviderTimeout,
	)

	log.Println("Starting LanceIQ background workers...")

	go runDeliveryWorker(workspaceRepo, worker, cfg.Worker.DeliveryInterval, cfg.Delivery.BatchLimit)
	go runHealthCheckWorker(workspaceRepo, checker, cfg.Worker.HealthCheckInterval)
	go runReconciliationWorker(workspaceRepo, engine, cfg.Worker.ReconciliationInterval)

	// Keep process alive
	select {}
}

func runDeliveryWorker(workspaces *repositories.WorkspaceRepository, worker *delivery.Worker, interval time.Duration, batchLimit int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		ids, err := workspaces.ListActiveIDs()
		if err != nil {
			log.Printf("Error listing workspaces: %v", err)
			continue
		}
		for _, id := range ids {
			if _, err := worker.Run(context.Background(), id, batchLimit, "worker:scheduler"); err != nil {
				log.Printf("Delivery run failed for workspace %s: %v", id, err)
			}
		}
	}
}

func runHealthCheckWorker(workspaces *repositories.WorkspaceRepository, checker *delivery.HealthChecker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		ids, err := workspaces.ListActiveIDs()
		if err != nil {
			log.Printf("Error listing workspaces: %v", err)
			continue
		}
		for _, id := range ids {
			if _, err := checker.Sweep(context.Background(), id); err != nil {
				log.Printf("Health check sweep failed for workspace %s: %v", id, err)
			}
		}
	}
}

func runReconciliationWorker(workspaces *repositories.WorkspaceRepository, engine *reconcile.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		ids, err := workspaces.ListActiveIDs()
		if err != nil {
			log.Printf("Error listing workspaces: %v", err)
			continue
		}
		for _, id := range ids {
			if _, _, err := engine.Run(context.Background(), id, ""); err != nil {
				log.Printf("Reconciliation failed for workspace %s: %v", id, err)
			}
		}
	}
}
