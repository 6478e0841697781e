// Kestrel - Fraud decisioning and case lifecycle engine.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/cases"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/ml"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/verify"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Optional .env for local development; environment always wins.
	_ = godotenv.Load()

	cfg := domain.ConfigFromEnv()
	initLogger(cfg.Logging)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Rule store with its published snapshot
	store := rules.NewStore(repo)
	if err := store.Load(ctx); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule store initialized", "condition_types", len(rules.ConditionTypes()))

	// History service backing the reapply rules
	historySvc := history.NewService(repo, cacheImpl)

	// Verification adapters; nil when no registry endpoint is configured.
	var identity verify.IdentityVerifier
	if cfg.Verify.IdentityURL != "" {
		identity = verify.NewIdentityClient(cfg.Verify, cacheImpl)
		slog.Info("identity verifier initialized", "url", cfg.Verify.IdentityURL)
	}
	var tax verify.TaxVerifier
	if cfg.Verify.TaxRegistryURL != "" {
		tax = verify.NewTaxClient(cfg.Verify)
		slog.Info("tax verifier initialized", "url", cfg.Verify.TaxRegistryURL)
	}

	// Optional ML anomaly scorer
	var scorer ml.Scorer
	if cfg.ML.Enabled && cfg.ML.Endpoint != "" {
		scorer = ml.NewClient(cfg.ML)
		slog.Info("ml scorer initialized", "endpoint", cfg.ML.Endpoint)
	}

	orchestrator := decision.New(cfg.Decision, repo, store, historySvc, identity, tax, scorer, busImpl)
	slog.Info("decision orchestrator initialized",
		"block_threshold", cfg.Decision.BlockThreshold,
		"review_threshold", cfg.Decision.ReviewThreshold,
		"alert_on_review", cfg.Decision.AlertOnReview,
	)

	alertMgr := alerts.NewManager(repo, busImpl)
	caseMgr := cases.NewManager(repo, busImpl)

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, store, orchestrator, alertMgr, caseMgr, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func initLogger(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Printf("  Kestrel %s\n", version)
	fmt.Printf("  Tier:    %s\n", cfg.Tier)
	fmt.Printf("  Server:  http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /check                   - Run a fraud check")
	fmt.Println("    GET  /fraud-logs/{id}         - Get audit record")
	fmt.Println("    GET  /rules                   - List rules")
	fmt.Println("    POST /rules                   - Create a rule")
	fmt.Println("    POST /rules/{id}/toggle       - Activate/deactivate a rule")
	fmt.Println("    POST /blacklist               - Add a blacklist entry")
	fmt.Println("    GET  /alerts                  - List alerts")
	fmt.Println("    GET  /alerts/stats            - Alert counts by status")
	fmt.Println("    POST /alerts/{id}/assign      - Assign an alert")
	fmt.Println("    POST /cases                   - Open a case")
	fmt.Println("    POST /cases/{id}/follow-ups   - Append a follow-up note")
	fmt.Println("    GET  /health                  - Health check")
	fmt.Println("    GET  /metrics                 - Prometheus metrics")
	fmt.Println()
}
