// Command tarsy runs the alert-processing pipeline: HTTP edge, worker
// pool, audit store, and registries.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tarsyhq/tarsy-pipeline/pkg/agent/prompt"
	"github.com/tarsyhq/tarsy-pipeline/pkg/api"
	"github.com/tarsyhq/tarsy-pipeline/pkg/cleanup"
	"github.com/tarsyhq/tarsy-pipeline/pkg/config"
	"github.com/tarsyhq/tarsy-pipeline/pkg/database"
	"github.com/tarsyhq/tarsy-pipeline/pkg/events"
	"github.com/tarsyhq/tarsy-pipeline/pkg/masking"
	"github.com/tarsyhq/tarsy-pipeline/pkg/mcp"
	"github.com/tarsyhq/tarsy-pipeline/pkg/queue"
	"github.com/tarsyhq/tarsy-pipeline/pkg/runbook"
	"github.com/tarsyhq/tarsy-pipeline/pkg/services"
	"github.com/tarsyhq/tarsy-pipeline/pkg/session"
	"github.com/tarsyhq/tarsy-pipeline/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	var configDir string

	root := &cobra.Command{
		Use:     "tarsy",
		Short:   "Alert-processing pipeline server",
		Version: version.Full(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configDir)
		},
	}
	root.PersistentFlags().StringVar(&configDir, "config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")

	if err := root.Execute(); err != nil {
		log.Fatalf("tarsy: %v", err)
	}
}

func serve(ctx context.Context, configDir string) error {
	// Load .env from the config directory before anything reads env vars.
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting tarsy", "version", version.Full(), "http_port", httpPort, "config_dir", configDir)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Configuration: refuses to start on any validation failure.
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	// Audit store backing database: migrations applied on startup, unknown
	// schema versions refused.
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load database config: %w", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL, schema up to date")

	// Audit store services.
	sessionService := services.NewSessionService(dbClient)
	stageService := services.NewStageService(dbClient)
	interactionService := services.NewInteractionService(dbClient)
	timelineService := services.NewTimelineService(sessionService, stageService, interactionService)
	eventService := services.NewEventService(dbClient)

	// Hook bus: the audit writer and the progress broadcaster subscribe;
	// every LLM/MCP call site publishes.
	bus := events.NewBus(events.NewSessionClock())
	defer bus.Close()
	bus.Subscribe("audit", services.NewAuditSubscriber(interactionService))
	progressHub := events.NewProgressHub()
	bus.Subscribe("progress", progressHub)

	// Agent-side wiring.
	maskingService := masking.NewMaskingService(cfg.MCPServerRegistry, alertMaskingConfig(cfg))
	mcpFactory := mcp.NewClientFactory(cfg.MCPServerRegistry)
	promptBuilder := prompt.NewBuilder(cfg.MCPServerRegistry)
	sessionManager := session.NewManager(cfg, bus, promptBuilder, mcpFactory, maskingService)

	githubToken := os.Getenv(cfg.GitHub.TokenEnv)
	runbookService := runbook.NewService(cfg.Runbooks, githubToken)

	alertService := services.NewAlertService(
		sessionService, stageService, cfg.ChainRegistry,
		sessionManager, runbookService, bus).WithMasking(maskingService)

	// Worker pool: accepted alerts run fully parallel up to the bound;
	// stages within one alert stay strictly sequential.
	pool := queue.NewWorkerPool(cfg.Queue, alertService)
	pool.Start(ctx)
	defer pool.Stop()

	// MCP health monitoring for /health.
	healthMonitor := mcp.NewHealthMonitor(mcpFactory, cfg.MCPServerRegistry)
	healthMonitor.Start(ctx)
	defer healthMonitor.Stop()

	// Retention.
	cleanupService := cleanup.NewService(cfg.Retention, sessionService, eventService)
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	// HTTP edge.
	server := api.NewServer(cfg, dbClient, alertService, sessionService, timelineService, pool)
	server.SetHealthMonitor(healthMonitor)
	server.SetProgressHub(progressHub)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(":" + httpPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slog.Info("HTTP server listening", "port", httpPort)

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	return nil
}

func alertMaskingConfig(cfg *config.Config) masking.AlertMaskingConfig {
	if cfg.Defaults == nil || cfg.Defaults.AlertMasking == nil {
		return masking.AlertMaskingConfig{}
	}
	return masking.AlertMaskingConfig{
		Enabled:      cfg.Defaults.AlertMasking.Enabled,
		PatternGroup: cfg.Defaults.AlertMasking.PatternGroup,
	}
}
