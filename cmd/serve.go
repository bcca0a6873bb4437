package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/atelierhq/atelier/internal/agent"
	"github.com/atelierhq/atelier/internal/api"
	"github.com/atelierhq/atelier/internal/artifact"
	"github.com/atelierhq/atelier/internal/chat"
	"github.com/atelierhq/atelier/internal/config"
	"github.com/atelierhq/atelier/internal/database"
	"github.com/atelierhq/atelier/internal/log"
	"github.com/atelierhq/atelier/internal/store"
	"github.com/atelierhq/atelier/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the atelier HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger := log.New(log.Config{Level: cfg.Log.SlogLevel(), JSON: cfg.Log.JSON})

	pool, err := database.Connect(ctx, cfg.Storage.DSN())
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := database.Migrate(cfg.Storage.DSN()); err != nil {
		return err
	}

	messageStore := store.New(pool, logger.With("component", "store"))
	artifactStore := artifact.NewStore(pool, logger.With("component", "artifact"))
	persister := artifact.NewPersister(artifactStore, cfg.Artifacts.Dir, cfg.Artifacts.BaseURL,
		logger.With("component", "persister"))

	registry := tools.NewRegistry()
	if err := registry.Register(tools.NewScrapeTool(cfg.Agent.ScrapeMaxBytes, logger.With("tool", "scrape_page"))); err != nil {
		return err
	}
	if cfg.Agent.GenerateEndpoint != "" {
		if err := registry.Register(tools.NewGenerateImageTool(cfg.Agent.GenerateEndpoint, logger.With("tool", "generate_image"))); err != nil {
			return err
		}
	}
	if cfg.Agent.AnalyzeEndpoint != "" {
		if err := registry.Register(tools.NewAnalyzeImageTool(cfg.Agent.AnalyzeEndpoint, logger.With("tool", "analyze_image"))); err != nil {
			return err
		}
	}

	if cfg.Agent.APIKey == "" {
		return fmt.Errorf("%w: set agent.api_key or ATELIER_AGENT_API_KEY", config.ErrMissingAPIKey)
	}
	client, err := agent.NewGenAIClient(ctx, cfg.Agent.APIKey)
	if err != nil {
		return err
	}
	loop := agent.NewGenAI(client, cfg.Agent.Model, registry.All(), cfg.Agent.MaxToolRounds,
		logger.With("component", "loop"))

	orchestrator, err := chat.New(chat.Config{
		Store:             messageStore,
		Persister:         persister,
		Loop:              loop,
		HistoryWindow:     cfg.Agent.HistoryWindow,
		HeartbeatInterval: cfg.Agent.HeartbeatInterval,
		Logger:            logger.With("component", "orchestrator"),
	})
	if err != nil {
		return err
	}

	server, err := api.NewServer(api.ServerConfig{
		Logger:        logger.With("component", "api"),
		Runner:        orchestrator,
		Conversations: messageStore,
		Artifacts:     persister,
		Pinger:        pool,
		AuthToken:     cfg.Server.AuthToken,
		CORSOrigins:   cfg.Server.CORSOrigins,
		RateBurst:     cfg.Server.RateBurst,
		TrustProxy:    cfg.Server.TrustProxy,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
