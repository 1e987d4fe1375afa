package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"uigen/pkg/ai"
	"uigen/pkg/catalog"
	"uigen/pkg/config"
	"uigen/pkg/gateway"
	"uigen/pkg/logging"
	"uigen/pkg/server"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the generation HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}

func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	logger, err := logging.Init(cfg)
	if err != nil {
		logger.Warn("log_file_unavailable", "path", cfg.LogFile, "error", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	cat := catalog.Default()
	if cfg.CatalogFile != "" {
		if cat, err = catalog.Load(cfg.CatalogFile); err != nil {
			return err
		}
	}

	provider, err := ai.NewProviderFromConfig(cfg.Upstream)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}

	gw := gateway.New(provider,
		gateway.WithContentPolicy(gateway.ContentPolicy{
			MinLength:       cfg.ContentPolicy.MinLength,
			RequiredMarkers: cfg.ContentPolicy.RequiredMarkers,
		}),
		gateway.WithLogger(logger),
		gateway.WithProviderName(cfg.Upstream.Provider),
	)
	detach := gateway.ObserveSignals(logger)
	defer detach()

	opts := []server.Option{server.WithCatalog(cat), server.WithLogger(logger)}
	if len(cfg.Server.AuthTokens) > 0 {
		opts = append(opts, server.WithAuthenticator(server.NewStaticTokens(cfg.Server.AuthTokens)))
	}
	srv, err := server.New(cfg, gw, opts...)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logRoutes(logger, cfg)
		logger.Info("server_listening", "addr", cfg.Server.Addr, "provider", cfg.Upstream.Provider, "model", cfg.Upstream.Model)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server_shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func logRoutes(logger *slog.Logger, cfg config.Config) {
	for _, r := range cfg.Routes {
		logger.Info("route_registered",
			"name", r.Name,
			"path", r.Path,
			"streaming", r.Streaming,
			"temperature", r.Temperature,
			"max_tokens", r.MaxTokens,
			"prompt_variant", r.PromptVariant,
			"require_auth", r.RequireAuth,
		)
	}
}
