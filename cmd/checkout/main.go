package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/campaignkit/checkout/internal/di"
	"github.com/campaignkit/checkout/internal/handlers"
	"github.com/campaignkit/checkout/internal/platform/config"
	"github.com/campaignkit/checkout/internal/platform/observability"
	"github.com/campaignkit/checkout/internal/platform/secrets"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("checkout")

	// The fetcher is built lazily so deployments without sm:// references
	// never need Secret Manager credentials.
	var fetcher *secrets.Fetcher
	resolver := config.SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
		if fetcher == nil {
			built, err := secrets.NewFetcher(ctx,
				secrets.WithDefaultProject(os.Getenv("CHECKOUT_SECRET_PROJECT_ID")),
			)
			if err != nil {
				return "", err
			}
			fetcher = built
		}
		return fetcher.Resolve(ctx, ref)
	})
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(resolver))
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, di.ContainerDeps{
		Logger: observability.EventLogger(logger),
	})
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	if session := container.Services.Session; session != nil {
		if err := session.Start(ctx); err != nil {
			logger.Warn("tokenization session start failed", zap.Error(err))
		}
	}

	router := handlers.NewRouter(
		handlers.WithPageType(cfg.Page.Type),
		handlers.WithCartRoutes(handlers.NewCartHandlers(container.Services.Engine).Routes),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(container.Services.Orchestrator).Routes),
		handlers.WithCampaignRoutes(handlers.NewCampaignHandlers(container.API).Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("checkout engine listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
