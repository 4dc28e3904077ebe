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

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/psigestao/plansync/internal/api"
	"github.com/psigestao/plansync/internal/auth"
	"github.com/psigestao/plansync/internal/config"
	"github.com/psigestao/plansync/internal/logging"
	"github.com/psigestao/plansync/internal/resolver"
	"github.com/psigestao/plansync/internal/session"
	"github.com/psigestao/plansync/internal/subsync"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session and subscription API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(parent context.Context) error {
	// Baseline logger for early startup logs
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "plansync"})

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger := logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "plansync",
	})
	logger.Info().Str("version", Version).Msg("Starting plansync")

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	durable, closeDurable, err := openDurableStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open marker store: %w", err)
	}
	defer func() {
		if err := closeDurable(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close marker store")
		}
	}()

	dnsCache := resolver.NewDNSCache(cfg.DNSCacheTTL, logger)
	httpClient := resolver.NewHTTPClient(dnsCache, cfg.ResolveTimeout)
	clock := clockwork.NewRealClock()

	billing, err := buildResolver(cfg, httpClient, clock, logger)
	if err != nil {
		return err
	}

	var verifier auth.TokenVerifier
	if cfg.OIDCIssuerURL != "" {
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID, httpClient)
		if err != nil {
			return err
		}
		verifier = v
		logger.Info().Str("issuer", cfg.OIDCIssuerURL).Msg("OIDC sign-in verification enabled")
	} else {
		logger.Warn().Msg("No OIDC issuer configured; sign-in accepts unverified identities")
	}

	scheduler := subsync.NewCronScheduler(logger)
	sessions := session.NewManager(session.Options{
		Durable:           durable,
		Resolver:          billing,
		Scheduler:         scheduler,
		Clock:             clock,
		CheckWindow:       cfg.CheckWindow,
		ResolveTimeout:    cfg.ResolveTimeout,
		AuthSettleDelay:   cfg.AuthSettleDelay,
		AutoCheckInterval: cfg.AutoCheckInterval,
		BaseContext:       ctx,
		Logger:            logger,
	})

	router := api.NewRouter(api.NewHandler(api.Config{
		Sessions:       sessions,
		Verifier:       verifier,
		AllowedOrigins: cfg.AllowedOrigins,
		Version:        Version,
		Logger:         logger,
	}))
	// ReadHeaderTimeout instead of ReadTimeout keeps upgraded websocket
	// connections free of a connection deadline.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	watcher, err := config.NewConfigWatcher(cfg, func(level string) {
		applied := logging.SetLevel(level)
		logger.Info().Str("level", applied.String()).Msg("Log level reloaded")
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Config watcher unavailable; log level changes need a restart")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dnsCache.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return runMetricsServer(gctx, cfg.MetricsAddr, logger)
	})
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}
	g.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	logger.Info().Int("sessions", sessions.Len()).Msg("Shutting down")
	sessions.CloseAll()
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	scheduler.Stop(stopCtx)

	return err
}
