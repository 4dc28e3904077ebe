package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/psigestao/plansync/internal/config"
	"github.com/psigestao/plansync/internal/markers"
	"github.com/psigestao/plansync/internal/resolver"
	"github.com/psigestao/plansync/internal/subsync"
)

// openDurableStore opens the configured durable marker backend. The returned
// close func is never nil.
func openDurableStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (markers.DurableStore, func() error, error) {
	switch cfg.MarkerBackend {
	case config.MarkerBackendSQLite:
		store, err := markers.NewSQLiteDurableStore(cfg.MarkerDBPath())
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("path", store.Path()).Msg("Using SQLite marker store")
		return store, store.Close, nil
	case config.MarkerBackendRedis:
		client, err := markers.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Msg("Using Redis marker store")
		return markers.NewRedisDurableStore(client, ""), client.Close, nil
	case config.MarkerBackendMemory:
		logger.Warn().Msg("Using in-memory marker store; check windows reset on restart")
		return markers.NewMemoryDurableStore(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown marker backend %q", cfg.MarkerBackend)
	}
}

func buildResolver(cfg *config.Config, httpClient *http.Client, clock clockwork.Clock, logger zerolog.Logger) (subsync.Resolver, error) {
	if err := cfg.ValidateResolver(); err != nil {
		return nil, err
	}
	switch cfg.BillingSource {
	case config.BillingSourceStripe:
		return resolver.NewStripeResolver(cfg.StripeSecretKey, httpClient, clock, logger), nil
	case config.BillingSourceFunction:
		return resolver.NewFunctionResolver(cfg.FunctionURL, httpClient, clock, logger), nil
	default:
		return nil, fmt.Errorf("unknown billing source %q", cfg.BillingSource)
	}
}
