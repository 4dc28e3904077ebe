package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/psigestao/plansync/internal/auth"
	"github.com/psigestao/plansync/internal/logging"
	"github.com/psigestao/plansync/internal/markers"
	"github.com/psigestao/plansync/internal/resolver"
	"github.com/psigestao/plansync/internal/subsync"
)

type checkOptions struct {
	userID string
	email  string
	token  string
	force  bool
}

type checkReport struct {
	subsync.Outcome
	State subsync.SyncState `json:"state"`
}

func newCheckCmd() *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one subscription check for a user",
		Long: `Runs a single check through the gate against the configured durable markers.
Repeated invocations within the check window are skipped unless --force is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.userID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&opts.email, "email", "", "user email, used by the stripe billing source")
	cmd.Flags().StringVar(&opts.token, "token", "", "user access token, used by the function billing source")
	cmd.Flags().BoolVar(&opts.force, "force", false, "bypass the check window")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runCheck(cmd *cobra.Command, opts *checkOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger := logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "plansync"}).
		Level(zerolog.WarnLevel)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	durable, closeDurable, err := openDurableStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open marker store: %w", err)
	}
	defer closeDurable()

	clock := clockwork.NewRealClock()
	httpClient := resolver.NewHTTPClient(nil, cfg.ResolveTimeout)
	billing, err := buildResolver(cfg, httpClient, clock, logger)
	if err != nil {
		return err
	}

	userID := strings.TrimSpace(opts.userID)
	if userID == "" {
		return fmt.Errorf("--user is required")
	}
	m := markers.New(durable, markers.NewMemorySessionStore(), logger)
	// Each invocation continues one long-lived session, so only the durable
	// marker decides freshness.
	m.SetSessionCheck(userID)

	engine := subsync.NewEngine(subsync.EngineConfig{
		Store:          subsync.NewStore(),
		Markers:        m,
		Resolver:       billing,
		Clock:          clock,
		CheckWindow:    cfg.CheckWindow,
		ResolveTimeout: cfg.ResolveTimeout,
		Logger:         logger,
		BaseContext:    ctx,
	})
	engine.SwitchUser(&auth.Identity{
		UserID:      userID,
		Email:       strings.ToLower(strings.TrimSpace(opts.email)),
		AccessToken: strings.TrimSpace(opts.token),
	})

	req := subsync.SyncRequest{Reason: subsync.ReasonManualSync, Force: opts.force}
	out, err := engine.RequestSync(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(checkReport{Outcome: out, State: engine.Store().State()}); err != nil {
		return err
	}
	if out.Result != nil && !out.Result.Success {
		return fmt.Errorf("sync failed: %s", out.Result.Error.Message)
	}
	return nil
}
