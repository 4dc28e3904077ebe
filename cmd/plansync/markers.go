package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/psigestao/plansync/internal/markers"
)

func newMarkersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "markers",
		Short: "Inspect or clear durable check markers",
	}

	var showUser string
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the last successful check of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDurableStore(cmd, func(ctx context.Context, store markers.DurableStore) error {
				at, ok, err := markers.Inspect(ctx, store, showUser)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !ok {
					fmt.Fprintf(out, "%s: never checked\n", showUser)
					return nil
				}
				age := time.Since(at).Truncate(time.Second)
				fmt.Fprintf(out, "%s: last check %s (%s ago)\n", showUser, at.Format(time.RFC3339), age)
				return nil
			})
		},
	}
	showCmd.Flags().StringVar(&showUser, "user", "", "user id (required)")
	_ = showCmd.MarkFlagRequired("user")

	var clearUser string
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the last-check marker of a user so the next check runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDurableStore(cmd, func(ctx context.Context, store markers.DurableStore) error {
				m := markers.New(store, markers.NewMemorySessionStore(), zerolog.Nop())
				if err := m.ClearLastCheck(ctx, clearUser); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: marker cleared\n", clearUser)
				return nil
			})
		},
	}
	clearCmd.Flags().StringVar(&clearUser, "user", "", "user id (required)")
	_ = clearCmd.MarkFlagRequired("user")

	cmd.AddCommand(showCmd, clearCmd)
	return cmd
}

func withDurableStore(cmd *cobra.Command, fn func(ctx context.Context, store markers.DurableStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, closeStore, err := openDurableStore(ctx, cfg, zerolog.Nop())
	if err != nil {
		return fmt.Errorf("open marker store: %w", err)
	}
	defer closeStore()
	return fn(ctx, store)
}
