package subsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/psigestao/plansync/internal/auth"
	internalerrors "github.com/psigestao/plansync/internal/errors"
	"github.com/psigestao/plansync/internal/markers"
	"github.com/psigestao/plansync/internal/metrics"
	"github.com/psigestao/plansync/pkg/billing"
)

// DefaultResolveTimeout bounds a single outbound resolve.
const DefaultResolveTimeout = 30 * time.Second

// Resolver fetches the authoritative subscription of a user. One call is one
// outbound request; implementations do not retry.
type Resolver interface {
	ResolveSubscription(ctx context.Context, id auth.Identity) (billing.SubscriptionSnapshot, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, id auth.Identity) (billing.SubscriptionSnapshot, error)

func (f ResolverFunc) ResolveSubscription(ctx context.Context, id auth.Identity) (billing.SubscriptionSnapshot, error) {
	return f(ctx, id)
}

// Result is what a sync run reports back to whoever asked for it. A Stale
// result belongs to an account that was signed out while the run was in
// flight; it carries no data.
type Result struct {
	Success bool                          `json:"success"`
	Stale   bool                          `json:"stale,omitempty"`
	Data    *billing.SubscriptionSnapshot `json:"data,omitempty"`
	Error   *internalerrors.ErrorInfo     `json:"error,omitempty"`
}

// Executor performs one reconciliation round-trip and applies its outcome.
// The store must already be in the loading state for the run's generation.
type Executor struct {
	store    *Store
	markers  *markers.Markers
	resolver Resolver
	clock    clockwork.Clock
	timeout  time.Duration
	logger   zerolog.Logger
	// guard is held while the outcome is applied so that applying the
	// snapshot and writing markers is atomic for concurrent gate reads.
	guard sync.Locker
}

func (x *Executor) run(ctx context.Context, gen uint64, id auth.Identity) Result {
	runID := ulid.Make().String()
	logger := x.logger.With().Str("run_id", runID).Str("user_id", id.UserID).Logger()

	start := x.clock.Now()
	resolveCtx, cancel := context.WithTimeout(ctx, x.timeout)
	snap, err := x.resolver.ResolveSubscription(resolveCtx, id)
	cancel()
	if err == nil {
		err = validateSnapshot(snap)
	}
	now := x.clock.Now()
	elapsed := now.Sub(start)

	x.guard.Lock()
	defer x.guard.Unlock()

	if err != nil {
		info := internalerrors.NewErrorInfo(err, now)
		applied := x.store.syncFailed(gen, info)
		metrics.RecordSyncRun(false, string(info.Kind), elapsed)
		logger.Warn().
			Err(err).
			Str("kind", string(info.Kind)).
			Dur("elapsed", elapsed).
			Bool("applied", applied).
			Msg("Subscription sync failed")
		if !applied {
			return staleResult(now)
		}
		return Result{Success: false, Error: &info}
	}

	if snap.ResolvedAt.IsZero() {
		snap.ResolvedAt = now.UTC()
	}
	applied := x.store.syncSucceeded(gen, snap, now)
	metrics.RecordSyncRun(true, "", elapsed)

	// A run overtaken by a reset must not resurrect markers of a user who
	// has just been signed out.
	if !applied {
		logger.Info().Str("plan", string(snap.Plan)).Dur("elapsed", elapsed).Msg("Discarded sync result of signed-out account")
		return staleResult(now)
	}
	if werr := x.markers.SetLastCheck(ctx, id.UserID, now); werr != nil {
		metrics.RecordMarkerWriteFailure()
		logger.Error().Err(werr).Msg("Failed to persist last-check marker")
	}
	x.markers.SetSessionCheck(id.UserID)

	logger.Info().
		Str("plan", string(snap.Plan)).
		Str("status", string(snap.Status)).
		Dur("elapsed", elapsed).
		Msg("Subscription synced")

	out := snap.Clone()
	return Result{Success: true, Data: &out}
}

func staleResult(at time.Time) Result {
	info := internalerrors.NewErrorInfo(internalerrors.ErrSuperseded, at)
	return Result{Success: false, Stale: true, Error: &info}
}

// validateSnapshot rejects snapshots that could not have come from a complete
// response. No partial snapshot ever reaches the store.
func validateSnapshot(snap billing.SubscriptionSnapshot) error {
	if _, ok := billing.LookupPlan(snap.Plan); !ok {
		return internalerrors.WrapMalformedError("validate_snapshot", "", fmt.Errorf("unknown plan %q", snap.Plan))
	}
	if !billing.IsValidStatus(snap.Status) {
		return internalerrors.WrapMalformedError("validate_snapshot", "", fmt.Errorf("unknown status %q", snap.Status))
	}
	return nil
}
