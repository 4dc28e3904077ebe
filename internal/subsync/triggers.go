package subsync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/psigestao/plansync/internal/auth"
)

// DefaultAuthSettleDelay gives the auth provider time to finish propagating
// a login before the first sync goes out.
const DefaultAuthSettleDelay = time.Second

// DefaultAutoCheckInterval is the coarse periodic check interval.
const DefaultAutoCheckInterval = 5 * time.Minute

// AuthAdapter turns auth state changes into resets and AUTH_LOGIN requests.
type AuthAdapter struct {
	engine    *Engine
	scheduler Scheduler
	settle    time.Duration
	logger    zerolog.Logger

	mu          sync.Mutex
	seen        bool
	lastUserID  string
	cancelTimer func()
	unsubscribe func()
}

// NewAuthAdapter builds an adapter. A negative settle delay is treated as zero.
func NewAuthAdapter(engine *Engine, scheduler Scheduler, settle time.Duration, logger zerolog.Logger) *AuthAdapter {
	if settle < 0 {
		settle = 0
	}
	return &AuthAdapter{
		engine:    engine,
		scheduler: scheduler,
		settle:    settle,
		logger:    logger.With().Str("component", "auth_adapter").Logger(),
	}
}

// Attach observes feed, starting with its current state.
func (a *AuthAdapter) Attach(feed *auth.Feed) {
	unsubscribe := feed.Subscribe(a.Observe)
	a.mu.Lock()
	a.unsubscribe = unsubscribe
	a.mu.Unlock()
	a.Observe(feed.Current())
}

// Detach stops observing and cancels a pending login sync.
func (a *AuthAdapter) Detach() {
	a.mu.Lock()
	unsubscribe := a.unsubscribe
	a.unsubscribe = nil
	a.cancelPendingLocked()
	a.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Observe handles one auth state. Loading states and repeats of the current
// user are ignored; a repeat with a new token only refreshes the token.
func (a *AuthAdapter) Observe(state auth.State) {
	if state.Loading {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	id, signedIn := state.Identity()
	userID := strings.TrimSpace(id.UserID)

	if a.seen && userID == a.lastUserID {
		if signedIn {
			a.engine.SwitchUser(&id)
		}
		return
	}

	prev := a.lastUserID
	a.seen = true
	a.lastUserID = userID
	a.cancelPendingLocked()

	if !signedIn {
		if prev != "" {
			a.logger.Info().Str("user_id", prev).Msg("Logout detected")
		}
		a.engine.SwitchUser(nil)
		return
	}

	a.logger.Info().Str("previous_user_id", prev).Str("user_id", userID).Msg("Login detected; scheduling sync")
	a.engine.SwitchUser(&id)
	a.cancelTimer = a.scheduler.ScheduleOnce(a.settle, func() {
		if _, err := a.engine.RequestSync(a.engine.baseCtx, SyncRequest{Reason: ReasonAuthLogin}); err != nil {
			a.logger.Debug().Err(err).Msg("Login sync wait ended early")
		}
	})
}

func (a *AuthAdapter) cancelPendingLocked() {
	if a.cancelTimer != nil {
		a.cancelTimer()
		a.cancelTimer = nil
	}
}

// AutoCheckAdapter issues AUTO_CHECK on mount and on a coarse interval.
type AutoCheckAdapter struct {
	engine    *Engine
	scheduler Scheduler
	interval  time.Duration
	logger    zerolog.Logger

	mu     sync.Mutex
	cancel func()
}

// NewAutoCheckAdapter builds an adapter. A non-positive interval falls back
// to DefaultAutoCheckInterval.
func NewAutoCheckAdapter(engine *Engine, scheduler Scheduler, interval time.Duration, logger zerolog.Logger) *AutoCheckAdapter {
	if interval <= 0 {
		interval = DefaultAutoCheckInterval
	}
	return &AutoCheckAdapter{
		engine:    engine,
		scheduler: scheduler,
		interval:  interval,
		logger:    logger.With().Str("component", "auto_check").Logger(),
	}
}

// Start mounts once and then checks on every interval. Calling Start while
// running is a no-op.
func (a *AutoCheckAdapter) Start() {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return
	}
	a.cancel = a.scheduler.ScheduleRepeating(a.interval, func() { a.Mount(a.engine.baseCtx) })
	a.mu.Unlock()

	a.Mount(a.engine.baseCtx)
}

// Stop cancels the periodic check.
func (a *AutoCheckAdapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

// Mount issues a single AUTO_CHECK and waits for its outcome.
func (a *AutoCheckAdapter) Mount(ctx context.Context) Outcome {
	out, err := a.engine.RequestSync(ctx, SyncRequest{Reason: ReasonAutoCheck})
	if err != nil {
		a.logger.Debug().Err(err).Msg("Auto check wait ended early")
	}
	return out
}

// ForceSyncOutcome is what the manual force action shows to the user.
type ForceSyncOutcome struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message"`
	Decision Decision `json:"decision"`
	Result   *Result  `json:"result,omitempty"`
}

// ForceSync issues FORCE_SYNC and turns the run's result into a user-facing
// message. When a run is already in flight the caller gets that run's result.
func (e *Engine) ForceSync(ctx context.Context) (ForceSyncOutcome, error) {
	out, err := e.RequestSync(ctx, SyncRequest{Reason: ReasonForceSync})
	if err != nil {
		return ForceSyncOutcome{Decision: out.Decision, Message: "Sync still running"}, err
	}

	fo := ForceSyncOutcome{Decision: out.Decision, Result: out.Result}
	switch {
	case out.Cause == CauseNoUser:
		fo.Message = "Not signed in"
	case out.Result == nil:
		fo.Message = "Sync did not run"
	case out.Result.Stale:
		fo.Message = "Signed-in account changed; sync discarded"
	case out.Result.Success && out.Result.Data != nil:
		fo.Success = true
		fo.Message = fmt.Sprintf("Subscription synced: %s", out.Result.Data.PlanName)
	case out.Result.Error != nil:
		fo.Message = out.Result.Error.Message
	default:
		fo.Message = "Subscription sync failed"
	}
	return fo, nil
}
