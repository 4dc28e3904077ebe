package subsync

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/psigestao/plansync/internal/auth"
	"github.com/psigestao/plansync/internal/markers"
	"github.com/psigestao/plansync/internal/metrics"
)

// EngineConfig wires an Engine. Store, Markers and Resolver are required.
type EngineConfig struct {
	Store          *Store
	Markers        *markers.Markers
	Resolver       Resolver
	Clock          clockwork.Clock
	CheckWindow    time.Duration
	ResolveTimeout time.Duration
	Logger         zerolog.Logger
	// BaseContext bounds every resolve and marker access. Callers of
	// RequestSync only control how long they wait.
	BaseContext context.Context
}

// Outcome is what RequestSync reports. Result is nil when nothing ran.
type Outcome struct {
	Decision Decision `json:"decision"`
	Cause    Cause    `json:"cause"`
	Result   *Result  `json:"result,omitempty"`
}

type flight struct {
	done   chan struct{}
	result Result
}

// Engine is the entry point triggers use. It owns the active identity of one
// session and guarantees a single in-flight run.
type Engine struct {
	mu sync.Mutex

	store    *Store
	markers  *markers.Markers
	executor *Executor
	clock    clockwork.Clock
	window   time.Duration
	logger   zerolog.Logger
	baseCtx  context.Context

	identity    auth.Identity
	hasIdentity bool
	flight      *flight
}

// NewEngine builds an engine from cfg, filling defaults.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.CheckWindow <= 0 {
		cfg.CheckWindow = DefaultCheckWindow
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger.With().Str("component", "subsync").Logger()

	e := &Engine{
		store:   cfg.Store,
		markers: cfg.Markers,
		clock:   cfg.Clock,
		window:  cfg.CheckWindow,
		logger:  logger,
		baseCtx: cfg.BaseContext,
	}
	e.executor = &Executor{
		store:    cfg.Store,
		markers:  cfg.Markers,
		resolver: cfg.Resolver,
		clock:    cfg.Clock,
		timeout:  cfg.ResolveTimeout,
		logger:   logger,
		guard:    &e.mu,
	}
	return e
}

// Store exposes the state store for readers and subscribers.
func (e *Engine) Store() *Store {
	return e.store
}

// Identity returns the active identity, if any.
func (e *Engine) Identity() (auth.Identity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.identity, e.hasIdentity
}

// RequestSync runs req through the gate. ADMIT starts a run, COALESCE attaches
// to the running one, SKIP returns immediately. The returned error is only
// ever ctx.Err() when the caller stopped waiting; the run itself continues.
func (e *Engine) RequestSync(ctx context.Context, req SyncRequest) (Outcome, error) {
	e.mu.Lock()
	if !e.hasIdentity {
		e.mu.Unlock()
		verdict := Verdict{DecisionSkip, CauseNoUser}
		e.recordDecision(req, "", verdict)
		return Outcome{Decision: verdict.Decision, Cause: verdict.Cause}, nil
	}

	id := e.identity
	state := e.store.State()
	lastCheck, _ := e.markers.LastCheck(e.baseCtx, id.UserID)
	verdict := Decide(GateInput{
		Request:        req,
		IsLoading:      state.IsLoading,
		LastSyncAt:     state.LastSyncAt,
		SessionChecked: e.markers.HasSessionCheck(id.UserID),
		LastCheck:      lastCheck,
		Now:            e.clock.Now(),
	}, e.window)

	var f *flight
	switch verdict.Decision {
	case DecisionAdmit:
		if gen, ok := e.store.syncStarted(); ok {
			f = &flight{done: make(chan struct{})}
			e.flight = f
			go e.run(f, gen, id)
		}
	case DecisionCoalesce:
		f = e.flight
	}
	e.mu.Unlock()

	e.recordDecision(req, id.UserID, verdict)

	out := Outcome{Decision: verdict.Decision, Cause: verdict.Cause}
	if f == nil {
		return out, nil
	}
	select {
	case <-f.done:
		result := f.result
		out.Result = &result
		return out, nil
	case <-ctx.Done():
		return out, ctx.Err()
	}
}

func (e *Engine) run(f *flight, gen uint64, id auth.Identity) {
	f.result = e.executor.run(e.baseCtx, gen, id)

	e.mu.Lock()
	if e.flight == f {
		e.flight = nil
	}
	e.mu.Unlock()
	close(f.done)
}

func (e *Engine) recordDecision(req SyncRequest, userID string, verdict Verdict) {
	metrics.RecordGateDecision(string(req.Reason), string(verdict.Decision), string(verdict.Cause))
	e.logger.Debug().
		Str("user_id", userID).
		Str("reason", string(req.Reason)).
		Bool("force", req.Force).
		Str("decision", string(verdict.Decision)).
		Str("cause", string(verdict.Cause)).
		Msg("Sync request evaluated")
}

// SwitchUser makes next the active identity (nil signs out). When the user id
// changes, the departing user's markers are deleted and the store is reset.
// The same user with a fresh token only updates the token. Sessions reach
// this through AuthAdapter; one-shot tools call it directly.
func (e *Engine) SwitchUser(next *auth.Identity) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := ""
	if e.hasIdentity {
		prev = e.identity.UserID
	}
	if next != nil && e.hasIdentity && next.UserID == prev {
		e.identity = *next
		return
	}

	if prev != "" {
		if err := e.markers.ClearUser(e.baseCtx, prev); err != nil {
			e.logger.Warn().Err(err).Str("user_id", prev).Msg("Failed to clear markers of departing user")
		}
	}

	if next == nil {
		e.identity = auth.Identity{}
		e.hasIdentity = false
		e.store.resetForUser("")
		e.logger.Info().Str("previous_user_id", prev).Msg("Signed out; subscription state reset")
		return
	}

	e.identity = *next
	e.hasIdentity = true
	e.store.resetForUser(next.UserID)
	e.logger.Info().
		Str("previous_user_id", prev).
		Str("user_id", next.UserID).
		Msg("Active user changed; subscription state reset")
}
