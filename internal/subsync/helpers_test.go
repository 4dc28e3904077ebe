package subsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/psigestao/plansync/internal/auth"
	"github.com/psigestao/plansync/internal/markers"
	"github.com/psigestao/plansync/pkg/billing"
)

var testEpoch = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

// fakeResolver counts calls and tracks concurrency. With hold set, every call
// blocks until release is called.
type fakeResolver struct {
	mu          sync.Mutex
	calls       int
	inFlight    int
	maxInFlight int
	users       []string
	respond     func(call int, id auth.Identity) (billing.SubscriptionSnapshot, error)

	hold    bool
	started chan struct{}
	gate    chan struct{}
}

func newFakeResolver(plan billing.PlanSlug) *fakeResolver {
	return &fakeResolver{
		respond: func(int, auth.Identity) (billing.SubscriptionSnapshot, error) {
			snap, _ := billing.NewSnapshot(plan, billing.StatusActive, false, nil, testEpoch)
			return snap, nil
		},
		started: make(chan struct{}, 16),
		gate:    make(chan struct{}),
	}
}

func (f *fakeResolver) ResolveSubscription(ctx context.Context, id auth.Identity) (billing.SubscriptionSnapshot, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.users = append(f.users, id.UserID)
	hold := f.hold
	respond := f.respond
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	select {
	case f.started <- struct{}{}:
	default:
	}
	if hold {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return billing.SubscriptionSnapshot{}, ctx.Err()
		}
	}
	return respond(call, id)
}

func (f *fakeResolver) release() {
	close(f.gate)
}

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeResolver) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func (f *fakeResolver) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(5 * time.Second):
		t.Fatal("resolver was never called")
	}
}

func failWith(err error) func(int, auth.Identity) (billing.SubscriptionSnapshot, error) {
	return func(int, auth.Identity) (billing.SubscriptionSnapshot, error) {
		return billing.SubscriptionSnapshot{}, err
	}
}

type harness struct {
	clock    clockwork.FakeClock
	sched    *ManualScheduler
	durable  markers.DurableStore
	session  *markers.MemorySessionStore
	markers  *markers.Markers
	store    *Store
	resolver *fakeResolver
	engine   *Engine
}

type harnessOption func(*harness)

func withDurable(store markers.DurableStore) harnessOption {
	return func(h *harness) { h.durable = store }
}

func withClock(clock clockwork.FakeClock) harnessOption {
	return func(h *harness) { h.clock = clock }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		durable:  markers.NewMemoryDurableStore(),
		session:  markers.NewMemorySessionStore(),
		store:    NewStore(),
		resolver: newFakeResolver(billing.PlanGestao),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.clock == nil {
		h.clock = clockwork.NewFakeClockAt(testEpoch)
	}
	h.sched = NewManualScheduler(h.clock)
	h.markers = markers.New(h.durable, h.session, zerolog.Nop())
	h.engine = NewEngine(EngineConfig{
		Store:       h.store,
		Markers:     h.markers,
		Resolver:    h.resolver,
		Clock:       h.clock,
		CheckWindow: DefaultCheckWindow,
		Logger:      zerolog.Nop(),
	})
	return h
}

func (h *harness) signIn(userID string) {
	h.engine.SwitchUser(&auth.Identity{UserID: userID, Email: userID + "@example.com", AccessToken: "tok-" + userID})
}

func (h *harness) request(t *testing.T, reason TriggerReason) Outcome {
	t.Helper()
	out, err := h.engine.RequestSync(context.Background(), SyncRequest{Reason: reason})
	require.NoError(t, err)
	return out
}

// requestAsync is for goroutines, where require must not be used.
func (h *harness) requestAsync(reason TriggerReason) Outcome {
	out, _ := h.engine.RequestSync(context.Background(), SyncRequest{Reason: reason})
	return out
}

type failingSetStore struct {
	*markers.MemoryDurableStore
}

func (f failingSetStore) Set(context.Context, string, string) error {
	return errors.New("disk full")
}
