package subsync

import (
	"slices"
	"sync"
	"time"

	internalerrors "github.com/psigestao/plansync/internal/errors"
	"github.com/psigestao/plansync/pkg/billing"
)

// SyncState is the per-session view of a user's subscription.
type SyncState struct {
	UserID     string                        `json:"user_id,omitempty"`
	Snapshot   *billing.SubscriptionSnapshot `json:"snapshot"`
	IsLoading  bool                          `json:"is_loading"`
	LastError  *internalerrors.ErrorInfo     `json:"last_error"`
	LastSyncAt *time.Time                    `json:"last_sync_at"`
}

func (s SyncState) clone() SyncState {
	cp := s
	if s.Snapshot != nil {
		snap := s.Snapshot.Clone()
		cp.Snapshot = &snap
	}
	if s.LastError != nil {
		info := *s.LastError
		cp.LastError = &info
	}
	if s.LastSyncAt != nil {
		at := *s.LastSyncAt
		cp.LastSyncAt = &at
	}
	return cp
}

// Store is the single mutable holder of SyncState. Only the executor
// transitions it and only the auth integration resets it.
type Store struct {
	// transitionMu serializes mutate+notify so subscribers see transitions
	// in order. mu guards the fields.
	transitionMu sync.Mutex
	mu           sync.Mutex
	state        SyncState
	generation   uint64
	nextID       int
	subscribers  []stateSubscriber // in subscription order
}

type stateSubscriber struct {
	id int
	fn func(SyncState)
}

// NewStore returns an empty store with no user.
func NewStore() *Store {
	return &Store{}
}

// State returns a deep copy of the current state.
func (s *Store) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers fn to receive every state after each transition.
// fn runs synchronously on the transitioning goroutine and must not request
// a sync itself.
func (s *Store) Subscribe(fn func(SyncState)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers = append(s.subscribers, stateSubscriber{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.subscribers = slices.DeleteFunc(s.subscribers, func(sub stateSubscriber) bool { return sub.id == id })
			s.mu.Unlock()
		})
	}
}

// transition applies mutate under the lock and notifies subscribers outside
// it. mutate returns false to abort without notifying.
func (s *Store) transition(mutate func(*SyncState) bool) bool {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	s.mu.Lock()
	if !mutate(&s.state) {
		s.mu.Unlock()
		return false
	}
	state := s.state.clone()
	subs := make([]func(SyncState), 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub.fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(state.clone())
	}
	return true
}

// syncStarted marks a run as in flight and returns the generation the run
// belongs to. It refuses when a run is already in flight.
func (s *Store) syncStarted() (uint64, bool) {
	var gen uint64
	ok := s.transition(func(st *SyncState) bool {
		if st.IsLoading {
			return false
		}
		st.IsLoading = true
		gen = s.generation
		return true
	})
	return gen, ok
}

// syncSucceeded replaces the snapshot wholesale. Completions from a run
// started before the last reset are dropped.
func (s *Store) syncSucceeded(gen uint64, snap billing.SubscriptionSnapshot, at time.Time) bool {
	return s.transition(func(st *SyncState) bool {
		if gen != s.generation || !st.IsLoading {
			return false
		}
		snap := snap.Clone()
		st.Snapshot = &snap
		st.IsLoading = false
		st.LastError = nil
		at = at.UTC()
		if st.LastSyncAt == nil || at.After(*st.LastSyncAt) {
			st.LastSyncAt = &at
		}
		return true
	})
}

// syncFailed records the error and keeps the previous snapshot and
// LastSyncAt untouched.
func (s *Store) syncFailed(gen uint64, info internalerrors.ErrorInfo) bool {
	return s.transition(func(st *SyncState) bool {
		if gen != s.generation || !st.IsLoading {
			return false
		}
		st.IsLoading = false
		st.LastError = &info
		return true
	})
}

// resetForUser empties the state for userID ("" for nobody) and invalidates
// any run still in flight.
func (s *Store) resetForUser(userID string) {
	s.transition(func(st *SyncState) bool {
		s.generation++
		*st = SyncState{UserID: userID}
		return true
	})
}
