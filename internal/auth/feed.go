package auth

import (
	"slices"
	"sync"
)

// Feed is an observable auth state. Subscribers are called synchronously, in
// publish order, outside the feed lock.
type Feed struct {
	mu          sync.Mutex
	publishMu   sync.Mutex
	current     State
	nextID      int
	subscribers []feedSubscriber
}

type feedSubscriber struct {
	id int
	fn func(State)
}

// NewFeed returns a feed starting in the loading state, before the auth
// provider has reported anything.
func NewFeed() *Feed {
	return &Feed{
		current: State{Loading: true},
	}
}

// Current returns the latest published state.
func (f *Feed) Current() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Publish replaces the current state and notifies subscribers.
func (f *Feed) Publish(state State) {
	f.publishMu.Lock()
	defer f.publishMu.Unlock()

	f.mu.Lock()
	f.current = state
	subs := make([]func(State), 0, len(f.subscribers))
	for _, sub := range f.subscribers {
		subs = append(subs, sub.fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}

// Subscribe registers fn and returns a function that removes it.
func (f *Feed) Subscribe(fn func(State)) (unsubscribe func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subscribers = append(f.subscribers, feedSubscriber{id: id, fn: fn})
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.subscribers = slices.DeleteFunc(f.subscribers, func(sub feedSubscriber) bool { return sub.id == id })
			f.mu.Unlock()
		})
	}
}
