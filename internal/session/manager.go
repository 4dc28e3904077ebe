package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/psigestao/plansync/internal/auth"
	"github.com/psigestao/plansync/internal/markers"
	"github.com/psigestao/plansync/internal/metrics"
	"github.com/psigestao/plansync/internal/subsync"
)

// Options is shared by every session a Manager opens.
type Options struct {
	Durable           markers.DurableStore
	Resolver          subsync.Resolver
	Scheduler         subsync.Scheduler
	Clock             clockwork.Clock
	CheckWindow       time.Duration
	ResolveTimeout    time.Duration
	AuthSettleDelay   time.Duration
	AutoCheckInterval time.Duration
	BaseContext       context.Context
	Logger            zerolog.Logger
}

// Session is one logical client: its own auth feed, session markers, state
// store and engine. Sessions share the durable marker store.
type Session struct {
	ID        string
	CreatedAt time.Time

	feed      *auth.Feed
	engine    *subsync.Engine
	session   *markers.MemorySessionStore
	authSync  *subsync.AuthAdapter
	autoCheck *subsync.AutoCheckAdapter
	closeOnce sync.Once
}

// Feed is the auth feed the session's triggers observe.
func (s *Session) Feed() *auth.Feed {
	return s.feed
}

// Engine is the session's sync engine.
func (s *Session) Engine() *subsync.Engine {
	return s.engine
}

// Store is the session's subscription state.
func (s *Session) Store() *subsync.Store {
	return s.engine.Store()
}

// SignIn publishes id as the session's signed-in user.
func (s *Session) SignIn(id auth.Identity) {
	s.feed.Publish(auth.SignedIn(id))
}

// SignOut publishes a logout.
func (s *Session) SignOut() {
	s.feed.Publish(auth.SignedOut())
}

// AutoCheck issues a single AUTO_CHECK, as a page mount would.
func (s *Session) AutoCheck(ctx context.Context) subsync.Outcome {
	return s.autoCheck.Mount(ctx)
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.autoCheck.Stop()
		s.authSync.Detach()
		s.session.Clear()
	})
}

// Manager owns the open sessions of the process.
type Manager struct {
	opts   Options
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager builds a manager. Durable, Resolver and Scheduler are required.
func NewManager(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.AuthSettleDelay == 0 {
		opts.AuthSettleDelay = subsync.DefaultAuthSettleDelay
	}
	return &Manager{
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "sessions").Logger(),
		sessions: make(map[string]*Session),
	}
}

// Open creates a session and starts its triggers.
func (m *Manager) Open() *Session {
	id := uuid.NewString()
	logger := m.opts.Logger.With().Str("session_id", id).Logger()

	sessionStore := markers.NewMemorySessionStore()
	engine := subsync.NewEngine(subsync.EngineConfig{
		Store:          subsync.NewStore(),
		Markers:        markers.New(m.opts.Durable, sessionStore, logger),
		Resolver:       m.opts.Resolver,
		Clock:          m.opts.Clock,
		CheckWindow:    m.opts.CheckWindow,
		ResolveTimeout: m.opts.ResolveTimeout,
		Logger:         logger,
		BaseContext:    m.opts.BaseContext,
	})

	s := &Session{
		ID:        id,
		CreatedAt: m.opts.Clock.Now().UTC(),
		feed:      auth.NewFeed(),
		engine:    engine,
		session:   sessionStore,
		authSync:  subsync.NewAuthAdapter(engine, m.opts.Scheduler, m.opts.AuthSettleDelay, logger),
		autoCheck: subsync.NewAutoCheckAdapter(engine, m.opts.Scheduler, m.opts.AutoCheckInterval, logger),
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	s.authSync.Attach(s.feed)
	s.autoCheck.Start()

	metrics.RecordSessionOpened()
	m.logger.Info().Str("session_id", id).Msg("Session opened")
	return s
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close stops the session's triggers and drops its session markers. The
// durable markers of its user are kept. Unknown ids return false.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return false
	}

	s.close()
	metrics.RecordSessionClosed()
	m.logger.Info().Str("session_id", id).Msg("Session closed")
	return true
}

// CloseAll closes every open session.
func (m *Manager) CloseAll() {
	for _, id := range m.IDs() {
		m.Close(id)
	}
}

// Len reports the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// IDs returns the open session ids in sorted order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
