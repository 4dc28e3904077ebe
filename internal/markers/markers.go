package markers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	lastCheckPrefix    = "last-check-"
	sessionCheckPrefix = "session-check-"
	sessionCheckValue  = "true"
)

// LastCheckKey is the durable key holding a user's last successful check.
func LastCheckKey(userID string) string {
	return lastCheckPrefix + userID
}

// SessionCheckKey is the session key marking a user as checked this session.
func SessionCheckKey(userID string) string {
	return sessionCheckPrefix + userID
}

// Markers is the only code that touches raw marker storage. Reads never fail:
// a backend error is logged and reported as an absent marker so that the
// caller leans toward syncing.
type Markers struct {
	durable DurableStore
	session SessionStore
	logger  zerolog.Logger
}

// New wires a marker shim over the given stores.
func New(durable DurableStore, session SessionStore, logger zerolog.Logger) *Markers {
	return &Markers{
		durable: durable,
		session: session,
		logger:  logger.With().Str("component", "markers").Logger(),
	}
}

// LastCheck returns the last successful check time for userID.
func (m *Markers) LastCheck(ctx context.Context, userID string) (time.Time, bool) {
	raw, ok, err := m.durable.Get(ctx, LastCheckKey(userID))
	if err != nil {
		m.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to read last-check marker; treating as absent")
		return time.Time{}, false
	}
	if !ok {
		return time.Time{}, false
	}

	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
	if err != nil {
		m.logger.Warn().Err(err).Str("user_id", userID).Str("value", raw).Msg("Ignoring unparseable last-check marker")
		return time.Time{}, false
	}
	return ts, true
}

// SetLastCheck records at as the last successful check for userID.
func (m *Markers) SetLastCheck(ctx context.Context, userID string, at time.Time) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if err := m.durable.Set(ctx, LastCheckKey(userID), at.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("write last-check marker: %w", err)
	}
	return nil
}

// ClearLastCheck removes the durable marker for userID.
func (m *Markers) ClearLastCheck(ctx context.Context, userID string) error {
	if err := m.durable.Delete(ctx, LastCheckKey(userID)); err != nil {
		return fmt.Errorf("delete last-check marker: %w", err)
	}
	return nil
}

// HasSessionCheck reports whether userID was already checked this session.
func (m *Markers) HasSessionCheck(userID string) bool {
	v, ok := m.session.Get(SessionCheckKey(userID))
	return ok && v == sessionCheckValue
}

// SetSessionCheck marks userID as checked for the rest of the session.
// Setting it again is a no-op.
func (m *Markers) SetSessionCheck(userID string) {
	if userID == "" || m.HasSessionCheck(userID) {
		return
	}
	m.session.Set(SessionCheckKey(userID), sessionCheckValue)
}

// ClearSessionCheck removes the session marker for userID.
func (m *Markers) ClearSessionCheck(userID string) {
	m.session.Delete(SessionCheckKey(userID))
}

// ClearUser deletes both markers of userID. The session marker is always
// removed even when the durable delete fails.
func (m *Markers) ClearUser(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	m.ClearSessionCheck(userID)
	return m.ClearLastCheck(ctx, userID)
}

// Inspect returns the raw durable value for userID, for operator tooling.
func Inspect(ctx context.Context, store DurableStore, userID string) (time.Time, bool, error) {
	raw, ok, err := store.Get(ctx, LastCheckKey(userID))
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, false, errors.Join(ErrCorruptMarker, err)
	}
	return ts, true, nil
}

// ErrCorruptMarker is returned by Inspect when a stored value is not a timestamp.
var ErrCorruptMarker = errors.New("corrupt marker value")
