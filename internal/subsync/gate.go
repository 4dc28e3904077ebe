package subsync

import "time"

// DefaultCheckWindow bounds how stale plan data may get during steady use.
const DefaultCheckWindow = 15 * time.Minute

// TriggerReason tags why a sync was requested.
type TriggerReason string

const (
	ReasonAuthLogin  TriggerReason = "AUTH_LOGIN"
	ReasonAutoCheck  TriggerReason = "AUTO_CHECK"
	ReasonManualSync TriggerReason = "MANUAL_SYNC"
	ReasonForceSync  TriggerReason = "FORCE_SYNC"
)

// ParseTriggerReason accepts the upper-case wire names.
func ParseTriggerReason(raw string) (TriggerReason, bool) {
	switch r := TriggerReason(raw); r {
	case ReasonAuthLogin, ReasonAutoCheck, ReasonManualSync, ReasonForceSync:
		return r, true
	default:
		return "", false
	}
}

// SyncRequest is what a trigger hands to the engine.
type SyncRequest struct {
	Reason TriggerReason `json:"reason"`
	Force  bool          `json:"force,omitempty"`
}

// Forced reports whether the request bypasses the freshness window.
func (r SyncRequest) Forced() bool {
	return r.Force || r.Reason == ReasonForceSync
}

// Decision is the gate verdict.
type Decision string

const (
	DecisionAdmit    Decision = "ADMIT"
	DecisionSkip     Decision = "SKIP"
	DecisionCoalesce Decision = "COALESCE"
)

// Cause names the rule that produced a decision.
type Cause string

const (
	CauseInFlight          Cause = "in_flight"
	CauseForced            Cause = "forced"
	CauseFirstSessionCheck Cause = "first_session_check"
	CauseNoLastCheck       Cause = "no_last_check"
	CauseWindowElapsed     Cause = "window_elapsed"
	CauseFresh             Cause = "fresh"
	// CauseNoUser is reported by the engine, never by Decide.
	CauseNoUser Cause = "no_user"
)

// Verdict pairs a decision with its cause.
type Verdict struct {
	Decision Decision `json:"decision"`
	Cause    Cause    `json:"cause"`
}

// GateInput is everything the gate looks at.
type GateInput struct {
	Request        SyncRequest
	IsLoading      bool
	LastSyncAt     *time.Time
	SessionChecked bool
	// LastCheck is the durable marker; the zero value means absent.
	LastCheck time.Time
	Now       time.Time
}

// Decide applies the admission rules in order, first match wins. It has no
// side effects. A non-positive window falls back to DefaultCheckWindow.
func Decide(in GateInput, window time.Duration) Verdict {
	if window <= 0 {
		window = DefaultCheckWindow
	}

	switch {
	case in.IsLoading:
		return Verdict{DecisionCoalesce, CauseInFlight}
	case in.Request.Forced():
		return Verdict{DecisionAdmit, CauseForced}
	case !in.SessionChecked:
		return Verdict{DecisionAdmit, CauseFirstSessionCheck}
	case in.LastCheck.IsZero():
		return Verdict{DecisionAdmit, CauseNoLastCheck}
	}

	// The in-memory success time can be newer than a marker another session
	// wrote; the freshest of the two wins.
	ref := in.LastCheck
	if in.LastSyncAt != nil && in.LastSyncAt.After(ref) {
		ref = *in.LastSyncAt
	}
	if in.Now.Sub(ref) > window {
		return Verdict{DecisionAdmit, CauseWindowElapsed}
	}
	return Verdict{DecisionSkip, CauseFresh}
}
