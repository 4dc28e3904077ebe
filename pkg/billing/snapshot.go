package billing

import (
	"slices"
	"time"
)

// SubscriptionSnapshot is the reconciled view of a user's plan. It is a value
// object: a successful sync replaces it wholesale and it is never patched.
type SubscriptionSnapshot struct {
	Plan              PlanSlug   `json:"plan"`
	PlanName          string     `json:"plan_name"`
	Status            Status     `json:"status"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	PatientLimit      int        `json:"patient_limit"`
	Features          []string   `json:"features"`
	ResolvedAt        time.Time  `json:"resolved_at"`
}

// NewSnapshot builds a snapshot for slug, deriving name, limits and features
// from the plan catalog. Unknown slugs return false and no snapshot.
func NewSnapshot(slug PlanSlug, status Status, cancelAtPeriodEnd bool, expiresAt *time.Time, resolvedAt time.Time) (SubscriptionSnapshot, bool) {
	plan, ok := LookupPlan(slug)
	if !ok || !IsValidStatus(status) {
		return SubscriptionSnapshot{}, false
	}

	snap := SubscriptionSnapshot{
		Plan:              plan.Slug,
		PlanName:          plan.Name,
		Status:            status,
		CancelAtPeriodEnd: cancelAtPeriodEnd,
		ExpiresAt:         cloneTimePtr(expiresAt),
		PatientLimit:      plan.PatientLimit,
		Features:          plan.Features,
		ResolvedAt:        resolvedAt.UTC(),
	}

	// A paid plan whose subscription lapsed keeps its identity for display but
	// falls back to free-tier limits.
	if plan.Slug != PlanFree && !GrantsPaidFeatures(status) {
		free, _ := LookupPlan(PlanFree)
		snap.PatientLimit = free.PatientLimit
		snap.Features = free.Features
	}
	return snap, true
}

// FreeSnapshot is the snapshot of a user without any paid subscription.
func FreeSnapshot(resolvedAt time.Time) SubscriptionSnapshot {
	snap, _ := NewSnapshot(PlanFree, StatusActive, false, nil, resolvedAt)
	return snap
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (s SubscriptionSnapshot) Clone() SubscriptionSnapshot {
	cp := s
	cp.Features = slices.Clone(s.Features)
	cp.ExpiresAt = cloneTimePtr(s.ExpiresAt)
	return cp
}

// HasFeature reports whether the snapshot grants feature.
func (s SubscriptionSnapshot) HasFeature(feature string) bool {
	return slices.Contains(s.Features, feature)
}

// CanAddPatient reports whether one more patient fits under the plan limit.
func (s SubscriptionSnapshot) CanAddPatient(current int) bool {
	if s.PatientLimit == UnlimitedPatients {
		return true
	}
	return current < s.PatientLimit
}

// IsPaid reports whether the snapshot is a paid plan that currently grants its features.
func (s SubscriptionSnapshot) IsPaid() bool {
	return s.Plan != PlanFree && GrantsPaidFeatures(s.Status)
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
