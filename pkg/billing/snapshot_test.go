package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnapshotDerivesPlanFields(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(30 * 24 * time.Hour)

	snap, ok := NewSnapshot(PlanGestao, StatusActive, true, &expires, now)
	require.True(t, ok)

	assert.Equal(t, PlanGestao, snap.Plan)
	assert.Equal(t, "Gestão", snap.PlanName)
	assert.Equal(t, UnlimitedPatients, snap.PatientLimit)
	assert.True(t, snap.CancelAtPeriodEnd)
	assert.True(t, snap.HasFeature(FeatureTaxDocuments))
	require.NotNil(t, snap.ExpiresAt)
	assert.True(t, snap.ExpiresAt.Equal(expires))
	assert.True(t, snap.IsPaid())
}

func TestNewSnapshotRejectsUnknownInput(t *testing.T) {
	now := time.Now()

	_, ok := NewSnapshot(PlanSlug("platinum"), StatusActive, false, nil, now)
	assert.False(t, ok, "unknown plan must not produce a snapshot")

	_, ok = NewSnapshot(PlanGestao, Status("grace"), false, nil, now)
	assert.False(t, ok, "unknown status must not produce a snapshot")
}

func TestNewSnapshotLapsedPlanFallsBackToFreeLimits(t *testing.T) {
	snap, ok := NewSnapshot(PlanPsiRegular, StatusExpired, false, nil, time.Now())
	require.True(t, ok)

	free, _ := LookupPlan(PlanFree)
	assert.Equal(t, PlanPsiRegular, snap.Plan)
	assert.Equal(t, free.PatientLimit, snap.PatientLimit)
	assert.False(t, snap.HasFeature(FeatureBilling))
	assert.False(t, snap.IsPaid())
}

func TestSnapshotCloneBreaksAliasing(t *testing.T) {
	expires := time.Now().Add(time.Hour)
	snap, ok := NewSnapshot(PlanPsiRegular, StatusTrial, false, &expires, time.Now())
	require.True(t, ok)

	cp := snap.Clone()
	cp.Features[0] = "mutated"
	*cp.ExpiresAt = time.Time{}

	assert.NotEqual(t, "mutated", snap.Features[0])
	assert.False(t, snap.ExpiresAt.IsZero())
}

func TestCanAddPatient(t *testing.T) {
	free := FreeSnapshot(time.Now())
	assert.True(t, free.CanAddPatient(free.PatientLimit-1))
	assert.False(t, free.CanAddPatient(free.PatientLimit))

	unlimited, _ := NewSnapshot(PlanGestao, StatusActive, false, nil, time.Now())
	assert.True(t, unlimited.CanAddPatient(10_000))
}

func TestParsePlanSlugAliases(t *testing.T) {
	tests := []struct {
		raw    string
		want   PlanSlug
		wantOK bool
	}{
		{raw: "gestao", want: PlanGestao, wantOK: true},
		{raw: " GESTÃO ", want: PlanGestao, wantOK: true},
		{raw: "psi-regular", want: PlanPsiRegular, wantOK: true},
		{raw: "psi_regular", want: PlanPsiRegular, wantOK: true},
		{raw: "", want: PlanFree, wantOK: true},
		{raw: "enterprise", want: "", wantOK: false},
	}
	for _, tt := range tests {
		got, ok := ParsePlanSlug(tt.raw)
		if got != tt.want || ok != tt.wantOK {
			t.Fatalf("ParsePlanSlug(%q) = (%q, %t), want (%q, %t)", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestDerivePlanSlugPrefersMetadata(t *testing.T) {
	slug, ok := DerivePlanSlug(map[string]string{"plan": "gestao"}, "psi_regular")
	require.True(t, ok)
	assert.Equal(t, PlanGestao, slug)

	slug, ok = DerivePlanSlug(nil, "psi_regular")
	require.True(t, ok)
	assert.Equal(t, PlanPsiRegular, slug)

	_, ok = DerivePlanSlug(nil, "")
	assert.False(t, ok)
}
