package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordGateDecision(t *testing.T) {
	counter := GateDecisionsTotal.WithLabelValues("AUTO_CHECK", "SKIP", "fresh")
	before := testutil.ToFloat64(counter)

	RecordGateDecision("AUTO_CHECK", "SKIP", "fresh")

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestRecordSyncRunSuccessDropsKind(t *testing.T) {
	success := SyncRunsTotal.WithLabelValues("success", "")
	before := testutil.ToFloat64(success)

	RecordSyncRun(true, "transport", 120*time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(success))
}

func TestRecordSyncRunFailure(t *testing.T) {
	failure := SyncRunsTotal.WithLabelValues("failure", "auth")
	before := testutil.ToFloat64(failure)

	RecordSyncRun(false, "auth", time.Second)

	assert.Equal(t, before+1, testutil.ToFloat64(failure))
}

func TestRecordSyncRunObservesDuration(t *testing.T) {
	var before dto.Metric
	require.NoError(t, SyncDurationSeconds.Write(&before))

	RecordSyncRun(true, "", 2*time.Second)

	var after dto.Metric
	require.NoError(t, SyncDurationSeconds.Write(&after))
	assert.Equal(t, before.GetHistogram().GetSampleCount()+1, after.GetHistogram().GetSampleCount())
	assert.InDelta(t, before.GetHistogram().GetSampleSum()+2, after.GetHistogram().GetSampleSum(), 1e-9)
}

func TestRecordMarkerWriteFailure(t *testing.T) {
	before := testutil.ToFloat64(MarkerWriteFailuresTotal)
	RecordMarkerWriteFailure()
	assert.Equal(t, before+1, testutil.ToFloat64(MarkerWriteFailuresTotal))
}

func TestSessionGauge(t *testing.T) {
	before := testutil.ToFloat64(SessionsActive)

	RecordSessionOpened()
	RecordSessionOpened()
	RecordSessionClosed()

	assert.Equal(t, before+1, testutil.ToFloat64(SessionsActive))
	RecordSessionClosed()
}
