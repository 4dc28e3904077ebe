package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psigestao/plansync/internal/config"
	"github.com/psigestao/plansync/internal/subsync"
)

type cliEnv struct {
	calls  atomic.Int32
	status atomic.Int32
}

func setupCLI(t *testing.T) *cliEnv {
	t.Helper()
	env := &cliEnv{}
	env.status.Store(http.StatusOK)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.calls.Add(1)
		status := int(env.status.Load())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(`{"subscribed":true,"plan":"gestao","status":"active"}`))
		}
	}))
	t.Cleanup(srv.Close)

	dataDir := t.TempDir()
	prev := loadConfig
	loadConfig = func() (*config.Config, error) {
		cfg := config.Default(dataDir)
		cfg.LogLevel = "error"
		cfg.BillingSource = config.BillingSourceFunction
		cfg.FunctionURL = srv.URL
		cfg.MarkerBackend = config.MarkerBackendSQLite
		return cfg, cfg.Validate()
	}
	t.Cleanup(func() { loadConfig = prev })
	return env
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func runCheckCmd(t *testing.T, args ...string) checkReport {
	t.Helper()
	out, err := execute(t, append([]string{"check"}, args...)...)
	require.NoError(t, err, out)
	var report checkReport
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	return report
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "plansync "+Version)
}

func TestCheckHonoursWindowAcrossInvocations(t *testing.T) {
	env := setupCLI(t)

	report := runCheckCmd(t, "--user", "user-a", "--token", "tok")
	assert.Equal(t, subsync.DecisionAdmit, report.Decision)
	assert.Equal(t, subsync.CauseNoLastCheck, report.Cause)
	require.NotNil(t, report.State.Snapshot)
	assert.Equal(t, "Gestão", report.State.Snapshot.PlanName)

	report = runCheckCmd(t, "--user", "user-a", "--token", "tok")
	assert.Equal(t, subsync.DecisionSkip, report.Decision)
	assert.Equal(t, subsync.CauseFresh, report.Cause)
	assert.Equal(t, int32(1), env.calls.Load())

	report = runCheckCmd(t, "--user", "user-a", "--token", "tok", "--force")
	assert.Equal(t, subsync.CauseForced, report.Cause)
	assert.Equal(t, int32(2), env.calls.Load())
}

func TestCheckFailureKeepsMarkerAbsent(t *testing.T) {
	env := setupCLI(t)
	env.status.Store(http.StatusServiceUnavailable)

	_, err := execute(t, "check", "--user", "user-a", "--token", "tok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync failed")

	out, err := execute(t, "markers", "show", "--user", "user-a")
	require.NoError(t, err)
	assert.Contains(t, out, "never checked")
}

func TestCheckRequiresUser(t *testing.T) {
	setupCLI(t)
	_, err := execute(t, "check")
	assert.Error(t, err)
}

func TestMarkersShowAndClear(t *testing.T) {
	setupCLI(t)
	runCheckCmd(t, "--user", "user-a", "--token", "tok")

	out, err := execute(t, "markers", "show", "--user", "user-a")
	require.NoError(t, err)
	assert.Contains(t, out, "user-a: last check")

	out, err = execute(t, "markers", "clear", "--user", "user-a")
	require.NoError(t, err)
	assert.Contains(t, out, "marker cleared")

	out, err = execute(t, "markers", "show", "--user", "user-a")
	require.NoError(t, err)
	assert.Contains(t, out, "never checked")

	report := runCheckCmd(t, "--user", "user-a", "--token", "tok")
	assert.Equal(t, subsync.DecisionAdmit, report.Decision)
}
