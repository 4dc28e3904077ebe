package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLoggingState() {
	mu.Lock()
	defer mu.Unlock()

	baseWriter = os.Stderr
	baseComponent = ""
	baseLogger = zerolog.New(baseWriter).With().Timestamp().Logger()
	log.Logger = baseLogger
	zerolog.TimeFieldFormat = defaultTimeFmt
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	isTerminalFn = func(int) bool { return false }
}

func readJSONLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	line := strings.TrimSpace(buf.String())
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	require.NotEmpty(t, line, "expected log output")

	var event map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &event))
	return event
}

func TestInitJSONFormatSetsLevelAndComponent(t *testing.T) {
	t.Cleanup(resetLoggingState)

	Init(Config{Format: "json", Level: "debug", Component: "plansync"})

	mu.RLock()
	defer mu.RUnlock()

	if baseWriter != os.Stderr {
		t.Fatalf("expected base writer to be os.Stderr, got %#v", baseWriter)
	}
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("expected global level debug, got %s", zerolog.GlobalLevel())
	}
	if baseComponent != "plansync" {
		t.Fatalf("expected base component plansync, got %s", baseComponent)
	}
}

func TestInitConsoleFormatUsesConsoleWriter(t *testing.T) {
	t.Cleanup(resetLoggingState)

	Init(Config{Format: "console"})

	mu.RLock()
	defer mu.RUnlock()
	_, ok := baseWriter.(zerolog.ConsoleWriter)
	assert.True(t, ok, "expected console writer, got %T", baseWriter)
}

func TestInitAutoFormatFollowsTerminal(t *testing.T) {
	t.Cleanup(resetLoggingState)

	isTerminalFn = func(int) bool { return true }
	Init(Config{Format: "auto"})
	mu.RLock()
	_, isConsole := baseWriter.(zerolog.ConsoleWriter)
	mu.RUnlock()
	assert.True(t, isConsole)

	isTerminalFn = func(int) bool { return false }
	Init(Config{Format: ""})
	mu.RLock()
	_, isConsole = baseWriter.(zerolog.ConsoleWriter)
	mu.RUnlock()
	assert.False(t, isConsole)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"DEBUG":    zerolog.DebugLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
		"nonsense": zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestSetLevel(t *testing.T) {
	t.Cleanup(resetLoggingState)

	got := SetLevel("warn")
	assert.Equal(t, zerolog.WarnLevel, got)
	assert.False(t, IsLevelEnabled(zerolog.InfoLevel))
	assert.True(t, IsLevelEnabled(zerolog.ErrorLevel))
}

func TestNewWithWriterTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "engine")
	logger.Info().Str("user_id", "u1").Msg("hello")

	event := readJSONLine(t, &buf)
	assert.Equal(t, "engine", event["component"])
	assert.Equal(t, "u1", event["user_id"])
	assert.Equal(t, "hello", event["message"])
}

func TestNewWithWriterWithoutComponentOmitsField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "  ")
	logger.Info().Msg("hello")

	event := readJSONLine(t, &buf)
	_, ok := event["component"]
	assert.False(t, ok)
}

func TestWithRequestIDGeneratesWhenEmpty(t *testing.T) {
	ctx, id := WithRequestID(context.Background(), "   ")
	require.NotEmpty(t, id)
	assert.Equal(t, id, RequestID(ctx))

	ctx, id = WithRequestID(nil, " abc ") //nolint:staticcheck // nil context is handled
	assert.Equal(t, "abc", id)
	assert.Equal(t, "abc", RequestID(ctx))
}

func TestRequestIDWithoutValue(t *testing.T) {
	assert.Equal(t, "", RequestID(context.Background()))
	assert.Equal(t, "", RequestID(nil)) //nolint:staticcheck // nil context is handled
}
