package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level LogLevel) (*DeliberationLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	cfg := DefaultLoggerConfig()
	cfg.Output = buf
	cfg.Level = level
	return NewLogger(cfg), buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestDeliberationLogger_KeyValueArgs(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)
	l.WithComponent("engine").WithSession("s-1").Info("engine.round.start", "round", 2, "roles", 3)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "engine.round.start", lines[0]["msg"])
	assert.Equal(t, "engine", lines[0]["component"])
	assert.Equal(t, "s-1", lines[0]["session_id"])
	assert.EqualValues(t, 2, lines[0]["round"])
}

func TestDeliberationLogger_LevelFilter(t *testing.T) {
	l, buf := newBufferLogger(LogLevelWarn)
	l.Info("dropped")
	l.LogAttempt("ethicist", "sim", 10, time.Millisecond, true, nil)
	l.LogAttempt("ethicist", "sim", 0, time.Millisecond, false, errors.New("boom"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "responder.attempt.failed", lines[0]["msg"])
	assert.Equal(t, "boom", lines[0]["error"])
}

func TestDeliberationLogger_LogRound(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)
	mean := 0.5
	l.LogRound(1, 3, 1, &mean, time.Second)
	l.LogRound(2, 3, 3, nil, time.Second)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, 0.5, lines[0]["mean_agreement"])
	_, ok := lines[1]["mean_agreement"]
	assert.False(t, ok)
}

func TestParseLogLevel(t *testing.T) {
	lvl, err := ParseLogLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, LogLevelDebug, lvl)

	_, err = ParseLogLevel("loud")
	assert.Error(t, err)
}
