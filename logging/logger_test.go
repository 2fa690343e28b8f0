package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Interface compliance (compile-time assertions)
var (
	_ Logger = (*SlogAdapter)(nil)
	_ Logger = (*FlouLogger)(nil)
	_ Logger = NoOpLogger{}
)

func jsonLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		out = append(out, entry)
	}
	return out
}

func TestFlouLogger_ContextualAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf})

	logger.WithComponent("scheduler").WithSession("s-1").Info("admitted", "phase", 2)

	entries := jsonLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "admitted", entries[0]["msg"])
	assert.Equal(t, "scheduler", entries[0]["component"])
	assert.Equal(t, "s-1", entries[0]["session_id"])
	assert.EqualValues(t, 2, entries[0]["phase"])
}

func TestFlouLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LogLevelWarn, Format: "json", Output: &buf})

	logger.Debug("hidden")
	logger.Info("hidden too")
	logger.Warn("shown")

	entries := jsonLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "shown", entries[0]["msg"])
}

func TestFlouLogger_LogFlush(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf})

	logger.LogFlush("sqlite", 12, 3, nil)
	logger.LogFlush("sqlite", 12, 3, errors.New("disk full"))

	entries := jsonLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "Telemetry flush completed", entries[0]["msg"])
	assert.Equal(t, "Telemetry flush failed", entries[1]["msg"])
	assert.Equal(t, "disk full", entries[1]["error"])
	assert.EqualValues(t, 12, entries[1]["batch_size"])
}

func TestFlouLogger_LogAction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf})

	logger.LogAction("navigate", 1, 120*time.Millisecond, nil)
	logger.LogAction("click", 2, 40*time.Millisecond, errors.New("no such element"))

	entries := jsonLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "Action completed", entries[0]["msg"])
	assert.Equal(t, "Action failed", entries[1]["msg"])
	assert.EqualValues(t, 2, entries[1]["attempt"])
}

func TestLogLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LogLevelDebug.String())
	assert.Equal(t, "INFO", LogLevelInfo.String())
	assert.Equal(t, "WARN", LogLevelWarn.String())
	assert.Equal(t, "ERROR", LogLevelError.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestNoOpLogger(t *testing.T) {
	// Must be safe with any argument shape.
	var l NoOpLogger
	l.Debug("x")
	l.Info("x", "k", "v")
	l.Warn("x", "dangling-key")
	l.Error("x", "err", errors.New("boom"))
}
