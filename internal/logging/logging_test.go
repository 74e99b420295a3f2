package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestHandlerFormats(t *testing.T) {
	var buf bytes.Buffer
	slog.New(newHandler(&buf, "info", "json")).Info("stage complete", "stage", "describe")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "stage complete", line["msg"])
	assert.Equal(t, "describe", line["stage"])

	buf.Reset()
	slog.New(newHandler(&buf, "info", "text")).Info("stage complete", "stage", "describe")
	assert.Contains(t, buf.String(), `msg="stage complete" stage=describe`)
}

func TestHandlerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, "warn", "json"))

	logger.Info("dropped")
	logger.Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestNewWritesToLogFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	path := filepath.Join(t.TempDir(), "schema2tf.log")

	logger, cleanup, err := New("debug", "json", path)
	require.NoError(t, err)
	logger.Debug("session created", "session_id", "abc")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session_id":"abc"`)
	assert.Same(t, logger, slog.Default())
}

func TestNewFailsOnUnwritableFile(t *testing.T) {
	_, _, err := New("info", "json", filepath.Join(t.TempDir(), "missing", "x.log"))

	assert.Error(t, err)
}
