package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_WritesJSONToFile(t *testing.T) {
	// Given: a config pointing at a temp log file
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "knosid.log")
	cfg := Config{
		Level:         "info",
		FilePath:      logPath,
		MaxSizeMB:     1,
		MaxFiles:      2,
		WriteToStderr: false,
	}

	// When: logging a message
	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	logger.Info("document indexed", "path", "notes.md", "fragments", 3)
	cleanup()

	// Then: the file contains a parseable JSON record
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	var record map[string]any
	line := strings.TrimSpace(string(data))
	require.NoError(t, json.Unmarshal([]byte(line), &record))
	assert.Equal(t, "document indexed", record["msg"])
	assert.Equal(t, "notes.md", record["path"])
}

func TestSetup_LevelFiltering(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "knosid.log")
	cfg := Config{Level: "warn", FilePath: logPath, MaxSizeMB: 1, MaxFiles: 1}

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("also hidden")
	logger.Warn("visible")
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "visible")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"WARN", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"bogus", "INFO"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.input).String(), "level %q", tt.input)
	}
}

func TestRotatingWriter_RotatesAtSizeLimit(t *testing.T) {
	// Given: a writer with a 1MB cap
	dir := t.TempDir()
	logPath := filepath.Join(dir, "knosid.log")
	w, err := NewRotatingWriter(logPath, 1, 3)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	// When: writing past the size limit
	chunk := strings.Repeat("x", 64*1024)
	for i := 0; i < 20; i++ {
		_, err := w.Write([]byte(chunk))
		require.NoError(t, err)
	}

	// Then: a rotated file exists and the active file restarted
	_, err = os.Stat(logPath + ".1")
	require.NoError(t, err)
	info, err := os.Stat(logPath)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(1024*1024))
}

func TestRotatingWriter_DropsFilesBeyondMax(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "knosid.log")

	// Pre-seed rotated files up to the cap
	require.NoError(t, os.WriteFile(logPath+".1", []byte("old1"), 0o644))
	require.NoError(t, os.WriteFile(logPath+".2", []byte("old2"), 0o644))

	w, err := NewRotatingWriter(logPath, 1, 2)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	chunk := strings.Repeat("y", 512*1024)
	for i := 0; i < 4; i++ {
		_, err := w.Write([]byte(chunk))
		require.NoError(t, err)
	}

	// The oldest file must never exceed the configured count
	_, err = os.Stat(logPath + ".3")
	assert.True(t, os.IsNotExist(err))
}
