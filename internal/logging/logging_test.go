package logging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), tt.in)
	}
}

func TestSetupWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "server.log")

	logger, cleanup, err := Setup(Config{
		Level:         "debug",
		FilePath:      path,
		WriteToStderr: false,
	})
	require.NoError(t, err)

	logger.Info("server_listening", "addr", "127.0.0.1:8000")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.SplitN(string(data), "\n", 2)[0]), &entry))
	assert.Equal(t, "server_listening", entry["msg"])
	assert.Equal(t, "127.0.0.1:8000", entry["addr"])
}

func TestSetupLevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")

	logger, cleanup, err := Setup(Config{
		Level:         "error",
		FilePath:      path,
		WriteToStderr: false,
	})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Error("kept")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
}

func TestSetupStderrOnly(t *testing.T) {
	logger, cleanup, err := Setup(Config{Level: "info"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	cleanup()
}

func TestRotatingWriterRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")

	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	// Force rotation past the 1 MB cap.
	line := []byte(strings.Repeat("x", 64*1024))
	for i := 0; i < 20; i++ {
		_, err := w.Write(line)
		require.NoError(t, err)
	}

	require.FileExists(t, path)
	require.FileExists(t, path + ".1")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, "server.log.3", e.Name())
	}
}

func TestRotatingWriterKeepsMaxFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")

	// Pre-seed rotated files so a single rotation shifts them.
	for i := 1; i <= 2; i++ {
		require.NoError(t, os.WriteFile(fmt.Sprintf("%s.%d", path, i), []byte("old"), 0o644))
	}

	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	line := []byte(strings.Repeat("x", 1024*1024))
	_, err = w.Write(line)
	require.NoError(t, err)
	_, err = w.Write([]byte("fresh"))
	require.NoError(t, err)

	require.FileExists(t, path + ".2")
	_, statErr := os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(statErr))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, 10, cfg.MaxSizeMB)
	assert.Equal(t, 5, cfg.MaxFiles)
	assert.True(t, cfg.WriteToStderr)
	assert.True(t, strings.HasSuffix(cfg.FilePath, filepath.Join("logs", "server.log")))
}
