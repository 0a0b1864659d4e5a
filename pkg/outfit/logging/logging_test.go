package logging_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/outfit/pkg/outfit/logging"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logging.Level
		wantErr bool
	}{
		{"debug", logging.LevelDebug, false},
		{"INFO", logging.LevelInfo, false},
		{"", logging.LevelInfo, false},
		{"warning", logging.LevelWarn, false},
		{"error", logging.LevelError, false},
		{"loud", logging.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := logging.ParseLevel(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, logging.ErrInvalidLevel))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     logging.Config
		wantErr bool
	}{
		{name: "file output", cfg: logging.Config{Level: "info", Path: filepath.Join(dir, "a.log")}},
		{name: "no file", cfg: logging.Config{Level: "debug"}},
		{
			name: "component overrides",
			cfg: logging.Config{
				Level:      "info",
				Path:       filepath.Join(dir, "b.log"),
				Components: map[string]string{"apply": "debug"},
			},
		},
		{name: "invalid level", cfg: logging.Config{Level: "nope"}, wantErr: true},
		{name: "invalid component level", cfg: logging.Config{Components: map[string]string{"apply": "x"}}, wantErr: true},
		{name: "invalid console level", cfg: logging.Config{ConsoleLevel: "x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := logging.New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, logger.Close())
		})
	}
}

func TestLoggerWritesComponentAndFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outfit.log")
	root, err := logging.New(logging.Config{
		Level:      "info",
		Path:       path,
		Components: map[string]string{"install.apply": "debug"},
	})
	require.NoError(t, err)

	applyLog := root.Named("install").Named("apply")
	assert.Equal(t, "install.apply", applyLog.Component())

	applyLog.With("attempt", "abc123").Debug("copying", "path", "agents/dev.md")
	root.Named("detect").Debug("hidden")
	root.Info("visible")

	require.NoError(t, root.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(content)

	assert.Contains(t, text, "install.apply")
	assert.Contains(t, text, "attempt=abc123")
	assert.Contains(t, text, "path=agents/dev.md")
	assert.Contains(t, text, "visible")
	assert.NotContains(t, text, "hidden")
}

func TestConsoleOutput(t *testing.T) {
	var console bytes.Buffer
	logger, err := logging.New(logging.Config{Level: "debug", ConsoleLevel: "warn", Console: &console})
	require.NoError(t, err)

	logger.Info("quiet")
	logger.Warn("loud")
	require.NoError(t, logger.Close())

	assert.NotContains(t, console.String(), "quiet")
	assert.Contains(t, console.String(), "loud")
}

func TestNilAndDiscardLoggers(t *testing.T) {
	var nilLogger *logging.Logger
	nilLogger.Info("ignored")
	assert.Nil(t, nilLogger.Named("x"))
	assert.Nil(t, nilLogger.With("k", "v"))
	assert.NoError(t, nilLogger.Close())

	d := logging.OrDiscard(nil)
	require.NotNil(t, d)
	d.Error("dropped")
	assert.NoError(t, d.Close())
}

func TestNewWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWriter(&buf, logging.LevelWarn)
	logger.Info("below threshold")
	logger.Named("backup").Error("failed", "target", "/opt/x")

	out := buf.String()
	assert.False(t, strings.Contains(out, "below threshold"))
	assert.Contains(t, out, "backup")
	assert.Contains(t, out, "target=/opt/x")
}
