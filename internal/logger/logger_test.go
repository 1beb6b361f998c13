package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWritesTimestampedLines(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	log, closeFn, err := New(dir, false)
	require.NoError(t, err)
	log.Info("task completed", zap.String("repo", "hello"))
	log.Debug("hidden at info level")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`, lines[0])
	assert.Contains(t, lines[0], "INFO")
	assert.Contains(t, lines[0], "task completed")
	assert.Contains(t, lines[0], `"repo": "hello"`)
}

func TestNewAppends(t *testing.T) {
	dir := t.TempDir()

	for _, msg := range []string{"first run", "second run"} {
		log, closeFn, err := New(dir, true)
		require.NoError(t, err)
		log.Info(msg)
		require.NoError(t, closeFn())
	}

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "first run")
	assert.Contains(t, string(data), "second run")
}

func TestNewWithoutOutputDir(t *testing.T) {
	log, closeFn, err := New("", false)
	require.NoError(t, err)
	assert.NotNil(t, log)
	assert.NoError(t, closeFn())
}
