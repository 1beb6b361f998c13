package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-backup/internal/config"
	apperrors "github.com/kurihiro0119/github-backup/internal/errors"
)

func TestOpenStorage(t *testing.T) {
	t.Run("none falls back to sqlite", func(t *testing.T) {
		cfg := config.Default
		cfg.SQLitePath = filepath.Join(t.TempDir(), "runs.db")

		store, err := openStorage(&cfg)

		require.NoError(t, err)
		defer store.Close()
		runs, err := store.GetRuns(t.Context(), 1)
		require.NoError(t, err)
		assert.Empty(t, runs)
		assert.FileExists(t, cfg.SQLitePath)
	})

	t.Run("unusable database is an internal error", func(t *testing.T) {
		cfg := config.Default
		cfg.StorageType = config.StorageSQLite
		cfg.SQLitePath = filepath.Join(t.TempDir(), "missing", "runs.db")

		_, err := openStorage(&cfg)

		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInternal, apperrors.CodeOf(err))
	})
}
