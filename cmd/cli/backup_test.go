package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kurihiro0119/github-backup/internal/config"
	"github.com/kurihiro0119/github-backup/internal/domain"
	apperrors "github.com/kurihiro0119/github-backup/internal/errors"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default
	cfg.GitHubToken = "ghp_test"
	cfg.BackupDir = t.TempDir()
	cfg.DownloadIssues = true
	return &cfg
}

// emptyAccount serves an account that owns no repositories
func emptyAccount(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"login":"acct"}`)
	})
	mux.HandleFunc("/user/repos", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestBuildEngineWithoutS3(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AWS_PROFILE", "does-not-exist")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))

	cfg := testConfig(t)
	cfg.GitHubAPIURL = emptyAccount(t).URL
	cfg.CompressBackup = true
	cfg.UploadToS3 = true
	cfg.AWSAccessKeyID = "AKIA"
	cfg.AWSSecretAccessKey = "secret"
	cfg.S3Bucket = "backups"
	require.NoError(t, validateConfig(cfg))

	core, logs := observer.New(zapcore.InfoLevel)
	engine, cleanup, err := buildEngine(t.Context(), cfg, zap.New(core))

	require.NoError(t, err, "an unusable uploader must not stop the backup")
	defer cleanup()
	assert.Equal(t, 1, logs.FilterMessage("s3 uploader unavailable").Len())

	run, err := engine.Run(t.Context())

	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, run.Status)
	assert.Equal(t, "acct", run.Owner)
	assert.FileExists(t, run.ArchivePath)
	assert.Equal(t, "no uploader configured", run.UploadError)
	assert.Equal(t, 1, logs.FilterMessage("upload failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("notification failed").Len(), "email was still attempted")
}

func TestBuildNotifiers(t *testing.T) {
	cases := []struct {
		name    string
		webhook string
		want    []string
	}{
		{"email only", "", []string{"email"}},
		{"email and slack", "https://hooks.slack.com/services/x", []string{"email", "slack"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.SlackWebhookURL = tc.webhook

			var names []string
			for _, n := range buildNotifiers(cfg) {
				names = append(names, n.Name())
			}

			assert.Equal(t, tc.want, names)
		})
	}
}

func TestOpenRecorder(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)

		recorder, _ := openRecorder(testConfig(t), zap.New(core))

		assert.Nil(t, recorder)
		assert.Zero(t, logs.Len())
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.StorageType = config.StorageSQLite
		cfg.SQLitePath = filepath.Join(t.TempDir(), "runs.db")

		recorder, closeFn := openRecorder(cfg, zap.NewNop())

		require.NotNil(t, recorder)
		closeFn()
	})

	t.Run("unavailable storage is a warning", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.StorageType = config.StorageSQLite
		cfg.SQLitePath = filepath.Join(t.TempDir(), "missing", "runs.db")
		core, logs := observer.New(zapcore.InfoLevel)

		recorder, _ := openRecorder(cfg, zap.New(core))

		assert.Nil(t, recorder)
		warnings := logs.FilterMessage("run history disabled").All()
		require.Len(t, warnings, 1)
		assert.Equal(t, zapcore.WarnLevel, warnings[0].Level)
	})
}

func TestExitError(t *testing.T) {
	discovery := apperrors.NewDiscoveryError("failed to resolve account", errors.New("401"))
	cases := []struct {
		name string
		run  *domain.Run
		err  error
		want error
	}{
		{"every task completed", &domain.Run{Status: domain.RunStatusSucceeded, Completed: 3}, nil, nil},
		{"partial failure", &domain.Run{Status: domain.RunStatusPartialFailure, Completed: 2, Failed: 1}, nil, errRunFailed},
		{"discovery failure", &domain.Run{Status: domain.RunStatusFailed}, discovery, discovery},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, exitError(tc.run, tc.err))
		})
	}
}

func TestValidateConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.GitHubToken = ""

	err := validateConfig(cfg)

	assert.Equal(t, apperrors.ErrCodeConfig, apperrors.CodeOf(err))
	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "GITHUB_TOKEN", cfgErr.Field)
}
