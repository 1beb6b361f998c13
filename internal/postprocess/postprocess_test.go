package postprocess

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kurihiro0119/github-backup/internal/domain"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func readZip(t *testing.T, path string) map[string]string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	out := make(map[string]string)
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			out[f.Name] = ""
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = string(data)
	}
	return out
}

func TestZipArchiver(t *testing.T) {
	t.Run("extraction reproduces every relative path", func(t *testing.T) {
		root := t.TempDir()
		files := map[string]string{
			"backup.log":             "log line\n",
			"app/HEAD":               "ref: refs/heads/main\n",
			"app/issues.json":        `[{"number":1}]`,
			"app/releases/app.zip":   "binary",
			"app/wiki/Home.md":       "# Home",
			"lib/metadata.json":      `{}`,
			"lib/pull_requests.json": `[]`,
		}
		writeTree(t, root, files)
		require.NoError(t, os.MkdirAll(filepath.Join(root, "lib", "releases"), 0755))

		path, err := NewZipArchiver().CompressDirectory(t.Context(), root)

		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, ArchiveName), path)
		entries := readZip(t, path)
		for name, content := range files {
			assert.Equal(t, content, entries[name], name)
		}
		assert.Contains(t, entries, "lib/releases/", "empty directories survive")
		assert.NotContains(t, entries, ArchiveName)
	})

	t.Run("existing archive is replaced, not merged", func(t *testing.T) {
		root := t.TempDir()
		writeTree(t, root, map[string]string{"old/file.txt": "old"})
		archiver := NewZipArchiver()
		_, err := archiver.CompressDirectory(t.Context(), root)
		require.NoError(t, err)

		require.NoError(t, os.RemoveAll(filepath.Join(root, "old")))
		writeTree(t, root, map[string]string{"new/file.txt": "new"})
		path, err := archiver.CompressDirectory(t.Context(), root)

		require.NoError(t, err)
		entries := readZip(t, path)
		assert.Contains(t, entries, "new/file.txt")
		assert.NotContains(t, entries, "old/file.txt")
		var names []string
		for name := range entries {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			assert.False(t, strings.HasSuffix(name, ".zip"), name)
		}
	})

	t.Run("cancelled context leaves no archive", func(t *testing.T) {
		root := t.TempDir()
		writeTree(t, root, map[string]string{"a.txt": "a"})
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		_, err := NewZipArchiver().CompressDirectory(ctx, root)

		require.Error(t, err)
		assert.NoFileExists(t, filepath.Join(root, ArchiveName))
	})
}

type fakeS3 struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	data, _ := io.ReadAll(params.Body)
	f.body = string(data)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3Uploader(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ArchiveName)
	require.NoError(t, os.WriteFile(file, []byte("zipdata"), 0644))

	t.Run("puts object under prefix", func(t *testing.T) {
		client := &fakeS3{}

		err := NewS3UploaderWithClient(client, "/nightly/").Upload(t.Context(), file, "my-bucket")

		require.NoError(t, err)
		assert.Equal(t, "my-bucket", aws.ToString(client.input.Bucket))
		assert.Equal(t, "nightly/backup.zip", aws.ToString(client.input.Key))
		assert.Equal(t, int64(7), aws.ToInt64(client.input.ContentLength))
		assert.Equal(t, "zipdata", client.body)
	})

	t.Run("no prefix uses file name", func(t *testing.T) {
		client := &fakeS3{}

		require.NoError(t, NewS3UploaderWithClient(client, "").Upload(t.Context(), file, "b"))
		assert.Equal(t, "backup.zip", aws.ToString(client.input.Key))
	})

	t.Run("missing file fails before calling s3", func(t *testing.T) {
		client := &fakeS3{}

		err := NewS3UploaderWithClient(client, "").Upload(t.Context(), filepath.Join(dir, "nope.zip"), "b")

		require.Error(t, err)
		assert.Nil(t, client.input)
	})
}

type fakeUploader struct {
	err   error
	calls []string
}

func (u *fakeUploader) Upload(_ context.Context, localFile, bucket string) error {
	u.calls = append(u.calls, bucket+":"+localFile)
	return u.err
}

type fakeNotifier struct {
	name     string
	err      error
	mu       sync.Mutex
	subjects []string
	bodies   []string
}

func (n *fakeNotifier) Name() string { return n.name }

func (n *fakeNotifier) Notify(_ context.Context, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
	n.bodies = append(n.bodies, body)
	return n.err
}

type fakeRecorder struct {
	runs    []*domain.Run
	results map[string][]domain.TaskResult
	err     error
}

func (r *fakeRecorder) SaveRun(_ context.Context, run *domain.Run) error {
	if r.err != nil {
		return r.err
	}
	r.runs = append(r.runs, run)
	return nil
}

func (r *fakeRecorder) SaveTaskResults(_ context.Context, runID string, results []domain.TaskResult) error {
	if r.results == nil {
		r.results = make(map[string][]domain.TaskResult)
	}
	r.results[runID] = results
	return nil
}

func settledRun(t *testing.T) *domain.Run {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root, map[string]string{"app/issues.json": "[]"})
	return &domain.Run{
		ID:        "run-1",
		Owner:     "acct",
		OutputDir: root,
		Status:    domain.RunStatusPartialFailure,
		Repos:     1,
		Completed: 1,
		Failed:    1,
		Failures: []domain.TaskFailure{
			{Repo: "app", Category: domain.CategoryWiki, Error: "git clone failed"},
		},
	}
}

func TestPipelineProcess(t *testing.T) {
	t.Run("archives, uploads, records and notifies in order", func(t *testing.T) {
		run := settledRun(t)
		uploader := &fakeUploader{}
		recorder := &fakeRecorder{}
		email := &fakeNotifier{name: "email"}
		slack := &fakeNotifier{name: "slack"}
		results := []domain.TaskResult{{RunID: "run-1", Repo: "app", Category: domain.CategoryIssues, State: domain.TaskStateCompleted}}

		p := NewPipeline(Options{Compress: true, Upload: true, Bucket: "bkt"}, nil,
			WithUploader(uploader), WithRecorder(recorder), WithNotifiers(email, slack))
		p.Process(t.Context(), run, results)

		assert.Equal(t, filepath.Join(run.OutputDir, ArchiveName), run.ArchivePath)
		assert.FileExists(t, run.ArchivePath)
		assert.Equal(t, []string{"bkt:" + run.ArchivePath}, uploader.calls)
		require.Len(t, recorder.runs, 1)
		assert.Equal(t, results, recorder.results["run-1"])
		assert.Equal(t, []string{SubjectCompleted}, email.subjects)
		assert.Equal(t, []string{SubjectCompleted}, slack.subjects)
		assert.Contains(t, email.bodies[0], "- app/wiki: git clone failed")
	})

	t.Run("upload failure keeps the local archive", func(t *testing.T) {
		run := settledRun(t)
		core, logs := observer.New(zapcore.InfoLevel)
		uploader := &fakeUploader{err: errors.New("access denied")}

		NewPipeline(Options{Compress: true, Upload: true, Bucket: "bkt"}, zap.New(core), WithUploader(uploader)).
			Process(t.Context(), run, nil)

		assert.FileExists(t, run.ArchivePath)
		assert.Equal(t, "access denied", run.UploadError)
		assert.Equal(t, 1, logs.FilterMessage("upload failed").Len())
	})

	t.Run("upload without archive is reported", func(t *testing.T) {
		run := settledRun(t)
		uploader := &fakeUploader{}

		NewPipeline(Options{Upload: true, Bucket: "bkt"}, nil, WithUploader(uploader)).Process(t.Context(), run, nil)

		assert.Empty(t, uploader.calls)
		assert.NotEmpty(t, run.UploadError)
	})

	t.Run("notification failure leaves a log record and other channels still run", func(t *testing.T) {
		run := settledRun(t)
		core, logs := observer.New(zapcore.InfoLevel)
		email := &fakeNotifier{name: "email", err: errors.New("dial tcp: connection refused")}
		slack := &fakeNotifier{name: "slack"}

		assert.NotPanics(t, func() {
			NewPipeline(Options{}, zap.New(core), WithNotifiers(email, slack)).Process(t.Context(), run, nil)
		})

		failed := logs.FilterMessage("notification failed").All()
		require.Len(t, failed, 1)
		assert.Equal(t, "email", failed[0].ContextMap()["channel"])
		assert.Equal(t, zapcore.WarnLevel, failed[0].Level)
		assert.Len(t, slack.subjects, 1)
	})

	t.Run("record failure is logged", func(t *testing.T) {
		run := settledRun(t)
		core, logs := observer.New(zapcore.InfoLevel)

		NewPipeline(Options{}, zap.New(core), WithRecorder(&fakeRecorder{err: errors.New("db locked")})).
			Process(t.Context(), run, nil)

		assert.Equal(t, 1, logs.FilterMessage("failed to record run").Len())
	})
}

func TestPipelineReportError(t *testing.T) {
	email := &fakeNotifier{name: "email"}
	recorder := &fakeRecorder{}
	run := &domain.Run{ID: "run-2", Status: domain.RunStatusFailed}

	NewPipeline(Options{Compress: true}, nil, WithNotifiers(email), WithRecorder(recorder)).
		ReportError(t.Context(), run, errors.New("401 Bad credentials"))

	assert.Equal(t, []string{SubjectError}, email.subjects)
	assert.Equal(t, "An error occurred during the GitHub backup: 401 Bad credentials", email.bodies[0])
	assert.Len(t, recorder.runs, 1)
	assert.Empty(t, run.ArchivePath)
}

func TestCompletionBody(t *testing.T) {
	body := CompletionBody(&domain.Run{ID: "r", Owner: "acct", Repos: 2, Completed: 4})

	assert.True(t, strings.HasPrefix(body, "The GitHub backup completed successfully."))
	assert.NotContains(t, body, "Failed tasks")
}
