package postprocess

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kurihiro0119/github-backup/internal/domain"
	"github.com/kurihiro0119/github-backup/internal/notify"
)

const (
	SubjectCompleted = "GitHub Backup Completed"
	SubjectError     = "GitHub Backup Error"
)

// Recorder persists run history
type Recorder interface {
	SaveRun(ctx context.Context, run *domain.Run) error
	SaveTaskResults(ctx context.Context, runID string, results []domain.TaskResult) error
}

// Options selects the optional steps
type Options struct {
	Compress bool
	Upload   bool
	Bucket   string
}

// Pipeline runs archive, upload, record and notify in that order. No step
// can fail the run: every failure ends as a log record.
type Pipeline struct {
	opts      Options
	archiver  Archiver
	uploader  Uploader
	recorder  Recorder
	notifiers []notify.Notifier
	log       *zap.Logger
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithArchiver sets the archive step
func WithArchiver(a Archiver) Option {
	return func(p *Pipeline) { p.archiver = a }
}

// WithUploader sets the upload step
func WithUploader(u Uploader) Option {
	return func(p *Pipeline) { p.uploader = u }
}

// WithRecorder sets the run history store
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithNotifiers sets the notification channels
func WithNotifiers(n ...notify.Notifier) Option {
	return func(p *Pipeline) { p.notifiers = append(p.notifiers, n...) }
}

// NewPipeline creates a pipeline. The archiver defaults to a ZipArchiver.
func NewPipeline(opts Options, log *zap.Logger, options ...Option) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{opts: opts, log: log}
	for _, o := range options {
		o(p)
	}
	if p.archiver == nil {
		p.archiver = NewZipArchiver()
	}
	return p
}

// Process handles a settled run
func (p *Pipeline) Process(ctx context.Context, run *domain.Run, results []domain.TaskResult) {
	log := p.log.With(zap.String("run_id", run.ID))

	if p.opts.Compress {
		p.archive(ctx, run, log)
	}
	if p.opts.Upload {
		p.upload(ctx, run, log)
	}
	p.record(ctx, run, results, log)
	p.notify(ctx, SubjectCompleted, CompletionBody(run), log)
}

// ReportError handles a run that never reached fan-out
func (p *Pipeline) ReportError(ctx context.Context, run *domain.Run, err error) {
	log := p.log.With(zap.String("run_id", run.ID))

	p.record(ctx, run, nil, log)
	p.notify(ctx, SubjectError, ErrorBody(err), log)
}

func (p *Pipeline) archive(ctx context.Context, run *domain.Run, log *zap.Logger) {
	path, err := p.archiver.CompressDirectory(ctx, run.OutputDir)
	if err != nil {
		log.Error("archive failed", zap.String("dir", run.OutputDir), zap.Error(err))
		return
	}
	run.ArchivePath = path
	log.Info("backup archived", zap.String("path", path))
}

func (p *Pipeline) upload(ctx context.Context, run *domain.Run, log *zap.Logger) {
	switch {
	case p.uploader == nil:
		run.UploadError = "no uploader configured"
	case run.ArchivePath == "":
		run.UploadError = "no archive to upload"
	default:
		if err := p.uploader.Upload(ctx, run.ArchivePath, p.opts.Bucket); err != nil {
			run.UploadError = err.Error()
		}
	}

	if run.UploadError != "" {
		// the local archive is kept
		log.Error("upload failed", zap.String("bucket", p.opts.Bucket), zap.String("error", run.UploadError))
		return
	}
	log.Info("backup uploaded", zap.String("bucket", p.opts.Bucket), zap.String("path", run.ArchivePath))
}

func (p *Pipeline) record(ctx context.Context, run *domain.Run, results []domain.TaskResult, log *zap.Logger) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.SaveRun(ctx, run); err != nil {
		log.Error("failed to record run", zap.Error(err))
		return
	}
	if len(results) == 0 {
		return
	}
	if err := p.recorder.SaveTaskResults(ctx, run.ID, results); err != nil {
		log.Error("failed to record task results", zap.Error(err))
	}
}

func (p *Pipeline) notify(ctx context.Context, subject, body string, log *zap.Logger) {
	for _, n := range p.notifiers {
		if err := n.Notify(ctx, subject, body); err != nil {
			log.Warn("notification failed",
				zap.String("channel", n.Name()),
				zap.String("subject", subject),
				zap.Error(err))
			continue
		}
		log.Info("notification sent", zap.String("channel", n.Name()))
	}
}

// CompletionBody summarizes a settled run and lists every failed task
func CompletionBody(run *domain.Run) string {
	var b strings.Builder
	if run.Failed == 0 {
		b.WriteString("The GitHub backup completed successfully.\n")
	} else {
		b.WriteString("The GitHub backup completed with failures.\n")
	}
	fmt.Fprintf(&b, "\nRun: %s\nAccount: %s\nRepositories: %d\nTasks completed: %d\nTasks failed: %d\n",
		run.ID, run.Owner, run.Repos, run.Completed, run.Failed)
	if run.ArchivePath != "" {
		fmt.Fprintf(&b, "Archive: %s\n", run.ArchivePath)
	}
	if run.UploadError != "" {
		fmt.Fprintf(&b, "Upload failed: %s\n", run.UploadError)
	}

	if len(run.Failures) > 0 {
		b.WriteString("\nFailed tasks:\n")
		for _, f := range run.Failures {
			fmt.Fprintf(&b, "- %s/%s: %s\n", f.Repo, f.Category, f.Error)
		}
	}
	return b.String()
}

// ErrorBody describes a run that failed before any task started
func ErrorBody(err error) string {
	return fmt.Sprintf("An error occurred during the GitHub backup: %v", err)
}
