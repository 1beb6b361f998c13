package backup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kurihiro0119/github-backup/internal/aggregator"
	"github.com/kurihiro0119/github-backup/internal/domain"
)

// PostProcessor runs after every task of a run has settled
type PostProcessor interface {
	// Process archives, uploads, records and notifies for a settled run
	Process(ctx context.Context, run *domain.Run, results []domain.TaskResult)

	// ReportError handles a run that failed before any task started
	ReportError(ctx context.Context, run *domain.Run, err error)
}

// Engine runs discovery, fan-out and post-processing in order
type Engine struct {
	job       *Job
	scheduler *Scheduler
	post      PostProcessor
	log       *zap.Logger
}

// NewEngine creates a new engine. post may be nil.
func NewEngine(job *Job, scheduler *Scheduler, post PostProcessor, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		job:       job,
		scheduler: scheduler,
		post:      post,
		log:       log,
	}
}

// Run performs one full backup. The returned run is always non-nil; the error
// is set only when discovery failed. Task failures are reported through the
// run's status and counters.
func (e *Engine) Run(ctx context.Context) (*domain.Run, error) {
	run := &domain.Run{
		ID:        uuid.New().String(),
		OutputDir: e.job.OutputDir,
		Status:    domain.RunStatusRunning,
		StartedAt: time.Now(),
	}
	log := e.log.With(zap.String("run_id", run.ID))
	log.Info("backup started", zap.String("output_dir", run.OutputDir))

	agg := aggregator.NewAggregator()
	if err := e.scheduler.Run(ctx, run, agg); err != nil {
		run.Status = domain.RunStatusFailed
		run.Error = err.Error()
		run.FinishedAt = time.Now()
		log.Error("backup aborted", zap.Error(err))
		if e.post != nil {
			e.post.ReportError(ctx, run, err)
		}
		return run, err
	}

	agg.Outcome(run)
	run.FinishedAt = time.Now()
	log.Info("backup settled",
		zap.String("status", string(run.Status)),
		zap.Int("repos", run.Repos),
		zap.Int("completed", run.Completed),
		zap.Int("failed", run.Failed),
		zap.Duration("duration", run.FinishedAt.Sub(run.StartedAt)))

	if e.post != nil {
		e.post.Process(ctx, run, agg.Results())
	}
	return run, nil
}
