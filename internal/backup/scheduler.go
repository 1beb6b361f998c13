package backup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kurihiro0119/github-backup/internal/aggregator"
	"github.com/kurihiro0119/github-backup/internal/collector"
	"github.com/kurihiro0119/github-backup/internal/domain"
	apperrors "github.com/kurihiro0119/github-backup/internal/errors"
)

// State is the scheduler's position in a run
type State string

const (
	StateNotStarted         State = "not_started"
	StateDiscovering        State = "discovering"
	StateFanningOut         State = "fanning_out"
	StateAwaitingCompletion State = "awaiting_completion"
	StateSettled            State = "settled"
)

// Scheduler discovers repositories and fans backup tasks out over goroutines
type Scheduler struct {
	job       *Job
	collector collector.Collector
	fetchers  map[domain.Category]Fetcher
	log       *zap.Logger

	maxConcurrency int
	taskTimeout    time.Duration

	mu    sync.Mutex
	state State
}

// SchedulerOption configures a Scheduler
type SchedulerOption func(*Scheduler)

// WithMaxConcurrency caps how many tasks run at once; 0 means unbounded.
// Every task is still launched immediately and waits for a slot itself.
func WithMaxConcurrency(n int) SchedulerOption {
	return func(s *Scheduler) {
		s.maxConcurrency = n
	}
}

// WithTaskTimeout bounds each task; a task that runs out of time is failed.
func WithTaskTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.taskTimeout = d
	}
}

// WithFetchers replaces the fetchers built from the job
func WithFetchers(fetchers map[domain.Category]Fetcher) SchedulerOption {
	return func(s *Scheduler) {
		s.fetchers = fetchers
	}
}

// NewScheduler creates a scheduler for job
func NewScheduler(job *Job, coll collector.Collector, log *zap.Logger, opts ...SchedulerOption) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scheduler{
		job:       job,
		collector: coll,
		log:       log,
		state:     StateNotStarted,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fetchers == nil {
		s.fetchers = NewFetchers(job, log)
	}
	return s
}

// State returns the current scheduler state
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.log.Debug("scheduler state", zap.String("state", string(state)))
}

// Run discovers the account's repositories, runs every task and records each
// terminal result in agg. It returns an error only when discovery fails; task
// failures are data in agg.
func (s *Scheduler) Run(ctx context.Context, run *domain.Run, agg aggregator.Aggregator) error {
	owner, repos, err := s.Discover(ctx)
	if err != nil {
		return err
	}
	run.Owner = owner
	run.Repos = len(repos)

	s.Execute(ctx, s.Tasks(run.ID, repos), agg)
	return nil
}

// Discover resolves the authenticated account and lists its repositories
func (s *Scheduler) Discover(ctx context.Context) (string, []*domain.Repository, error) {
	s.setState(StateDiscovering)

	owner, err := s.collector.GetAuthenticatedUser(ctx)
	if err != nil {
		return "", nil, apperrors.NewDiscoveryError("failed to resolve account", err)
	}
	s.log.Info("account resolved", zap.String("owner", owner))

	repos, err := s.collector.GetRepositories(ctx, owner)
	if err != nil {
		return "", nil, apperrors.NewDiscoveryError("failed to list repositories", err)
	}
	s.log.Info("repositories discovered", zap.String("owner", owner), zap.Int("count", len(repos)))

	return owner, repos, nil
}

// Tasks builds the full task set: one mirror clone plus one task per enabled
// category, for every repository
func (s *Scheduler) Tasks(runID string, repos []*domain.Repository) []domain.BackupTask {
	var tasks []domain.BackupTask
	for _, repo := range repos {
		tasks = append(tasks, s.job.TasksFor(runID, repo)...)
	}
	return tasks
}

// Execute launches every task concurrently and blocks until all of them have
// reached a terminal state, whatever their outcome.
func (s *Scheduler) Execute(ctx context.Context, tasks []domain.BackupTask, agg aggregator.Aggregator) {
	s.setState(StateFanningOut)

	var wg sync.WaitGroup
	var semaphore chan struct{}
	if s.maxConcurrency > 0 {
		semaphore = make(chan struct{}, s.maxConcurrency)
	}

	for _, task := range tasks {
		wg.Add(1)
		go func(t domain.BackupTask) {
			defer wg.Done()

			if semaphore != nil {
				semaphore <- struct{}{}
				defer func() { <-semaphore }()
			}

			agg.Record(s.runTask(ctx, t))
		}(task)
	}
	s.log.Info("tasks launched", zap.Int("count", len(tasks)))

	s.setState(StateAwaitingCompletion)
	wg.Wait()
	s.setState(StateSettled)
}

// runTask executes one task and always returns a terminal result
func (s *Scheduler) runTask(ctx context.Context, task domain.BackupTask) (result domain.TaskResult) {
	result = domain.TaskResult{
		RunID:     task.RunID,
		Repo:      task.Repository.Name,
		Category:  task.Category,
		Path:      task.Path,
		StartedAt: time.Now(),
	}
	fields := []zap.Field{
		zap.String("repo", task.Repository.Name),
		zap.String("category", string(task.Category)),
	}
	s.log.Info("task started", fields...)

	defer func() {
		if r := recover(); r != nil {
			result.State = domain.TaskStateFailed
			result.Err = fmt.Errorf("task panicked: %v", r)
			result.Error = result.Err.Error()
		}
		result.FinishedAt = time.Now()

		if result.State == domain.TaskStateCompleted {
			s.log.Info("task completed", append(fields, zap.Duration("duration", result.Duration()))...)
		} else {
			s.log.Error("task failed", append(fields, zap.String("error", result.Error))...)
		}
	}()

	fetcher, ok := s.fetchers[task.Category]
	if !ok {
		result.State = domain.TaskStateFailed
		result.Err = fmt.Errorf("no fetcher for category %q", task.Category)
		result.Error = result.Err.Error()
		return result
	}

	taskCtx := ctx
	if s.taskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, s.taskTimeout)
		defer cancel()
	}

	if err := fetcher.Fetch(taskCtx, task); err != nil {
		if taskCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s: %w", s.taskTimeout, err)
		}
		result.State = domain.TaskStateFailed
		result.Err = err
		result.Error = err.Error()
		return result
	}

	result.State = domain.TaskStateCompleted
	return result
}
