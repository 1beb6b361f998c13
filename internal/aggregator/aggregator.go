package aggregator

import (
	"sync"
	"time"

	"github.com/kurihiro0119/github-backup/internal/domain"
)

// Aggregator collects terminal task results from concurrent writers
type Aggregator interface {
	// Record appends one terminal result
	Record(result domain.TaskResult)

	// Completed returns the number of completed tasks
	Completed() int

	// Failed returns the number of failed tasks
	Failed() int

	// Failures returns (repository, category, error) for every failed task
	Failures() []domain.TaskFailure

	// Results returns a copy of every recorded result in arrival order
	Results() []domain.TaskResult

	// Outcome fills the counters and failures of run and decides its status
	Outcome(run *domain.Run) *domain.Run
}

// aggregator implements the Aggregator interface
type aggregator struct {
	mu        sync.Mutex
	results   []domain.TaskResult
	completed int
	failed    int
}

// NewAggregator creates a new aggregator
func NewAggregator() Aggregator {
	return &aggregator{}
}

// Record appends one terminal result. Non-terminal states are recorded as failed.
func (a *aggregator) Record(result domain.TaskResult) {
	if !result.State.IsTerminal() {
		result.State = domain.TaskStateFailed
		if result.Error == "" {
			result.Error = "task did not reach a terminal state"
		}
	}
	if result.FinishedAt.IsZero() {
		result.FinishedAt = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.results = append(a.results, result)
	if result.State == domain.TaskStateCompleted {
		a.completed++
	} else {
		a.failed++
	}
}

// Completed returns the number of completed tasks
func (a *aggregator) Completed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completed
}

// Failed returns the number of failed tasks
func (a *aggregator) Failed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failed
}

// Failures returns (repository, category, error) for every failed task
func (a *aggregator) Failures() []domain.TaskFailure {
	a.mu.Lock()
	defer a.mu.Unlock()

	var failures []domain.TaskFailure
	for _, r := range a.results {
		if r.State != domain.TaskStateFailed {
			continue
		}
		failures = append(failures, domain.TaskFailure{
			Repo:     r.Repo,
			Category: r.Category,
			Error:    r.Error,
		})
	}
	return failures
}

// Results returns a copy of every recorded result in arrival order
func (a *aggregator) Results() []domain.TaskResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]domain.TaskResult, len(a.results))
	copy(out, a.results)
	return out
}

// Outcome fills the counters and failures of run and decides its status
func (a *aggregator) Outcome(run *domain.Run) *domain.Run {
	run.Completed = a.Completed()
	run.Failed = a.Failed()
	run.Failures = a.Failures()

	switch {
	case run.Status == domain.RunStatusFailed:
	case run.Failed > 0:
		run.Status = domain.RunStatusPartialFailure
	default:
		run.Status = domain.RunStatusSucceeded
	}
	return run
}
