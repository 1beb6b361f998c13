package storage

import (
	"context"

	"github.com/kurihiro0119/github-backup/internal/domain"
)

// Storage is the abstract interface for the run history
type Storage interface {
	// Run operations
	SaveRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	// GetRuns returns the most recent runs first; limit <= 0 means all
	GetRuns(ctx context.Context, limit int) ([]*domain.Run, error)

	// Task result operations
	SaveTaskResults(ctx context.Context, runID string, results []domain.TaskResult) error
	GetTaskResults(ctx context.Context, runID string) ([]domain.TaskResult, error)

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}
