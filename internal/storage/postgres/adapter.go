package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/kurihiro0119/github-backup/internal/domain"
	apperrors "github.com/kurihiro0119/github-backup/internal/errors"
	"github.com/kurihiro0119/github-backup/internal/storage"
)

// postgresStorage implements the Storage interface for PostgreSQL
type postgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connStr string) (storage.Storage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &postgresStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id VARCHAR(64) PRIMARY KEY,
		owner VARCHAR(255) NOT NULL,
		output_dir TEXT NOT NULL,
		status VARCHAR(32) NOT NULL,
		repos INTEGER NOT NULL,
		completed INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		failures JSONB NOT NULL,
		archive_path TEXT NOT NULL,
		upload_error TEXT NOT NULL,
		error TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS task_results (
		run_id VARCHAR(64) NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		repo VARCHAR(255) NOT NULL,
		category VARCHAR(32) NOT NULL,
		path TEXT NOT NULL,
		state VARCHAR(32) NOT NULL,
		error TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (run_id, repo, category)
	);

	CREATE INDEX IF NOT EXISTS idx_task_results_run_id ON task_results(run_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveRun inserts or updates a run
func (s *postgresStorage) SaveRun(ctx context.Context, run *domain.Run) error {
	failures, err := json.Marshal(run.Failures)
	if err != nil {
		return err
	}
	if run.Failures == nil {
		failures = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, owner, output_dir, status, repos, completed, failed, failures,
			archive_path, upload_error, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			owner = EXCLUDED.owner,
			status = EXCLUDED.status,
			repos = EXCLUDED.repos,
			completed = EXCLUDED.completed,
			failed = EXCLUDED.failed,
			failures = EXCLUDED.failures,
			archive_path = EXCLUDED.archive_path,
			upload_error = EXCLUDED.upload_error,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at
	`,
		run.ID,
		run.Owner,
		run.OutputDir,
		string(run.Status),
		run.Repos,
		run.Completed,
		run.Failed,
		failures,
		run.ArchivePath,
		run.UploadError,
		run.Error,
		run.StartedAt,
		run.FinishedAt,
	)
	return err
}

const runColumns = `id, owner, output_dir, status, repos, completed, failed, failures,
	archive_path, upload_error, error, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.Run, error) {
	var r domain.Run
	var status string
	var failures []byte
	err := row.Scan(&r.ID, &r.Owner, &r.OutputDir, &status, &r.Repos, &r.Completed, &r.Failed, &failures,
		&r.ArchivePath, &r.UploadError, &r.Error, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}
	r.Status = domain.RunStatus(status)
	if err := json.Unmarshal(failures, &r.Failures); err != nil {
		return nil, fmt.Errorf("decode failures of run %s: %w", r.ID, err)
	}
	return &r, nil
}

// GetRun returns one run by id
func (s *postgresStorage) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("run " + id)
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load run "+id, err)
	}
	return run, nil
}

// GetRuns returns the most recent runs first
func (s *postgresStorage) GetRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to query runs", err)
	}
	defer rows.Close()

	runs := []*domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// SaveTaskResults stores every task result of a run in one transaction
func (s *postgresStorage) SaveTaskResults(ctx context.Context, runID string, results []domain.TaskResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO task_results (run_id, repo, category, path, state, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, repo, category) DO UPDATE SET
			path = EXCLUDED.path,
			state = EXCLUDED.state,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		_, err = stmt.ExecContext(ctx,
			runID,
			r.Repo,
			string(r.Category),
			r.Path,
			string(r.State),
			r.Error,
			r.StartedAt,
			r.FinishedAt,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetTaskResults returns the task results of a run ordered by repository and category
func (s *postgresStorage) GetTaskResults(ctx context.Context, runID string) ([]domain.TaskResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, repo, category, path, state, error, started_at, finished_at
		FROM task_results
		WHERE run_id = $1
		ORDER BY repo, category
	`, runID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to query task results of run "+runID, err)
	}
	defer rows.Close()

	results := []domain.TaskResult{}
	for rows.Next() {
		var r domain.TaskResult
		var category, state string
		if err := rows.Scan(&r.RunID, &r.Repo, &category, &r.Path, &state, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		r.Category = domain.Category(category)
		r.State = domain.TaskState(state)
		results = append(results, r)
	}

	return results, rows.Err()
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}
