package domain

import "time"

// TaskState represents the lifecycle state of a backup task
type TaskState string

const (
	TaskStatePending   TaskState = "pending"
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
)

// IsTerminal reports whether no further transition can happen
func (s TaskState) IsTerminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed
}

// BackupTask is one unit of fan-out work
type BackupTask struct {
	RunID      string
	Repository *Repository
	Category   Category
	// Path is absolute: output root joined with Category.RelativePath.
	Path string
}

// TaskResult is the terminal record of a backup task
type TaskResult struct {
	RunID      string    `json:"run_id"`
	Repo       string    `json:"repo"`
	Category   Category  `json:"category"`
	Path       string    `json:"path"`
	State      TaskState `json:"state"`
	Error      string    `json:"error,omitempty"`
	Err        error     `json:"-"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration returns how long the task ran
func (r *TaskResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// TaskFailure identifies a failed task
type TaskFailure struct {
	Repo     string   `json:"repo"`
	Category Category `json:"category"`
	Error    string   `json:"error"`
}
