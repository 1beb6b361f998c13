package domain

import "time"

// RunStatus represents the final status of a backup run
type RunStatus string

const (
	RunStatusRunning        RunStatus = "running"
	RunStatusSucceeded      RunStatus = "succeeded"
	RunStatusPartialFailure RunStatus = "partial_failure"
	RunStatusFailed         RunStatus = "failed"
)

// Run is the outcome of one backup invocation
type Run struct {
	ID          string        `json:"id"`
	Owner       string        `json:"owner"`
	OutputDir   string        `json:"output_dir"`
	Status      RunStatus     `json:"status"`
	Repos       int           `json:"repos"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	Failures    []TaskFailure `json:"failures,omitempty"`
	ArchivePath string        `json:"archive_path,omitempty"`
	UploadError string        `json:"upload_error,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// HasFailures reports whether the run should exit with a failure status
func (r *Run) HasFailures() bool {
	return r.Failed > 0 || r.Status == RunStatusFailed
}

// Total returns the number of terminal task records
func (r *Run) Total() int {
	return r.Completed + r.Failed
}
