// Package backup holds the orchestration engine: the resource fetchers, the
// fan-out scheduler and the engine that runs discovery, fan-out and
// post-processing in order.
package backup

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/kurihiro0119/github-backup/internal/apiclient"
	"github.com/kurihiro0119/github-backup/internal/domain"
	"github.com/kurihiro0119/github-backup/internal/gitcmd"
)

// DefaultGitBaseURL is used for clone URLs when the API does not report one
const DefaultGitBaseURL = "https://github.com"

// Job is the immutable context of one backup run
type Job struct {
	OutputDir  string
	APIURL     string
	GitBaseURL string
	Categories domain.Categories
	API        *apiclient.Client
	Git        gitcmd.Git
}

// repoURL builds <api>/repos/<owner>/<name><suffix>
func (j *Job) repoURL(repo *domain.Repository, suffix string) string {
	return strings.TrimSuffix(j.APIURL, "/") + "/repos/" +
		url.PathEscape(repo.Owner) + "/" + url.PathEscape(repo.Name) + suffix
}

// gitBaseURL returns the configured git host or the public default
func (j *Job) gitBaseURL() string {
	if j.GitBaseURL != "" {
		return j.GitBaseURL
	}
	return DefaultGitBaseURL
}

// NewTask builds the task of one category for one repository
func (j *Job) NewTask(runID string, repo *domain.Repository, category domain.Category) domain.BackupTask {
	return domain.BackupTask{
		RunID:      runID,
		Repository: repo,
		Category:   category,
		Path:       filepath.Join(j.OutputDir, category.RelativePath(repo.Name)),
	}
}

// TasksFor returns the mirror clone plus every enabled category for repo
func (j *Job) TasksFor(runID string, repo *domain.Repository) []domain.BackupTask {
	tasks := []domain.BackupTask{j.NewTask(runID, repo, domain.CategoryMirror)}
	for _, c := range j.Categories.Enabled() {
		tasks = append(tasks, j.NewTask(runID, repo, c))
	}
	return tasks
}
