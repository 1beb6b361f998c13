package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kurihiro0119/github-backup/internal/domain"
	apperrors "github.com/kurihiro0119/github-backup/internal/errors"
	"github.com/kurihiro0119/github-backup/internal/gitcmd"
)

// Fetcher backs up one category of one repository
type Fetcher interface {
	Category() domain.Category
	Fetch(ctx context.Context, task domain.BackupTask) error
}

// NewFetchers returns a fetcher for every category, keyed by category
func NewFetchers(job *Job, log *zap.Logger) map[domain.Category]Fetcher {
	fetchers := []Fetcher{
		&mirrorFetcher{git: job.Git, gitBaseURL: job.gitBaseURL()},
		&wikiFetcher{git: job.Git, gitBaseURL: job.gitBaseURL()},
		&listFetcher{job: job, category: domain.CategoryIssues, endpoint: "/issues"},
		&listFetcher{job: job, category: domain.CategoryPulls, endpoint: "/pulls"},
		&releasesFetcher{job: job, log: log},
		&rawFetcher{job: job, category: domain.CategoryMetadata, endpoint: ""},
		&rawFetcher{job: job, category: domain.CategoryProjects, endpoint: "/projects"},
	}

	out := make(map[domain.Category]Fetcher, len(fetchers))
	for _, f := range fetchers {
		out[f.Category()] = f
	}
	return out
}

// mirrorFetcher mirrors the full git history
type mirrorFetcher struct {
	git        gitcmd.Git
	gitBaseURL string
}

func (f *mirrorFetcher) Category() domain.Category { return domain.CategoryMirror }

func (f *mirrorFetcher) Fetch(ctx context.Context, task domain.BackupTask) error {
	return f.git.MirrorClone(ctx, task.Repository.MirrorURL(f.gitBaseURL), task.Path)
}

// wikiFetcher clones the wiki repository; a repository without a wiki fails here
type wikiFetcher struct {
	git        gitcmd.Git
	gitBaseURL string
}

func (f *wikiFetcher) Category() domain.Category { return domain.CategoryWiki }

func (f *wikiFetcher) Fetch(ctx context.Context, task domain.BackupTask) error {
	if err := os.MkdirAll(filepath.Dir(task.Path), 0755); err != nil {
		return apperrors.NewIOError(task.Path, err)
	}
	return f.git.Clone(ctx, task.Repository.WikiURL(f.gitBaseURL), task.Path)
}

// listFetcher follows every page of a collection and stores it as one JSON document
type listFetcher struct {
	job      *Job
	category domain.Category
	endpoint string
}

func (f *listFetcher) Category() domain.Category { return f.category }

func (f *listFetcher) Fetch(ctx context.Context, task domain.BackupTask) error {
	url := f.job.repoURL(task.Repository, f.endpoint+"?state=all&per_page=100")
	items, err := f.job.API.FetchAll(ctx, url)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return apperrors.NewParseError(url, err)
	}
	return writeFile(task.Path, data)
}

// rawFetcher stores a single response body verbatim
type rawFetcher struct {
	job      *Job
	category domain.Category
	endpoint string
}

func (f *rawFetcher) Category() domain.Category { return f.category }

func (f *rawFetcher) Fetch(ctx context.Context, task domain.BackupTask) error {
	resp, err := f.job.API.Get(ctx, f.job.repoURL(task.Repository, f.endpoint))
	if err != nil {
		return err
	}
	return writeFile(task.Path, resp.Body)
}

type release struct {
	TagName string  `json:"tag_name"`
	Assets  []asset `json:"assets"`
}

type asset struct {
	Name               string `json:"name"`
	URL                string `json:"url"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// downloadURL prefers the API endpoint, which works for private repositories
func (a asset) downloadURL() string {
	if a.URL != "" {
		return a.URL
	}
	return a.BrowserDownloadURL
}

// releasesFetcher downloads every asset of every release concurrently
type releasesFetcher struct {
	job *Job
	log *zap.Logger
}

func (f *releasesFetcher) Category() domain.Category { return domain.CategoryReleases }

func (f *releasesFetcher) Fetch(ctx context.Context, task domain.BackupTask) error {
	url := f.job.repoURL(task.Repository, "/releases?per_page=100")
	items, err := f.job.API.FetchAll(ctx, url)
	if err != nil {
		return err
	}

	releases := make([]release, 0, len(items))
	for _, item := range items {
		var r release
		if err := json.Unmarshal(item, &r); err != nil {
			return apperrors.NewParseError(url, err)
		}
		releases = append(releases, r)
	}

	if err := os.MkdirAll(task.Path, 0755); err != nil {
		return apperrors.NewIOError(task.Path, err)
	}

	return f.downloadAll(ctx, task, assetDestinations(task.Path, releases))
}

type plannedDownload struct {
	url  string
	dest string
}

func (f *releasesFetcher) downloadAll(ctx context.Context, task domain.BackupTask, downloads []plannedDownload) error {
	var g errgroup.Group
	var mu sync.Mutex
	failed := 0

	for _, d := range downloads {
		g.Go(func() error {
			if err := f.job.API.Download(ctx, d.url, d.dest); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				f.log.Warn("asset download failed",
					zap.String("repo", task.Repository.Name),
					zap.String("asset", filepath.Base(d.dest)),
					zap.Error(err))
				return fmt.Errorf("asset %s: %w", filepath.Base(d.dest), err)
			}
			f.log.Debug("asset downloaded",
				zap.String("repo", task.Repository.Name),
				zap.String("path", d.dest))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("%d of %d release assets failed, first: %w", failed, len(downloads), err)
	}
	return nil
}

// assetDestinations maps every asset to releases/<asset name>. A name already
// taken by an earlier release is prefixed with the release tag.
func assetDestinations(dir string, releases []release) []plannedDownload {
	taken := make(map[string]bool)
	var out []plannedDownload

	for _, r := range releases {
		for _, a := range r.Assets {
			if a.downloadURL() == "" {
				continue
			}
			name := safeName(a.Name)
			if taken[name] {
				name = safeName(r.TagName + "-" + name)
			}
			for i := 2; taken[name]; i++ {
				name = safeName(strconv.Itoa(i) + "-" + a.Name)
			}
			taken[name] = true
			out = append(out, plannedDownload{url: a.downloadURL(), dest: filepath.Join(dir, name)})
		}
	}
	return out
}

// safeName keeps an asset inside the releases directory
func safeName(name string) string {
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." || name == "" {
		return "asset"
	}
	return name
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return apperrors.NewIOError(path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return apperrors.NewIOError(path, err)
	}
	return nil
}
