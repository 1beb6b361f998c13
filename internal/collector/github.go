package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v55/github"

	"github.com/kurihiro0119/github-backup/internal/domain"
	apperrors "github.com/kurihiro0119/github-backup/internal/errors"
)

// DefaultAPIURL is the public GitHub REST endpoint
const DefaultAPIURL = "https://api.github.com/"

// githubCollector implements Collector using GitHub API
type githubCollector struct {
	client *github.Client
}

// NewGitHubCollector creates a new GitHub collector.
// httpClient must already carry the credential; it is the same client
// the resource fetchers use.
func NewGitHubCollector(httpClient *http.Client, apiURL string) (Collector, error) {
	client := github.NewClient(httpClient)
	if apiURL != "" {
		baseURL, err := url.Parse(strings.TrimSuffix(apiURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid api url %q: %w", apiURL, err)
		}
		client.BaseURL = baseURL
	}

	return &githubCollector{client: client}, nil
}

// GetAuthenticatedUser resolves the login of the token's owner
func (c *githubCollector) GetAuthenticatedUser(ctx context.Context) (string, error) {
	user, _, err := c.client.Users.Get(ctx, "")
	if err != nil {
		return "", wrapError(err, "get authenticated user")
	}
	if user.GetLogin() == "" {
		return "", fmt.Errorf("get authenticated user: empty login")
	}
	return user.GetLogin(), nil
}

// GetRepositories retrieves all repositories owned by the account
func (c *githubCollector) GetRepositories(ctx context.Context, owner string) ([]*domain.Repository, error) {
	var allRepos []*domain.Repository
	opts := &github.RepositoryListOptions{
		Affiliation: "owner",
		Sort:        "full_name",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		repos, resp, err := c.client.Repositories.List(ctx, "", opts)
		if err != nil {
			return nil, wrapError(err, "list repositories")
		}

		for _, repo := range repos {
			repoOwner := repo.GetOwner().GetLogin()
			if repoOwner == "" {
				repoOwner = owner
			}
			allRepos = append(allRepos, &domain.Repository{
				Owner:     repoOwner,
				Name:      repo.GetName(),
				FullName:  repo.GetFullName(),
				CloneURL:  repo.GetCloneURL(),
				IsPrivate: repo.GetPrivate(),
				HasWiki:   repo.GetHasWiki(),
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return allRepos, nil
}

// wrapError converts go-github errors to our error types
func wrapError(err error, operation string) error {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		reqURL := ""
		if ghErr.Response.Request != nil {
			reqURL = ghErr.Response.Request.URL.String()
		}
		return fmt.Errorf("%s: %w", operation, apperrors.NewHTTPError(reqURL, ghErr.Response.StatusCode))
	}
	return fmt.Errorf("%s: %w", operation, err)
}
