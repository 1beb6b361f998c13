package collector

import (
	"context"

	"github.com/kurihiro0119/github-backup/internal/domain"
)

// Collector discovers the account and repositories to back up
type Collector interface {
	// GetAuthenticatedUser resolves the login of the token's owner
	GetAuthenticatedUser(ctx context.Context) (string, error)

	// GetRepositories retrieves all repositories owned by the account
	GetRepositories(ctx context.Context, owner string) ([]*domain.Repository, error)
}
