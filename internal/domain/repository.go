package domain

import "strings"

// Repository represents a GitHub repository owned by the backed up account
type Repository struct {
	Owner     string
	Name      string
	FullName  string
	CloneURL  string
	IsPrivate bool
	HasWiki   bool
}

// MirrorURL returns the git remote used for the mirror clone
func (r *Repository) MirrorURL(gitBaseURL string) string {
	if r.CloneURL != "" {
		return r.CloneURL
	}
	return strings.TrimSuffix(gitBaseURL, "/") + "/" + r.Owner + "/" + r.Name + ".git"
}

// WikiURL returns the git remote of the repository's wiki
func (r *Repository) WikiURL(gitBaseURL string) string {
	return strings.TrimSuffix(r.MirrorURL(gitBaseURL), ".git") + ".wiki.git"
}
