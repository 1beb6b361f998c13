package domain

import "path/filepath"

// Category represents one kind of data backed up per repository
type Category string

const (
	CategoryMirror   Category = "mirror"
	CategoryIssues   Category = "issues"
	CategoryPulls    Category = "pulls"
	CategoryWiki     Category = "wiki"
	CategoryReleases Category = "releases"
	CategoryMetadata Category = "metadata"
	CategoryProjects Category = "projects"
)

// Categories holds the independently togglable download flags.
// The mirror clone is not a flag: it always runs.
type Categories struct {
	Issues   bool
	Pulls    bool
	Wiki     bool
	Releases bool
	Metadata bool
	Projects bool
}

// Enabled returns the enabled categories in a fixed order
func (c Categories) Enabled() []Category {
	var out []Category
	if c.Issues {
		out = append(out, CategoryIssues)
	}
	if c.Pulls {
		out = append(out, CategoryPulls)
	}
	if c.Wiki {
		out = append(out, CategoryWiki)
	}
	if c.Releases {
		out = append(out, CategoryReleases)
	}
	if c.Metadata {
		out = append(out, CategoryMetadata)
	}
	if c.Projects {
		out = append(out, CategoryProjects)
	}
	return out
}

// Any reports whether at least one category flag is set
func (c Categories) Any() bool {
	return len(c.Enabled()) > 0
}

// RelativePath returns where a category is written, relative to the output root
func (c Category) RelativePath(repo string) string {
	switch c {
	case CategoryMirror:
		return repo
	case CategoryWiki:
		return filepath.Join(repo, "wiki")
	case CategoryIssues:
		return filepath.Join(repo, "issues.json")
	case CategoryPulls:
		return filepath.Join(repo, "pull_requests.json")
	case CategoryReleases:
		return filepath.Join(repo, "releases")
	case CategoryMetadata:
		return filepath.Join(repo, "metadata.json")
	case CategoryProjects:
		return filepath.Join(repo, "projects.json")
	}
	return filepath.Join(repo, string(c))
}
