package domain

// Commit is a single version-control commit, newest-first in listings.
type Commit struct {
	SHA      string `json:"sha"`
	ShortSHA string `json:"short_sha"`
	Author   string `json:"author"`
	Subject  string `json:"subject"`
	Date     string `json:"date"`
}

// PendingCommits holds commits reachable from head but not yet deployed.
type PendingCommits struct {
	Commits []Commit `json:"commits"`
	// UnknownBaseline is set when no deployed SHA exists yet; the list is a
	// capped best-effort view, not a true diff.
	UnknownBaseline bool `json:"unknown_baseline"`
	// Diverged is set when the walk exhausted ancestry without finding the
	// deployed SHA. A truncated walk leaves it unset; the cap cannot prove
	// divergence.
	Diverged bool `json:"diverged"`
	// Truncated is set when the walk stopped at the cap before reaching the
	// deployed SHA.
	Truncated bool `json:"truncated"`
}
