package history

import "github.com/shipgate/shipgate/internal/domain"

// commitSource resolves a SHA to commit metadata plus parent SHAs. The git
// adapter implements it; tests substitute a fake DAG.
type commitSource interface {
	Lookup(sha string) (domain.Commit, []string, error)
}

// walkPending walks ancestry from headSHA newest-first, stopping exclusive
// of deployedSHA. Merge commits contribute every parent, so all paths are
// covered. The result is deterministic for a fixed repository state.
//
// With an empty deployedSHA (no promotion has ever completed) the walk is
// capped and flagged UnknownBaseline rather than treating all history as
// pending. When deployedSHA is never reached the list is flagged Diverged.
func walkPending(src commitSource, headSHA, deployedSHA string, limit int) (domain.PendingCommits, error) {
	var result domain.PendingCommits
	if headSHA == "" {
		return result, nil
	}
	if headSHA == deployedSHA {
		result.Commits = []domain.Commit{}
		return result, nil
	}

	if limit <= 0 {
		limit = defaultCommitLimit
	}

	seen := map[string]bool{}
	queue := []string{headSHA}
	reachedDeployed := false

	for len(queue) > 0 && len(result.Commits) < limit {
		sha := queue[0]
		queue = queue[1:]
		if seen[sha] {
			continue
		}
		seen[sha] = true
		if sha == deployedSHA {
			reachedDeployed = true
			continue
		}
		commit, parents, err := src.Lookup(sha)
		if err != nil {
			return domain.PendingCommits{}, err
		}
		result.Commits = append(result.Commits, commit)
		for _, parent := range parents {
			if !seen[parent] {
				if parent == deployedSHA {
					reachedDeployed = true
					seen[parent] = true
					continue
				}
				queue = append(queue, parent)
			}
		}
	}

	if len(queue) > 0 && len(result.Commits) >= limit {
		result.Truncated = true
	}
	switch {
	case deployedSHA == "":
		result.UnknownBaseline = true
	case !reachedDeployed && !result.Truncated:
		// A truncated walk cannot tell a deep linear history from a true
		// divergence, so the flag stays unset.
		result.Diverged = true
	}
	return result, nil
}
