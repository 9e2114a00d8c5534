package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/shipgate/shipgate/internal/domain"
)

// ErrVCSUnavailable signals the commit history could not be read. Callers
// degrade the status view instead of failing it.
var ErrVCSUnavailable = errors.New("history: version control unavailable")

const defaultCommitLimit = 200

// Service reads commit metadata for the current branch of a local checkout.
type Service struct {
	repo   *git.Repository
	limit  int
	logger *slog.Logger
}

// New opens the repository at path. limit caps every listing and walk.
func New(path string, limit int, logger *slog.Logger) (*Service, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrVCSUnavailable, path, err)
	}
	if limit <= 0 {
		limit = defaultCommitLimit
	}
	return &Service{repo: repo, limit: limit, logger: logger}, nil
}

// Head returns the SHA of the current branch head.
func (s *Service) Head(ctx context.Context) (string, error) {
	ref, err := s.repo.Head()
	if err != nil {
		return "", fmt.Errorf("%w: resolve head: %v", ErrVCSUnavailable, err)
	}
	return ref.Hash().String(), nil
}

// ListCommits returns up to limit commits, newest first.
func (s *Service) ListCommits(ctx context.Context, limit int) ([]domain.Commit, error) {
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}
	ref, err := s.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("%w: resolve head: %v", ErrVCSUnavailable, err)
	}
	iter, err := s.repo.Log(&git.LogOptions{From: ref.Hash(), Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, fmt.Errorf("%w: read log: %v", ErrVCSUnavailable, err)
	}
	defer iter.Close()

	commits := make([]domain.Commit, 0, limit)
	err = iter.ForEach(func(c *object.Commit) error {
		commits = append(commits, toDomain(c))
		if len(commits) >= limit {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: iterate log: %v", ErrVCSUnavailable, err)
	}
	return commits, nil
}

// Pending computes commits reachable from headSHA but not yet deployed.
func (s *Service) Pending(ctx context.Context, headSHA, deployedSHA string) (domain.PendingCommits, error) {
	return walkPending(gitSource{repo: s.repo}, headSHA, deployedSHA, s.limit)
}

type gitSource struct {
	repo *git.Repository
}

func (g gitSource) Lookup(sha string) (domain.Commit, []string, error) {
	commit, err := g.repo.CommitObject(plumbing.NewHash(sha))
	if err != nil {
		return domain.Commit{}, nil, fmt.Errorf("%w: lookup %s: %v", ErrVCSUnavailable, sha, err)
	}
	parents := make([]string, 0, len(commit.ParentHashes))
	for _, h := range commit.ParentHashes {
		parents = append(parents, h.String())
	}
	return toDomain(commit), parents, nil
}

func toDomain(c *object.Commit) domain.Commit {
	sha := c.Hash.String()
	short := sha
	if len(short) > 7 {
		short = short[:7]
	}
	subject := strings.SplitN(c.Message, "\n", 2)[0]
	return domain.Commit{
		SHA:      sha,
		ShortSHA: short,
		Author:   c.Author.Name,
		Subject:  strings.TrimSpace(subject),
		Date:     c.Author.When.UTC().Format(time.RFC3339),
	}
}
