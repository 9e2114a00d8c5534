package history

import (
	"fmt"
	"testing"

	"github.com/shipgate/shipgate/internal/domain"
)

// fakeSource is an in-memory commit DAG keyed by SHA.
type fakeSource map[string][]string

func (f fakeSource) Lookup(sha string) (domain.Commit, []string, error) {
	parents, ok := f[sha]
	if !ok {
		return domain.Commit{}, nil, fmt.Errorf("unknown commit %s", sha)
	}
	return domain.Commit{SHA: sha, ShortSHA: sha}, parents, nil
}

// linear ancestry: abc123 <- bbb111 <- aaa000 <- root
var linear = fakeSource{
	"abc123": {"bbb111"},
	"bbb111": {"aaa000"},
	"aaa000": {"root00"},
	"root00": nil,
}

func shas(commits []domain.Commit) []string {
	out := make([]string, 0, len(commits))
	for _, c := range commits {
		out = append(out, c.SHA)
	}
	return out
}

func TestWalkPendingStopsExclusiveOfDeployed(t *testing.T) {
	result, err := walkPending(linear, "abc123", "aaa000", 200)
	if err != nil {
		t.Fatalf("walkPending returned error: %v", err)
	}
	got := shas(result.Commits)
	want := []string{"abc123", "bbb111"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if result.Diverged || result.UnknownBaseline || result.Truncated {
		t.Fatalf("expected clean diff, got flags %+v", result)
	}
}

func TestWalkPendingSameSHAIsEmpty(t *testing.T) {
	result, err := walkPending(linear, "abc123", "abc123", 200)
	if err != nil {
		t.Fatalf("walkPending returned error: %v", err)
	}
	if len(result.Commits) != 0 {
		t.Fatalf("expected empty diff, got %v", shas(result.Commits))
	}
	if result.Diverged || result.UnknownBaseline {
		t.Fatalf("expected no flags, got %+v", result)
	}
}

func TestWalkPendingUnknownBaselineIsCappedAndFlagged(t *testing.T) {
	result, err := walkPending(linear, "abc123", "", 2)
	if err != nil {
		t.Fatalf("walkPending returned error: %v", err)
	}
	if !result.UnknownBaseline {
		t.Fatal("expected unknown baseline flag")
	}
	if len(result.Commits) != 2 {
		t.Fatalf("expected capped list of 2, got %d", len(result.Commits))
	}
	if !result.Truncated {
		t.Fatal("expected truncated flag when cap stops the walk")
	}
}

func TestWalkPendingDivergedHistory(t *testing.T) {
	result, err := walkPending(linear, "abc123", "fff999", 200)
	if err != nil {
		t.Fatalf("walkPending returned error: %v", err)
	}
	if !result.Diverged {
		t.Fatal("expected diverged flag when deployed SHA is not an ancestor")
	}
	if len(result.Commits) != 4 {
		t.Fatalf("expected full walked list, got %d commits", len(result.Commits))
	}
}

func TestWalkPendingTruncatedWalkIsNotDiverged(t *testing.T) {
	// The deployed SHA is a real ancestor, just deeper than the cap; the
	// result is truncated but must not claim the histories diverged.
	result, err := walkPending(linear, "abc123", "root00", 2)
	if err != nil {
		t.Fatalf("walkPending returned error: %v", err)
	}
	if !result.Truncated {
		t.Fatal("expected truncated flag when cap stops the walk")
	}
	if result.Diverged {
		t.Fatal("a capped walk cannot prove divergence")
	}
	if len(result.Commits) != 2 {
		t.Fatalf("expected capped list of 2, got %d", len(result.Commits))
	}
}

func TestWalkPendingTraversesMergeParents(t *testing.T) {
	merged := fakeSource{
		"merge1": {"feat01", "main01"},
		"feat01": {"base00"},
		"main01": {"base00"},
		"base00": nil,
	}
	result, err := walkPending(merged, "merge1", "base00", 200)
	if err != nil {
		t.Fatalf("walkPending returned error: %v", err)
	}
	if len(result.Commits) != 3 {
		t.Fatalf("expected merge, feature and mainline commits, got %v", shas(result.Commits))
	}
	if result.Diverged {
		t.Fatal("base is an ancestor, diff must not be flagged diverged")
	}
}

func TestWalkPendingIsDeterministic(t *testing.T) {
	first, err := walkPending(linear, "abc123", "root00", 200)
	if err != nil {
		t.Fatalf("walkPending returned error: %v", err)
	}
	second, err := walkPending(linear, "abc123", "root00", 200)
	if err != nil {
		t.Fatalf("walkPending returned error: %v", err)
	}
	a, b := shas(first.Commits), shas(second.Commits)
	if len(a) != len(b) {
		t.Fatalf("runs disagree: %v vs %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("runs disagree: %v vs %v", a, b)
		}
	}
}
