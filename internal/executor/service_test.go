package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shipgate/shipgate/internal/domain"
	"github.com/shipgate/shipgate/internal/repository"
	"github.com/shipgate/shipgate/pkg/config"
)

// memoryStore backs all three repositories for tests. AcquireLock implements
// the same compare-and-set contract as the Postgres row: of N concurrent
// acquisitions exactly one wins.
type memoryStore struct {
	mu        sync.Mutex
	lock      *domain.PromotionLock
	record    *domain.DeploymentRecord
	lines     []string
	upsertErr error
}

func (m *memoryStore) AcquireLock(ctx context.Context, actor string, maxAge time.Duration) (*domain.PromotionLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lock != nil && time.Since(m.lock.StartedAt) >= maxAge {
		m.lock = nil
	}
	if m.lock != nil {
		return nil, &repository.LockHeldError{HeldBy: m.lock.HeldBy, StartedAt: m.lock.StartedAt}
	}
	m.lock = &domain.PromotionLock{HeldBy: actor, StartedAt: time.Now().UTC()}
	held := *m.lock
	return &held, nil
}

func (m *memoryStore) ReleaseLock(ctx context.Context, heldBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lock != nil && m.lock.HeldBy == heldBy {
		m.lock = nil
	}
	return nil
}

func (m *memoryStore) GetLock(ctx context.Context, maxAge time.Duration) (*domain.PromotionLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lock == nil || time.Since(m.lock.StartedAt) >= maxAge {
		return nil, repository.ErrNotFound
	}
	held := *m.lock
	return &held, nil
}

func (m *memoryStore) GetDeploymentRecord(ctx context.Context, environment string) (*domain.DeploymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return nil, repository.ErrNotFound
	}
	record := *m.record
	return &record, nil
}

func (m *memoryStore) UpsertDeploymentRecord(ctx context.Context, record domain.DeploymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.record = &record
	return nil
}

func (m *memoryStore) AppendRunLog(ctx context.Context, runID, line string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, line)
	return nil
}

func (m *memoryStore) ListRecentRunLogs(ctx context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit >= len(m.lines) {
		return append([]string(nil), m.lines...), nil
	}
	return append([]string(nil), m.lines[len(m.lines)-limit:]...), nil
}

func (m *memoryStore) PruneRunLogs(ctx context.Context, keep int) error { return nil }

func (m *memoryStore) holder() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lock == nil {
		return ""
	}
	return m.lock.HeldBy
}

func (m *memoryStore) deployedSHA() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return ""
	}
	return m.record.DeployedSHA
}

type fakeRunner struct {
	lines []string
	err   error
	done  chan struct{}
}

func (r *fakeRunner) Run(ctx context.Context, emit func(line string)) error {
	for _, line := range r.lines {
		emit(line)
	}
	if r.done != nil {
		defer close(r.done)
	}
	return r.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testConfig() config.ExecutorConfig {
	return config.ExecutorConfig{
		Environment:    "production",
		RunTimeout:     5 * time.Second,
		LockMaxAge:     30 * time.Minute,
		LogRetention:   500,
		RecentLogLines: 50,
	}
}

func newTestService(store *memoryStore, runner Runner) *Service {
	return New(store, store, store, runner, testLogger(), testConfig())
}

func waitForRelease(t *testing.T, store *memoryStore) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for store.holder() != "" {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for lock release")
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestAcceptRunsAndUpdatesLedger(t *testing.T) {
	store := &memoryStore{}
	runner := &fakeRunner{lines: []string{"installing dependencies", "restarting service"}}
	svc := newTestService(store, runner)

	results := make(chan string, 1)
	svc.SetResultHook(func(outcome string) { results <- outcome })

	req := domain.PromoteRequest{RunID: "run-1", RequestedBy: "alice", HeadSHA: "newsha", TriggeredAt: time.Now().UTC()}
	if err := svc.Accept(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case outcome := <-results:
		if outcome != "success" {
			t.Fatalf("expected success outcome, got %q", outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for run to finish")
	}
	waitForRelease(t, store)

	if store.deployedSHA() != "newsha" {
		t.Fatalf("expected ledger updated to newsha, got %q", store.deployedSHA())
	}
	lines, _ := store.ListRecentRunLogs(context.Background(), 0)
	if len(lines) == 0 || lines[len(lines)-1] != "promotion completed" {
		t.Fatalf("expected completion line last, got %v", lines)
	}
}

func TestFailedRunLeavesLedgerUntouched(t *testing.T) {
	store := &memoryStore{record: &domain.DeploymentRecord{Environment: "production", DeployedSHA: "oldsha"}}
	runner := &fakeRunner{lines: []string{"building image"}, err: errors.New("exit status 1")}
	svc := newTestService(store, runner)

	results := make(chan string, 1)
	svc.SetResultHook(func(outcome string) { results <- outcome })

	req := domain.PromoteRequest{RunID: "run-2", RequestedBy: "alice", HeadSHA: "newsha", TriggeredAt: time.Now().UTC()}
	if err := svc.Accept(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case outcome := <-results:
		if outcome != "failure" {
			t.Fatalf("expected failure outcome, got %q", outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for run to finish")
	}
	waitForRelease(t, store)

	if store.deployedSHA() != "oldsha" {
		t.Fatalf("failed run must not move the ledger, got %q", store.deployedSHA())
	}
}

func TestLedgerUpsertFailureIsRunFailure(t *testing.T) {
	store := &memoryStore{upsertErr: errors.New("connection reset")}
	runner := &fakeRunner{}
	svc := newTestService(store, runner)

	results := make(chan string, 1)
	svc.SetResultHook(func(outcome string) { results <- outcome })

	req := domain.PromoteRequest{RunID: "run-3", HeadSHA: "newsha", TriggeredAt: time.Now().UTC()}
	if err := svc.Accept(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case outcome := <-results:
		if outcome != "failure" {
			t.Fatalf("expected failure outcome, got %q", outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for run to finish")
	}
	waitForRelease(t, store)
}

func TestAcceptRequiresHeadSHA(t *testing.T) {
	svc := newTestService(&memoryStore{}, &fakeRunner{})
	err := svc.Accept(context.Background(), domain.PromoteRequest{RunID: "run-4", TriggeredAt: time.Now().UTC()})
	if !errors.Is(err, ErrHeadSHARequired) {
		t.Fatalf("expected ErrHeadSHARequired, got %v", err)
	}
}

func TestAcceptRejectsStaleTrigger(t *testing.T) {
	store := &memoryStore{}
	svc := newTestService(store, &fakeRunner{})

	cases := []struct {
		name        string
		triggeredAt time.Time
	}{
		{"day old", time.Now().UTC().Add(-24 * time.Hour)},
		{"just past the window", time.Now().UTC().Add(-6 * time.Minute)},
		{"far future", time.Now().UTC().Add(6 * time.Minute)},
		{"zero timestamp", time.Time{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Accept(context.Background(), domain.PromoteRequest{
				RunID:       "run-replay",
				HeadSHA:     "newsha",
				TriggeredAt: tc.triggeredAt,
			})
			if !errors.Is(err, ErrStaleTrigger) {
				t.Fatalf("expected ErrStaleTrigger, got %v", err)
			}
		})
	}
	if store.holder() != "" {
		t.Fatal("a rejected trigger must not take the lock")
	}
}

func TestReleaseLockTwiceIsNoOp(t *testing.T) {
	store := &memoryStore{}
	lock, err := store.AcquireLock(context.Background(), "run:run-5", 30*time.Minute)
	if err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}
	if err := store.ReleaseLock(context.Background(), lock.HeldBy); err != nil {
		t.Fatalf("first release failed: %v", err)
	}
	if err := store.ReleaseLock(context.Background(), lock.HeldBy); err != nil {
		t.Fatalf("second release must be a no-op, got %v", err)
	}
	if _, err := store.AcquireLock(context.Background(), "run:run-6", 30*time.Minute); err != nil {
		t.Fatalf("lock must be acquirable after release, got %v", err)
	}
}

func TestConcurrentAcceptsExactlyOneWins(t *testing.T) {
	store := &memoryStore{}
	// Block the winning run so the lock stays held while the rest race.
	release := make(chan struct{})
	blocking := runnerFunc(func(ctx context.Context, emit func(string)) error {
		<-release
		return nil
	})
	svc := newTestService(store, blocking)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.Accept(context.Background(), domain.PromoteRequest{
				RunID:       "run-" + string(rune('a'+i)),
				HeadSHA:     "newsha",
				TriggeredAt: time.Now().UTC(),
			})
		}(i)
	}
	wg.Wait()

	won, held := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case repository.IsLockHeld(err):
			held++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || held != n-1 {
		t.Fatalf("expected exactly one winner, got %d winners and %d held", won, held)
	}
	close(release)
	waitForRelease(t, store)
}

func TestStatusReflectsLockAndLedger(t *testing.T) {
	now := time.Now().UTC()
	store := &memoryStore{
		lock:   &domain.PromotionLock{HeldBy: "run:run-9", StartedAt: now},
		record: &domain.DeploymentRecord{Environment: "production", DeployedSHA: "oldsha", DeployedAt: &now},
		lines:  []string{"building image", "restarting service"},
	}
	svc := newTestService(store, &fakeRunner{})

	snapshot, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snapshot.InProgress || snapshot.Lock == nil {
		t.Fatalf("expected in-progress snapshot, got %+v", snapshot)
	}
	if snapshot.DeployedSHA != "oldsha" {
		t.Fatalf("expected ledger mirrored, got %q", snapshot.DeployedSHA)
	}
	if len(snapshot.RecentLogLines) != 2 {
		t.Fatalf("expected two log lines, got %d", len(snapshot.RecentLogLines))
	}
}

func TestStatusIgnoresStaleLock(t *testing.T) {
	stale := time.Now().UTC().Add(-time.Hour)
	store := &memoryStore{lock: &domain.PromotionLock{HeldBy: "run:crashed", StartedAt: stale}}
	svc := newTestService(store, &fakeRunner{})

	snapshot, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.InProgress {
		t.Fatal("a lock past its max age must not report an active promotion")
	}
}

// runnerFunc adapts a function to the Runner interface.
type runnerFunc func(ctx context.Context, emit func(line string)) error

func (f runnerFunc) Run(ctx context.Context, emit func(line string)) error { return f(ctx, emit) }
