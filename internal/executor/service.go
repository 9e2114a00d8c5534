package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/shipgate/shipgate/internal/domain"
	"github.com/shipgate/shipgate/internal/repository"
	"github.com/shipgate/shipgate/pkg/config"
)

// ErrHeadSHARequired rejects trigger payloads without a commit to promote.
var ErrHeadSHARequired = errors.New("executor: head_sha required")

// ErrStaleTrigger rejects trigger payloads whose timestamp falls outside the
// freshness window. A signed payload is only usable near the time it was
// issued; an old capture cannot be replayed to re-run a promotion.
var ErrStaleTrigger = errors.New("executor: trigger timestamp outside freshness window")

// Runner executes the promotion job, emitting output lines as they appear.
type Runner interface {
	Run(ctx context.Context, emit func(line string)) error
}

// Service owns the promotion lock, the deployment ledger and the run log.
// Accept returns on lock acquisition; the job itself runs in the background
// and cannot be cancelled once started. A crashed run leaves the lock row
// behind, where the max-age ceiling recovers it on the next read.
type Service struct {
	ledger repository.LedgerRepository
	locks  repository.LockRepository
	logs   repository.RunLogRepository
	runner Runner
	logger *slog.Logger
	cfg    config.ExecutorConfig

	onResult func(outcome string)
}

// New returns an executor service.
func New(ledger repository.LedgerRepository, locks repository.LockRepository, logs repository.RunLogRepository, runner Runner, logger *slog.Logger, cfg config.ExecutorConfig) *Service {
	return &Service{
		ledger: ledger,
		locks:  locks,
		logs:   logs,
		runner: runner,
		logger: logger,
		cfg:    cfg,
	}
}

// SetResultHook registers a callback invoked with "success" or "failure"
// when a run finishes. Used for metrics.
func (s *Service) SetResultHook(fn func(outcome string)) {
	s.onResult = fn
}

// Accept validates a trigger and its freshness, takes the lock and starts
// the run. It returns
// once the promotion is accepted, not when it completes. A held lock
// surfaces as repository.LockHeldError.
func (s *Service) Accept(ctx context.Context, req domain.PromoteRequest) error {
	if strings.TrimSpace(req.HeadSHA) == "" {
		return ErrHeadSHARequired
	}
	if age := time.Since(req.TriggeredAt); req.TriggeredAt.IsZero() || age > s.triggerMaxAge() || age < -s.triggerMaxAge() {
		return ErrStaleTrigger
	}
	holder := "run:" + req.RunID
	lock, err := s.locks.AcquireLock(ctx, holder, s.cfg.LockMaxAge)
	if err != nil {
		return err
	}
	s.logger.Info("promotion accepted", "run_id", req.RunID, "head_sha", req.HeadSHA, "requested_by", req.RequestedBy)

	// The run outlives the trigger request and is never cancelled from the
	// control plane; the only safety valves are the run timeout and the
	// lock max-age ceiling.
	go s.run(req, *lock)
	return nil
}

func (s *Service) run(req domain.PromoteRequest, lock domain.PromotionLock) {
	runCtx, cancel := context.WithTimeout(context.Background(), s.runTimeout())
	defer cancel()

	s.appendLine(runCtx, req.RunID, fmt.Sprintf("promotion %s started for %s", req.RunID, req.HeadSHA))

	err := s.runner.Run(runCtx, func(line string) {
		s.appendLine(runCtx, req.RunID, line)
	})

	// Releasing and pruning should not be bound by a dead run context.
	finishCtx, cancelFinish := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFinish()

	if err != nil {
		s.appendLine(finishCtx, req.RunID, "promotion failed: "+err.Error())
		s.logger.Error("promotion run failed", "run_id", req.RunID, "error", err)
		s.finish(finishCtx, lock, "failure")
		return
	}

	record := domain.DeploymentRecord{
		Environment: s.cfg.Environment,
		DeployedSHA: req.HeadSHA,
		DeployedAt:  timePtr(time.Now().UTC()),
	}
	if err := s.ledger.UpsertDeploymentRecord(finishCtx, record); err != nil {
		// Lock goes away regardless; the ledger keeps its old SHA, so the
		// control plane will not see a completion.
		s.appendLine(finishCtx, req.RunID, "promotion failed: ledger update: "+err.Error())
		s.logger.Error("ledger update failed", "run_id", req.RunID, "error", err)
		s.finish(finishCtx, lock, "failure")
		return
	}

	s.appendLine(finishCtx, req.RunID, "promotion completed")
	s.logger.Info("promotion completed", "run_id", req.RunID, "deployed_sha", req.HeadSHA)
	s.finish(finishCtx, lock, "success")
}

func (s *Service) finish(ctx context.Context, lock domain.PromotionLock, outcome string) {
	if err := s.locks.ReleaseLock(ctx, lock.HeldBy); err != nil {
		s.logger.Error("lock release failed", "held_by", lock.HeldBy, "error", err)
	}
	if err := s.logs.PruneRunLogs(ctx, s.cfg.LogRetention); err != nil {
		s.logger.Warn("run log prune failed", "error", err)
	}
	if s.onResult != nil {
		s.onResult(outcome)
	}
}

func (s *Service) appendLine(ctx context.Context, runID, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	if err := s.logs.AppendRunLog(ctx, runID, line, time.Now().UTC()); err != nil {
		s.logger.Warn("run log append failed", "run_id", runID, "error", err)
	}
}

// Status assembles the snapshot the control plane polls for.
func (s *Service) Status(ctx context.Context) (domain.RemoteStatus, error) {
	var snapshot domain.RemoteStatus

	lock, err := s.locks.GetLock(ctx, s.cfg.LockMaxAge)
	switch {
	case err == nil:
		snapshot.Lock = lock
		snapshot.InProgress = true
	case errors.Is(err, repository.ErrNotFound):
		// no active run
	default:
		return domain.RemoteStatus{}, fmt.Errorf("read lock: %w", err)
	}

	record, err := s.ledger.GetDeploymentRecord(ctx, s.cfg.Environment)
	switch {
	case err == nil:
		snapshot.DeployedSHA = record.DeployedSHA
		snapshot.DeployedAt = record.DeployedAt
	case errors.Is(err, repository.ErrNotFound):
		// nothing promoted yet
	default:
		return domain.RemoteStatus{}, fmt.Errorf("read ledger: %w", err)
	}

	lines, err := s.logs.ListRecentRunLogs(ctx, s.cfg.RecentLogLines)
	if err != nil {
		return domain.RemoteStatus{}, fmt.Errorf("read run logs: %w", err)
	}
	snapshot.RecentLogLines = lines
	return snapshot, nil
}

func (s *Service) runTimeout() time.Duration {
	if s.cfg.RunTimeout > 0 {
		return s.cfg.RunTimeout
	}
	return 15 * time.Minute
}

func (s *Service) triggerMaxAge() time.Duration {
	if s.cfg.TriggerMaxAge > 0 {
		return s.cfg.TriggerMaxAge
	}
	return 5 * time.Minute
}

func timePtr(t time.Time) *time.Time {
	return &t
}
