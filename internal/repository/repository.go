package repository

import (
	"context"
	"time"

	"github.com/shipgate/shipgate/internal/domain"
)

// LedgerRepository persists the last-deployed record per environment.
type LedgerRepository interface {
	GetDeploymentRecord(ctx context.Context, environment string) (*domain.DeploymentRecord, error)
	UpsertDeploymentRecord(ctx context.Context, record domain.DeploymentRecord) error
}

// LockRepository guards the single promotion lock. Acquire must be atomic
// under concurrent calls: of N simultaneous acquisitions exactly one wins,
// the rest receive a LockHeldError. A lock older than maxAge is treated as
// abandoned and cleared.
type LockRepository interface {
	AcquireLock(ctx context.Context, actor string, maxAge time.Duration) (*domain.PromotionLock, error)
	ReleaseLock(ctx context.Context, heldBy string) error
	GetLock(ctx context.Context, maxAge time.Duration) (*domain.PromotionLock, error)
}

// RunLogRepository stores promotion run output, bounded to a retention cap.
type RunLogRepository interface {
	AppendRunLog(ctx context.Context, runID, line string, at time.Time) error
	ListRecentRunLogs(ctx context.Context, limit int) ([]string, error)
	PruneRunLogs(ctx context.Context, keep int) error
}
