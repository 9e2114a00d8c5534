package status

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"log/slog"

	"github.com/shipgate/shipgate/internal/domain"
	"github.com/shipgate/shipgate/internal/service/reconcile"
	"github.com/shipgate/shipgate/pkg/config"
)

// ErrPromotionInProgress rejects a second promote while one is running.
// Concurrent promotions are hard-rejected, never queued.
var ErrPromotionInProgress = errors.New("status: promotion already in progress")

// HistorySource provides commit metadata for the staging checkout.
type HistorySource interface {
	Head(ctx context.Context) (string, error)
	ListCommits(ctx context.Context, limit int) ([]domain.Commit, error)
	Pending(ctx context.Context, headSHA, deployedSHA string) (domain.PendingCommits, error)
}

// Trigger fires the remote promotion hook.
type Trigger interface {
	Available() bool
	Trigger(ctx context.Context, requestedBy, headSHA, preDeployedSHA string) (*domain.PromotionIntent, error)
}

// StatusFetcher polls the executor's status snapshot.
type StatusFetcher interface {
	Fetch(ctx context.Context) domain.RemoteStatus
}

// Broadcaster pushes composed snapshots to live subscribers.
type Broadcaster interface {
	Broadcast(channel string, payload []byte)
}

// StatusChannel is the hub channel AdminStatus snapshots are published on.
const StatusChannel = "status"

// Service composes history, remote state and reconciliation into the one
// read model the dashboard consumes, and exposes the promote command.
type Service struct {
	history HistorySource
	gateway Trigger
	poller  StatusFetcher
	machine *reconcile.Machine
	hub     Broadcaster
	logger  *slog.Logger
	cfg     config.ControlConfig

	mu         sync.Mutex
	lastKnown  domain.DeploymentRecord
	lastActive bool
}

// New returns a status service.
func New(history HistorySource, gatewaySvc Trigger, poller StatusFetcher, machine *reconcile.Machine, hub Broadcaster, logger *slog.Logger, cfg config.ControlConfig) *Service {
	if machine == nil {
		machine = reconcile.NewMachine(cfg.IntentTTL)
	}
	return &Service{
		history: history,
		gateway: gatewaySvc,
		poller:  poller,
		machine: machine,
		hub:     hub,
		logger:  logger,
		cfg:     cfg,
		lastKnown: domain.DeploymentRecord{
			Environment: cfg.Environment,
		},
	}
}

// GetStatus composes all sub-sources. Each one is independently timed out
// and a failure in one degrades only its own section of the view.
func (s *Service) GetStatus(ctx context.Context) domain.AdminStatus {
	now := time.Now().UTC()

	pollCtx, cancelPoll := context.WithTimeout(ctx, s.statusTimeout())
	remote := s.poller.Fetch(pollCtx)
	cancelPoll()

	outcome := s.observe(remote, now)
	record := s.recordFromRemote(remote)

	composed := domain.AdminStatus{
		Environment:      s.cfg.Environment,
		Deployment:       record,
		PromoteAvailable: s.gateway.Available(),
		PromotionRunning: outcome.Running,
		Remote:           remote,
		GeneratedAt:      now,
	}
	if outcome.Running {
		composed.ProgressLabel = reconcile.ProgressLabel(remote.RecentLogLines)
	}

	histCtx, cancelHist := context.WithTimeout(ctx, s.historyTimeout())
	defer cancelHist()

	commits, err := s.history.ListCommits(histCtx, s.cfg.CommitLimit)
	if err != nil {
		// The rest of the view still renders; the commit panel degrades.
		s.logger.Warn("commit history unavailable", "error", err)
		composed.HistoryError = err.Error()
	} else {
		composed.RecentCommits = commits
		composed.CommitCount = len(commits)
		if head, err := s.history.Head(histCtx); err == nil {
			pending, err := s.history.Pending(histCtx, head, record.DeployedSHA)
			if err != nil {
				s.logger.Warn("pending commit diff failed", "error", err)
				composed.HistoryError = err.Error()
			} else {
				composed.Pending = pending
				composed.PendingCount = len(pending.Commits)
			}
		}
	}

	composed.PollIntervalSeconds = s.pollIntervalSeconds(outcome.Running)

	s.mu.Lock()
	s.lastActive = outcome.Running
	s.mu.Unlock()
	return composed
}

// Promote delegates to the gateway. Only an acknowledged trigger seeds the
// local intent; the call returns on acceptance, not completion.
func (s *Service) Promote(ctx context.Context, actor string) (*domain.PromotionIntent, error) {
	if s.running(ctx) {
		return nil, ErrPromotionInProgress
	}

	head := ""
	histCtx, cancelHist := context.WithTimeout(ctx, s.historyTimeout())
	if sha, err := s.history.Head(histCtx); err == nil {
		head = sha
	}
	cancelHist()

	s.mu.Lock()
	preDeployed := s.lastKnown.DeployedSHA
	s.mu.Unlock()

	intent, err := s.gateway.Trigger(ctx, actor, head, preDeployed)
	if err != nil {
		return nil, err
	}
	s.machine.Trigger(*intent)
	s.mu.Lock()
	s.lastActive = true
	s.mu.Unlock()
	s.logger.Info("promotion accepted", "run_id", intent.RunID, "actor", actor, "head_sha", head)
	return intent, nil
}

// Run polls on the adaptive cadence and publishes snapshots to the hub
// until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	timer := time.NewTimer(s.interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			snapshot := s.GetStatus(ctx)
			s.publish(snapshot)
			timer.Reset(s.interval())
		}
	}
}

func (s *Service) publish(snapshot domain.AdminStatus) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Warn("status snapshot not encodable", "error", err)
		return
	}
	s.hub.Broadcast(StatusChannel, payload)
}

// observe folds one remote snapshot into the machine. Every observation goes
// through here so a completion consumed by the machine is logged exactly
// once, no matter which caller saw it.
func (s *Service) observe(remote domain.RemoteStatus, now time.Time) reconcile.Outcome {
	outcome := s.machine.Observe(remote, now)
	if outcome.Completed {
		s.logger.Info("promotion complete", "deployed_sha", outcome.CompletedSHA)
	}
	if outcome.Expired {
		s.logger.Warn("promotion intent expired without confirmation", "ttl", s.cfg.IntentTTL.String())
	}
	return outcome
}

// running consults a fresh remote snapshot so a promotion started elsewhere
// is rejected too, then falls back to the reconciled local view.
func (s *Service) running(ctx context.Context) bool {
	pollCtx, cancel := context.WithTimeout(ctx, s.statusTimeout())
	defer cancel()
	remote := s.poller.Fetch(pollCtx)
	outcome := s.observe(remote, time.Now().UTC())
	s.recordFromRemote(remote)
	return outcome.Running
}

func (s *Service) recordFromRemote(remote domain.RemoteStatus) domain.DeploymentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if remote.Error == "" && remote.DeployedSHA != "" {
		s.lastKnown.DeployedSHA = remote.DeployedSHA
		s.lastKnown.DeployedAt = remote.DeployedAt
	}
	return s.lastKnown
}

func (s *Service) interval() time.Duration {
	s.mu.Lock()
	active := s.lastActive
	s.mu.Unlock()
	if active {
		return s.activeInterval()
	}
	return s.idleInterval()
}

func (s *Service) pollIntervalSeconds(running bool) int {
	if running {
		return int(s.activeInterval() / time.Second)
	}
	return int(s.idleInterval() / time.Second)
}

func (s *Service) activeInterval() time.Duration {
	if s.cfg.PollIntervalActive > 0 {
		return s.cfg.PollIntervalActive
	}
	return 3 * time.Second
}

func (s *Service) idleInterval() time.Duration {
	if s.cfg.PollIntervalIdle > 0 {
		return s.cfg.PollIntervalIdle
	}
	return 10 * time.Second
}

func (s *Service) statusTimeout() time.Duration {
	if s.cfg.StatusTimeout > 0 {
		return s.cfg.StatusTimeout
	}
	return 5 * time.Second
}

func (s *Service) historyTimeout() time.Duration {
	if s.cfg.HistoryTimeout > 0 {
		return s.cfg.HistoryTimeout
	}
	return 5 * time.Second
}
