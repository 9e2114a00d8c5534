package domain

import "time"

// DeploymentRecord is the durable ledger of the last successful promotion
// for an environment. DeployedSHA is empty until the first promotion lands.
type DeploymentRecord struct {
	Environment string     `json:"environment"`
	DeployedSHA string     `json:"deployed_sha"`
	DeployedAt  *time.Time `json:"deployed_at,omitempty"`
}

// PromotionLock exists only while a promotion executes. At most one lock
// row may exist at any time; acquisition is compare-and-set.
type PromotionLock struct {
	HeldBy    string    `json:"held_by"`
	StartedAt time.Time `json:"started_at"`
}

// Age reports how long the lock has been held.
func (l PromotionLock) Age(now time.Time) time.Duration {
	return now.Sub(l.StartedAt)
}

// RemoteStatus is the executor-side snapshot the control plane polls for.
// A failed fetch is encoded in Error, never raised as a Go error, so older
// executors without a status endpoint degrade gracefully.
type RemoteStatus struct {
	InProgress     bool           `json:"in_progress"`
	Lock           *PromotionLock `json:"lock,omitempty"`
	RecentLogLines []string       `json:"recent_log_lines,omitempty"`
	DeployedSHA    string         `json:"deployed_sha"`
	DeployedAt     *time.Time     `json:"deployed_at,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// PromotionIntent is the control plane's ephemeral record of a trigger it
// issued. It is a time-bounded fallback signal, never authoritative.
type PromotionIntent struct {
	RunID         string    `json:"run_id"`
	TriggeredAt   time.Time `json:"triggered_at"`
	PreTriggerSHA string    `json:"pre_trigger_sha"`
}

// Expired reports whether the intent has outlived its TTL.
func (i PromotionIntent) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(i.TriggeredAt) >= ttl
}

// PromoteRequest is the signed payload the gateway posts to the executor.
type PromoteRequest struct {
	RunID       string    `json:"run_id"`
	RequestedBy string    `json:"requested_by"`
	HeadSHA     string    `json:"head_sha"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// AdminStatus is the composed read model served to the dashboard.
type AdminStatus struct {
	Environment         string           `json:"environment"`
	Deployment          DeploymentRecord `json:"deployment"`
	PromoteAvailable    bool             `json:"promote_available"`
	PromotionRunning    bool             `json:"promotion_running"`
	ProgressLabel       string           `json:"progress_label,omitempty"`
	Remote              RemoteStatus     `json:"remote"`
	RecentCommits       []Commit         `json:"recent_commits"`
	CommitCount         int              `json:"commit_count"`
	Pending             PendingCommits   `json:"pending"`
	PendingCount        int              `json:"pending_count"`
	HistoryError        string           `json:"history_error,omitempty"`
	PollIntervalSeconds int              `json:"poll_interval_seconds"`
	GeneratedAt         time.Time        `json:"generated_at"`
}
