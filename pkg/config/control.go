package config

import "time"

// ControlConfig holds runtime configuration for the control plane service.
type ControlConfig struct {
	Environment        string
	Addr               string
	RepoPath           string
	CommitLimit        int
	ExecutorURL        string
	WebhookSecret      string
	TriggerTimeout     time.Duration
	StatusTimeout      time.Duration
	HistoryTimeout     time.Duration
	IntentTTL          time.Duration
	PollIntervalActive time.Duration
	PollIntervalIdle   time.Duration
	RecentLogLines     int
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadControlConfig constructs a ControlConfig from environment variables.
func LoadControlConfig() ControlConfig {
	return ControlConfig{
		Environment:        GetString("APP_ENV", "staging"),
		Addr:               GetString("CONTROL_ADDR", ":4000"),
		RepoPath:           GetString("REPO_PATH", "."),
		CommitLimit:        GetInt("COMMIT_LIMIT", 200),
		ExecutorURL:        GetString("EXECUTOR_URL", ""),
		WebhookSecret:      GetString("PROMOTE_WEBHOOK_SECRET", ""),
		TriggerTimeout:     GetSeconds("TRIGGER_TIMEOUT_SECONDS", 15*time.Second),
		StatusTimeout:      GetSeconds("STATUS_TIMEOUT_SECONDS", 5*time.Second),
		HistoryTimeout:     GetSeconds("HISTORY_TIMEOUT_SECONDS", 5*time.Second),
		IntentTTL:          GetSeconds("PROMOTE_INTENT_TTL_SECONDS", 120*time.Second),
		PollIntervalActive: GetSeconds("POLL_ACTIVE_SECONDS", 3*time.Second),
		PollIntervalIdle:   GetSeconds("POLL_IDLE_SECONDS", 10*time.Second),
		RecentLogLines:     GetInt("RECENT_LOG_LINES", 50),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
