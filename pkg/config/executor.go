package config

import "time"

// ExecutorConfig holds runtime configuration for the executor service.
type ExecutorConfig struct {
	Environment    string
	Addr           string
	DatabaseURL    string
	MigrationsDir  string
	WebhookSecret  string
	PromoteCommand string
	Workdir        string
	RunTimeout     time.Duration
	LockMaxAge     time.Duration
	TriggerMaxAge  time.Duration
	LogRetention   int
	RecentLogLines int
}

// LoadExecutorConfig constructs an ExecutorConfig from environment variables.
func LoadExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Environment:    GetString("APP_ENV", "production"),
		Addr:           GetString("EXECUTOR_ADDR", ":5000"),
		DatabaseURL:    GetString("DATABASE_URL", "postgres://shipgate:shipgate@db:5432/shipgate?sslmode=disable"),
		MigrationsDir:  GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		WebhookSecret:  GetString("PROMOTE_WEBHOOK_SECRET", ""),
		PromoteCommand: GetString("PROMOTE_COMMAND", "./scripts/promote.sh"),
		Workdir:        GetString("EXECUTOR_WORKDIR", "."),
		RunTimeout:     GetSeconds("PROMOTE_TIMEOUT_SECONDS", 900*time.Second),
		LockMaxAge:     GetSeconds("LOCK_MAX_AGE_SECONDS", 1800*time.Second),
		TriggerMaxAge:  GetSeconds("TRIGGER_MAX_AGE_SECONDS", 300*time.Second),
		LogRetention:   GetInt("LOG_RETENTION_LINES", 500),
		RecentLogLines: GetInt("RECENT_LOG_LINES", 50),
	}
}
