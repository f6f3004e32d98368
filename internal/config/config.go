package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"  validate:"required"`
	Trigger   TriggerConfig   `mapstructure:"trigger"   validate:"required"`
	Engine    EngineConfig    `mapstructure:"engine"    validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// TriggerConfig secures the cron trigger endpoints. SecretHash is the bcrypt
// hash of the shared secret the external scheduler presents; the plaintext
// secret itself is never configured on this side.
type TriggerConfig struct {
	SecretHash string `mapstructure:"secret_hash" validate:"required,min=20"`
}

// EngineConfig tunes the scheduling engine: batch sizes, worker counts,
// retry ladder, and the wall-clock budgets of each pass type.
type EngineConfig struct {
	// ClaimBatchSize is how many due tasks one claim pulls from the store.
	ClaimBatchSize int `mapstructure:"claim_batch_size" validate:"required,gt=0"`

	// WorkerCount bounds the goroutines executing claimed tasks in a pass.
	WorkerCount int `mapstructure:"worker_count" validate:"required,gt=0"`

	// MaxAttempts is the default retry budget for tasks that do not set
	// their own.
	MaxAttempts int `mapstructure:"max_attempts" validate:"required,gt=0"`

	// RetryDelays is the backoff ladder indexed by completed attempts.
	// Attempts beyond the ladder reuse the last entry.
	RetryDelays []time.Duration `mapstructure:"retry_delays" validate:"required,min=1,dive,gt=0"`

	// DispatchBudget bounds one dispatcher pass; claiming stops once it is
	// spent, in-flight tasks finish.
	DispatchBudget time.Duration `mapstructure:"dispatch_budget" validate:"required,gt=0"`

	// ReviewBudget bounds one dead-letter review pass.
	ReviewBudget time.Duration `mapstructure:"review_budget" validate:"required,gt=0"`

	// WorkflowBudget bounds one workflow advancer pass.
	WorkflowBudget time.Duration `mapstructure:"workflow_budget" validate:"required,gt=0"`

	// MaintenanceBudget bounds the daily maintenance pass. It is the only
	// budget sized for bulk work.
	MaintenanceBudget time.Duration `mapstructure:"maintenance_budget" validate:"required,gt=0"`

	// ReviewBatchSize is how many dead-letter tasks one review examines.
	ReviewBatchSize int `mapstructure:"review_batch_size" validate:"required,gt=0"`

	// ReviewCoolOff is how long a task must sit in dead_letter before the
	// reviewer will requeue it, so a systemic outage is not hot-looped.
	ReviewCoolOff time.Duration `mapstructure:"review_cool_off" validate:"required,gt=0"`

	// StuckTaskAge is how old a running claim must be before it is
	// considered abandoned and released.
	StuckTaskAge time.Duration `mapstructure:"stuck_task_age" validate:"required,gt=0"`

	// WorkflowStaleAfter is how long an active workflow may go without
	// progress before it is flagged stalled.
	WorkflowStaleAfter time.Duration `mapstructure:"workflow_stale_after" validate:"required,gt=0"`

	// WorkflowBatchSize is how many workflows one advancer pass examines
	// per lifecycle stage.
	WorkflowBatchSize int `mapstructure:"workflow_batch_size" validate:"required,gt=0"`
}

// SchedulerConfig holds the cron expressions used by the standalone
// scheduler binary. The HTTP trigger endpoints ignore these; they exist for
// deployments that run passes in-process instead of via an external cron.
type SchedulerConfig struct {
	DispatchSpec    string `mapstructure:"dispatch_spec"    validate:"required"`
	ReviewSpec      string `mapstructure:"review_spec"      validate:"required"`
	WorkflowSpec    string `mapstructure:"workflow_spec"    validate:"required"`
	MaintenanceSpec string `mapstructure:"maintenance_spec" validate:"required"`
}
