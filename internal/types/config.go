package types

type RunMode string

const (
	// ModeLocal runs the API server, the cron scheduler and the consumers in one process
	ModeLocal RunMode = "local"
	// ModeAPI runs just the admin API server
	ModeAPI RunMode = "api"
	// ModeWorker runs the cron scheduler and the usage consumers
	ModeWorker RunMode = "worker"
	// ModeTemporalWorker runs the temporal worker for billing workflows
	ModeTemporalWorker RunMode = "temporal_worker"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LockProvider selects the billing cycle guard implementation
type LockProvider string

const (
	LockProviderMemory LockProvider = "memory"
	LockProviderRedis  LockProvider = "redis"
)
