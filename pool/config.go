package pool

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// PoolConfig carries the options spec.md §3 recognizes. Defaults match the
// documented values; request_timeout_secs defaults to 6 hours to
// accommodate large model downloads on slow links (spec.md §3/§9).
type PoolConfig struct {
	RequestTimeoutSecs      int64 `envconfig:"POOL_REQUEST_TIMEOUT_SECS" default:"21600"`
	HealthTimeoutSecs       int64 `envconfig:"POOL_HEALTH_TIMEOUT_SECS" default:"0"` // 0 = use RequestTimeoutSecs
	ShutdownTimeoutSecs     int64 `envconfig:"POOL_SHUTDOWN_TIMEOUT_SECS" default:"5"`
	MaintenanceIntervalSecs int64 `envconfig:"POOL_MAINTENANCE_INTERVAL_SECS" default:"60"`
	CooldownIdleMinutes     int64 `envconfig:"POOL_COOLDOWN_IDLE_MINUTES" default:"1"`
	MaxWorkersPerModel      int   `envconfig:"POOL_MAX_WORKERS_PER_MODEL" default:"4"`

	EmbedQueueCapacity      int `envconfig:"POOL_EMBED_QUEUE_CAPACITY" default:"100"`
	BatchQueueCapacity      int `envconfig:"POOL_BATCH_QUEUE_CAPACITY" default:"50"`
	PromptQueueCapacity     int `envconfig:"POOL_PROMPT_QUEUE_CAPACITY" default:"100"`
	ImageGenQueueCapacity   int `envconfig:"POOL_IMAGE_GEN_QUEUE_CAPACITY" default:"20"`
	VisionQueueCapacity     int `envconfig:"POOL_VISION_QUEUE_CAPACITY" default:"50"`
	ImageEmbedQueueCapacity int `envconfig:"POOL_IMAGE_EMBED_QUEUE_CAPACITY" default:"50"`
}

// DefaultPoolConfig returns the documented defaults without touching the
// environment — the same values envconfig.Process would fill in, available
// for tests and for callers that don't want env-driven configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		RequestTimeoutSecs:      21600,
		ShutdownTimeoutSecs:     5,
		MaintenanceIntervalSecs: 60,
		CooldownIdleMinutes:     1,
		MaxWorkersPerModel:      4,
		EmbedQueueCapacity:      100,
		BatchQueueCapacity:      50,
		PromptQueueCapacity:     100,
		ImageGenQueueCapacity:   20,
		VisionQueueCapacity:     50,
		ImageEmbedQueueCapacity: 50,
	}
}

// LoadPoolConfig reads PoolConfig from the environment via envconfig,
// following the teacher's internal/config/config.go pattern.
func LoadPoolConfig() (PoolConfig, error) {
	var cfg PoolConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return PoolConfig{}, err
	}
	return cfg, nil
}

// RequestTimeout returns RequestTimeoutSecs as a time.Duration.
func (c PoolConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// HealthTimeout returns the configured health timeout, defaulting to
// RequestTimeout when unset (spec.md §9: "matches request_timeout_secs by
// convention").
func (c PoolConfig) HealthTimeout() time.Duration {
	if c.HealthTimeoutSecs > 0 {
		return time.Duration(c.HealthTimeoutSecs) * time.Second
	}
	return c.RequestTimeout()
}

// ShutdownTimeout returns ShutdownTimeoutSecs as a time.Duration.
func (c PoolConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSecs) * time.Second
}

// MaintenanceInterval returns MaintenanceIntervalSecs as a time.Duration.
func (c PoolConfig) MaintenanceInterval() time.Duration {
	return time.Duration(c.MaintenanceIntervalSecs) * time.Second
}

// CooldownIdle returns CooldownIdleMinutes as a time.Duration.
func (c PoolConfig) CooldownIdle() time.Duration {
	return time.Duration(c.CooldownIdleMinutes) * time.Minute
}

// LoadCircuitBreakerConfig reads CircuitBreakerConfig from the environment.
func LoadCircuitBreakerConfig() (CircuitBreakerConfig, error) {
	var cfg CircuitBreakerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return CircuitBreakerConfig{}, err
	}
	return cfg, nil
}

// LoadMemoryGovernorConfig reads MemoryGovernorConfig from the environment.
func LoadMemoryGovernorConfig() (MemoryGovernorConfig, error) {
	var cfg MemoryGovernorConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return MemoryGovernorConfig{}, err
	}
	return cfg, nil
}
