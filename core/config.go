package core

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the explicit configuration object threaded through every
// constructor. There is no process-global configuration state.
//
// Resolution order: defaults, then YAML file, then EVOLV_* environment
// overrides.
type Config struct {
	Memory        MemoryConfig        `yaml:"memory"`
	Execution     ExecutionConfig     `yaml:"execution"`
	Planning      PlanningConfig      `yaml:"planning"`
	Learning      LearningConfig      `yaml:"learning"`
	Orchestration OrchestrationConfig `yaml:"orchestration"`
	Messaging     MessagingConfig     `yaml:"messaging"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	SystemVersion string              `yaml:"system_version"`
}

// MemoryConfig configures the three memory stores.
type MemoryConfig struct {
	Working   WorkingConfig   `yaml:"working"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Episodic  EpisodicConfig  `yaml:"episodic"`
}

// WorkingConfig configures the volatile per-session store.
type WorkingConfig struct {
	Timeout              time.Duration `yaml:"timeout"`
	CompressionThreshold int           `yaml:"compression_threshold"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
	MaxEntries           int           `yaml:"max_entries"`
	SnapshotPath         string        `yaml:"snapshot_path"`
	SnapshotInterval     time.Duration `yaml:"snapshot_interval"`
}

// KnowledgeConfig configures the durable skill/preference store.
type KnowledgeConfig struct {
	Path             string        `yaml:"path"`
	OptimizeInterval time.Duration `yaml:"optimize_interval"`
	SkillMaxAge      time.Duration `yaml:"skill_max_age"`
	EWMAAlpha        float64       `yaml:"ewma_alpha"`
}

// EpisodicConfig configures the append-only episode log.
type EpisodicConfig struct {
	URI string `yaml:"uri"`
}

// ExecutionConfig configures the task execution engine.
type ExecutionConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryBackoff   string        `yaml:"retry_backoff"`
	WorkerPool     int           `yaml:"worker_pool"`
	QueueTimeout   time.Duration `yaml:"queue_timeout"`
}

// PlanningConfig configures the planner.
type PlanningConfig struct {
	SimilarityThreshold      float64 `yaml:"similarity_threshold"`
	SkillConfidenceThreshold float64 `yaml:"skill_confidence_threshold"`
	CacheCapacity            int     `yaml:"cache_capacity"`
	MaxReplans               int     `yaml:"max_replans"`
	Model                    string  `yaml:"model"`
}

// LearningConfig configures the learning loop.
type LearningConfig struct {
	CycleInterval        time.Duration `yaml:"cycle_interval"`
	WindowHours          int           `yaml:"window_hours"`
	MinEpisodesPerGroup  int           `yaml:"min_episodes_per_group"`
	QualityThreshold     float64       `yaml:"quality_threshold"`
	ImprovementThreshold float64       `yaml:"improvement_threshold"`
	SuccessFraction      float64       `yaml:"success_fraction"`
	DBSCANEps            float64       `yaml:"dbscan_eps"`
	DBSCANMinSamples     int           `yaml:"dbscan_min_samples"`
	ImpactWindow         time.Duration `yaml:"impact_window"`
}

// OrchestrationConfig configures session admission and the PERA cycle.
type OrchestrationConfig struct {
	MaxConcurrentGoals int           `yaml:"max_concurrent_goals"`
	SessionConcurrency int           `yaml:"session_concurrency"`
	SuccessThreshold   float64       `yaml:"success_threshold"`
	AdmissionTimeout   time.Duration `yaml:"admission_timeout"`
	PlanSlack          float64       `yaml:"plan_slack"`
}

// MessagingConfig configures the event bus.
type MessagingConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"-"`
	RedisDB       int    `yaml:"redis_db"`
}

// MonitoringConfig configures alert thresholds.
type MonitoringConfig struct {
	LatencyWarn time.Duration `yaml:"latency_warn"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Memory: MemoryConfig{
			Working: WorkingConfig{
				Timeout:              3600 * time.Second,
				CompressionThreshold: 4096,
				SweepInterval:        time.Minute,
				MaxEntries:           100000,
			},
			Knowledge: KnowledgeConfig{
				Path:             "data/knowledge",
				OptimizeInterval: 6 * time.Hour,
				SkillMaxAge:      90 * 24 * time.Hour,
				EWMAAlpha:        0.2,
			},
			Episodic: EpisodicConfig{
				URI: "data/episodes.db",
			},
		},
		Execution: ExecutionConfig{
			DefaultTimeout: 30 * time.Second,
			MaxRetries:     3,
			RetryBaseDelay: 2 * time.Second,
			RetryBackoff:   "exponential",
			WorkerPool:     16,
			QueueTimeout:   5 * time.Second,
		},
		Planning: PlanningConfig{
			SimilarityThreshold:      0.7,
			SkillConfidenceThreshold: 0.8,
			CacheCapacity:            128,
			MaxReplans:               2,
		},
		Learning: LearningConfig{
			CycleInterval:        time.Hour,
			WindowHours:          24,
			MinEpisodesPerGroup:  3,
			QualityThreshold:     0.6,
			ImprovementThreshold: 0.1,
			SuccessFraction:      0.7,
			DBSCANEps:            0.5,
			DBSCANMinSamples:     3,
			ImpactWindow:         7 * 24 * time.Hour,
		},
		Orchestration: OrchestrationConfig{
			MaxConcurrentGoals: 8,
			SessionConcurrency: 4,
			SuccessThreshold:   0.7,
			AdmissionTimeout:   10 * time.Second,
			PlanSlack:          0.2,
		},
		Monitoring: MonitoringConfig{
			LatencyWarn: 5 * time.Second,
		},
		SystemVersion: Version,
	}
}

// LoadConfig reads configuration from an optional YAML file and applies
// environment overrides on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &FrameworkError{Op: "config.Load", Kind: "config", ID: path, Err: err}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &FrameworkError{Op: "config.Load", Kind: "config", ID: path, Err: fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)}
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers EVOLV_* environment variables over the loaded
// values. Secrets (redis password, provider keys) only ever come from the
// environment, never from files or persisted data.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("EVOLV_EPISODIC_URI"); v != "" {
		c.Memory.Episodic.URI = v
	}
	if v := os.Getenv("EVOLV_KNOWLEDGE_PATH"); v != "" {
		c.Memory.Knowledge.Path = v
	}
	if v := os.Getenv("EVOLV_WORKING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Memory.Working.Timeout = d
		}
	}
	if v := os.Getenv("EVOLV_REDIS_ADDR"); v != "" {
		c.Messaging.RedisAddr = v
	}
	c.Messaging.RedisPassword = os.Getenv("EVOLV_REDIS_PASSWORD")
	if v := os.Getenv("EVOLV_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Execution.MaxRetries = n
		}
	}
	if v := os.Getenv("EVOLV_RETRY_BACKOFF"); v != "" {
		c.Execution.RetryBackoff = v
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	switch c.Execution.RetryBackoff {
	case "none", "linear", "exponential", "fibonacci":
	default:
		return &FrameworkError{
			Op: "config.Validate", Kind: "config",
			Err:     ErrInvalidConfiguration,
			Message: fmt.Sprintf("unknown retry backoff %q", c.Execution.RetryBackoff),
		}
	}
	if c.Execution.MaxRetries < 0 {
		return &FrameworkError{Op: "config.Validate", Kind: "config", Err: ErrInvalidConfiguration, Message: "max_retries must be >= 0"}
	}
	if c.Planning.SimilarityThreshold < 0 || c.Planning.SimilarityThreshold > 1 {
		return &FrameworkError{Op: "config.Validate", Kind: "config", Err: ErrInvalidConfiguration, Message: "similarity_threshold must be in [0,1]"}
	}
	if c.Orchestration.SuccessThreshold < 0 || c.Orchestration.SuccessThreshold > 1 {
		return &FrameworkError{Op: "config.Validate", Kind: "config", Err: ErrInvalidConfiguration, Message: "success_threshold must be in [0,1]"}
	}
	if c.Memory.Knowledge.EWMAAlpha <= 0 || c.Memory.Knowledge.EWMAAlpha > 1 {
		return &FrameworkError{Op: "config.Validate", Kind: "config", Err: ErrInvalidConfiguration, Message: "ewma_alpha must be in (0,1]"}
	}
	return nil
}
