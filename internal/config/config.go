// Package config provides configuration loading for nevra.
//
// Configuration is assembled from hardcoded defaults, an optional YAML file
// and NEVRA_-prefixed environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/quantumflow/nevra/internal/logging"
)

// Config holds the complete nevra configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Backend  BackendConfig  `koanf:"backend"`
	Workflow WorkflowConfig `koanf:"workflow"`
	Models   ModelsConfig   `koanf:"models"`
	Memory   MemoryConfig   `koanf:"memory"`
	Storage  StorageConfig  `koanf:"storage"`
	Logging  logging.Config `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string   `koanf:"addr"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	Workers         int      `koanf:"workers"`    // concurrent workflows
	QueueSize       int      `koanf:"queue_size"` // waiting workflows before 503
}

// BackendConfig holds the generative backend client configuration.
type BackendConfig struct {
	URL         string   `koanf:"url"`
	APIKey      Secret   `koanf:"api_key"`
	Timeout     Duration `koanf:"timeout"`
	MaxAttempts int      `koanf:"max_attempts"`
	BaseDelay   Duration `koanf:"base_delay"`
	MaxDelay    Duration `koanf:"max_delay"`
	RateLimit   float64  `koanf:"rate_limit"` // requests per second, 0 disables
	Burst       int      `koanf:"burst"`
}

// WorkflowConfig holds the orchestration tunables.
type WorkflowConfig struct {
	EnablePlanner         bool    `koanf:"enable_planner"`
	EnableReviewer        bool    `koanf:"enable_reviewer"`
	EnableReflection      bool    `koanf:"enable_reflection"`
	SkipPlannerForSimple  bool    `koanf:"skip_planner_for_simple"`
	SkipReviewerForSimple bool    `koanf:"skip_reviewer_for_simple"`
	ForceReview           bool    `koanf:"force_review"`
	ApplyImprovements     bool    `koanf:"apply_improvements"`
	MaxRetries            int     `koanf:"max_retries"`
	MaxRevisions          int     `koanf:"max_revisions"`
	CircuitBreaker        int     `koanf:"circuit_breaker"`
	QualityThreshold      float64 `koanf:"quality_threshold"`

	PlannerTimeout    Duration `koanf:"planner_timeout"`
	ExecutorTimeout   Duration `koanf:"executor_timeout"`
	ReviewerTimeout   Duration `koanf:"reviewer_timeout"`
	ReflectionTimeout Duration `koanf:"reflection_timeout"`
	SaveTimeout       Duration `koanf:"save_timeout"`

	SimpleMaxWords int      `koanf:"simple_max_words"`
	SimpleKeywords []string `koanf:"simple_keywords"`
}

// ModelsConfig holds the default model per agent role.
type ModelsConfig struct {
	Planner    string            `koanf:"planner"`
	Executor   string            `koanf:"executor"`
	Reviewer   string            `koanf:"reviewer"`
	Reflection string            `koanf:"reflection"`
	Providers  map[string]string `koanf:"providers"` // provider hint -> executor model
}

// MemoryConfig holds memory persistence configuration.
type MemoryConfig struct {
	Enabled        bool   `koanf:"enabled"`
	RetrievalLimit int    `koanf:"retrieval_limit"`
	Backend        string `koanf:"backend"` // badger, redis or none
	BadgerPath     string `koanf:"badger_path"`
	RedisAddr      string `koanf:"redis_addr"`
	RedisPassword  Secret `koanf:"redis_password"`
	RedisDB        int    `koanf:"redis_db"`
	DgraphAddr     string `koanf:"dgraph_addr"`
}

// StorageConfig holds relational storage configuration.
type StorageConfig struct {
	SQLitePath string `koanf:"sqlite_path"`
}

// Memory backends
const (
	MemoryBackendBadger = "badger"
	MemoryBackendRedis  = "redis"
	MemoryBackendNone   = "none"
)

// Default returns the configuration used when nothing else is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: Duration(10 * time.Second),
			Workers:         8,
			QueueSize:       64,
		},
		Backend: BackendConfig{
			URL:         "http://localhost:3000/api/generate",
			Timeout:     Duration(2 * time.Minute),
			MaxAttempts: 5,
			BaseDelay:   Duration(time.Second),
			MaxDelay:    Duration(60 * time.Second),
			RateLimit:   5,
			Burst:       5,
		},
		Workflow: WorkflowConfig{
			EnablePlanner:         true,
			EnableReviewer:        true,
			EnableReflection:      true,
			SkipPlannerForSimple:  true,
			SkipReviewerForSimple: true,
			ApplyImprovements:     true,
			MaxRetries:            2,
			MaxRevisions:          2,
			CircuitBreaker:        10,
			QualityThreshold:      0.7,
			PlannerTimeout:        Duration(60 * time.Second),
			ExecutorTimeout:       Duration(3 * time.Minute),
			ReviewerTimeout:       Duration(90 * time.Second),
			ReflectionTimeout:     Duration(60 * time.Second),
			SaveTimeout:           Duration(10 * time.Second),
			SimpleMaxWords:        12,
			SimpleKeywords:        []string{"hi", "hello", "halo", "thanks", "terima kasih", "what is", "apa itu"},
		},
		Models: ModelsConfig{
			Planner:    "gpt-4o",
			Executor:   "claude-sonnet",
			Reviewer:   "gpt-4o",
			Reflection: "gpt-4o-mini",
			Providers: map[string]string{
				"anthropic": "claude-sonnet",
				"openai":    "gpt-4o",
				"gemini":    "gemini-pro",
			},
		},
		Memory: MemoryConfig{
			Enabled:        true,
			RetrievalLimit: 5,
			Backend:        MemoryBackendBadger,
			BadgerPath:     "./data/memory",
			RedisAddr:      "localhost:6379",
		},
		Storage: StorageConfig{
			SQLitePath: "./data/nevra.db",
		},
		Logging: *logging.NewDefaultConfig(),
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server addr is required")
	}
	if c.Server.Workers < 1 {
		return fmt.Errorf("server workers must be >= 1, got %d", c.Server.Workers)
	}
	if c.Server.QueueSize < 0 {
		return fmt.Errorf("server queue_size cannot be negative, got %d", c.Server.QueueSize)
	}
	if c.Backend.URL == "" {
		return errors.New("backend url is required")
	}
	if c.Backend.MaxAttempts < 1 {
		return fmt.Errorf("backend max_attempts must be >= 1, got %d", c.Backend.MaxAttempts)
	}
	if c.Backend.RateLimit < 0 {
		return fmt.Errorf("backend rate_limit cannot be negative, got %v", c.Backend.RateLimit)
	}

	w := c.Workflow
	if w.QualityThreshold < 0 || w.QualityThreshold > 1 {
		return fmt.Errorf("workflow quality_threshold must be within [0,1], got %v", w.QualityThreshold)
	}
	if w.MaxRetries < 0 {
		return fmt.Errorf("workflow max_retries cannot be negative, got %d", w.MaxRetries)
	}
	if w.MaxRevisions < 0 {
		return fmt.Errorf("workflow max_revisions cannot be negative, got %d", w.MaxRevisions)
	}
	if w.CircuitBreaker < 1 {
		return fmt.Errorf("workflow circuit_breaker must be >= 1, got %d", w.CircuitBreaker)
	}

	switch c.Memory.Backend {
	case MemoryBackendBadger, MemoryBackendRedis, MemoryBackendNone:
	default:
		return fmt.Errorf("memory backend must be one of badger, redis, none; got %q", c.Memory.Backend)
	}
	if c.Memory.RetrievalLimit < 0 {
		return fmt.Errorf("memory retrieval_limit cannot be negative, got %d", c.Memory.RetrievalLimit)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	return nil
}
