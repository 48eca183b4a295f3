package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v6"
)

// EvaluationConfig tunes the record-level execution path.
type EvaluationConfig struct {
	// MaxWorkers bounds concurrent store groups within one identity.
	// 1 yields strictly sequential behavior, kept for debugging.
	MaxWorkers int `env:"SEMANTIC_PARALLEL_MAX" envDefault:"4" json:"max_workers"`

	// ParallelThreshold is the minimum store-group count before workers are
	// spawned at all.
	ParallelThreshold int `env:"SEMANTIC_PARALLEL_THRESHOLD" envDefault:"3" json:"parallel_threshold"`

	// EnableParallel turns the worker pool off entirely.
	EnableParallel bool `env:"SEMANTIC_PARALLEL_ENABLED" envDefault:"true" json:"enable_parallel"`

	// StoreQueryTimeout is the optional soft deadline per store query.
	// Zero disables it; expiry falls the affected rule back to memory.
	StoreQueryTimeout time.Duration `env:"SEMANTIC_STORE_TIMEOUT" envDefault:"0s" json:"store_query_timeout"`

	// PatternCacheSize bounds the process-wide compiled-pattern cache.
	PatternCacheSize int `env:"SEMANTIC_PATTERN_CACHE_SIZE" envDefault:"1000" json:"pattern_cache_size"`
}

// RuleDirConfig names the per-scope rule directories. Every entry may be
// absent; a scope without a directory contributes nothing.
type RuleDirConfig struct {
	// GlobalDirs lists directories scanned for global rules.
	GlobalDirs []string `env:"RULE_FILE_SEARCH_PATH" envSeparator:":" json:"global_dirs"`

	// PipelineDir, WingDir and CaseDir point at the corresponding
	// semantic_mappings directories of the active execution context.
	PipelineDir string `env:"SEMANTIC_PIPELINE_RULES_DIR" json:"pipeline_dir"`
	WingDir     string `env:"SEMANTIC_WING_RULES_DIR" json:"wing_dir"`
	CaseDir     string `env:"SEMANTIC_CASE_RULES_DIR" json:"case_dir"`
}

// AuthConfig secures the admin surface. An empty secret disables auth,
// which suits embedded and development use.
type AuthConfig struct {
	JWTSecret string `env:"AUTH_JWT_SECRET" json:"-"`
}

// Config aggregates everything the semantic module needs.
type Config struct {
	Evaluation EvaluationConfig
	Rules      RuleDirConfig
	Auth       AuthConfig
}

// Load reads configuration from environment variables and applies defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(&cfg.Evaluation); err != nil {
		return nil, errors.New("failed to load semantic evaluation configuration: " + err.Error())
	}
	if err := env.Parse(&cfg.Rules); err != nil {
		return nil, errors.New("failed to load semantic rule directory configuration: " + err.Error())
	}
	if err := env.Parse(&cfg.Auth); err != nil {
		return nil, errors.New("failed to load semantic auth configuration: " + err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the documented bounds.
func (c *Config) Validate() error {
	if c.Evaluation.MaxWorkers < 1 {
		return errors.New("SEMANTIC_PARALLEL_MAX must be >= 1")
	}
	if c.Evaluation.ParallelThreshold < 1 {
		return errors.New("SEMANTIC_PARALLEL_THRESHOLD must be >= 1")
	}
	if c.Evaluation.PatternCacheSize < 1 {
		return errors.New("SEMANTIC_PATTERN_CACHE_SIZE must be >= 1")
	}
	return nil
}

// Default returns a Config with default values, for embedding the engine
// without an environment.
func Default() *Config {
	return &Config{
		Evaluation: EvaluationConfig{
			MaxWorkers:        4,
			ParallelThreshold: 3,
			EnableParallel:    true,
			PatternCacheSize:  1000,
		},
	}
}
