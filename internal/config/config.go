package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	// Global settings
	Format  string `mapstructure:"format"`
	Level   string `mapstructure:"level"`
	Quiet   bool   `mapstructure:"quiet"`
	Verbose bool   `mapstructure:"verbose"`

	// StateDir is where the session registry persists its records.
	StateDir string `mapstructure:"state_dir"`

	Watch  WatchConfig  `mapstructure:"watch"`
	Engine EngineConfig `mapstructure:"engine"`
	Graph  GraphConfig  `mapstructure:"graph"`
}

// WatchConfig controls the transcript change notifier.
type WatchConfig struct {
	Roots          []string      `mapstructure:"roots"`
	Suffixes       []string      `mapstructure:"suffixes"`
	NamespaceDepth int           `mapstructure:"namespace_depth"`
	Debounce       time.Duration `mapstructure:"debounce"`
}

// EngineConfig controls close decisions, the timeout sweep and retries.
type EngineConfig struct {
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	LazyWait          time.Duration `mapstructure:"lazy_wait"`
	MaxRetryAttempts  int           `mapstructure:"max_retry_attempts"`
	RetryBackoffBase  time.Duration `mapstructure:"retry_backoff_base"`
	RetryBackoffCap   time.Duration `mapstructure:"retry_backoff_cap"`
	CommitConcurrency int           `mapstructure:"commit_concurrency"`
}

// GraphConfig selects the knowledge-store backend.
type GraphConfig struct {
	// Driver is "exec" for command bridging or "memory" for dry runs.
	Driver    string `mapstructure:"driver"`
	IndexCmd  string `mapstructure:"index_cmd"`
	DeleteCmd string `mapstructure:"delete_cmd"`
}

// Default returns a Config with default values
func Default() *Config {
	stateDir := ".memoir"
	if home, err := os.UserHomeDir(); err == nil {
		stateDir = filepath.Join(home, ".memoir")
	}
	return &Config{
		Format:   "ndjson",
		Level:    "info",
		Quiet:    false,
		Verbose:  false,
		StateDir: stateDir,
		Watch: WatchConfig{
			Suffixes:       []string{".jsonl"},
			NamespaceDepth: 1,
			Debounce:       500 * time.Millisecond,
		},
		Engine: EngineConfig{
			InactivityTimeout: 30 * time.Minute,
			SweepInterval:     time.Minute,
			LazyWait:          30 * time.Second,
			MaxRetryAttempts:  5,
			RetryBackoffBase:  10 * time.Second,
			RetryBackoffCap:   10 * time.Minute,
			CommitConcurrency: 4,
		},
		Graph: GraphConfig{
			Driver: "memory",
		},
	}
}

// Load loads configuration from files and environment
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("memoir")
	v.SetConfigType("yaml")

	// Config paths in order of precedence, lowest first
	v.AddConfigPath("/etc/memoir/")
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "memoir"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
		v.SetConfigName(".memoir")
	}
	v.AddConfigPath(".")

	// Environment variables
	v.SetEnvPrefix("MEMOIR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.BindEnv("format", "MEMOIR_FORMAT")
	v.BindEnv("level", "MEMOIR_LEVEL")
	v.BindEnv("state_dir", "MEMOIR_STATE_DIR")
	v.BindEnv("graph.index_cmd", "MEMOIR_GRAPH_INDEX_CMD")
	v.BindEnv("graph.delete_cmd", "MEMOIR_GRAPH_DELETE_CMD")

	cfg := Default()
	v.SetDefault("format", cfg.Format)
	v.SetDefault("level", cfg.Level)
	v.SetDefault("quiet", cfg.Quiet)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("watch.suffixes", cfg.Watch.Suffixes)
	v.SetDefault("watch.namespace_depth", cfg.Watch.NamespaceDepth)
	v.SetDefault("watch.debounce", cfg.Watch.Debounce)
	v.SetDefault("engine.inactivity_timeout", cfg.Engine.InactivityTimeout)
	v.SetDefault("engine.sweep_interval", cfg.Engine.SweepInterval)
	v.SetDefault("engine.lazy_wait", cfg.Engine.LazyWait)
	v.SetDefault("engine.max_retry_attempts", cfg.Engine.MaxRetryAttempts)
	v.SetDefault("engine.retry_backoff_base", cfg.Engine.RetryBackoffBase)
	v.SetDefault("engine.retry_backoff_cap", cfg.Engine.RetryBackoffCap)
	v.SetDefault("engine.commit_concurrency", cfg.Engine.CommitConcurrency)
	v.SetDefault("graph.driver", cfg.Graph.Driver)

	// Try to read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
