// Package config loads the adaptive breaker's configuration via viper:
// defaults, an optional YAML file, and BREAKER_-prefixed environment
// variable overrides, unmarshalled into a typed Config.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete configuration surface for one breaker process.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Breaker BreakerConfig `yaml:"breaker"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
	Redis   RedisConfig   `yaml:"redis"`
	Live    LiveConfig    `yaml:"live"`
}

// NodeConfig identifies the process hosting the breaker.
type NodeConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
}

// BreakerConfig is the ML breaker's tunable surface.
type BreakerConfig struct {
	Name                    string  `yaml:"name"`
	MLEnabled               bool    `yaml:"ml_enabled"`
	MinCalls                int     `yaml:"min_calls"`
	HalfOpenCalls           int     `yaml:"half_open_calls"`
	InitialFailureThreshold float64 `yaml:"initial_failure_threshold"`
	InitialWindow           int     `yaml:"initial_window"`
	InitialWaitMs           int     `yaml:"initial_wait_ms"`
	ReconfigMinIntervalMs   int     `yaml:"reconfig_min_interval_ms"`
	SignificantChange       float64 `yaml:"significant_change"`
	TrainingInterval        int     `yaml:"training_interval"`
}

// MetricsConfig controls Prometheus exposition.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// LoggingConfig controls zerolog's global level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// RedisConfig configures the optional Redis-backed persistence sinks.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LiveConfig configures the optional websocket performance feed.
type LiveConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Listen       string        `yaml:"listen"`
	Path         string        `yaml:"path"`
	ReportPeriod time.Duration `yaml:"report_period"`
}

// Default returns the conservative defaults matching the breaker package's
// own DefaultSettings, so a zero-value config file still produces a working
// breaker.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			Name:        "adaptivebreaker",
			Environment: "development",
		},
		Breaker: BreakerConfig{
			Name:                    "defaultBreaker",
			MLEnabled:               true,
			MinCalls:                10,
			HalfOpenCalls:           5,
			InitialFailureThreshold: 0.5,
			InitialWindow:           100,
			InitialWaitMs:           30000,
			ReconfigMinIntervalMs:   60000,
			SignificantChange:       0.10,
			TrainingInterval:        10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  "0.0.0.0:9090",
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: false,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
			Timeout: 3 * time.Second,
		},
		Live: LiveConfig{
			Enabled:      false,
			Listen:       "0.0.0.0:9091",
			Path:         "/live",
			ReportPeriod: time.Hour,
		},
	}
}

// Load builds a Config from defaults, an optional file at configFile (or
// the standard search path if empty), and BREAKER_-prefixed environment
// overrides.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("breaker")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/adaptivebreaker")
	}

	v.SetEnvPrefix("BREAKER")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.ValidateExtended(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
