// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/MochiXu/hybrid-search-ranx/internal/compare"
	"github.com/MochiXu/hybrid-search-ranx/internal/evaluation"
	"github.com/MochiXu/hybrid-search-ranx/internal/fusion"
	"github.com/MochiXu/hybrid-search-ranx/internal/normalize"
)

// Config holds all application configuration.
type Config struct {
	// Logging configuration
	Log LogConfig `yaml:"log"`

	// Evaluation and significance testing
	Eval EvalConfig `yaml:"eval"`

	// Parameter search
	Optimize OptimizeConfig `yaml:"optimize"`

	// Fusion methods to benchmark
	Fusion FusionConfig `yaml:"fusion"`

	// Optimized parameter cache
	Store StoreConfig `yaml:"store"`

	// Benchmark events
	Bus BusConfig `yaml:"bus"`

	// HTTP server
	Server ServerConfig `yaml:"server"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"RANX_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"RANX_LOG_FORMAT" yaml:"format"`
}

// EvalConfig holds metric and comparison settings.
type EvalConfig struct {
	Metrics      []string `envconfig:"RANX_METRICS" yaml:"metrics"`
	Alpha        float64  `envconfig:"RANX_ALPHA" yaml:"alpha"`
	StatTest     string   `envconfig:"RANX_STAT_TEST" yaml:"stat_test"`
	Permutations int      `envconfig:"RANX_PERMUTATIONS" yaml:"permutations"`
	Seed         int64    `envconfig:"RANX_EVAL_SEED" yaml:"seed"`
	Workers      int      `envconfig:"RANX_EVAL_WORKERS" yaml:"workers"` // 0 = GOMAXPROCS
}

// OptimizeConfig holds parameter search settings.
type OptimizeConfig struct {
	Metric          string  `envconfig:"RANX_OPTIMIZE_METRIC" yaml:"metric"`
	WeightStep      float64 `envconfig:"RANX_WEIGHT_STEP" yaml:"weight_step"`
	HoldoutFraction float64 `envconfig:"RANX_HOLDOUT_FRACTION" yaml:"holdout_fraction"` // 0 = train and score on all queries
	Seed            int64   `envconfig:"RANX_OPTIMIZE_SEED" yaml:"seed"`
	Workers         int     `envconfig:"RANX_OPTIMIZE_WORKERS" yaml:"workers"`
}

// FusionConfig holds the benchmarked methods.
type FusionConfig struct {
	Methods       []string `envconfig:"RANX_METHODS" yaml:"methods"`
	Normalization string   `envconfig:"RANX_NORMALIZATION" yaml:"normalization"`
}

// StoreConfig holds parameter cache settings.
type StoreConfig struct {
	Type      string        `envconfig:"RANX_STORE_TYPE" yaml:"type"`
	RedisURL  string        `envconfig:"RANX_REDIS_URL" yaml:"redis_url"`
	TTL       time.Duration `envconfig:"RANX_STORE_TTL" yaml:"ttl"` // 0 = no expiry
	KeyPrefix string        `envconfig:"RANX_STORE_PREFIX" yaml:"key_prefix"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"RANX_BUS_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"RANX_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaGroup   string `envconfig:"RANX_KAFKA_GROUP" yaml:"kafka_group"`

	// EventLog, when set, is a JSON lines file every published event is
	// appended to.
	EventLog string `envconfig:"RANX_EVENT_LOG" yaml:"event_log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `envconfig:"RANX_HOST" yaml:"host"`
	Port           int           `envconfig:"RANX_PORT" yaml:"port"`
	RateLimit      int           `envconfig:"RANX_RATE_LIMIT" yaml:"rate_limit"` // requests per minute, 0 = disabled
	MaxBodyBytes   int64         `envconfig:"RANX_MAX_BODY_BYTES" yaml:"max_body_bytes"`
	RequestTimeout time.Duration `envconfig:"RANX_REQUEST_TIMEOUT" yaml:"request_timeout"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

// Default returns the validated defaults.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// DefaultMethods are the strategies benchmarked when none are configured.
var DefaultMethods = []string{
	"rrf", "gmnz", "probfuse", "slidefuse", "bayesfuse", "wmnz", "rbc",
	"log_isr", "posfuse", "segfuse", "mapfuse", "w_bordafuse", "w_condorcet",
	"mixed", "wsum",
}

func setDefaults(cfg *Config) {
	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}

	cfg.Eval = EvalConfig{
		Metrics:      []string{"mrr@10", "map@10", "ndcg@10"},
		Alpha:        0.01,
		StatTest:     "student",
		Permutations: 1000,
		Seed:         42,
	}

	cfg.Optimize = OptimizeConfig{
		Metric:     "mrr@10",
		WeightStep: 0.1,
		Seed:       42,
	}

	cfg.Fusion = FusionConfig{
		Methods:       append([]string(nil), DefaultMethods...),
		Normalization: "min-max",
	}

	cfg.Store = StoreConfig{
		Type:      "memory",
		RedisURL:  "redis://localhost:6379",
		TTL:       24 * time.Hour,
		KeyPrefix: "ranx:",
	}

	cfg.Bus = BusConfig{
		Type:       "memory",
		KafkaGroup: "hybrid-ranx",
	}

	cfg.Server = ServerConfig{
		Host:           "0.0.0.0",
		Port:           8080,
		RateLimit:      0,
		MaxBodyBytes:   64 << 20,
		RequestTimeout: 5 * time.Minute,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	// Eval validation
	if len(c.Eval.Metrics) == 0 {
		errs = append(errs, "eval.metrics must not be empty")
	}
	if _, err := evaluation.ParseMetrics(c.Eval.Metrics); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Eval.Alpha <= 0 || c.Eval.Alpha >= 1 {
		errs = append(errs, "eval.alpha must be between 0 and 1 (exclusive)")
	}
	if _, err := compare.ParseTest(c.Eval.StatTest); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Eval.Permutations < 1 {
		errs = append(errs, "eval.permutations must be positive")
	}

	// Optimize validation
	if _, err := evaluation.ParseMetric(c.Optimize.Metric); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Optimize.WeightStep <= 0 || c.Optimize.WeightStep > 1 {
		errs = append(errs, "optimize.weight_step must be in (0, 1]")
	}
	if c.Optimize.HoldoutFraction < 0 || c.Optimize.HoldoutFraction >= 1 {
		errs = append(errs, "optimize.holdout_fraction must be in [0, 1)")
	}

	// Fusion validation
	if _, err := fusion.ParseMethods(c.Fusion.Methods); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := normalize.ParseMode(c.Fusion.Normalization); err != nil {
		errs = append(errs, err.Error())
	}

	// Store validation
	validStoreTypes := map[string]bool{"memory": true, "redis": true}
	if !validStoreTypes[c.Store.Type] {
		errs = append(errs, fmt.Sprintf("invalid store type: %s (must be memory or redis)", c.Store.Type))
	}
	if c.Store.TTL < 0 {
		errs = append(errs, "store.ttl must not be negative")
	}

	// Bus validation
	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	}
	if c.Bus.Type == "kafka" && strings.TrimSpace(c.Bus.KafkaBrokers) == "" {
		errs = append(errs, "bus.kafka_brokers is required for the kafka bus")
	}

	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server.rate_limit must not be negative")
	}
	if c.Server.MaxBodyBytes < 1 {
		errs = append(errs, "server.max_body_bytes must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Log.Level == "debug"
}
