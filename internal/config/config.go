package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Cluster    ClusterConfig    `yaml:"cluster" mapstructure:"cluster"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Network    NetworkConfig    `yaml:"network" mapstructure:"network"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Neo4j      Neo4jConfig      `yaml:"neo4j" mapstructure:"neo4j"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	Model             string  `yaml:"model" mapstructure:"model"`
	NormalizeModel    string  `yaml:"normalize_model" mapstructure:"normalize_model"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// RetryConfig configures retries of transient AI errors.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures the AI circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// PricingConfig holds per-model token pricing.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// ClusterConfig configures the clustering pass and repair.
type ClusterConfig struct {
	LookbackHours   int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	BatchSize       int     `yaml:"batch_size" mapstructure:"batch_size"`
	MaxOpenClusters int     `yaml:"max_open_clusters" mapstructure:"max_open_clusters"`
	MatchThreshold  float64 `yaml:"match_threshold" mapstructure:"match_threshold"`
	GroupThreshold  float64 `yaml:"group_threshold" mapstructure:"group_threshold"`
	RepairThreshold float64 `yaml:"repair_threshold" mapstructure:"repair_threshold"`
	RepairLimit     int     `yaml:"repair_limit" mapstructure:"repair_limit"`
	LockTTLSecs     int     `yaml:"lock_ttl_secs" mapstructure:"lock_ttl_secs"`
}

// EnrichConfig configures the enrichment worker pool.
type EnrichConfig struct {
	Concurrency  int `yaml:"concurrency" mapstructure:"concurrency"`
	BatchDelayMs int `yaml:"batch_delay_ms" mapstructure:"batch_delay_ms"`
	QueueSize    int `yaml:"queue_size" mapstructure:"queue_size"`
	MaxArticles  int `yaml:"max_articles" mapstructure:"max_articles"`
	SnippetChars int `yaml:"snippet_chars" mapstructure:"snippet_chars"`
	PendingLimit int `yaml:"pending_limit" mapstructure:"pending_limit"`
}

// NetworkConfig configures entity and relationship analysis.
type NetworkConfig struct {
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`
	RecentHours int     `yaml:"recent_hours" mapstructure:"recent_hours"`
	RecentLimit int     `yaml:"recent_limit" mapstructure:"recent_limit"`
	MinStrength float64 `yaml:"min_strength" mapstructure:"min_strength"`
	GraphLimit  int     `yaml:"graph_limit" mapstructure:"graph_limit"`
}

// RedisConfig configures the pass lock and event bus. Empty Addr disables both.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Channel  string `yaml:"channel" mapstructure:"channel"`
}

// Neo4jConfig configures graph projection. Empty URI disables it.
type Neo4jConfig struct {
	URI      string `yaml:"uri" mapstructure:"uri"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
}

// TemporalConfig configures the scheduled cycle worker.
type TemporalConfig struct {
	HostPort     string `yaml:"host_port" mapstructure:"host_port"`
	Namespace    string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue    string `yaml:"task_queue" mapstructure:"task_queue"`
	IntervalMins int    `yaml:"interval_mins" mapstructure:"interval_mins"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MonitoringConfig configures the status snapshot and alerting.
type MonitoringConfig struct {
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DLQDepthThreshold    int     `yaml:"dlq_depth_threshold" mapstructure:"dlq_depth_threshold"`
	BacklogThreshold     int     `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("INTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.normalize_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("anthropic.requests_per_second", 5)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("pricing.anthropic", map[string]any{
		"claude-haiku-4-5-20251001":  map[string]any{"input": 1.0, "output": 5.0, "cache_write_mul": 1.25, "cache_read_mul": 0.1},
		"claude-sonnet-4-5-20250929": map[string]any{"input": 3.0, "output": 15.0, "cache_write_mul": 1.25, "cache_read_mul": 0.1},
	})
	v.SetDefault("cluster.lookback_hours", 72)
	v.SetDefault("cluster.batch_size", 200)
	v.SetDefault("cluster.max_open_clusters", 100)
	v.SetDefault("cluster.match_threshold", 0.3)
	v.SetDefault("cluster.group_threshold", 0.25)
	v.SetDefault("cluster.repair_threshold", 0.22)
	v.SetDefault("cluster.repair_limit", 75)
	v.SetDefault("cluster.lock_ttl_secs", 300)
	v.SetDefault("enrich.concurrency", 3)
	v.SetDefault("enrich.batch_delay_ms", 1000)
	v.SetDefault("enrich.queue_size", 100)
	v.SetDefault("enrich.max_articles", 10)
	v.SetDefault("enrich.snippet_chars", 300)
	v.SetDefault("enrich.pending_limit", 50)
	v.SetDefault("network.concurrency", 3)
	v.SetDefault("network.recent_hours", 24)
	v.SetDefault("network.recent_limit", 100)
	v.SetDefault("network.min_strength", 0.3)
	v.SetDefault("network.graph_limit", 100)
	v.SetDefault("redis.channel", "intel:events")
	v.SetDefault("neo4j.user", "neo4j")
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "intel-cycle")
	v.SetDefault("temporal.interval_mins", 15)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.dlq_depth_threshold", 50)
	v.SetDefault("monitoring.backlog_threshold", 1000)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that required fields are present for the given mode.
// Modes: "store" (database only), "ai" (database and Anthropic key),
// "serve" (ai plus a port), "worker" (ai plus Temporal).
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be postgres or sqlite", c.Store.Driver))
	}

	switch mode {
	case "store":
	case "ai":
		errs = append(errs, c.requireAI()...)
	case "serve":
		errs = append(errs, c.requireAI()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "worker":
		errs = append(errs, c.requireAI()...)
		if c.Temporal.HostPort == "" {
			errs = append(errs, "temporal.host_port is required")
		}
		if c.Temporal.IntervalMins <= 0 {
			errs = append(errs, "temporal.interval_mins must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Cluster.BatchSize < 1 || c.Cluster.BatchSize > 200 {
		errs = append(errs, "cluster.batch_size must be between 1 and 200")
	}
	for name, v := range map[string]float64{
		"cluster.match_threshold":  c.Cluster.MatchThreshold,
		"cluster.group_threshold":  c.Cluster.GroupThreshold,
		"cluster.repair_threshold": c.Cluster.RepairThreshold,
		"network.min_strength":     c.Network.MinStrength,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, name+" must be between 0 and 1")
		}
	}
	if c.Enrich.Concurrency < 1 || c.Enrich.Concurrency > 50 {
		errs = append(errs, "enrich.concurrency must be between 1 and 50")
	}
	if c.Network.Concurrency < 1 || c.Network.Concurrency > 50 {
		errs = append(errs, "network.concurrency must be between 1 and 50")
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) requireAI() []string {
	if c.Anthropic.Key == "" {
		return []string{"anthropic.key is required"}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
