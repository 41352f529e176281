package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/app/guard"
	"github.com/NeuralTrust/TrustGuard/pkg/app/history"
	"github.com/NeuralTrust/TrustGuard/pkg/app/incident"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/alerting"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/auditlogs"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/breaker"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/database"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/ratelimit"
	"github.com/spf13/viper"
)

const (
	RateLimitBackendRedis  = "redis"
	RateLimitBackendMemory = "memory"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Database  database.Config `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Guard     guard.Config    `mapstructure:"guard"`
	History   history.Config  `mapstructure:"history"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Incident  incident.Config `mapstructure:"incident"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
}

type ServerConfig struct {
	AdminPort       int           `mapstructure:"admin_port"`
	ProxyPort       int           `mapstructure:"proxy_port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	UpstreamURL     string        `mapstructure:"upstream_url"`
	SecretKey       string        `mapstructure:"secret_key"`
	InstanceID      string        `mapstructure:"instance_id"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	UpstreamTimeout time.Duration `mapstructure:"upstream_timeout"`
	TLS             TLSConfig     `mapstructure:"tls"`
}

type MetricsConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	EnableProcess   bool `mapstructure:"enable_process"`
	EnableScoreHist bool `mapstructure:"enable_score_hist"`
	QueueSize       int  `mapstructure:"queue_size"`
	Workers         int  `mapstructure:"workers"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TLS      bool   `mapstructure:"tls"`
}

// Enabled reports whether Redis is configured. Without it rate limiting runs in memory and
// blocklist changes are not propagated to other instances.
func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

type BreakerConfig struct {
	Defaults  breaker.Config            `mapstructure:"defaults"`
	Overrides map[string]breaker.Config `mapstructure:"overrides"`
}

type AuditConfig struct {
	auditlogs.Config `mapstructure:",squash"`
	MemoryEvents     int `mapstructure:"memory_events"`
	DedupeSize       int `mapstructure:"dedupe_size"`
}

type RateLimitConfig struct {
	Enabled       bool             `mapstructure:"enabled"`
	Backend       string           `mapstructure:"backend"`
	Report        bool             `mapstructure:"report"`
	SweepInterval time.Duration    `mapstructure:"sweep_interval"`
	Rules         []ratelimit.Rule `mapstructure:"rules"`
}

type AlertingConfig struct {
	Channels []alerting.ChannelConfig `mapstructure:"channels"`
}

// Load reads config.yaml from configPath, ./config or the working directory and applies
// environment overrides such as SERVER_PROXY_PORT. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file config.yaml: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.admin_port", 8080)
	v.SetDefault("server.proxy_port", 8081)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.upstream_url", "")
	v.SetDefault("server.secret_key", "")
	v.SetDefault("server.instance_id", "")
	v.SetDefault("server.read_timeout", 60*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.upstream_timeout", 30*time.Second)
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.max_version", "TLS13")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.enable_process", true)
	v.SetDefault("metrics.enable_score_hist", true)
	v.SetDefault("metrics.queue_size", 10000)
	v.SetDefault("metrics.workers", 2)

	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "trustguard")
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.tls", false)

	v.SetDefault("guard.notable_score", guard.DefaultNotableScore)

	v.SetDefault("history.max_entries", history.DefaultMaxEntries)
	v.SetDefault("history.retention", history.DefaultRetention)
	v.SetDefault("history.prune_interval", history.DefaultPruneInterval)

	d := breaker.DefaultConfig()
	v.SetDefault("breaker.defaults.timeout", d.Timeout)
	v.SetDefault("breaker.defaults.error_threshold_percentage", d.ErrorThresholdPercentage)
	v.SetDefault("breaker.defaults.rolling_count_timeout", d.RollingCountTimeout)
	v.SetDefault("breaker.defaults.reset_timeout", d.ResetTimeout)
	v.SetDefault("breaker.defaults.volume_threshold", d.VolumeThreshold)
	v.SetDefault("breaker.defaults.half_open_max_requests", d.HalfOpenMaxRequests)

	v.SetDefault("audit.buffer_size", auditlogs.DefaultBufferSize)
	v.SetDefault("audit.flush_interval", auditlogs.DefaultFlushInterval)
	v.SetDefault("audit.max_buffer", auditlogs.DefaultMaxBuffer)
	v.SetDefault("audit.memory_events", 10000)
	v.SetDefault("audit.dedupe_size", 50000)

	v.SetDefault("incident.workers", incident.DefaultWorkers)
	v.SetDefault("incident.queue_size", incident.DefaultQueueSize)
	v.SetDefault("incident.retry_base", incident.DefaultRetryBase)
	v.SetDefault("incident.retry_max", incident.DefaultRetryMax)
	v.SetDefault("incident.outbox_size", incident.DefaultOutboxSize)
	v.SetDefault("incident.monitor_ttl", incident.DefaultMonitorTTL)
	v.SetDefault("incident.profile_ttl", incident.DefaultProfileTTL)
	v.SetDefault("incident.evidence_history", incident.DefaultEvidenceHistory)
	v.SetDefault("incident.max_related", incident.DefaultMaxRelated)
	v.SetDefault("incident.handle_timeout", incident.DefaultHandleTimeout)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.backend", RateLimitBackendMemory)
	v.SetDefault("rate_limit.report", true)
	v.SetDefault("rate_limit.sweep_interval", time.Minute)
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	for name, port := range map[string]int{
		"server.admin_port":   c.Server.AdminPort,
		"server.proxy_port":   c.Server.ProxyPort,
		"server.metrics_port": c.Server.MetricsPort,
	} {
		if port <= 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s: invalid port %d", name, port))
		}
	}
	if c.Server.UpstreamURL != "" {
		u, err := url.Parse(c.Server.UpstreamURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.upstream_url: %q is not an absolute url", c.Server.UpstreamURL))
		}
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls: cert_file and key_file are required"))
	}
	if c.Guard.NotableScore < 0 || c.Guard.NotableScore > 100 {
		errs = append(errs, fmt.Errorf("guard.notable_score: %d out of range 0-100", c.Guard.NotableScore))
	}
	if c.Breaker.Defaults.ErrorThresholdPercentage > 100 {
		errs = append(errs, fmt.Errorf("breaker.defaults.error_threshold_percentage: %d over 100",
			c.Breaker.Defaults.ErrorThresholdPercentage))
	}
	if c.Audit.MaxBuffer > 0 && c.Audit.BufferSize > c.Audit.MaxBuffer {
		errs = append(errs, fmt.Errorf("audit: buffer_size %d exceeds max_buffer %d", c.Audit.BufferSize, c.Audit.MaxBuffer))
	}
	switch c.RateLimit.Backend {
	case RateLimitBackendMemory:
	case RateLimitBackendRedis:
		if !c.Redis.Enabled() {
			errs = append(errs, errors.New("rate_limit.backend redis requires redis.host"))
		}
	default:
		errs = append(errs, fmt.Errorf("rate_limit.backend: unknown backend %q", c.RateLimit.Backend))
	}
	for i, rule := range c.RateLimit.Rules {
		if rule.Limit <= 0 || rule.Window <= 0 {
			errs = append(errs, fmt.Errorf("rate_limit.rules[%d]: limit and window must be positive", i))
		}
	}
	for i, ch := range c.Alerting.Channels {
		if ch.Name == "" {
			errs = append(errs, fmt.Errorf("alerting.channels[%d]: name is required", i))
		}
	}
	return errors.Join(errs...)
}
