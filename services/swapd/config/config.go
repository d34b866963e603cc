package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for swapd.
type Config struct {
	ListenAddress  string          `yaml:"listen"`
	ProtocolPath   string          `yaml:"protocol"`
	MaxConnections int             `yaml:"max_connections"`
	StreamOrigins  []string        `yaml:"stream_origins"`
	ShutdownGrace  Duration        `yaml:"shutdown_grace"`
	Archive        ArchiveConfig   `yaml:"archive"`
	Auth           AuthConfig      `yaml:"auth"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Feeder         FeederConfig    `yaml:"feeder"`
	Telemetry      TelemetryConfig `yaml:"telemetry"`
	Logging        LoggingConfig   `yaml:"logging"`
}

// ArchiveConfig selects the event archive database. DSNs starting with
// postgres:// or postgresql:// use Postgres, anything else is SQLite.
type ArchiveConfig struct {
	DSN       string `yaml:"dsn"`
	BatchSize int    `yaml:"batch_size"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	SecretEnv string   `yaml:"secret_env"`
	Issuer    string   `yaml:"issuer"`
	Audience  string   `yaml:"audience"`
	ClockSkew Duration `yaml:"clock_skew"`
	// Secret is resolved from SecretEnv at load time and never read from
	// the file.
	Secret string `yaml:"-"`
}

// RateLimitConfig bounds requests per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// FeederConfig drives the background price reporter.
type FeederConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Reporter string   `yaml:"reporter"`
	Quote    string   `yaml:"quote"`
	Assets   []string `yaml:"assets"`
	Interval Duration `yaml:"interval"`
	MaxAge   Duration `yaml:"max_age"`
	MinFeeds int      `yaml:"min_feeds"`
	Sources  []Source `yaml:"sources"`
}

// Source describes an upstream price feed.
type Source struct {
	Name     string            `yaml:"name"`
	Type     string            `yaml:"type"`
	Endpoint string            `yaml:"endpoint"`
	Assets   map[string]string `yaml:"assets"`
	Rates    map[string]string `yaml:"rates"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	SampleRatio float64           `yaml:"sample_ratio"`
}

// LoggingConfig configures the service logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if env := strings.TrimSpace(cfg.Auth.SecretEnv); env != "" {
		cfg.Auth.Secret = strings.TrimSpace(os.Getenv(env))
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7074"
	}
	if cfg.ProtocolPath == "" {
		cfg.ProtocolPath = "swapcore.toml"
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1024
	}
	if cfg.ShutdownGrace.Duration == 0 {
		cfg.ShutdownGrace.Duration = 10 * time.Second
	}
	if cfg.Archive.DSN == "" {
		cfg.Archive.DSN = "swapd-archive.sqlite"
	}
	if cfg.Archive.BatchSize <= 0 {
		cfg.Archive.BatchSize = 256
	}
	if cfg.Auth.SecretEnv == "" {
		cfg.Auth.SecretEnv = "SWAPD_JWT_SECRET"
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "swapd"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 50
	}
	if cfg.Feeder.Quote == "" {
		cfg.Feeder.Quote = "USD"
	}
	if cfg.Feeder.Interval.Duration == 0 {
		cfg.Feeder.Interval.Duration = 30 * time.Second
	}
	if cfg.Feeder.MaxAge.Duration == 0 {
		cfg.Feeder.MaxAge.Duration = 2 * time.Minute
	}
	if cfg.Feeder.MinFeeds <= 0 {
		cfg.Feeder.MinFeeds = 1
	}
	if cfg.Telemetry.SampleRatio == 0 {
		cfg.Telemetry.SampleRatio = 1
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validate(cfg Config) error {
	if cfg.Auth.Secret == "" {
		return fmt.Errorf("auth: %s must hold the token signing secret", cfg.Auth.SecretEnv)
	}
	if len(cfg.Auth.Secret) < 32 {
		return fmt.Errorf("auth: signing secret must be at least 32 bytes")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0,1]")
	}
	if !cfg.Feeder.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Feeder.Reporter) == "" {
		return fmt.Errorf("feeder: reporter identity must be configured")
	}
	if len(cfg.Feeder.Assets) == 0 {
		return fmt.Errorf("feeder: at least one asset must be configured")
	}
	if len(cfg.Feeder.Sources) == 0 {
		return fmt.Errorf("feeder: at least one price source must be configured")
	}
	if cfg.Feeder.MinFeeds > len(cfg.Feeder.Sources) {
		return fmt.Errorf("feeder: min_feeds exceeds configured sources")
	}
	return nil
}
