package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvJWTSecret overrides auth.hmac_secret so the secret can stay out of the
// config file.
const EnvJWTSecret = "LENDINGD_JWT_SECRET"

// Config captures the runtime settings for the lending service daemon.
type Config struct {
	ListenAddress string            `yaml:"listen"`
	Environment   string            `yaml:"env"`
	DataDir       string            `yaml:"data_dir"`
	GenesisPath   string            `yaml:"genesis"`
	Chain         ChainConfig       `yaml:"chain"`
	TLS           TLSConfig         `yaml:"tls"`
	Auth          AuthConfig        `yaml:"auth"`
	RateLimit     RateLimitConfig   `yaml:"rate_limit"`
	Idempotency   IdempotencyConfig `yaml:"idempotency"`
	Audit         AuditConfig       `yaml:"audit"`
	NATS          NATSConfig        `yaml:"nats"`
	Log           LogConfig         `yaml:"log"`
	Telemetry     TelemetryConfig   `yaml:"telemetry"`
	Rewards       RewardsConfig     `yaml:"rewards"`
}

// ChainConfig maps wall-clock time onto ledger periods.
type ChainConfig struct {
	GenesisTime   time.Time     `yaml:"genesis_time"`
	BlockInterval time.Duration `yaml:"block_interval"`
}

// TLSConfig describes the TLS material for the HTTP server.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig describes the bearer tokens accepted by the service. The token
// subject is the caller's account address.
type AuthConfig struct {
	HMACSecret string        `yaml:"hmac_secret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ClockSkew  time.Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds the request rate per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// IdempotencyConfig locates the bolt file that caches write responses.
type IdempotencyConfig struct {
	Path string        `yaml:"path"`
	TTL  time.Duration `yaml:"ttl"`
}

// AuditConfig selects the SQL database that records every write call.
type AuditConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// NATSConfig enables event publishing when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LogConfig controls the slog level and optional file rotation.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig controls the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Metrics     bool    `yaml:"metrics"`
	Traces      bool    `yaml:"traces"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// RewardsConfig seeds the reward treasury the first time the daemon starts.
type RewardsConfig struct {
	Budget string `yaml:"budget"`
}

const (
	defaultListen        = ":8090"
	defaultBlockInterval = 15 * time.Second
	defaultIdempotentTTL = 24 * time.Hour
)

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: defaultListen,
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		cfg.Auth.HMACSecret = secret
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.GenesisPath = strings.TrimSpace(cfg.GenesisPath)
	if cfg.Chain.BlockInterval <= 0 {
		cfg.Chain.BlockInterval = defaultBlockInterval
	}
	cfg.TLS.CertPath = strings.TrimSpace(cfg.TLS.CertPath)
	cfg.TLS.KeyPath = strings.TrimSpace(cfg.TLS.KeyPath)
	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.Audience = strings.TrimSpace(cfg.Auth.Audience)
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = 2 * time.Minute
	}
	cfg.Idempotency.Path = strings.TrimSpace(cfg.Idempotency.Path)
	if cfg.Idempotency.TTL <= 0 {
		cfg.Idempotency.TTL = defaultIdempotentTTL
	}
	cfg.Audit.Driver = strings.ToLower(strings.TrimSpace(cfg.Audit.Driver))
	cfg.Audit.DSN = strings.TrimSpace(cfg.Audit.DSN)
	cfg.NATS.URL = strings.TrimSpace(cfg.NATS.URL)
	cfg.NATS.SubjectPrefix = strings.Trim(strings.TrimSpace(cfg.NATS.SubjectPrefix), ".")
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "moneymarket"
	}
	cfg.Log.Level = strings.TrimSpace(cfg.Log.Level)
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
	cfg.Rewards.Budget = strings.TrimSpace(cfg.Rewards.Budget)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if cfg.Chain.GenesisTime.IsZero() {
		return fmt.Errorf("chain.genesis_time is required")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth: hmac_secret or %s must be set", EnvJWTSecret)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if cfg.Idempotency.Path == "" {
		return fmt.Errorf("idempotency: path is required")
	}
	switch cfg.Audit.Driver {
	case "":
	case "postgres", "sqlite":
		if cfg.Audit.DSN == "" {
			return fmt.Errorf("audit: dsn required for driver %q", cfg.Audit.Driver)
		}
	default:
		return fmt.Errorf("audit: unsupported driver %q", cfg.Audit.Driver)
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0,1]")
	}
	return nil
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	return nil
}

// Enabled reports whether the server should terminate TLS itself.
func (cfg TLSConfig) Enabled() bool {
	return cfg.CertPath != "" && cfg.KeyPath != ""
}

// HeightAt converts a wall-clock instant into a ledger period. Instants before
// genesis map to zero.
func (c ChainConfig) HeightAt(now time.Time) uint64 {
	if c.BlockInterval <= 0 || !now.After(c.GenesisTime) {
		return 0
	}
	return uint64(now.Sub(c.GenesisTime) / c.BlockInterval)
}
