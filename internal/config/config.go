package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	KVBackendPostgres = "postgres"
	KVBackendRedis    = "redis"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"CURATE_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"CURATE_DB_MAX_CONNS" default:"8"`

	KVBackend string `envconfig:"KV_BACKEND" default:"postgres"`
	RedisURL  string `envconfig:"REDIS_URL" default:""`

	// Bcrypt hash of the operator bearer token. Empty disables the check.
	APITokenHash string `envconfig:"API_TOKEN_HASH" default:""`

	AdmissionMinWords     int `envconfig:"ADMISSION_MIN_WORDS" default:"100"`
	AdmissionRecencyDays  int `envconfig:"ADMISSION_RECENCY_DAYS" default:"7"`
	ProcessedMinQuality   int `envconfig:"PROCESSED_MIN_QUALITY" default:"60"`
	ProcessedMinRelevance int `envconfig:"PROCESSED_MIN_RELEVANCE" default:"5"`
	ProcessedMinWords     int `envconfig:"PROCESSED_MIN_WORDS" default:"150"`

	IngestMinInterval  time.Duration `envconfig:"INGEST_MIN_INTERVAL" default:"30s"`
	CompetitorCacheTTL time.Duration `envconfig:"COMPETITOR_CACHE_TTL" default:"10m"`

	HealthMinGroupSize int           `envconfig:"HEALTH_MIN_GROUP_SIZE" default:"3"`
	HealthMinAttempts  int           `envconfig:"HEALTH_MIN_ATTEMPTS" default:"5"`
	ProbeTimeout       time.Duration `envconfig:"PROBE_TIMEOUT" default:"15s"`

	TriageWindowHours int `envconfig:"LINK_TRIAGE_WINDOW_HOURS" default:"72"`
	RetentionDays     int `envconfig:"RETENTION_DAYS" default:"90"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("CURATE_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("CURATE_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("CURATE_DB_MIN_CONNS (%d) cannot exceed CURATE_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	switch c.NormalizedKVBackend() {
	case KVBackendPostgres:
	case KVBackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("REDIS_URL is required when KV_BACKEND=redis")
		}
	default:
		return fmt.Errorf("KV_BACKEND must be %q or %q, got %q", KVBackendPostgres, KVBackendRedis, c.KVBackend)
	}

	if c.AdmissionMinWords < 1 {
		return fmt.Errorf("ADMISSION_MIN_WORDS must be >= 1")
	}
	if c.AdmissionRecencyDays < 0 {
		return fmt.Errorf("ADMISSION_RECENCY_DAYS must be >= 0")
	}
	if c.ProcessedMinQuality < 0 || c.ProcessedMinQuality > 100 {
		return fmt.Errorf("PROCESSED_MIN_QUALITY must be within [0,100]")
	}
	if c.ProcessedMinRelevance < 0 || c.ProcessedMinRelevance > 100 {
		return fmt.Errorf("PROCESSED_MIN_RELEVANCE must be within [0,100]")
	}
	if c.ProcessedMinWords < 0 {
		return fmt.Errorf("PROCESSED_MIN_WORDS must be >= 0")
	}
	if c.IngestMinInterval < 0 {
		return fmt.Errorf("INGEST_MIN_INTERVAL must be >= 0")
	}
	if c.HealthMinGroupSize < 1 {
		return fmt.Errorf("HEALTH_MIN_GROUP_SIZE must be >= 1")
	}
	if c.HealthMinAttempts < 0 {
		return fmt.Errorf("HEALTH_MIN_ATTEMPTS must be >= 0")
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("PROBE_TIMEOUT must be > 0")
	}
	if c.TriageWindowHours < 1 {
		return fmt.Errorf("LINK_TRIAGE_WINDOW_HOURS must be >= 1")
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("RETENTION_DAYS must be >= 1")
	}
	return nil
}

func (c *Config) NormalizedKVBackend() string {
	if c == nil {
		return KVBackendPostgres
	}
	backend := strings.ToLower(strings.TrimSpace(c.KVBackend))
	if backend == "" {
		return KVBackendPostgres
	}
	return backend
}

// RecencyWindow returns zero when the recency gate is disabled.
func (c *Config) RecencyWindow() time.Duration {
	if c == nil || c.AdmissionRecencyDays <= 0 {
		return 0
	}
	return time.Duration(c.AdmissionRecencyDays) * 24 * time.Hour
}

func (c *Config) TriageWindow() time.Duration {
	return time.Duration(c.TriageWindowHours) * time.Hour
}

func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
