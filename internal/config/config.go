// Package config loads the explicit configuration struct recognized by the
// service. Options map directly to their canonical env var names; unknown
// env vars are ignored rather than silently accepted into the struct.
package config

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration, loaded from environment variables.
type Config struct {
	// Server
	Host    string `env:"HOST" envDefault:"0.0.0.0"`
	Port    int    `env:"PORT" envDefault:"8080"`
	Workers int    `env:"WORKERS" envDefault:"8"`
	Debug   bool   `env:"DEBUG" envDefault:"false"`

	// Working directories
	WorkingDir   string `env:"WORKING_DIR" envDefault:"./data/kb"`
	QAStorageDir string `env:"QA_STORAGE_DIR" envDefault:"./data/qa"`
	LogDir       string `env:"LOG_DIR" envDefault:"./data/logs"`
	UploadDir    string `env:"UPLOAD_DIR" envDefault:"./data/uploads"`

	// Logging / tracing
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"LOG_FORMAT" envDefault:"json"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	MetricsPath  string `env:"METRICS_PATH" envDefault:"/metrics"`

	// Optional durable audit sink (ambient compliance trail, not primary storage)
	AuditDatabaseURL  string `env:"AUDIT_DATABASE_URL"`
	AuditMigrationDir string `env:"AUDIT_MIGRATIONS_DIR" envDefault:"migrations/audit"`

	// Redis (pinged at startup only; cache and rate-limit state stay in-process)
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// LLM
	LLMAPIBase string `env:"LLM_API_BASE"`
	LLMAPIKey  string `env:"LLM_API_KEY"`
	LLMModel   string `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	LLMTimeout string `env:"LLM_TIMEOUT" envDefault:"240s"`

	// Embedding
	EmbeddingAPIBase string `env:"EMBEDDING_API_BASE"`
	EmbeddingAPIKey  string `env:"EMBEDDING_API_KEY"`
	EmbeddingModel   string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingDim     int    `env:"EMBEDDING_DIM" envDefault:"1536"`
	EmbeddingTimeout string `env:"EMBEDDING_TIMEOUT" envDefault:"240s"`

	// Rerank
	RerankEnabled bool   `env:"RERANK_ENABLED" envDefault:"false"`
	RerankModel   string `env:"RERANK_MODEL"`
	RerankTimeout string `env:"RERANK_TIMEOUT" envDefault:"240s"`

	// Cache
	EnableCache         bool   `env:"ENABLE_CACHE" envDefault:"true"`
	CacheTTL            string `env:"CACHE_TTL" envDefault:"1h"`
	PerCacheSizeLimitMB int    `env:"PER_CACHE_SIZE_LIMIT_MB" envDefault:"256"`

	// Proxy / identity headers
	EnableProxyHeaders bool     `env:"ENABLE_PROXY_HEADERS" envDefault:"true"`
	TrustedProxyIPs    []string `env:"TRUSTED_PROXY_IPS" envSeparator:","`
	UserIDHeader       string   `env:"USER_ID_HEADER" envDefault:"X-User-Id"`
	ClientIDHeader     string   `env:"CLIENT_ID_HEADER" envDefault:"X-Client-Id"`
	UserTierHeader     string   `env:"USER_TIER_HEADER" envDefault:"X-User-Tier"`

	// Rate limiting
	RateLimitRequests  int            `env:"RATE_LIMIT_REQUESTS" envDefault:"60"`
	RateLimitWindow    int            `env:"RATE_LIMIT_WINDOW" envDefault:"60"`
	RateLimitTiers     map[string]int `env:"RATE_LIMIT_TIERS" envSeparator:"," envKeyValSeparator:"="`
	MinIntervalPerUser float64        `env:"MIN_INTERVAL_PER_USER" envDefault:"0"`
	BucketTableMaxSize int            `env:"RATE_LIMIT_BUCKET_TABLE_MAX" envDefault:"100000"`

	// Uploads
	MaxFileSizeMB    int      `env:"MAX_FILE_SIZE_MB" envDefault:"50"`
	AllowedFileTypes []string `env:"ALLOWED_FILE_TYPES" envSeparator:"," envDefault:"application/pdf,text/plain,text/markdown,application/json,text/csv"`

	// Intent engine
	IntentConfidenceThreshold float64 `env:"INTENT_CONFIDENCE_THRESHOLD" envDefault:"0.6"`
	IntentEnableLLM           bool    `env:"INTENT_ENABLE_LLM" envDefault:"false"`
	IntentSensitiveVocabPath  string  `env:"INTENT_SENSITIVE_VOCABULARY_PATH"`
	IntentEnableEnhancement   bool    `env:"INTENT_ENABLE_ENHANCEMENT" envDefault:"true"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Lock timeouts
	LockTimeout string `env:"LOCK_TIMEOUT" envDefault:"30s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	if cfg.RateLimitTiers == nil {
		cfg.RateLimitTiers = map[string]int{
			"default":    30,
			"free":       30,
			"pro":        300,
			"enterprise": 3000,
		}
	}
	return cfg, nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate runs the startup checks that --no-check is allowed to skip. It
// never gates request middleware, only process-start sanity checks.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if _, ok := c.RateLimitTiers["default"]; !ok {
		return fmt.Errorf("rate_limit_tiers must define a %q entry", "default")
	}
	for _, cidr := range c.TrustedProxyIPs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		if _, err := netip.ParseAddr(cidr); err == nil {
			continue
		}
		if _, err := netip.ParsePrefix(cidr); err != nil {
			return fmt.Errorf("trusted_proxy_ips entry %q is not a valid IP or CIDR", cidr)
		}
	}
	return nil
}
