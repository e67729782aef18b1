package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	IPInfo     IPInfoConfig     `yaml:"ipinfo" mapstructure:"ipinfo"`
	Apollo     ApolloConfig     `yaml:"apollo" mapstructure:"apollo"`
	Resolver   ResolverConfig   `yaml:"resolver" mapstructure:"resolver"`
	Enrichment EnrichmentConfig `yaml:"enrichment" mapstructure:"enrichment"`
	Dedup      DedupConfig      `yaml:"dedup" mapstructure:"dedup"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// IPInfoConfig holds ASN/org lookup API settings.
type IPInfoConfig struct {
	Token         string  `yaml:"token" mapstructure:"token"`
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	CacheTTLHours int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit     float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	PersistCache  bool    `yaml:"persist_cache" mapstructure:"persist_cache"`
}

// ApolloConfig holds firmographic API settings.
type ApolloConfig struct {
	Key           string  `yaml:"key" mapstructure:"key"`
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	CacheTTLHours int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit     float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ResolverConfig configures the identity cascade.
type ResolverConfig struct {
	DNSTimeoutSecs int `yaml:"dns_timeout_secs" mapstructure:"dns_timeout_secs"`
}

// EnrichmentConfig configures the enrichment task processor.
type EnrichmentConfig struct {
	BatchSize   int `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// DedupConfig configures the IP dedup cycle.
type DedupConfig struct {
	VisitPageSize   int `yaml:"visit_page_size" mapstructure:"visit_page_size"`
	SessionPageSize int `yaml:"session_page_size" mapstructure:"session_page_size"`
	Concurrency     int `yaml:"concurrency" mapstructure:"concurrency"`
}

// CircuitConfig configures the circuit breakers on external APIs.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// MonitoringConfig configures background alert checks.
type MonitoringConfig struct {
	Enabled                 bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs       int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailureRateThreshold    float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	PendingBacklogThreshold int     `yaml:"pending_backlog_threshold" mapstructure:"pending_backlog_threshold"`
	WebhookURL              string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VISITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Secrets default to empty so AutomaticEnv binds them on Unmarshal.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("ipinfo.token", "")
	v.SetDefault("ipinfo.base_url", "https://ipinfo.io")
	v.SetDefault("ipinfo.cache_ttl_hours", 24)
	v.SetDefault("ipinfo.timeout_secs", 10)
	v.SetDefault("ipinfo.rate_limit", 10)
	v.SetDefault("ipinfo.persist_cache", false)
	v.SetDefault("apollo.key", "")
	v.SetDefault("apollo.base_url", "https://api.apollo.io/api/v1")
	v.SetDefault("apollo.cache_ttl_hours", 168)
	v.SetDefault("apollo.timeout_secs", 30)
	v.SetDefault("apollo.rate_limit", 5)
	v.SetDefault("resolver.dns_timeout_secs", 5)
	v.SetDefault("enrichment.batch_size", 20)
	v.SetDefault("enrichment.concurrency", 5)
	v.SetDefault("dedup.visit_page_size", 100)
	v.SetDefault("dedup.session_page_size", 50)
	v.SetDefault("dedup.concurrency", 5)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.pending_backlog_threshold", 500)
	v.SetDefault("monitoring.webhook_url", "")

	// Read config file (optional)
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

// Validate checks the settings a command mode depends on and reports every
// problem at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve", "enrich", "dedup", "resolve", "migrate", "ranges", "status":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	if mode == "serve" || mode == "enrich" {
		if c.Apollo.Key == "" {
			errs = append(errs, "apollo.key is required")
		}
		if c.Enrichment.BatchSize < 1 {
			errs = append(errs, "enrichment.batch_size must be > 0")
		}
		if c.Enrichment.Concurrency < 1 || c.Enrichment.Concurrency > 50 {
			errs = append(errs, "enrichment.concurrency must be between 1 and 50")
		}
	}

	if mode == "serve" || mode == "dedup" {
		if c.Dedup.VisitPageSize < 1 || c.Dedup.SessionPageSize < 1 {
			errs = append(errs, "dedup page sizes must be > 0")
		}
		if c.Dedup.Concurrency < 1 || c.Dedup.Concurrency > 50 {
			errs = append(errs, "dedup.concurrency must be between 1 and 50")
		}
	}

	if mode == "serve" {
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Monitoring.Enabled && (c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1) {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
