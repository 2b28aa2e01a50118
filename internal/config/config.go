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
	CRM        CRMConfig        `yaml:"crm" mapstructure:"crm"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
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
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// CRMConfig holds credentials for the CRM providers.
type CRMConfig struct {
	GoHighLevel GoHighLevelConfig `yaml:"gohighlevel" mapstructure:"gohighlevel"`
	Salesforce  SalesforceConfig  `yaml:"salesforce" mapstructure:"salesforce"`
}

// GoHighLevelConfig holds GoHighLevel API settings. LocationID is the fallback
// used when a tenant does not set its own.
type GoHighLevelConfig struct {
	APIKey     string  `yaml:"api_key" mapstructure:"api_key"`
	LocationID string  `yaml:"location_id" mapstructure:"location_id"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	APIVersion string  `yaml:"api_version" mapstructure:"api_version"`
	RateLimit  float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID   string `yaml:"client_id" mapstructure:"client_id"`
	Username   string `yaml:"username" mapstructure:"username"`
	KeyPath    string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL   string `yaml:"login_url" mapstructure:"login_url"`
	LeadSource string `yaml:"lead_source" mapstructure:"lead_source"`
}

// ScoringConfig configures the intent scorer.
type ScoringConfig struct {
	RulesFile        string `yaml:"rules_file" mapstructure:"rules_file"`
	WatchRulesFile   bool   `yaml:"watch_rules_file" mapstructure:"watch_rules_file"`
	ReturnWindowDays int    `yaml:"return_window_days" mapstructure:"return_window_days"`
}

// ResilienceConfig configures retries and the circuit breaker around CRM calls.
type ResilienceConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// MonitoringConfig configures the health collector and alerter.
type MonitoringConfig struct {
	WebhookURL                 string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	LookbackHours              int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	SyncFailureRateThreshold   float64 `yaml:"sync_failure_rate_threshold" mapstructure:"sync_failure_rate_threshold"`
	ConsentEscalationThreshold int     `yaml:"consent_escalation_threshold" mapstructure:"consent_escalation_threshold"`
	CheckIntervalMins          int     `yaml:"check_interval_mins" mapstructure:"check_interval_mins"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SPECTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("crm.gohighlevel.base_url", "https://services.leadconnectorhq.com")
	v.SetDefault("crm.gohighlevel.api_version", "2021-07-28")
	v.SetDefault("crm.gohighlevel.rate_limit", 10)
	v.SetDefault("crm.salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("crm.salesforce.lead_source", "Specter")
	v.SetDefault("scoring.return_window_days", 30)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 5000)
	v.SetDefault("resilience.multiplier", 2.0)
	v.SetDefault("resilience.jitter_fraction", 0.25)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.sync_failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.consent_escalation_threshold", 500)
	v.SetDefault("monitoring.check_interval_mins", 15)

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

// Validate checks the settings required by the given command mode.
// Modes: "serve", "ingest", "store", "monitor".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver (SPECTER_STORE_DATABASE_URL)")
		}
	case "sqlite":
	default:
		errs = append(errs, "store.driver must be postgres or sqlite, got "+c.Store.Driver)
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
		if c.Server.MaxBodyBytes <= 0 {
			errs = append(errs, "server.max_body_bytes must be > 0")
		}
	case "monitor":
		if c.Monitoring.LookbackHours <= 0 {
			errs = append(errs, "monitoring.lookback_hours must be > 0")
		}
		if c.Monitoring.SyncFailureRateThreshold < 0 || c.Monitoring.SyncFailureRateThreshold > 1 {
			errs = append(errs, "monitoring.sync_failure_rate_threshold must be between 0 and 1")
		}
	case "ingest", "store":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Scoring.WatchRulesFile && c.Scoring.RulesFile == "" {
		errs = append(errs, "scoring.watch_rules_file requires scoring.rules_file")
	}
	if c.Scoring.ReturnWindowDays < 0 {
		errs = append(errs, "scoring.return_window_days must be >= 0")
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
