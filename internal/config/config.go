package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Resolve ResolveConfig `yaml:"resolve" mapstructure:"resolve"`
	Retry   RetryConfig   `yaml:"retry" mapstructure:"retry"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // postgres or sqlite
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
}

// ResolveConfig tunes the resolution passes.
type ResolveConfig struct {
	FuzzyThreshold   float64  `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`
	BlockPrefixLen   int      `yaml:"block_prefix_len" mapstructure:"block_prefix_len"`
	MergeBatchSize   int      `yaml:"merge_batch_size" mapstructure:"merge_batch_size"`
	CompareWorkers   int      `yaml:"compare_workers" mapstructure:"compare_workers"`
	LargeBucketWarn  int      `yaml:"large_bucket_warn" mapstructure:"large_bucket_warn"`
	BatchesPerSecond float64  `yaml:"batches_per_second" mapstructure:"batches_per_second"` // 0 = unlimited
	ClassifierFile   string   `yaml:"classifier_file" mapstructure:"classifier_file"`
	OwnerRoles       []string `yaml:"owner_roles" mapstructure:"owner_roles"`
	LockTTLMinutes   int      `yaml:"lock_ttl_minutes" mapstructure:"lock_ttl_minutes"`
}

// RetryConfig configures retries of transient storage failures.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// Load reads configuration from config.yaml (optional), environment variables
// prefixed with PORTFOLIO_, and built-in defaults.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PORTFOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "portfolio.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("resolve.fuzzy_threshold", 85.0)
	v.SetDefault("resolve.block_prefix_len", 4)
	v.SetDefault("resolve.merge_batch_size", 1000)
	v.SetDefault("resolve.compare_workers", 4)
	v.SetDefault("resolve.large_bucket_warn", 500)
	v.SetDefault("resolve.batches_per_second", 0.0)
	v.SetDefault("resolve.classifier_file", "")
	v.SetDefault("resolve.owner_roles", []string{
		"Owner", "HeadOfficer", "IndividualOwner", "CorporateOwner", "JointOwner", "Officer", "Shareholder",
	})
	v.SetDefault("resolve.lock_ttl_minutes", 360)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)

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

// Validate checks the settings a command needs. Mode is "store" for commands
// that only open the database, "resolve" for commands that also run passes.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}

	switch mode {
	case "store":
	case "resolve":
		r := c.Resolve
		if r.FuzzyThreshold <= 0 || r.FuzzyThreshold > 100 {
			errs = append(errs, "resolve.fuzzy_threshold must be in (0, 100]")
		}
		if r.BlockPrefixLen < 1 {
			errs = append(errs, "resolve.block_prefix_len must be >= 1")
		}
		if r.MergeBatchSize < 1 {
			errs = append(errs, "resolve.merge_batch_size must be >= 1")
		}
		if r.CompareWorkers < 1 || r.CompareWorkers > 64 {
			errs = append(errs, "resolve.compare_workers must be between 1 and 64")
		}
		if r.BatchesPerSecond < 0 {
			errs = append(errs, "resolve.batches_per_second must be >= 0")
		}
		if len(r.OwnerRoles) == 0 {
			errs = append(errs, "resolve.owner_roles must not be empty")
		}
		if r.LockTTLMinutes < 1 {
			errs = append(errs, "resolve.lock_ttl_minutes must be >= 1")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
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
