// Package config loads application configuration from file and environment
// and wires the global logger.
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
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Eval    EvalConfig    `yaml:"eval" mapstructure:"eval"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// TokenEntry maps an API token to a username.
type TokenEntry struct {
	Token    string `yaml:"token" mapstructure:"token"`
	Username string `yaml:"username" mapstructure:"username"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int          `yaml:"port" mapstructure:"port"`
	APITokens      []TokenEntry `yaml:"api_tokens" mapstructure:"api_tokens"`
	RatePerSecond  float64      `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	RateBurst      int          `yaml:"rate_burst" mapstructure:"rate_burst"`
	MaxUploadBytes int64        `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
}

// StorageConfig configures file handling.
type StorageConfig struct {
	UploadDir       string `yaml:"upload_dir" mapstructure:"upload_dir"`
	TempDir         string `yaml:"temp_dir" mapstructure:"temp_dir"`
	DownloadTimeout int    `yaml:"download_timeout_secs" mapstructure:"download_timeout_secs"`
	MaxRetries      int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// EvalConfig configures batch evaluation.
type EvalConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MLBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "mlboard.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_per_second", 10)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.max_upload_bytes", 64<<20)
	v.SetDefault("storage.upload_dir", "uploads")
	v.SetDefault("storage.download_timeout_secs", 30)
	v.SetDefault("storage.max_retries", 3)
	v.SetDefault("eval.max_concurrent", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the fields required by the given run mode.
func (c *Config) Validate(mode string) error {
	var missing []string

	check := func(ok bool, msg string) {
		if !ok {
			missing = append(missing, msg)
		}
	}

	check(c.Store.Driver == "sqlite" || c.Store.Driver == "postgres",
		"store.driver must be sqlite or postgres")
	check(c.Store.DatabaseURL != "", "store.database_url is required")
	check(c.Eval.MaxConcurrent >= 1 && c.Eval.MaxConcurrent <= 64,
		"eval.max_concurrent must be between 1 and 64")

	switch mode {
	case "serve":
		check(c.Server.Port > 0, "server.port must be > 0")
		check(c.Server.RatePerSecond > 0, "server.rate_per_second must be > 0")
		check(c.Storage.UploadDir != "", "storage.upload_dir is required")
	case "cli":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: invalid configuration: %s", strings.Join(missing, "; "))
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
