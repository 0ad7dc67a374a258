package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the merged configuration of a command run.
//
// Precedence (highest to lowest):
//  1. Command-line flags
//  2. Environment variables (SQPACK_*)
//  3. Configuration file
//  4. Default values
type Config struct {
	Root     string        `mapstructure:"root"`
	Platform string        `mapstructure:"platform"`
	Logging  LoggingConfig `mapstructure:"logging"`
	Cache    CacheConfig   `mapstructure:"cache"`
	Lock     LockConfig    `mapstructure:"lock"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig selects the log handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// CacheConfig enables the on-disk extraction cache when Dir is set.
type CacheConfig struct {
	Dir      string `mapstructure:"dir"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

// LockConfig controls the advisory lock on the game root.
type LockConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// MetricsConfig exposes Prometheus metrics while a command runs.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// flagKeys maps config keys to the flags that override them.
var flagKeys = map[string]string{
	"root":           "root",
	"platform":       "platform",
	"logging.level":  "log-level",
	"logging.format": "log-format",
	"cache.dir":      "cache-dir",
	"lock.timeout":   "lock-timeout",
	"metrics.addr":   "metrics-addr",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("root", ".")
	v.SetDefault("platform", "win32")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.max_bytes", 0)
	v.SetDefault("lock.timeout", 10*time.Second)
	v.SetDefault("metrics.addr", "")
}

// LoadConfig reads configPath (optional), SQPACK_* environment variables
// and the flags present in flags.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SQPACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := readConfigFile(v); err != nil {
			return nil, err
		}
	}

	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// readConfigFile reads the configuration file. A missing file is not an
// error; the defaults apply.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Root == "" {
		return errors.New("root must not be empty")
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", cfg.Logging.Format)
	}
	if cfg.Cache.MaxBytes < 0 {
		return errors.New("cache.max_bytes must not be negative")
	}
	if cfg.Lock.Timeout < 0 {
		return errors.New("lock.timeout must not be negative")
	}
	return nil
}
