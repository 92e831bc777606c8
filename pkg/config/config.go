// Package config loads the optional par3 defaults file. CLI flags always
// win; the file and PAR3_* environment variables only supply defaults for
// values the user left unset.
//
// Sources in order of precedence:
//  1. CLI flags (applied by the commands, highest)
//  2. Environment variables (PAR3_*)
//  3. Configuration file (YAML)
//  4. Built-in defaults (lowest)
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/par3/internal/bytesize"
)

// Config holds the defaults a user can persist.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// BlockCount is the target input block count when no block size is
	// given on the command line.
	BlockCount uint64 `mapstructure:"block_count" validate:"omitempty,gt=0" yaml:"block_count"`

	// Redundancy is the default redundancy percentage for create.
	Redundancy uint64 `mapstructure:"redundancy" validate:"lte=1000" yaml:"redundancy"`

	// MemoryLimit bounds codec working memory ("512Mi", "1Gi", ...).
	MemoryLimit bytesize.ByteSize `mapstructure:"memory_limit" yaml:"memory_limit"`

	// DedupLevel is the default deduplication level (0, 1 or 2).
	DedupLevel int `mapstructure:"dedup_level" validate:"gte=0,lte=2" yaml:"dedup_level"`

	// ECC selects the default codec: "cauchy" or "fft".
	ECC string `mapstructure:"ecc" validate:"omitempty,oneof=cauchy fft" yaml:"ecc"`

	// RepetitionLimit caps metadata duplication inside each volume.
	RepetitionLimit int `mapstructure:"repetition_limit" validate:"gte=0" yaml:"repetition_limit"`
}

// LoggingConfig mirrors internal/logger.Config.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR" yaml:"level"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// ApplyDefaults fills unset fields with built-in values. Explicit values
// are preserved.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
	if cfg.BlockCount == 0 {
		cfg.BlockCount = 1000
	}
	if cfg.Redundancy == 0 {
		cfg.Redundancy = 10
	}
	if cfg.ECC == "" {
		cfg.ECC = "cauchy"
	}
}

// Validate checks the configuration with the struct tags above.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("config field %s: failed %q validation", e.Namespace(), e.Tag())
		}
		return err
	}
	return nil
}

// Load reads the configuration file at configPath, or the default
// location when empty. A missing file is not an error: defaults apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	decode := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(byteSizeDecodeHook()))
	if err := v.Unmarshal(cfg, decode); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultConfigDir())
	}
	v.SetEnvPrefix("PAR3")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees keys viper knows about; bind every key so a
	// PAR3_* variable applies even when the file does not set it.
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"block_count", "redundancy", "memory_limit",
		"dedup_level", "ecc", "repetition_limit",
	} {
		_ = v.BindEnv(key)
	}
}

// byteSizeDecodeHook parses human-readable sizes into bytesize.ByteSize.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int, int64, uint64, float64:
			return data, nil
		default:
			return data, nil
		}
	}
}

// Save writes the configuration as YAML, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultConfigDir returns $XDG_CONFIG_HOME/par3 (or ~/.config/par3).
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "par3")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "par3")
}
