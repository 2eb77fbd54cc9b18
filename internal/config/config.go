package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreDir = "dir"
	StoreS3  = "s3"
)

type Config struct {
	Region         string        `mapstructure:"aws_region"`
	ModelID        string        `mapstructure:"model_id"`
	ModelIDParam   string        `mapstructure:"model_id_param"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	Store          string        `mapstructure:"store"`
	OutputDir      string        `mapstructure:"output_dir"`
	Bucket         string        `mapstructure:"bucket"`
	Prefix         string        `mapstructure:"prefix"`
	SiteURL        string        `mapstructure:"site_url"`
	Distribution   string        `mapstructure:"distribution"`
	LogLevel       string        `mapstructure:"log_level"`
}

var defaults = map[string]any{
	"aws_region":      "",
	"model_id":        "amazon.nova-canvas-v1:0",
	"model_id_param":  "",
	"max_attempts":    3,
	"initial_backoff": time.Second,
	"max_backoff":     8 * time.Second,
	"attempt_timeout": 90 * time.Second,
	"store":           StoreDir,
	"output_dir":      "output",
	"bucket":          "",
	"prefix":          "runs",
	"site_url":        "",
	"distribution":    "",
	"log_level":       "info",
}

// Load reads configuration from the environment, an optional .env file and
// an optional canvas.yaml. An explicit path must exist.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("canvas")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.ModelID == "" && c.ModelIDParam == "" {
		return errors.New("model_id or model_id_param is required")
	}
	switch c.Store {
	case StoreDir:
		if c.OutputDir == "" {
			return errors.New("output_dir is required for the dir store")
		}
	case StoreS3:
		if c.Bucket == "" {
			return errors.New("bucket is required for the s3 store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.Distribution != "" && c.Store != StoreS3 {
		return errors.New("distribution requires the s3 store")
	}
	return nil
}
