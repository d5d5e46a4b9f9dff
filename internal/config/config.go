// Package config loads evgenkit settings from EVGENKIT_* environment
// variables.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config is the process-wide configuration.
type Config struct {
	Storage  StorageConfig  `envPrefix:"STORAGE_"`
	SQLite   SQLiteConfig   `envPrefix:"SQLITE_"`
	Postgres PostgresConfig `envPrefix:"POSTGRES_"`
	Archive  ArchiveConfig  `envPrefix:"ARCHIVE_"`
	Log      LogConfig      `envPrefix:"LOG_"`
	Metrics  MetricsConfig  `envPrefix:"METRICS_"`
}

// StorageConfig selects the snapshot store.
type StorageConfig struct {
	Driver string `env:"DRIVER" envDefault:"sqlite" validate:"oneof=memory sqlite postgres"`
}

type SQLiteConfig struct {
	Path string `env:"PATH" envDefault:"evgenkit.db"`
}

type PostgresConfig struct {
	DSN string `env:"DSN"`
}

// ArchiveConfig selects the run archive backend.
type ArchiveConfig struct {
	Driver string   `env:"DRIVER" envDefault:"fs" validate:"oneof=fs s3 memory"`
	FSRoot string   `env:"FS_ROOT" envDefault:"./archives"`
	S3     S3Config `envPrefix:"S3_"`
}

type S3Config struct {
	Bucket          string `env:"BUCKET"`
	Region          string `env:"REGION" envDefault:"us-east-1"`
	Endpoint        string `env:"ENDPOINT" validate:"omitempty,url"`
	PathStyle       bool   `env:"PATH_STYLE"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	SessionToken    string `env:"SESSION_TOKEN"`
}

// LogConfig configures the zerolog logger.
type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info" validate:"oneof=trace debug info warn error disabled"`
	Format string `env:"FORMAT" envDefault:"console" validate:"oneof=console json"`
	Output string `env:"OUTPUT" envDefault:"stderr"`
}

type MetricsConfig struct {
	Namespace string `env:"NAMESPACE" envDefault:"evgenkit" validate:"required,alphanum"`
	File      string `env:"FILE"`
}

const prefix = "EVGENKIT_"

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: prefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and the cross-field driver requirements.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	var missing []string
	if c.Storage.Driver == "postgres" && c.Postgres.DSN == "" {
		missing = append(missing, prefix+"POSTGRES_DSN")
	}
	if c.Archive.Driver == "s3" && c.Archive.S3.Bucket == "" {
		missing = append(missing, prefix+"ARCHIVE_S3_BUCKET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("invalid configuration: missing %s", strings.Join(missing, ", "))
	}
	return nil
}
