// Package config loads the service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Dataset DatasetConfig `yaml:"dataset"`
	Model   ModelConfig   `yaml:"model"`
	Http    HttpConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
	History HistoryConfig `yaml:"history"`
	Audit   AuditConfig   `yaml:"audit"`
}

type DatasetConfig struct {
	Path     string `yaml:"path"`
	Encoding string `yaml:"encoding"`
}

type ModelConfig struct {
	Type            string `yaml:"type"`
	Trees           int    `yaml:"trees"`
	Seed            uint64 `yaml:"seed"`
	MaxDepth        int    `yaml:"max_depth"`
	MinSamplesSplit int    `yaml:"min_samples_split"`
	MaxFeatures     int    `yaml:"max_features"`
}

type HttpConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type HistoryConfig struct {
	Size int `yaml:"size"`
}

// AuditConfig enables the SQLite detection log when Path is set.
type AuditConfig struct {
	Path string `yaml:"path"`
}

func Default() *Config {
	return &Config{
		Dataset: DatasetConfig{
			Path:     "Mine_Dataset.csv",
			Encoding: "utf-8",
		},
		Model: ModelConfig{
			Type:            "random_forest",
			Trees:           100,
			Seed:            42,
			MinSamplesSplit: 2,
		},
		Http: HttpConfig{
			Port:           8080,
			Timeout:        30 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		History: HistoryConfig{
			Size: 100,
		},
	}
}

// Load reads path over the defaults. Keys absent from the file keep their default.
func Load(path string) (*Config, error) {
	config := Default()

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Dataset.Path == "" {
		errs = append(errs, errors.New("dataset.path is required"))
	}
	if c.Model.Trees <= 0 {
		errs = append(errs, errors.New("model.trees must be positive"))
	}
	if c.Model.MaxDepth < 0 {
		errs = append(errs, errors.New("model.max_depth must not be negative"))
	}
	if c.Http.Port <= 0 || c.Http.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.Http.Port))
	}
	if c.Http.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be positive"))
	}
	if c.History.Size < 0 {
		errs = append(errs, errors.New("history.size must not be negative"))
	}
	return errors.Join(errs...)
}
