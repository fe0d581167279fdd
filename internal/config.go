package internal

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds runtime settings for the keystorekit CLI. Values are layered:
// defaults, then the YAML file, then KEYSTOREKIT_* environment variables.
// Command-line flags are applied by the caller on top. An empty DBPath
// selects a private in-memory database that is gone when the process exits.
type Config struct {
	LogLevel      string `yaml:"logLevel" env:"KEYSTOREKIT_LOG_LEVEL"`
	LogFormat     string `yaml:"logFormat" env:"KEYSTOREKIT_LOG_FORMAT"`
	DBPath        string `yaml:"dbPath" env:"KEYSTOREKIT_DB"`
	MasterKeyFile string `yaml:"masterKeyFile" env:"KEYSTOREKIT_MASTER_KEY_FILE"`
	// MasterKey is never read from YAML so it cannot end up in a config
	// file by accident.
	MasterKey   string `yaml:"-" env:"KEYSTOREKIT_MASTER_KEY"`
	DefaultType string `yaml:"defaultType" env:"KEYSTOREKIT_DEFAULT_TYPE"`
}

// DefaultConfig returns the settings used when nothing else is configured.
func DefaultConfig() Config {
	return Config{
		LogLevel:    "info",
		LogFormat:   "text",
		DBPath:      "keystorekit.db",
		DefaultType: "JKS",
	}
}

// LoadConfig builds a Config from defaults, the optional YAML file at path,
// and the environment. A missing file is an error only when path is set.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings no command could run with.
func (c Config) Validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (use text or json)", c.LogFormat)
	}
	if c.DefaultType == "" {
		return errors.New("default keystore type must not be empty")
	}
	return nil
}
