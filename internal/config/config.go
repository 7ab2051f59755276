package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	// DataDir holds the vault database and the file keyring.
	DataDir string `mapstructure:"data_dir"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// KeyringBackends restricts which system keyrings may hold the vault
	// master key, in order of preference.
	KeyringBackends []string `mapstructure:"keyring_backends"`

	IMAPTimeoutSeconds int `mapstructure:"imap_timeout_seconds"`
	FetchBatchSize     int `mapstructure:"fetch_batch_size"`
}

// DefaultPath returns the default config file location,
// ~/.config/inboxkit/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "inboxkit", "config.yaml")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".inboxkit")
	}
	return filepath.Join(home, ".inboxkit")
}

// Load reads the configuration file at path, falling back to defaults when
// the file does not exist. INBOXKIT_* environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("keyring_backends", []string{"keychain", "secret-service", "kwallet", "wincred", "file"})
	v.SetDefault("imap_timeout_seconds", 30)
	v.SetDefault("fetch_batch_size", 50)

	v.SetEnvPrefix("INBOXKIT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil && !isMissingConfig(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// isMissingConfig reports whether err just means the config file is absent.
func isMissingConfig(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	_, ok := err.(*os.PathError)
	return ok
}

// Validate checks the configuration before anything uses it.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format: %s", c.LogFormat)
	}

	if c.IMAPTimeoutSeconds < 1 || c.IMAPTimeoutSeconds > 600 {
		return fmt.Errorf("imap_timeout_seconds must be between 1 and 600")
	}

	if c.FetchBatchSize < 1 || c.FetchBatchSize > 1000 {
		return fmt.Errorf("fetch_batch_size must be between 1 and 1000")
	}

	return nil
}

// DatabasePath returns the location of the vault database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "accounts.db")
}

// IMAPTimeout returns the dial and command timeout as a duration.
func (c *Config) IMAPTimeout() time.Duration {
	return time.Duration(c.IMAPTimeoutSeconds) * time.Second
}
