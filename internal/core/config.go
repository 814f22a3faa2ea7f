package core

import (
	"fmt"
	"os"

	"github.com/yourusername/camlink/internal/cloud"
	"gopkg.in/yaml.v3"
)

// Default tuning values for the cloud account section.
const (
	DefaultAPITimeoutSec   = 25
	DefaultPollIntervalSec = 30
)

// Config holds the full application configuration.
type Config struct {
	Server   ServerConfig            `yaml:"server"`
	Cloud    CloudConfig             `yaml:"cloud"`
	Cameras  map[string]CameraConfig `yaml:"cameras"`
	Database DatabaseConfig          `yaml:"database"`
	Logging  LoggingConfig           `yaml:"logging"`
}

type ServerConfig struct {
	HTTPPort   int  `yaml:"http_port"`
	Production bool `yaml:"production"`
}

// CloudConfig describes the vendor cloud account.
type CloudConfig struct {
	// Region selects a preset base URL ("eu", "russia"); BaseURL overrides it.
	Region          string `yaml:"region"`
	BaseURL         string `yaml:"base_url"`
	SessionToken    string `yaml:"session_token"`
	APITimeoutSec   int    `yaml:"api_timeout"`
	PollIntervalSec int    `yaml:"poll_interval"`
}

// CameraConfig is a per-serial credential override loaded from the config
// file and seeded into the credential store on startup.
type CameraConfig struct {
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	ExtraArgs string `yaml:"extra_args"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// LoadConfig loads the configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// applyDefaults fills unset values.
func (c *Config) applyDefaults() {
	if c.Cloud.APITimeoutSec == 0 {
		c.Cloud.APITimeoutSec = DefaultAPITimeoutSec
	}
	if c.Cloud.PollIntervalSec == 0 {
		c.Cloud.PollIntervalSec = DefaultPollIntervalSec
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/camlink.db"
	}
}

// Validate checks configuration values.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}

	if c.Cloud.APITimeoutSec <= 0 {
		return fmt.Errorf("api_timeout must be positive")
	}

	if c.Cloud.PollIntervalSec <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}

	if _, err := c.CloudBaseURL(); err != nil {
		return err
	}

	return nil
}

// CloudBaseURL resolves the effective cloud API base URL.
func (c *Config) CloudBaseURL() (string, error) {
	if c.Cloud.BaseURL != "" {
		return c.Cloud.BaseURL, nil
	}

	switch c.Cloud.Region {
	case "", "eu":
		return cloud.EUCloudURL, nil
	case "russia":
		return cloud.RussiaCloudURL, nil
	default:
		return "", fmt.Errorf("unknown region: %s", c.Cloud.Region)
	}
}
