package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	BaseURL string `yaml:"base_url,omitempty"`
	// Type is the job type used when submit gets no --type flag.
	Type     string        `yaml:"type,omitempty"`
	Output   string        `yaml:"output,omitempty"`
	Timeouts TimeoutConfig `yaml:"timeouts,omitempty"`
}

// TimeoutConfig holds durations parseable by time.ParseDuration (e.g. "30s", "2h").
type TimeoutConfig struct {
	HTTP string `yaml:"http,omitempty"` // request timeout for status and cancel calls (default: 30s)
	Job  string `yaml:"job,omitempty"`  // how long --watch waits for a job (default: 2h)
}

const (
	DefaultBaseURL = "http://localhost:8080"
	DefaultType    = "image"
	DefaultOutput  = "."

	EnvBaseURL = "BP_BASE_URL"

	DefaultHTTPTimeout = 30 * time.Second
	DefaultJobTimeout  = 2 * time.Hour
)

func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "bp"), nil
}

func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the config file and applies environment overrides.
func Load() (*Config, error) {
	cfg, err := LoadFile()
	if err != nil {
		return nil, err
	}

	// Environment variables take precedence over config file
	if envURL := os.Getenv(EnvBaseURL); envURL != "" {
		cfg.BaseURL = envURL
	}
	return cfg, nil
}

// LoadFile reads the config file alone, filling in defaults.
func LoadFile() (*Config, error) {
	cfg := &Config{
		BaseURL: DefaultBaseURL,
		Type:    DefaultType,
		Output:  DefaultOutput,
	}

	path, err := Path()
	if err != nil {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Type == "" {
		cfg.Type = DefaultType
	}
	if cfg.Output == "" {
		cfg.Output = DefaultOutput
	}
	return cfg, nil
}

func (c *Config) Save() error {
	dir, err := Dir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	path, err := Path()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// GetTimeout returns the configured timeout for "http" or "job", or its default.
func (c *Config) GetTimeout(name string) time.Duration {
	var configValue string
	var defaultValue time.Duration

	switch name {
	case "http":
		configValue = c.Timeouts.HTTP
		defaultValue = DefaultHTTPTimeout
	case "job":
		configValue = c.Timeouts.Job
		defaultValue = DefaultJobTimeout
	default:
		return DefaultHTTPTimeout
	}

	if configValue == "" {
		return defaultValue
	}

	parsed, err := time.ParseDuration(configValue)
	if err != nil {
		return defaultValue
	}
	return parsed
}
