package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up in the working directory.
const DefaultPath = "bankfeed.yaml"

// Config represents the top-level bankfeed.yaml configuration.
type Config struct {
	API         APIConfig         `yaml:"api"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Consent     ConsentConfig     `yaml:"consent"`
	Browse      BrowseConfig      `yaml:"browse"`
	Export      ExportConfig      `yaml:"export"`
	ActivityLog ActivityLogConfig `yaml:"activity_log"`
	Log         LogConfig         `yaml:"log"`
}

// APIConfig controls how the aggregator API is reached.
type APIConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryWaitMin      time.Duration `yaml:"retry_wait_min"`
	RetryWaitMax      time.Duration `yaml:"retry_wait_max"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 disables the limiter
}

// CredentialsConfig locates the dotenv credential file.
type CredentialsConfig struct {
	Path string `yaml:"path"`
}

// ConsentConfig holds the parameters of new bank authorizations.
type ConsentConfig struct {
	RedirectURL        string `yaml:"redirect_url"`
	MaxHistoricalDays  int    `yaml:"max_historical_days"`
	AccessValidForDays int    `yaml:"access_valid_for_days"`
	UserLanguage       string `yaml:"user_language"`
}

// BrowseConfig controls interactive institution browsing.
type BrowseConfig struct {
	Country  string `yaml:"country"`
	PageSize int    `yaml:"page_size"`
}

// ExportConfig controls transaction export and conversion.
type ExportConfig struct {
	Output string `yaml:"output"`
	Locale string `yaml:"locale"` // "it" or "en", month names of convert-transactions
}

// ActivityLogConfig locates the CSV activity log.
type ActivityLogConfig struct {
	Path string `yaml:"path"`
}

// LogConfig controls diagnostic logging on stderr.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads a bankfeed.yaml file from disk. Fields missing from the file
// keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault reads path, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate checks values that would otherwise fail deep inside a command.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url %q is not an absolute URL", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive, got %s", c.API.Timeout)
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("api.max_retries must not be negative, got %d", c.API.MaxRetries)
	}
	if c.API.RequestsPerSecond < 0 {
		return fmt.Errorf("api.requests_per_second must not be negative, got %g", c.API.RequestsPerSecond)
	}
	if c.Credentials.Path == "" {
		return errors.New("credentials.path is required")
	}
	switch c.Export.Locale {
	case "it", "en":
	default:
		return fmt.Errorf("export.locale %q is not supported (use it or en)", c.Export.Locale)
	}
	return nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:           "https://bankaccountdata.gocardless.com/api/v2/",
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RetryWaitMin:      1 * time.Second,
			RetryWaitMax:      10 * time.Second,
			RequestsPerSecond: 4,
		},
		Credentials: CredentialsConfig{
			Path: ".env",
		},
		Consent: ConsentConfig{
			RedirectURL:        "https://gocardless.com",
			MaxHistoricalDays:  90,
			AccessValidForDays: 90,
			UserLanguage:       "EN",
		},
		Browse: BrowseConfig{
			Country:  "IT",
			PageSize: 20,
		},
		Export: ExportConfig{
			Output: "transactions.csv",
			Locale: "it",
		},
		ActivityLog: ActivityLogConfig{
			Path: "logs/activity-log.csv",
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}
