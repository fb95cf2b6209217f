// Package config loads daemon configuration. Later sources win: defaults,
// then the optional YAML file, then HC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	API      APIConfig      `yaml:"api"`
	Schedule ScheduleConfig `yaml:"schedule"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DeviceConfig identifies the appliance.
type DeviceConfig struct {
	Name      string `yaml:"name"`
	HaID      string `yaml:"ha_id"`
	TokenPath string `yaml:"token_path"`
}

// APIConfig points at the Home Connect cloud.
type APIConfig struct {
	BaseURL        string        `yaml:"base_url"`
	TokenURL       string        `yaml:"token_url"` // defaults to <base_url>/security/oauth/token
	Timeout        time.Duration `yaml:"timeout"`
	RESTLanguage   string        `yaml:"rest_language"`
	StreamLanguage string        `yaml:"stream_language"`
}

// ScheduleConfig holds the timers of the device loop.
type ScheduleConfig struct {
	TokenRefresh   time.Duration `yaml:"token_refresh"`
	StreamRestart  time.Duration `yaml:"stream_restart"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
}

// MQTTConfig configures the MQTT host adapter.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	BufferSize  int    `yaml:"buffer_size"`
}

// HTTPConfig configures the status server. An empty Addr disables it.
type HTTPConfig struct {
	Addr      string `yaml:"addr"`
	Advertise bool   `yaml:"advertise"` // announce over mDNS
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string        `yaml:"level"`
	File  LogFileConfig `yaml:"file"`
}

// LogFileConfig enables rotating file output when Path is set.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Override adjusts a loaded config before validation. Command line flags use it.
type Override func(*Config)

// Load reads path (skipped when empty), applies environment overrides, then
// overrides, and validates the result.
func Load(path string, overrides ...Override) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	for _, o := range overrides {
		o(cfg)
	}
	cfg.resolve()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with production defaults and no device identity.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name: "Home Connect Appliance",
		},
		API: APIConfig{
			BaseURL:        "https://api.home-connect.com",
			Timeout:        15 * time.Second,
			RESTLanguage:   "en-GB",
			StreamLanguage: "en-US",
		},
		Schedule: ScheduleConfig{
			TokenRefresh:   12 * time.Hour,
			StreamRestart:  12 * time.Hour,
			SettleDelay:    10 * time.Second,
			BackoffInitial: time.Second,
			BackoffMax:     5 * time.Minute,
		},
		MQTT: MQTTConfig{
			ClientID:    "hc-state",
			TopicPrefix: "home/appliance",
			BufferSize:  64,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level: "info",
			File: LogFileConfig{
				MaxSizeMB:  10,
				MaxBackups: 5,
				MaxAgeDays: 28,
			},
		},
	}
}

// applyEnvOverrides applies HC_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HC_HAID"); v != "" {
		cfg.Device.HaID = v
	}
	if v := os.Getenv("HC_TOKEN_PATH"); v != "" {
		cfg.Device.TokenPath = v
	}
	if v := os.Getenv("HC_DEVICE_NAME"); v != "" {
		cfg.Device.Name = v
	}
	if v := os.Getenv("HC_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
		cfg.MQTT.Enabled = true
	}
	if v, ok := os.LookupEnv("HC_HTTP_ADDR"); ok {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("HC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func (c *Config) resolve() {
	c.API.BaseURL = strings.TrimSuffix(c.API.BaseURL, "/")
	if c.API.TokenURL == "" {
		c.API.TokenURL = c.API.BaseURL + "/security/oauth/token"
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
}

// Validate reports every configuration error at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Device.HaID == "" {
		errs = append(errs, ErrMissingHaID)
	}
	if c.Device.TokenPath == "" {
		errs = append(errs, ErrMissingTokenPath)
	}
	s := c.Schedule
	if s.TokenRefresh <= 0 || s.StreamRestart <= 0 || s.SettleDelay <= 0 || s.BackoffInitial <= 0 || s.BackoffMax < s.BackoffInitial {
		errs = append(errs, ErrInvalidInterval)
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api.timeout must be positive"))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ErrInvalidLogLevel)
	}

	return errors.Join(errs...)
}
