// Package config loads and validates the linkbeat agent configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full agent configuration, loaded once at startup and
// treated as immutable afterwards.
type Config struct {
	Collector   CollectorConfig   `mapstructure:"collector"`
	Router      RouterConfig      `mapstructure:"router"`
	Heartbeat   HeartbeatConfig   `mapstructure:"heartbeat"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Probe       ProbeConfig       `mapstructure:"probe"`
}

// CollectorConfig describes the remote collector and delivery tunables.
type CollectorConfig struct {
	URL        string        `mapstructure:"url"`
	Secret     string        `mapstructure:"secret"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// RouterConfig describes the device API endpoint.
type RouterConfig struct {
	APIBase string        `mapstructure:"api_base"`
	AppID   string        `mapstructure:"app_id"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// HeartbeatConfig holds the scheduling cadence.
type HeartbeatConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	SessionRefresh time.Duration `mapstructure:"session_refresh"`
}

// CredentialsConfig locates the persisted app token.
type CredentialsConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig controls the optional Prometheus endpoint.
// An empty listen address disables it.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// ProbeConfig controls the ICMP latency probe of the router host.
type ProbeConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Count   int           `mapstructure:"count"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Placeholder values shipped in the example config. Startup refuses them.
const (
	placeholderSecret = "changeme"
	placeholderURL    = "https://collector.example.com"
)

// ValidationError reports a configuration field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}

// Load reads configuration from file and environment variables and
// validates it fully.
// Environment variables use the LB_ prefix: LB_COLLECTOR_SECRET=...
func Load(configPath string) (*Config, *viper.Viper, error) {
	cfg, v, err := read(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// LoadForPairing reads configuration but only validates the router and
// credentials sections; the pairing flow never talks to the collector.
func LoadForPairing(configPath string) (*Config, *viper.Viper, error) {
	cfg, v, err := read(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.validateRouter(); err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func read(configPath string) (*Config, *viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("collector.url", "")
	v.SetDefault("collector.secret", "")
	v.SetDefault("collector.max_retries", 3)
	v.SetDefault("collector.retry_delay", "2s")
	v.SetDefault("router.api_base", "http://mafreebox.freebox.fr/api/v8")
	v.SetDefault("router.app_id", "fr.linkbeat.agent")
	v.SetDefault("router.timeout", "10s")
	v.SetDefault("heartbeat.interval", "60s")
	v.SetDefault("heartbeat.session_refresh", "30m")
	v.SetDefault("credentials.path", defaultCredentialsPath())
	v.SetDefault("metrics.listen", "")
	v.SetDefault("probe.enabled", true)
	v.SetDefault("probe.count", 3)
	v.SetDefault("probe.timeout", "2s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("linkbeat")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/linkbeat")
	}

	// Environment variable support: LB_HEARTBEAT_INTERVAL=30s
	v.SetEnvPrefix("LB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- defaults plus environment.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, v, nil
}

// Validate checks required fields and tunable ranges. It runs once at
// startup; the scheduler never re-checks.
func (c *Config) Validate() error {
	switch {
	case c.Collector.URL == "":
		return &ValidationError{"collector.url", "is required"}
	case c.Collector.URL == placeholderURL:
		return &ValidationError{"collector.url", "is still the shipped placeholder"}
	case c.Collector.Secret == "":
		return &ValidationError{"collector.secret", "is required"}
	case c.Collector.Secret == placeholderSecret:
		return &ValidationError{"collector.secret", "is still the shipped placeholder"}
	case c.Collector.MaxRetries < 0:
		return &ValidationError{"collector.max_retries", "must be >= 0"}
	case c.Collector.RetryDelay <= 0:
		return &ValidationError{"collector.retry_delay", "must be positive"}
	case c.Heartbeat.Interval <= 0:
		return &ValidationError{"heartbeat.interval", "must be positive"}
	case c.Heartbeat.SessionRefresh <= 0:
		return &ValidationError{"heartbeat.session_refresh", "must be positive"}
	}
	return c.validateRouter()
}

// validateRouter checks the subset of fields the pairing flow needs.
func (c *Config) validateRouter() error {
	switch {
	case c.Router.APIBase == "":
		return &ValidationError{"router.api_base", "is required"}
	case c.Router.AppID == "":
		return &ValidationError{"router.app_id", "is required"}
	case c.Router.Timeout <= 0:
		return &ValidationError{"router.timeout", "must be positive"}
	case c.Credentials.Path == "":
		return &ValidationError{"credentials.path", "is required"}
	}
	return nil
}

// defaultCredentialsPath puts credentials under the user config dir,
// falling back to the working directory.
func defaultCredentialsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "linkbeat", "credentials.json")
}
