// Package config provides configuration loading and management for the sync server.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sentinelmarket/sentinel-sync/internal/telemetry"
)

const (
	// EnvPrefix is the prefix for environment variables read by the application
	EnvPrefix = "SENTINEL_SYNC"

	// DefaultBaseURL is the backend host used when no base URL is configured
	DefaultBaseURL = "http://localhost:8000"

	// DefaultMinAPIVersion is the oldest backend version known to serve every default endpoint
	DefaultMinAPIVersion = "1.0.0"

	// DefaultRequestTimeout is the per-request timeout of the backend HTTP client
	DefaultRequestTimeout = 10 * time.Second

	// DefaultMaxAttempts is the number of attempts made for each source read
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the delay before the second attempt of a source read
	DefaultBaseDelay = time.Second

	// DefaultViewInterval is the polling interval of a view without an explicit interval
	DefaultViewInterval = 30 * time.Second

	// DefaultIdleTimeout is how long a mounted session may go unread before it is unmounted
	DefaultIdleTimeout = 10 * time.Minute

	// DefaultNotificationTTL is how long a notification stays visible if not dismissed
	DefaultNotificationTTL = 8 * time.Second

	// DefaultMaxNotifications caps the notifications kept per view
	DefaultMaxNotifications = 5
)

const (
	// LivenessSticky keeps a view live once every required source has succeeded
	LivenessSticky = "sticky"

	// LivenessStrict drops a view back to not-live when a required source fails
	LivenessStrict = "strict"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path    string
	environ func(string) string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks; this also cleans the path.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// WithEnvironment overrides the environment lookup used for overlays (testing)
func WithEnvironment(lookup func(string) string) Option {
	return func(cfg *loaderConfig) error {
		cfg.environ = lookup
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	API           APIConfig           `yaml:"api"`
	Retry         RetryConfig         `yaml:"retry"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Telemetry     *telemetry.Config   `yaml:"telemetry,omitempty"`

	// Views defines the data views and their sources. The built-in views are
	// used when the list is empty.
	Views []ViewConfig `yaml:"views,omitempty"`
}

// APIConfig defines how the remote analytics API is reached
type APIConfig struct {
	// BaseURL selects the backend host, e.g. "http://localhost:8000"
	BaseURL string `yaml:"baseURL,omitempty"`

	// Timeout bounds a single HTTP request (e.g. "10s")
	Timeout string `yaml:"timeout,omitempty"`

	// MinVersion is the oldest backend version reported as supported
	MinVersion string `yaml:"minVersion,omitempty"`
}

// RetryConfig defines the retry policy applied to every source read
type RetryConfig struct {
	MaxAttempts int    `yaml:"maxAttempts,omitempty"`
	BaseDelay   string `yaml:"baseDelay,omitempty"`
}

// SessionsConfig defines the lifecycle of mounted views
type SessionsConfig struct {
	IdleTimeout string `yaml:"idleTimeout,omitempty"`
}

// NotificationsConfig defines how source failure notifications are kept
type NotificationsConfig struct {
	TTL string `yaml:"ttl,omitempty"`
	Max int    `yaml:"max,omitempty"`
}

// ViewConfig defines one logical data view
type ViewConfig struct {
	// ID is the identifier used by clients to mount the view
	ID string `yaml:"id"`

	// Title is a human readable name
	Title string `yaml:"title,omitempty"`

	// Interval is the polling interval (e.g. "30s")
	Interval string `yaml:"interval,omitempty"`

	// Liveness is either "sticky" (default) or "strict"
	Liveness string `yaml:"liveness,omitempty"`

	// Params are supplied at mount time and substituted into source paths
	Params []ParamConfig `yaml:"params,omitempty"`

	Sources []SourceConfig `yaml:"sources"`
}

// SourceConfig defines one remote read contributing to a view
type SourceConfig struct {
	// ID identifies the source inside its view and selects the embedded seed
	ID string `yaml:"id"`

	// Path is the endpoint path appended to the API base URL. It may hold
	// {name} placeholders for the view params.
	Path string `yaml:"path"`

	// Query holds query parameters. Values may hold {name} placeholders.
	Query map[string]string `yaml:"query,omitempty"`

	// Required sources must succeed for the view to become live
	Required bool `yaml:"required,omitempty"`

	// Validate lists gjson paths that must exist in a successful payload
	Validate []string `yaml:"validate,omitempty"`

	// Schema is an optional path to a JSON Schema document for the payload
	Schema string `yaml:"schema,omitempty"`

	// Seed is an optional path to a JSON document used as fallback data.
	// When empty the embedded seed for ID is used.
	Seed string `yaml:"seed,omitempty"`
}

// LoadConfig loads configuration from a YAML file, or the built-in defaults when
// no path is given, and applies environment overlays.
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	config := Default()
	if loaderCfg.path != "" {
		data, err := os.ReadFile(loaderCfg.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		config = &Config{}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
		config.applyDefaults()
	}

	config.applyEnv(loaderCfg.environ)

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyDefaults fills the sections a config file left out
func (c *Config) applyDefaults() {
	if len(c.Views) == 0 {
		c.Views = DefaultViews()
	}
}

// applyEnv overlays environment variables on top of the loaded configuration
func (c *Config) applyEnv(lookup func(string) string) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	baseURL := v.GetString("api.base_url")
	if lookup != nil {
		baseURL = lookup(EnvPrefix + "_API_BASE_URL")
	}
	if baseURL != "" {
		c.API.BaseURL = baseURL
	}
}

// GetBaseURL returns the backend base URL without a trailing slash
func (c *Config) GetBaseURL() string {
	if c.API.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(c.API.BaseURL, "/")
}

// GetRequestTimeout returns the HTTP request timeout
func (c *Config) GetRequestTimeout() time.Duration {
	return parseDurationOr(c.API.Timeout, DefaultRequestTimeout)
}

// GetMinAPIVersion returns the oldest supported backend version
func (c *Config) GetMinAPIVersion() string {
	if c.API.MinVersion == "" {
		return DefaultMinAPIVersion
	}
	return c.API.MinVersion
}

// GetMaxAttempts returns the number of attempts per source read
func (c *Config) GetMaxAttempts() int {
	if c.Retry.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return c.Retry.MaxAttempts
}

// GetBaseDelay returns the delay before the first retry
func (c *Config) GetBaseDelay() time.Duration {
	return parseDurationOr(c.Retry.BaseDelay, DefaultBaseDelay)
}

// GetIdleTimeout returns how long an unread session is kept mounted
func (c *Config) GetIdleTimeout() time.Duration {
	return parseDurationOr(c.Sessions.IdleTimeout, DefaultIdleTimeout)
}

// GetNotificationTTL returns the notification lifetime
func (c *Config) GetNotificationTTL() time.Duration {
	return parseDurationOr(c.Notifications.TTL, DefaultNotificationTTL)
}

// GetMaxNotifications returns the notification cap per view
func (c *Config) GetMaxNotifications() int {
	if c.Notifications.Max <= 0 {
		return DefaultMaxNotifications
	}
	return c.Notifications.Max
}

// GetInterval returns the polling interval of the view
func (v *ViewConfig) GetInterval() time.Duration {
	return parseDurationOr(v.Interval, DefaultViewInterval)
}

// GetLiveness returns the liveness policy of the view
func (v *ViewConfig) GetLiveness() string {
	if v.Liveness == "" {
		return LivenessSticky
	}
	return v.Liveness
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error

	if c.API.BaseURL != "" {
		u, err := url.Parse(c.API.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("api.baseURL must be an absolute URL, got %q", c.API.BaseURL))
		}
	}

	errs = append(errs,
		validateDuration("api.timeout", c.API.Timeout),
		validateDuration("retry.baseDelay", c.Retry.BaseDelay),
		validateDuration("sessions.idleTimeout", c.Sessions.IdleTimeout),
		validateDuration("notifications.ttl", c.Notifications.TTL),
	)

	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("retry.maxAttempts must not be negative, got %d", c.Retry.MaxAttempts))
	}

	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	if len(c.Views) == 0 {
		errs = append(errs, fmt.Errorf("at least one view must be configured"))
	}

	viewIDs := make(map[string]bool)
	for i := range c.Views {
		view := &c.Views[i]
		if view.ID == "" {
			errs = append(errs, fmt.Errorf("view[%d]: id is required", i))
			continue
		}
		if viewIDs[view.ID] {
			errs = append(errs, fmt.Errorf("view[%d]: duplicate view id '%s'", i, view.ID))
			continue
		}
		viewIDs[view.ID] = true

		errs = append(errs, validateViewConfig(view, i))
	}

	return errors.Join(errs...)
}

// validateViewConfig validates a single view configuration
func validateViewConfig(view *ViewConfig, index int) error {
	prefix := fmt.Sprintf("view[%d] (%s)", index, view.ID)

	var errs []error
	if err := validateDuration(prefix+": interval", view.Interval); err != nil {
		errs = append(errs, err)
	}

	switch view.GetLiveness() {
	case LivenessSticky, LivenessStrict:
	default:
		errs = append(errs, fmt.Errorf("%s: liveness must be %s or %s, got %s",
			prefix, LivenessSticky, LivenessStrict, view.Liveness))
	}

	if len(view.Sources) == 0 {
		errs = append(errs, fmt.Errorf("%s: at least one source is required", prefix))
	}

	sourceIDs := make(map[string]bool)
	for i, src := range view.Sources {
		switch {
		case src.ID == "":
			errs = append(errs, fmt.Errorf("%s: source[%d]: id is required", prefix, i))
		case sourceIDs[src.ID]:
			errs = append(errs, fmt.Errorf("%s: source[%d]: duplicate source id '%s'", prefix, i, src.ID))
		case src.Path == "" || !strings.HasPrefix(src.Path, "/"):
			errs = append(errs, fmt.Errorf("%s: source[%d] (%s): path must start with '/'", prefix, i, src.ID))
		}
		sourceIDs[src.ID] = true
	}

	errs = append(errs, validateParams(view, prefix))

	return errors.Join(errs...)
}

func validateDuration(field, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '30s', '1m'): %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return nil
}
