// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
}

// LoggerConfig holds all the configuration for the process logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the controlled browser.
//
// Exactly one connection mode is active: if ProviderAPIKey is set, a remote
// browser instance is provisioned from ProviderEndpoint; otherwise the driver
// attaches to an already-running debuggable browser at CDPAddress.
type BrowserConfig struct {
	CDPAddress       string `mapstructure:"cdp_address" yaml:"cdp_address"`
	ProviderAPIKey   string `mapstructure:"provider_api_key" yaml:"-"`
	ProviderEndpoint string `mapstructure:"provider_endpoint" yaml:"provider_endpoint"`

	ViewportWidth  int `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int `mapstructure:"viewport_height" yaml:"viewport_height"`

	// LoadTimeout bounds the wait for a page's load signal; on expiry the
	// capture proceeds anyway. SettleDelay is the fixed pause applied after
	// load to tolerate asynchronous rendering.
	LoadTimeout time.Duration `mapstructure:"load_timeout" yaml:"load_timeout"`
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`

	// ShowActionMarker draws a visible dot at click/hover/drag coordinates
	// before the action executes, for human observation.
	ShowActionMarker bool          `mapstructure:"show_action_marker" yaml:"show_action_marker"`
	MarkerDelay      time.Duration `mapstructure:"marker_delay" yaml:"marker_delay"`

	WaitDelay time.Duration `mapstructure:"wait_delay" yaml:"wait_delay"`
	SearchURL string        `mapstructure:"search_url" yaml:"search_url"`
}

// AgentConfig configures the reasoning endpoint and the agent loop.
type AgentConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"-"`
	Model  string `mapstructure:"model" yaml:"model"`

	// ExcludedActions lists predefined browser-control actions the model must
	// not be offered.
	ExcludedActions []string `mapstructure:"excluded_actions" yaml:"excluded_actions"`

	// MaxRecentImages bounds conversation memory: only this many of the most
	// recent image-bearing turns keep their screenshot payload.
	MaxRecentImages int `mapstructure:"max_recent_images" yaml:"max_recent_images"`

	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
}

// SessionConfig configures the session runtime and registry.
type SessionConfig struct {
	IdleTimeout         time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	PurgeGrace          time.Duration `mapstructure:"purge_grace" yaml:"purge_grace"`
	TraceDir            string        `mapstructure:"trace_dir" yaml:"trace_dir"`
	ScreenshotPerSecond float64       `mapstructure:"screenshot_per_second" yaml:"screenshot_per_second"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webpilot-cli")
	v.SetDefault("logger.log_file", "webpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.cdp_address", "ws://127.0.0.1:9222")
	// Secrets default empty so the WEBPILOT_* env overrides bind.
	v.SetDefault("browser.provider_api_key", "")
	v.SetDefault("browser.provider_endpoint", "https://api.browser-provider.example/v1")
	v.SetDefault("browser.viewport_width", 1440)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("browser.load_timeout", "10s")
	v.SetDefault("browser.settle_delay", "1s")
	v.SetDefault("browser.show_action_marker", true)
	v.SetDefault("browser.marker_delay", "300ms")
	v.SetDefault("browser.wait_delay", "5s")
	v.SetDefault("browser.search_url", "https://www.google.com")

	// -- Agent --
	v.SetDefault("agent.api_key", "")
	v.SetDefault("agent.model", "gemini-2.5-computer-use-preview-10-2025")
	v.SetDefault("agent.excluded_actions", []string{})
	v.SetDefault("agent.max_recent_images", 3)
	v.SetDefault("agent.max_retries", 4)
	v.SetDefault("agent.retry_base_delay", "500ms")

	// -- Session --
	v.SetDefault("session.idle_timeout", "30m")
	v.SetDefault("session.purge_grace", "5s")
	v.SetDefault("session.trace_dir", "traces")
	v.SetDefault("session.screenshot_per_second", 4.0)
}

// Validate performs a sanity check on values that have no usable zero state.
func (c *Config) Validate() error {
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport dimensions must be positive (got %dx%d)",
			c.Browser.ViewportWidth, c.Browser.ViewportHeight)
	}
	if c.Agent.Model == "" {
		return fmt.Errorf("agent.model must be set")
	}
	if c.Agent.MaxRecentImages < 1 {
		return fmt.Errorf("agent.max_recent_images must be at least 1")
	}
	return nil
}
