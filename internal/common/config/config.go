// Package config provides configuration management for the AugmentOS cloud.
// It supports loading configuration from environment variables, config files,
// and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the cloud.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Session   SessionConfig   `mapstructure:"session"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	AppStore  AppStoreConfig  `mapstructure:"appStore"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds

	// PublicHost is the host TPA backends outside the cluster connect back to.
	PublicHost string `mapstructure:"publicHost"`
	// InternalHost is the cluster-local DNS name used for system apps.
	InternalHost string `mapstructure:"internalHost"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// CoreSecret signs and verifies glasses auth tokens.
	CoreSecret string `mapstructure:"coreSecret"`
}

// NATSConfig holds NATS messaging configuration. An empty URL selects the
// in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// SessionConfig holds session lifecycle tuning.
type SessionConfig struct {
	GlassesGraceSeconds int  `mapstructure:"glassesGraceSeconds"` // glasses disconnect -> teardown
	AppGraceMs          int  `mapstructure:"appGraceMs"`          // TPA socket loss -> removal
	AppStartTimeoutMs   int  `mapstructure:"appStartTimeoutMs"`   // webhook start -> admitted connection
	AutoRestart         bool `mapstructure:"autoRestart"`
	AutoRestartDelayMs  int  `mapstructure:"autoRestartDelayMs"`
	MicDebounceMs       int  `mapstructure:"micDebounceMs"`
	PhotoTimeoutTpaSec  int  `mapstructure:"photoTimeoutTpaSec"`
	PhotoTimeoutSysSec  int  `mapstructure:"photoTimeoutSysSec"`
}

// HeartbeatConfig holds liveness monitoring tuning.
type HeartbeatConfig struct {
	PingIntervalSec    int `mapstructure:"pingIntervalSec"`
	MaxMissedPings     int `mapstructure:"maxMissedPings"`
	CriticalSilenceSec int `mapstructure:"criticalSilenceSec"`
}

// WebhookConfig holds TPA webhook client tuning.
type WebhookConfig struct {
	RequestTimeoutSec int `mapstructure:"requestTimeoutSec"`
	MaxRetries        int `mapstructure:"maxRetries"`
	RetryBaseDelayMs  int `mapstructure:"retryBaseDelayMs"`
	ConfigTimeoutSec  int `mapstructure:"configTimeoutSec"` // tpa_config.json discovery
}

// AppStoreConfig points at the app catalog seed.
type AppStoreConfig struct {
	SeedPath string `mapstructure:"seedPath"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GlassesGrace returns the glasses reconnect grace window.
func (s *SessionConfig) GlassesGrace() time.Duration {
	return time.Duration(s.GlassesGraceSeconds) * time.Second
}

// AppGrace returns the TPA reconnect grace window.
func (s *SessionConfig) AppGrace() time.Duration {
	return time.Duration(s.AppGraceMs) * time.Millisecond
}

// AppStartTimeout returns the window a started TPA has to connect back.
func (s *SessionConfig) AppStartTimeout() time.Duration {
	return time.Duration(s.AppStartTimeoutMs) * time.Millisecond
}

// AutoRestartDelay returns the pause before re-issuing a start webhook.
func (s *SessionConfig) AutoRestartDelay() time.Duration {
	return time.Duration(s.AutoRestartDelayMs) * time.Millisecond
}

// MicDebounce returns the microphone state coalescing window.
func (s *SessionConfig) MicDebounce() time.Duration {
	return time.Duration(s.MicDebounceMs) * time.Millisecond
}

// PhotoTimeoutTpa returns the TPA-origin photo request timeout.
func (s *SessionConfig) PhotoTimeoutTpa() time.Duration {
	return time.Duration(s.PhotoTimeoutTpaSec) * time.Second
}

// PhotoTimeoutSystem returns the system-origin photo request timeout.
func (s *SessionConfig) PhotoTimeoutSystem() time.Duration {
	return time.Duration(s.PhotoTimeoutSysSec) * time.Second
}

// PingInterval returns the heartbeat ping period.
func (h *HeartbeatConfig) PingInterval() time.Duration {
	return time.Duration(h.PingIntervalSec) * time.Second
}

// CriticalSilence returns the silence threshold that forces termination.
func (h *HeartbeatConfig) CriticalSilence() time.Duration {
	return time.Duration(h.CriticalSilenceSec) * time.Second
}

// RequestTimeout returns the per-attempt webhook POST timeout.
func (w *WebhookConfig) RequestTimeout() time.Duration {
	return time.Duration(w.RequestTimeoutSec) * time.Second
}

// RetryBaseDelay returns the first retry backoff step.
func (w *WebhookConfig) RetryBaseDelay() time.Duration {
	return time.Duration(w.RetryBaseDelayMs) * time.Millisecond
}

// ConfigTimeout returns the tpa_config.json discovery timeout.
func (w *WebhookConfig) ConfigTimeout() time.Duration {
	return time.Duration(w.ConfigTimeoutSec) * time.Second
}

// detectDefaultLogFormat returns "json" in cluster or production
// environments and "text" for terminal use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AUGMENTOS_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8002)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.publicHost", "localhost:8002")
	v.SetDefault("server.internalHost", "cloud.default.svc.cluster.local:8002")

	// Auth defaults - empty secret gets a dev value in validate()
	v.SetDefault("auth.coreSecret", "")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "augmentos-cloud")
	v.SetDefault("nats.maxReconnects", 10)

	// Session defaults
	v.SetDefault("session.glassesGraceSeconds", 45)
	v.SetDefault("session.appGraceMs", 5000)
	v.SetDefault("session.appStartTimeoutMs", 5000)
	v.SetDefault("session.autoRestart", true)
	v.SetDefault("session.autoRestartDelayMs", 500)
	v.SetDefault("session.micDebounceMs", 1000)
	v.SetDefault("session.photoTimeoutTpaSec", 30)
	v.SetDefault("session.photoTimeoutSysSec", 60)

	// Heartbeat defaults
	v.SetDefault("heartbeat.pingIntervalSec", 15)
	v.SetDefault("heartbeat.maxMissedPings", 3)
	v.SetDefault("heartbeat.criticalSilenceSec", 45)

	// Webhook defaults
	v.SetDefault("webhook.requestTimeoutSec", 10)
	v.SetDefault("webhook.maxRetries", 2)
	v.SetDefault("webhook.retryBaseDelayMs", 1000)
	v.SetDefault("webhook.configTimeoutSec", 5)

	// App store defaults
	v.SetDefault("appStore.seedPath", "apps.yaml")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the prefix AUGMENTOS_ with snake_case
// naming. The config file should be named config.yaml and placed in the
// current directory or /etc/augmentos/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default
// locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AUGMENTOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for keys whose camelCase form does not map cleanly
	// onto SNAKE_CASE env names.
	_ = v.BindEnv("server.publicHost", "AUGMENTOS_SERVER_PUBLIC_HOST")
	_ = v.BindEnv("server.internalHost", "AUGMENTOS_SERVER_INTERNAL_HOST")
	_ = v.BindEnv("auth.coreSecret", "AUGMENTOS_AUTH_CORE_SECRET")
	_ = v.BindEnv("appStore.seedPath", "AUGMENTOS_APP_STORE_SEED_PATH")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/augmentos/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Server.PublicHost == "" {
		errs = append(errs, "server.publicHost is required")
	}

	if cfg.Auth.CoreSecret == "" {
		cfg.Auth.CoreSecret = generateDevSecret()
	}

	if cfg.Session.GlassesGraceSeconds <= 0 {
		errs = append(errs, "session.glassesGraceSeconds must be positive")
	}
	if cfg.Session.AppGraceMs <= 0 {
		errs = append(errs, "session.appGraceMs must be positive")
	}
	if cfg.Heartbeat.PingIntervalSec <= 0 {
		errs = append(errs, "heartbeat.pingIntervalSec must be positive")
	}
	if cfg.Heartbeat.MaxMissedPings <= 0 {
		errs = append(errs, "heartbeat.maxMissedPings must be positive")
	}
	if cfg.Webhook.MaxRetries < 0 {
		errs = append(errs, "webhook.maxRetries must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// generateDevSecret generates a random secret for development mode.
// In production, operators must set AUGMENTOS_AUTH_CORE_SECRET.
func generateDevSecret() string {
	return "dev-secret-change-in-production-" + fmt.Sprintf("%d", time.Now().UnixNano())
}
