// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig represents the top-level static configuration. Maps to the
// `opcua:` root key in YAML.
type ServerConfig struct {
	ApplicationName string           `mapstructure:"application_name"`
	ApplicationURI  string           `mapstructure:"application_uri"`
	ProductURI      string           `mapstructure:"product_uri"`
	Endpoints       []EndpointConfig `mapstructure:"endpoints"`
	Limits          LimitsConfig     `mapstructure:"limits"`
	Security        SecurityConfig   `mapstructure:"security"`
	Log             LogConfig        `mapstructure:"log"`
	Metrics         MetricsConfig    `mapstructure:"metrics"`
	Admin           AdminConfig      `mapstructure:"admin"`
}

// ─── Endpoints ───

// EndpointConfig describes one listening endpoint: its URL, the security
// policy/mode it offers, and the user token types it accepts.
type EndpointConfig struct {
	URL             string   `mapstructure:"url"`
	SecurityPolicy  string   `mapstructure:"security_policy"`  // None | Basic128Rsa15 | Basic256 | Basic256Sha256
	SecurityMode    string   `mapstructure:"security_mode"`    // None | Sign | SignAndEncrypt
	UserTokenTypes  []string `mapstructure:"user_token_types"` // anonymous | username | x509 | issued
}

// ─── Limits ───

// LimitsConfig contains every bound spec.md §6 names as a configuration
// option.
type LimitsConfig struct {
	HelloTimeoutSeconds         int `mapstructure:"hello_timeout_seconds"`
	MaxSessions                 int `mapstructure:"max_sessions"`
	MaxSubscriptionsPerSession  int `mapstructure:"max_subscriptions_per_session"`
	MaxRequestMessageSize       int `mapstructure:"max_request_message_size"`
	MaxKeepAliveCount           int `mapstructure:"max_keep_alive_count"`
	MinPublishingIntervalMS     int `mapstructure:"min_publishing_interval_ms"`
	MinSamplingIntervalMS       int `mapstructure:"min_sampling_interval_ms"`
	SubscriptionTimerTickMS     int `mapstructure:"subscription_timer_tick_ms"`
	SessionTimeoutMS            int `mapstructure:"session_timeout_ms"`
	MaxBrowseContinuationPoints int `mapstructure:"max_browse_continuation_points"`
}

// HelloTimeout returns the hello timeout as a time.Duration.
func (l LimitsConfig) HelloTimeout() time.Duration {
	return time.Duration(l.HelloTimeoutSeconds) * time.Second
}

// SessionTimeout returns the default session idle timeout as a time.Duration.
func (l LimitsConfig) SessionTimeout() time.Duration {
	return time.Duration(l.SessionTimeoutMS) * time.Millisecond
}

// SubscriptionTimerTick returns the subscription sampler's clock tick.
func (l LimitsConfig) SubscriptionTimerTick() time.Duration {
	return time.Duration(l.SubscriptionTimerTickMS) * time.Millisecond
}

// ─── Security / PKI ───

// SecurityConfig locates the server's identity material and trust store.
type SecurityConfig struct {
	PKIDir         string   `mapstructure:"pki_dir"`
	ServerCertPath string   `mapstructure:"server_cert_path"`
	ServerKeyPath  string   `mapstructure:"server_key_path"`
	TrustList      []string `mapstructure:"trust_list"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Admin control plane ───

// AdminConfig locates the JSON-RPC-over-UDS admin control socket.
type AdminConfig struct {
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `opcua: ...`.
type configRoot struct {
	OPCUA ServerConfig `mapstructure:"opcua"`
}

// Load loads configuration from file. The YAML file uses `opcua:` as root
// key; env vars use OPCUA_ prefix (e.g. OPCUA_LOG_LEVEL).
func Load(path string) (*ServerConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.OPCUA

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration, matching spec.md §6's
// documented defaults.
func setDefaults(v *viper.Viper) {
	v.SetDefault("opcua.application_name", "opcua-server")
	v.SetDefault("opcua.application_uri", "urn:localhost:opcua-server")
	v.SetDefault("opcua.product_uri", "urn:coriolis-automation:opcua-server")

	v.SetDefault("opcua.limits.hello_timeout_seconds", 120)
	v.SetDefault("opcua.limits.max_sessions", 100)
	v.SetDefault("opcua.limits.max_subscriptions_per_session", 100)
	v.SetDefault("opcua.limits.max_request_message_size", 32768)
	v.SetDefault("opcua.limits.max_keep_alive_count", 30)
	v.SetDefault("opcua.limits.min_publishing_interval_ms", 50)
	v.SetDefault("opcua.limits.min_sampling_interval_ms", 50)
	v.SetDefault("opcua.limits.subscription_timer_tick_ms", 10)
	v.SetDefault("opcua.limits.session_timeout_ms", 50000)
	v.SetDefault("opcua.limits.max_browse_continuation_points", 10)

	v.SetDefault("opcua.admin.pid_file", "/var/run/opcua-server.pid")
	v.SetDefault("opcua.admin.socket", "/var/run/opcua-server.sock")

	v.SetDefault("opcua.log.level", "info")
	v.SetDefault("opcua.log.format", "json")
	v.SetDefault("opcua.log.outputs.file.enabled", false)
	v.SetDefault("opcua.log.outputs.file.path", "/var/log/opcua-server/opcua-server.log")
	v.SetDefault("opcua.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("opcua.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("opcua.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("opcua.log.outputs.file.rotation.compress", true)

	v.SetDefault("opcua.metrics.enabled", true)
	v.SetDefault("opcua.metrics.listen", ":9091")
	v.SetDefault("opcua.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and rejects
// contradictory settings.
func (cfg *ServerConfig) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	if cfg.Limits.SubscriptionTimerTickMS > cfg.Limits.MinSamplingIntervalMS {
		return fmt.Errorf("subscription_timer_tick_ms (%d) must be <= min_sampling_interval_ms (%d)",
			cfg.Limits.SubscriptionTimerTickMS, cfg.Limits.MinSamplingIntervalMS)
	}
	if cfg.Limits.MinPublishingIntervalMS < cfg.Limits.MinSamplingIntervalMS {
		return fmt.Errorf("min_publishing_interval_ms (%d) must be >= min_sampling_interval_ms (%d)",
			cfg.Limits.MinPublishingIntervalMS, cfg.Limits.MinSamplingIntervalMS)
	}

	if cfg.ApplicationURI == "" {
		return fmt.Errorf("application_uri is required")
	}

	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = []EndpointConfig{{
			URL:            "opc.tcp://0.0.0.0:4855",
			SecurityPolicy: "None",
			SecurityMode:   "None",
			UserTokenTypes: []string{"anonymous"},
		}}
	}

	return nil
}
