package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// helper to write a tmp YAML file and return its path.
func writeTmpConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write tmp config: %v", err)
	}
	return p
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
opcua:
  application_name: "test-server"
  application_uri: "urn:test:opcua-server"
  endpoints:
    - url: "opc.tcp://0.0.0.0:4855"
      security_policy: "None"
      security_mode: "None"
      user_token_types: ["anonymous"]
  log:
    level: "debug"
    format: "json"
  metrics:
    enabled: true
    listen: "0.0.0.0:9090"
    path: "/metrics"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ApplicationName != "test-server" {
		t.Errorf("ApplicationName = %q, want test-server", cfg.ApplicationName)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q", cfg.Log.Format)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
	if len(cfg.Endpoints) != 1 || cfg.Endpoints[0].URL != "opc.tcp://0.0.0.0:4855" {
		t.Errorf("Endpoints = %+v", cfg.Endpoints)
	}
}

func TestLoadInvalidLogLevel(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
opcua:
  application_uri: "urn:test"
  log:
    level: "invalid"
    format: "json"
`))
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
	if !strings.Contains(err.Error(), "invalid log level") {
		t.Errorf("error = %v, want 'invalid log level'", err)
	}
}

func TestLoadInvalidLogFormat(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
opcua:
  application_uri: "urn:test"
  log:
    level: "info"
    format: "invalid"
`))
	if err == nil {
		t.Fatal("expected error for invalid log format")
	}
}

func TestApplicationURIRequired(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
opcua:
  log:
    level: "info"
    format: "json"
`))
	if err == nil {
		t.Fatal("expected error for missing application_uri")
	}
	if !strings.Contains(err.Error(), "application_uri") {
		t.Errorf("error = %v, want mention of application_uri", err)
	}
}

func TestSubscriptionTimerTickMustNotExceedSamplingInterval(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
opcua:
  application_uri: "urn:test"
  log:
    level: "info"
    format: "json"
  limits:
    subscription_timer_tick_ms: 200
    min_sampling_interval_ms: 50
`))
	if err == nil {
		t.Fatal("expected error: subscription_timer_tick_ms > min_sampling_interval_ms")
	}
	if !strings.Contains(err.Error(), "subscription_timer_tick_ms") {
		t.Errorf("error = %v, want mention of subscription_timer_tick_ms", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
opcua:
  application_uri: "urn:test"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Admin.PIDFile != "/var/run/opcua-server.pid" {
		t.Errorf("Admin.PIDFile = %q, want /var/run/opcua-server.pid", cfg.Admin.PIDFile)
	}
	if cfg.Admin.Socket != "/var/run/opcua-server.sock" {
		t.Errorf("Admin.Socket = %q, want /var/run/opcua-server.sock", cfg.Admin.Socket)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
	if cfg.Metrics.Listen != ":9091" {
		t.Errorf("Metrics.Listen = %q, want :9091", cfg.Metrics.Listen)
	}
	if cfg.Limits.MaxSessions != 100 {
		t.Errorf("Limits.MaxSessions = %d, want 100", cfg.Limits.MaxSessions)
	}
	if cfg.Limits.HelloTimeoutSeconds != 120 {
		t.Errorf("Limits.HelloTimeoutSeconds = %d, want 120", cfg.Limits.HelloTimeoutSeconds)
	}
	// No endpoints configured → one default endpoint is filled in.
	if len(cfg.Endpoints) != 1 {
		t.Errorf("Endpoints = %+v, want one default endpoint", cfg.Endpoints)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("OPCUA_LOG_LEVEL", "debug")

	cfg, err := Load(writeTmpConfig(t, `
opcua:
  application_uri: "urn:test"
  log:
    level: "info"
    format: "json"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug (from env)", cfg.Log.Level)
	}
}
