package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func writeReloadConfig(t *testing.T, path, level, metricsListen string) {
	t.Helper()
	content := `
opcua:
  application_uri: urn:test:opcua-server
  admin:
    socket: ` + filepath.Join(filepath.Dir(path), "reload.sock") + `
    pid_file: ` + filepath.Join(filepath.Dir(path), "reload.pid") + `
  log:
    level: ` + level + `
    format: text
  metrics:
    enabled: false
    listen: ` + metricsListen + `
    path: /metrics
  endpoints:
    - url: opc.tcp://127.0.0.1:0
      security_policy: None
      security_mode: None
      user_token_types: [anonymous]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestDaemon_ReloadLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")
	writeReloadConfig(t, configPath, "info", "127.0.0.1:0")

	d, err := New(configPath)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	if d.config.Log.Level != "info" {
		t.Fatalf("expected initial level info, got %s", d.config.Log.Level)
	}

	writeReloadConfig(t, configPath, "debug", "127.0.0.1:0")

	if err := d.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if d.config.Log.Level != "debug" {
		t.Fatalf("expected level debug after reload, got %s", d.config.Log.Level)
	}
}

func TestDaemon_ReloadPreservesSessions(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")
	writeReloadConfig(t, configPath, "info", "127.0.0.1:0")

	d, err := New(configPath)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	initialCount := d.srv.Sessions.Count()

	if err := d.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	afterCount := d.srv.Sessions.Count()
	if initialCount != afterCount {
		t.Fatalf("session count changed after reload: %d -> %d", initialCount, afterCount)
	}
}

func TestDaemon_ReloadFlagsEndpointChangeForRestart(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")
	writeReloadConfig(t, configPath, "info", "127.0.0.1:0")

	d, err := New(configPath)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	writeReloadConfig(t, configPath, "info", "127.0.0.1:9999")

	if err := d.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if d.config.Metrics.Listen != "127.0.0.1:9999" {
		t.Fatalf("expected metrics.listen updated to 127.0.0.1:9999, got %s", d.config.Metrics.Listen)
	}
}
