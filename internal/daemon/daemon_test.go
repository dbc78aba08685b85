package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDaemon_StartStopIntegration(t *testing.T) {
	tmpDir := t.TempDir()

	socketPath := filepath.Join(tmpDir, "opcua-server.sock")
	pidFile := filepath.Join(tmpDir, "opcua-server.pid")

	configPath := filepath.Join(tmpDir, "config.yml")
	configContent := `
opcua:
  application_uri: urn:test:opcua-server
  admin:
    socket: ` + socketPath + `
    pid_file: ` + pidFile + `
  log:
    level: debug
    format: text
  metrics:
    enabled: true
    listen: 127.0.0.1:0
    path: /metrics
  endpoints:
    - url: opc.tcp://127.0.0.1:0
      security_policy: None
      security_mode: None
      user_token_types: [anonymous]
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	d, err := New(configPath)
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}

	if err := d.Start(); err != nil {
		t.Fatalf("failed to start daemon: %v", err)
	}

	if _, err := os.Stat(pidFile); os.IsNotExist(err) {
		t.Errorf("PID file was not created: %s", pidFile)
	}

	time.Sleep(100 * time.Millisecond)
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		t.Errorf("admin UDS socket was not created: %s", socketPath)
	}

	runDone := make(chan error, 1)
	go func() {
		runDone <- d.Run()
	}()

	time.Sleep(100 * time.Millisecond)
	close(d.shutdownChan)

	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("daemon.Run() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop within timeout")
	}

	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Errorf("PID file was not removed after shutdown: %s", pidFile)
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("admin UDS socket was not removed after shutdown: %s", socketPath)
	}
}
