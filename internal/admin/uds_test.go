package admin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestUDSServer(t *testing.T) (*UDSServer, string, *Handler) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "admin.sock")
	h := NewHandler(newTestServer(t))
	srv := NewUDSServer(socketPath, h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(socketPath)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("uds server did not stop")
		}
	})

	return srv, socketPath, h
}

func TestUDSClient_StatusRoundTrip(t *testing.T) {
	_, socketPath, _ := startTestUDSServer(t)

	client := NewUDSClient(socketPath, time.Second)
	resp, err := client.Status(context.Background())
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	result := resp.Result.(map[string]interface{})
	assert.Contains(t, result, "uptime_seconds")
}

func TestUDSClient_Ping(t *testing.T) {
	_, socketPath, _ := startTestUDSServer(t)

	client := NewUDSClient(socketPath, time.Second)
	require.NoError(t, client.Ping(context.Background()))
}

func TestUDSClient_ShutdownTriggersCallback(t *testing.T) {
	_, socketPath, h := startTestUDSServer(t)

	called := make(chan struct{}, 1)
	h.SetShutdownFunc(func() { called <- struct{}{} })

	client := NewUDSClient(socketPath, time.Second)
	resp, err := client.Shutdown(context.Background())
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("shutdown was not triggered over the wire")
	}
}

func TestUDSClient_ConnectionRefused(t *testing.T) {
	client := NewUDSClient(filepath.Join(t.TempDir(), "nonexistent.sock"), 200*time.Millisecond)
	_, err := client.Status(context.Background())
	require.Error(t, err)
}
