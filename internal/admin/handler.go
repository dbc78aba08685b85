// Package admin implements the control plane: a JSON-RPC-over-UDS
// surface the CLI uses to query and steer a running daemon, separate
// from the OPC UA TCP listener client applications talk to.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coriolis-automation/opcua-server/internal/server"
)

// Handler answers admin commands against a running Server.
type Handler struct {
	srv          *server.Server
	configReload func() error
	shutdown     func()
	startTime    time.Time
}

// ConfigReloader is the interface for reloading global configuration.
type ConfigReloader interface {
	Reload() error
}

// NewHandler builds a Handler bound to srv.
func NewHandler(srv *server.Server) *Handler {
	return &Handler{srv: srv, startTime: time.Now()}
}

// SetConfigReloader registers the callback invoked by "config_reload".
func (h *Handler) SetConfigReloader(r ConfigReloader) {
	h.configReload = r.Reload
}

// SetShutdownFunc registers the callback invoked by "server_shutdown".
func (h *Handler) SetShutdownFunc(fn func()) {
	h.shutdown = fn
}

// Command is one control plane request.
type Command struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     string          `json:"id"`
}

// Response is one control plane reply.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo mirrors a JSON-RPC error object.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes, per the JSON-RPC 2.0 spec's reserved range.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Handle dispatches cmd and returns a response.
func (h *Handler) Handle(ctx context.Context, cmd Command) Response {
	slog.Debug("admin command", "method", cmd.Method, "id", cmd.ID)
	switch cmd.Method {
	case "server_status":
		return h.handleStatus(cmd)
	case "server_shutdown":
		return h.handleShutdown(cmd)
	case "config_reload":
		return h.handleConfigReload(cmd)
	case "sessions_list":
		return h.handleSessionsList(cmd)
	case "subscriptions_list":
		return h.handleSubscriptionsList(cmd)
	default:
		return errResp(cmd.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", cmd.Method))
	}
}

func (h *Handler) handleStatus(cmd Command) Response {
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"uptime_seconds":      int64(time.Since(h.startTime).Seconds()),
			"sessions_open":       h.srv.Sessions.Count(),
			"subscriptions_open":  h.srv.Subscriptions.Count(),
		},
	}
}

func (h *Handler) handleShutdown(cmd Command) Response {
	if h.shutdown == nil {
		return errResp(cmd.ID, ErrCodeInternalError, "shutdown handler not registered")
	}
	slog.Info("server_shutdown command received, initiating graceful shutdown")
	go h.shutdown()
	return Response{ID: cmd.ID, Result: map[string]interface{}{"status": "shutting_down"}}
}

func (h *Handler) handleConfigReload(cmd Command) Response {
	if h.configReload == nil {
		return errResp(cmd.ID, ErrCodeInternalError, "config reloader not registered")
	}
	if err := h.configReload(); err != nil {
		return errResp(cmd.ID, ErrCodeInternalError, fmt.Sprintf("reload failed: %v", err))
	}
	return Response{ID: cmd.ID, Result: map[string]interface{}{"status": "reloaded"}}
}

func (h *Handler) handleSessionsList(cmd Command) Response {
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"count": h.srv.Sessions.Count(),
		},
	}
}

func (h *Handler) handleSubscriptionsList(cmd Command) Response {
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"count": h.srv.Subscriptions.Count(),
		},
	}
}

func errResp(id string, code int, msg string) Response {
	return Response{ID: id, Error: &ErrorInfo{Code: code, Message: msg}}
}
