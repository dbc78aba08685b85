// Package daemon implements the OPC UA server process lifecycle:
// config load, logging, the TCP listener, the metrics server, and the
// admin UDS control plane, wired together and torn down in order.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coriolis-automation/opcua-server/internal/admin"
	"github.com/coriolis-automation/opcua-server/internal/config"
	logpkg "github.com/coriolis-automation/opcua-server/internal/log"
	"github.com/coriolis-automation/opcua-server/internal/metrics"
	"github.com/coriolis-automation/opcua-server/internal/pki"
	"github.com/coriolis-automation/opcua-server/internal/server"
	"github.com/coriolis-automation/opcua-server/internal/session"
)

// Daemon manages the opcua-server process lifecycle.
type Daemon struct {
	config     *config.ServerConfig
	configPath string

	srv           *server.Server
	trustStore    *pki.Store
	admin         *admin.Handler
	udsServer     *admin.UDSServer
	metricsServer *metrics.Server

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	serveErr     chan error
}

// New loads configuration from configPath and prepares a Daemon.
func New(configPath string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		shutdownChan: make(chan struct{}),
		serveErr:     make(chan error, 1),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting opcua-server daemon",
		"application_uri", d.config.ApplicationURI,
		"config", d.configPath,
	)

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	trustStore, err := pki.New(d.config.Security.PKIDir)
	if err != nil {
		return fmt.Errorf("failed to load trust store: %w", err)
	}
	d.trustStore = trustStore

	identity := d.buildIdentityValidator()

	srv, err := server.New(server.Limits{
		ReceiveBufferSize: uint32(d.config.Limits.MaxRequestMessageSize),
		SendBufferSize:    uint32(d.config.Limits.MaxRequestMessageSize),
		MaxMessageSize:    uint32(d.config.Limits.MaxRequestMessageSize),
		MaxChunkCount:     256,
		HelloTimeout:      d.config.Limits.HelloTimeout(),
	}, d.config.Limits.MaxSessions, d.config.Limits.SubscriptionTimerTick(), identity)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}
	d.srv = srv

	d.admin = admin.NewHandler(d.srv)
	d.admin.SetConfigReloader(d)
	d.admin.SetShutdownFunc(func() {
		slog.Info("shutdown triggered via server_shutdown command")
		close(d.shutdownChan)
	})

	d.udsServer = admin.NewUDSServer(d.config.Admin.Socket, d.admin)
	go func() {
		if err := d.udsServer.Start(d.ctx); err != nil && err != context.Canceled {
			slog.Error("admin uds server failed", "error", err)
		}
	}()

	endpoint := "0.0.0.0:4855"
	if len(d.config.Endpoints) > 0 {
		endpoint = endpointAddr(d.config.Endpoints[0].URL)
	}
	go func() {
		if err := d.srv.ListenAndServe(d.ctx, endpoint); err != nil && err != context.Canceled {
			d.serveErr <- err
		}
	}()

	slog.Info("daemon started successfully")
	return nil
}

// Stop performs graceful shutdown of all daemon components.
func (d *Daemon) Stop() {
	slog.Info("initiating graceful shutdown")

	if d.udsServer != nil {
		slog.Info("stopping admin uds server")
		d.udsServer.Stop()
	}

	if d.metricsServer != nil {
		slog.Info("stopping metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	d.cancel()

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")
}

// Run runs the daemon main loop, blocking until shutdown is triggered
// by an OS signal, the server_shutdown admin command, or SIGHUP
// (which reloads configuration instead of stopping).
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil
			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				} else {
					slog.Info("configuration reloaded successfully")
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case err := <-d.serveErr:
			slog.Error("opc ua listener stopped with error", "error", err)
			d.Stop()
			return err

		case <-d.ctx.Done():
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads configuration from disk. Only logging and the trust
// store are hot-reloaded; limits and endpoints require a restart since
// they are baked into the already-running listener and subscription
// engine.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	oldConfig := d.config
	oldLevel, oldFormat := d.config.Log.Level, d.config.Log.Format
	d.config = newConfig
	if err := d.initLogging(); err != nil {
		slog.Error("failed to reinitialize logging", "error", err)
	} else if newConfig.Log.Level != oldLevel || newConfig.Log.Format != oldFormat {
		slog.Info("log configuration hot-reloaded")
	}

	if d.trustStore != nil && d.config.Security.PKIDir != "" {
		if err := d.trustStore.Reload(); err != nil {
			slog.Error("failed to reload trust store", "error", err)
		} else {
			slog.Info("trust store reloaded", "generation", d.trustStore.Generation())
		}
	}

	var requiresRestart []string
	if newConfig.ApplicationURI != oldConfig.ApplicationURI {
		requiresRestart = append(requiresRestart, "application_uri")
	}
	if newConfig.Metrics.Listen != oldConfig.Metrics.Listen {
		requiresRestart = append(requiresRestart, "metrics.listen")
	}
	slog.Info("configuration reloaded", "requires_restart", requiresRestart)
	return nil
}

// buildIdentityValidator assembles the ActivateSession identity
// validator from configuration: anonymous access is always accepted
// (endpoints that don't offer it reject the token at the policy
// level), and an X509 validator backed by the trust store is added
// whenever security.pki_dir is configured.
func (d *Daemon) buildIdentityValidator() session.Validator {
	composite := session.CompositeValidator{
		Anonymous: session.AnonymousValidator{},
	}
	if d.config.Security.PKIDir != "" {
		composite.X509 = session.X509Validator{TrustStore: d.trustStore}
	}
	return composite
}

func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	slog.Debug("logging initialized", "level", d.config.Log.Level, "format", d.config.Log.Format)
	return nil
}

func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}
	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	slog.Info("metrics server started", "addr", d.config.Metrics.Listen, "path", d.config.Metrics.Path)
	return nil
}

func (d *Daemon) writePIDFile() error {
	if d.config.Admin.PIDFile == "" {
		return nil
	}
	pid := os.Getpid()
	if err := os.WriteFile(d.config.Admin.PIDFile, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.config.Admin.PIDFile, err)
	}
	slog.Debug("PID file written", "path", d.config.Admin.PIDFile, "pid", pid)
	return nil
}

func (d *Daemon) removePIDFile() error {
	if d.config.Admin.PIDFile == "" {
		return nil
	}
	if err := os.Remove(d.config.Admin.PIDFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.config.Admin.PIDFile, err)
	}
	slog.Debug("PID file removed", "path", d.config.Admin.PIDFile)
	return nil
}

// endpointAddr strips the "opc.tcp://" scheme from an endpoint URL,
// leaving the host:port net.Listen expects.
func endpointAddr(url string) string {
	const scheme = "opc.tcp://"
	if len(url) > len(scheme) && url[:len(scheme)] == scheme {
		return url[len(scheme):]
	}
	return url
}
