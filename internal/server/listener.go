package server

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/coriolis-automation/opcua-server/internal/addressspace"
	"github.com/coriolis-automation/opcua-server/internal/metrics"
	"github.com/coriolis-automation/opcua-server/internal/securechannel"
	"github.com/coriolis-automation/opcua-server/internal/session"
	"github.com/coriolis-automation/opcua-server/internal/subscription"
)

// Server owns the shared domain-layer state and accepts connections,
// spawning one driver goroutine per client connection.
type Server struct {
	Limits Limits

	AddressSpace  *addressspace.AddressSpace
	Sessions      *session.Manager
	Subscriptions *subscription.Engine
	Identity      session.Validator

	MaxChannelLifetime time.Duration

	listener net.Listener
}

// New wires the four domain subsystems into a Server ready to Listen,
// seeding the standard namespace into a fresh AddressSpace.
func New(limits Limits, maxSessions int, samplingInterval time.Duration, identity session.Validator) (*Server, error) {
	as, err := addressspace.New(0)
	if err != nil {
		return nil, err
	}
	if err := addressspace.SeedStandardNamespace(as); err != nil {
		return nil, err
	}
	return &Server{
		Limits:        limits,
		AddressSpace:  as,
		Sessions:      session.NewManager(maxSessions),
		Subscriptions: subscription.NewEngine(as, samplingInterval),
		Identity:      identity,
	}, nil
}

// ListenAndServe binds addr and accepts connections until ctx is
// cancelled, each served by its own driver goroutine.
func (srv *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv.listener = ln
	defer ln.Close()

	srv.Subscriptions.Start(ctx)
	defer srv.Subscriptions.Stop()

	go srv.sweepSessions(ctx)

	slog.Info("opc ua server listening", "addr", addr)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	services := &Services{
		AddressSpace:  srv.AddressSpace,
		Sessions:      srv.Sessions,
		Subscriptions: srv.Subscriptions,
		Identity:      srv.Identity,
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				slog.Warn("accept failed", "error", err)
				return err
			}
		}
		metrics.ConnectionsTotal.Inc()
		// Each connection gets its own SecureChannel state machine;
		// a SecureChannel is one connection's crypto lifetime, never
		// shared across clients.
		chSvc := securechannel.NewService(srv.MaxChannelLifetime)
		d := newDriver(conn, srv.Limits, services, chSvc)
		go d.run(ctx)
	}
}

// sweepSessions periodically closes idle sessions, the same
// ticker-driven-goroutine shape the Subscription Engine uses for
// sampling.
func (srv *Server) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := srv.Sessions.SweepExpired(now); n > 0 {
				metrics.SessionsExpiredTotal.Add(float64(n))
				metrics.SessionsOpen.Set(float64(srv.Sessions.Count()))
				slog.Info("swept expired sessions", "count", n)
			}
		}
	}
}
