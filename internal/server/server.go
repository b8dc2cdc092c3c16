// Package server hosts the transport: an HTTP mux exposing a websocket
// endpoint with room-based fan-out over the session registry, plus a
// minimal bootstrap page for WebView-hosted clients, and the
// programmatic embedding API (start/create_session/terminate_session/
// shutdown).
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/openpty/ptyhub/internal/backend"
	"github.com/openpty/ptyhub/internal/config"
	"github.com/openpty/ptyhub/internal/logger"
	"github.com/openpty/ptyhub/internal/session"
)

// Server is the top-level, first-class server value: no hidden global
// registry. Callers construct one, Start it, and Shutdown it explicitly.
type Server struct {
	cfg      *config.Config
	registry *session.Registry
	reaper   *session.Reaper
	mux      *http.ServeMux
	limiter  *ipRateLimiter

	httpSrv      *http.Server
	listener     net.Listener
	reaperCancel context.CancelFunc
}

// New builds a Server from cfg. It does not bind a listener or start the
// reaper; call Start for that.
func New(cfg *config.Config) *Server {
	be := backend.New()
	reg := session.NewRegistry(be, session.RegistryConfig{
		MaxSessions:     cfg.MaxSessions,
		PollInterval:    time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		ReadChunkBytes:  cfg.ReadChunkBytes,
		DimensionMax:    cfg.DimensionMax,
		ScrollbackBytes: cfg.ScrollbackBytes,
	})
	reaper := session.NewReaper(reg,
		time.Duration(cfg.SweepIntervalSec)*time.Second,
		time.Duration(cfg.InactivityTimeoutSec)*time.Second,
	)

	s := &Server{
		cfg:      cfg,
		registry: reg,
		reaper:   reaper,
		limiter:  newIPRateLimiter(5, 10),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Namespace, s.handleWS)
	mux.HandleFunc("/terminal/", s.handleBootstrap)
	s.mux = mux
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.allow(clientIP(r)) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}
	s.mux.ServeHTTP(w, r)
}

// Start binds a listener on cfg.Host:cfg.Port (port 0 auto-allocates),
// begins serving, and starts the reaper. It returns the actual bound
// port, per the programmatic API's start(host, port) -> bound_port.
func (s *Server) Start(ctx context.Context) (int, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return 0, err
	}
	s.listener = ln

	reaperCtx, cancel := context.WithCancel(ctx)
	s.reaperCancel = cancel
	go s.reaper.Run(reaperCtx)

	s.httpSrv = &http.Server{Handler: s}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("http serve", "err", err)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port, nil
}

// CreateSession is the programmatic create_session operation.
func (s *Server) CreateSession(params session.CreateParams) (session.SessionID, error) {
	sess, err := s.registry.Create(params)
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

// GetSessionURL returns the WebView bootstrap URL convention for id.
func (s *Server) GetSessionURL(host string, id session.SessionID) string {
	return fmt.Sprintf("http://%s/terminal/%s?session_id=%s", host, id, id)
}

// TerminateSession is the programmatic terminate_session operation.
func (s *Server) TerminateSession(id session.SessionID) error {
	return s.registry.Terminate(id)
}

// Shutdown terminates every session and stops accepting connections,
// within a bounded grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.reaperCancel != nil {
		s.reaperCancel()
	}
	s.registry.Shutdown()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
