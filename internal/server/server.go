// Package server implements the chat service: the TCP listener speaking the
// length-prefixed protocol, the optional WebSocket gateway, and the router
// and registries behind both.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/tcpchat/internal/auth"
	"github.com/Tyrowin/tcpchat/internal/logging"
)

// ErrServerClosed is returned by Start after Shutdown.
var ErrServerClosed = errors.New("server: closed")

const acceptRetryDelay = 50 * time.Millisecond

// Stats is a point-in-time view of server load.
type Stats struct {
	Connections    int
	Online         int
	Registered     int
	Groups         int
	PendingOffline int
}

// Server accepts client connections and serves them until shut down.
type Server struct {
	cfg      Config
	log      *slog.Logger
	stores   Stores
	router   *Router
	hub      *Hub
	upgrader *websocket.Upgrader

	mu           sync.Mutex
	started      bool
	stopped      bool
	listener     net.Listener
	httpListener net.Listener
	httpServer   *http.Server
	acceptWG     sync.WaitGroup
	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds a Server from cfg. Out-of-range settings are replaced with
// defaults; an unknown hash scheme or log level is an error. Seed users are
// registered before New returns. A nil log discards everything.
func New(cfg Config, log *slog.Logger) (*Server, error) {
	cfg = sanitizeConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = logging.Discard()
	}

	hasher, err := auth.NewHasher(cfg.PasswordHash)
	if err != nil {
		return nil, err
	}
	stores := NewStores(hasher)

	for _, seed := range cfg.SeedUsers {
		err := stores.Users.Register(seed.Username, seed.Password)
		switch {
		case errors.Is(err, auth.ErrAlreadyExists):
			log.Warn("duplicate seed user ignored", "user", seed.Username)
		case err != nil:
			return nil, fmt.Errorf("seed user %q: %w", seed.Username, err)
		}
	}

	s := &Server{
		cfg:    cfg,
		log:    log,
		stores: stores,
		router: NewRouter(stores, log),
		hub:    NewHub(log),
	}
	s.upgrader = newUpgrader(newOriginPolicy(cfg.AllowedOrigins, log))
	return s, nil
}

// Config returns the sanitized configuration the server runs with.
func (s *Server) Config() Config { return s.cfg }

// Stores returns the registries backing the server.
func (s *Server) Stores() Stores { return s.stores }

// Start opens the listeners and begins serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrServerClosed
	}
	if s.started {
		return errors.New("server: already started")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	if s.cfg.WebSocketAddr != "" {
		httpLn, err := net.Listen("tcp", s.cfg.WebSocketAddr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen %s: %w", s.cfg.WebSocketAddr, err)
		}
		s.httpListener = httpLn
		s.httpServer = createHTTPServer(SetupRoutes(s))
	}

	s.listener = ln
	s.started = true

	go s.hub.Run()

	s.acceptWG.Add(1)
	go s.acceptLoop(ln)
	s.log.Info("chat server listening", "addr", ln.Addr().String())

	if s.httpServer != nil {
		go s.serveHTTP(s.httpServer, s.httpListener)
		s.log.Info("websocket gateway listening", "addr", s.httpListener.Addr().String())
	}
	return nil
}

// Serve starts the server and blocks until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Shutdown(s.cfg.ShutdownTimeout)
}

// Addr returns the TCP listener's address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// WebSocketAddr returns the gateway listener's address, or "" when the
// gateway is disabled or not started.
func (s *Server) WebSocketAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// Stats returns current counts.
func (s *Server) Stats() Stats {
	return Stats{
		Connections:    s.hub.Len(),
		Online:         s.stores.Sessions.Len(),
		Registered:     s.stores.Users.Len(),
		Groups:         len(s.stores.Groups.AllGroupNames()),
		PendingOffline: s.stores.Mailbox.Pending(),
	}
}

// Shutdown stops accepting, closes every connection, and waits up to
// timeout for connection goroutines to finish. Each bound user is logged out
// on the way down. Later calls return the first call's result.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(timeout)
	})
	return s.shutdownErr
}

func (s *Server) shutdown(timeout time.Duration) error {
	s.mu.Lock()
	s.stopped = true
	started := s.started
	ln, httpServer := s.listener, s.httpServer
	s.mu.Unlock()

	if !started {
		return nil
	}

	s.log.Info("shutting down chat server")
	var errs []error

	if err := ln.Close(); err != nil && !isExpectedCloseError(err) {
		errs = append(errs, fmt.Errorf("close listener: %w", err))
	}
	s.acceptWG.Wait()

	if httpServer != nil {
		if err := shutdownHTTPServer(httpServer, timeout); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.hub.Shutdown(timeout); err != nil {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}

	if len(errs) == 0 {
		s.log.Info("chat server stopped")
	}
	return errors.Join(errs...)
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.acceptWG.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", "error", err)
			time.Sleep(acceptRetryDelay)
			continue
		}
		s.attach(newTCPTransport(conn, s.cfg))
	}
}

// attach wraps t in a Conn and hands it to the hub.
func (s *Server) attach(t transport) {
	c := newConn(t, s.hub, s.router, s.cfg, s.log)
	if !s.hub.Register(c) {
		c.log.Info("rejecting connection during shutdown")
		c.Close()
	}
}

// createHTTPServer creates the gateway's HTTP server with reasonable timeout
// values. Upgraded connections are hijacked and no longer subject to them.
func createHTTPServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func (s *Server) serveHTTP(srv *http.Server, ln net.Listener) {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error("websocket gateway stopped", "error", err)
	}
}

// shutdownHTTPServer stops the gateway without interrupting in-flight
// health checks. Hijacked WebSocket connections are closed by the hub.
func shutdownHTTPServer(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
