package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/giantswarm/dav-proxy/pkg/logging"
)

const (
	// DefaultShutdownTimeout bounds how long in-flight requests may take to
	// finish after a shutdown signal.
	DefaultShutdownTimeout = 10 * time.Second

	readHeaderTimeout = 30 * time.Second
)

// sdNotify is replaced in tests.
var sdNotify = daemon.SdNotify

// Config configures a Server.
type Config struct {
	Listen ListenConfig

	// MetricsAddr enables the metrics listener when non-empty.
	MetricsAddr string

	// Registry is served on the metrics listener.
	Registry *prometheus.Registry

	ShutdownTimeout time.Duration
}

// Server runs the proxy handler on one or more listeners, with an optional
// metrics listener next to it.
type Server struct {
	cfg     Config
	handler http.Handler

	mu        sync.Mutex
	servers   []*http.Server
	listeners []net.Listener
	metrics   net.Listener
	errCh     chan error
	started   bool
}

// New creates a Server. Nothing is opened until Start.
func New(cfg Config, handler http.Handler) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		errCh:   make(chan error, 8),
	}
}

// Start opens the listeners and begins serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("server already started")
	}

	listeners, err := Listen(s.cfg.Listen)
	if err != nil {
		return err
	}

	if s.cfg.MetricsAddr != "" {
		if s.cfg.Registry == nil {
			closeAll(listeners)
			return errors.New("metrics address set without a registry")
		}
		ml, err := net.Listen("tcp", s.cfg.MetricsAddr)
		if err != nil {
			closeAll(listeners)
			return fmt.Errorf("failed to listen on metrics address %s: %w", s.cfg.MetricsAddr, err)
		}
		s.metrics = ml
		s.serve(ml, metricsMux(s.cfg.Registry))
		logging.Info("Server", "Serving metrics on http://%s/metrics", ml.Addr())
	}

	for _, l := range listeners {
		s.serve(l, s.handler)
		logging.Info("Server", "Listening on %s://%s", l.Addr().Network(), l.Addr())
	}
	s.listeners = listeners
	s.started = true

	if ok, err := sdNotify(false, daemon.SdNotifyReady); err != nil {
		logging.Warn("Server", "Failed to notify systemd: %v", err)
	} else if ok {
		logging.Debug("Server", "Notified systemd of readiness")
	}
	return nil
}

func (s *Server) serve(l net.Listener, h http.Handler) {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.servers = append(s.servers, srv)
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- fmt.Errorf("serving on %s: %w", l.Addr(), err)
		}
	}()
}

// Addrs returns the addresses of the proxy listeners.
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.Addr())
	}
	return addrs
}

// MetricsAddr returns the metrics listener address, or nil.
func (s *Server) MetricsAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metrics == nil {
		return nil
	}
	return s.metrics.Addr()
}

// Run starts the server and blocks until ctx is cancelled or a listener
// fails, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-s.errCh:
		logging.Error("Server", runErr, "Listener failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	servers := s.servers
	s.servers = nil
	s.mu.Unlock()

	if len(servers) == 0 {
		return nil
	}

	_, _ = sdNotify(false, daemon.SdNotifyStopping)
	logging.Info("Server", "Shutting down")

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeAll(listeners []net.Listener) {
	for _, l := range listeners {
		_ = l.Close()
	}
}
