package oauth

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/giantswarm/dav-proxy/pkg/logging"
)

// CaptureConfirmation is the text shown in the browser after a redirect was
// captured.
const CaptureConfirmation = "Successfully obtained token. You may close this window."

//go:embed templates/capture.html
var captureHTML string

var captureTemplate = template.Must(template.New("capture").Parse(captureHTML))

// ErrCaptureServerClosed is returned by waits that were still pending when
// the capture server shut down.
var ErrCaptureServerClosed = errors.New("capture server closed")

// CaptureServerConfig configures a CaptureServer.
type CaptureServerConfig struct {
	// Port to listen on. 0 picks a free port, which is what installed
	// application clients normally use.
	Port int
}

// CaptureServer is a short-lived HTTP server on the loopback interface that
// records the URL of the redirect the provider sends the browser to.
//
// Every request on every path is answered with the same confirmation page.
// A request is delivered to the oldest pending waiter; requests arriving
// while nobody waits are answered and dropped.
type CaptureServer struct {
	server   *http.Server
	listener net.Listener
	baseURL  string

	mu      sync.Mutex
	waiters []*PendingCapture

	closeOnce sync.Once
	done      chan struct{}
}

// PendingCapture is a registered interest in the next request.
type PendingCapture struct {
	server *CaptureServer
	ch     chan string
}

// StartCaptureServer starts listening on 127.0.0.1. The server is closed
// when ctx is cancelled or Close is called.
func StartCaptureServer(ctx context.Context, cfg CaptureServerConfig) (*CaptureServer, error) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Port))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start capture server on %s: %w", addr, err)
	}

	s := &CaptureServer{
		listener: listener,
		baseURL:  fmt.Sprintf("http://127.0.0.1:%d", listener.Addr().(*net.TCPAddr).Port),
		done:     make(chan struct{}),
	}
	s.server = &http.Server{
		Handler:           http.HandlerFunc(s.handle),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Warn("Capture", "Capture server stopped: %v", err)
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	logging.Debug("Capture", "Listening for authorization redirect on %s", s.baseURL)
	return s, nil
}

// BaseURL returns http://127.0.0.1:<port>.
func (s *CaptureServer) BaseURL() string {
	return s.baseURL
}

// Arm registers a waiter for the next request. Registering before the
// browser is launched guarantees a fast redirect is not missed.
func (s *CaptureServer) Arm() *PendingCapture {
	p := &PendingCapture{server: s, ch: make(chan string, 1)}
	s.mu.Lock()
	s.waiters = append(s.waiters, p)
	s.mu.Unlock()
	return p
}

// NextRequestURL waits for the next request that arrives after the call and
// returns its full URL.
func (s *CaptureServer) NextRequestURL(ctx context.Context) (string, error) {
	return s.Arm().Wait(ctx)
}

// Wait blocks until a request was delivered to p, ctx is done or the server
// is closed.
func (p *PendingCapture) Wait(ctx context.Context) (string, error) {
	select {
	case u := <-p.ch:
		return u, nil
	case <-ctx.Done():
		if u, ok := p.cancel(); ok {
			return u, nil
		}
		return "", ctx.Err()
	case <-p.server.done:
		if u, ok := p.cancel(); ok {
			return u, nil
		}
		return "", ErrCaptureServerClosed
	}
}

// Cancel withdraws the waiter. A request already delivered is discarded.
func (p *PendingCapture) Cancel() {
	p.cancel()
}

// cancel removes p from the queue. When p was already served it returns the
// delivered URL.
func (p *PendingCapture) cancel() (string, bool) {
	s := p.server
	s.mu.Lock()
	for i, w := range s.waiters {
		if w == p {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			s.mu.Unlock()
			return "", false
		}
	}
	s.mu.Unlock()

	select {
	case u := <-p.ch:
		return u, true
	default:
		return "", false
	}
}

func (s *CaptureServer) handle(w http.ResponseWriter, r *http.Request) {
	captured := s.baseURL + r.URL.RequestURI()

	s.mu.Lock()
	var waiter *PendingCapture
	if len(s.waiters) > 0 {
		waiter = s.waiters[0]
		s.waiters = s.waiters[1:]
	}
	s.mu.Unlock()

	if waiter != nil {
		waiter.ch <- captured
		logging.Debug("Capture", "Captured %s %s", r.Method, r.URL.Path)
	} else {
		logging.Debug("Capture", "Ignoring stray request %s %s", r.Method, r.URL.Path)
	}

	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = captureTemplate.Execute(w, map[string]string{
		"Title":   "dav-proxy",
		"Message": CaptureConfirmation,
	})
}

// Close shuts the server down and releases the listener. Pending waits
// return ErrCaptureServerClosed. Close is safe to call more than once.
func (s *CaptureServer) Close() {
	s.closeOnce.Do(func() {
		close(s.done)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctx)
		_ = s.listener.Close()

		logging.Debug("Capture", "Capture server on %s closed", s.baseURL)
	})
}

// Done is closed once the server has been closed.
func (s *CaptureServer) Done() <-chan struct{} {
	return s.done
}
