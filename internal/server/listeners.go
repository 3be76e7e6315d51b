package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/coreos/go-systemd/v22/activation"

	"github.com/giantswarm/dav-proxy/pkg/logging"
)

// ErrNoSystemdSockets is returned when systemd activation is requested but
// the process was not passed any listening sockets.
var ErrNoSystemdSockets = errors.New("no sockets passed by systemd")

// systemdListeners is replaced in tests.
var systemdListeners = activation.Listeners

// ListenConfig selects where the proxy accepts connections. Systemd takes
// precedence over Socket, which takes precedence over Bind and Port.
type ListenConfig struct {
	Bind    string
	Port    int
	Socket  string
	Systemd bool
}

// Listen opens the listeners described by cfg.
func Listen(cfg ListenConfig) ([]net.Listener, error) {
	switch {
	case cfg.Systemd:
		return listenSystemd()
	case cfg.Socket != "":
		l, err := listenUnix(cfg.Socket)
		if err != nil {
			return nil, err
		}
		return []net.Listener{l}, nil
	default:
		addr := net.JoinHostPort(cfg.Bind, strconv.Itoa(cfg.Port))
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		return []net.Listener{l}, nil
	}
}

func listenSystemd() ([]net.Listener, error) {
	all, err := systemdListeners()
	if err != nil {
		return nil, fmt.Errorf("failed to get systemd sockets: %w", err)
	}
	var listeners []net.Listener
	for _, l := range all {
		// activation returns nil for passed descriptors that are not listeners
		if l != nil {
			listeners = append(listeners, l)
		}
	}
	if len(listeners) == 0 {
		return nil, ErrNoSystemdSockets
	}
	logging.Debug("Server", "Using %d systemd socket(s)", len(listeners))
	return listeners, nil
}

func listenUnix(path string) (net.Listener, error) {
	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("refusing to replace %s: not a socket", path)
		}
		// stale socket from a previous run
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("failed to remove stale socket %s: %w", path, err)
		}
	}

	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	return l, nil
}
