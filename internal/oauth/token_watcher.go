package oauth

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/giantswarm/dav-proxy/pkg/logging"
)

const (
	// DefaultWatchDebounce is how long the watcher waits after the last
	// change before calling OnChange.
	DefaultWatchDebounce = 250 * time.Millisecond

	// DefaultWatchPollInterval is the polling period used when fsnotify is
	// unavailable.
	DefaultWatchPollInterval = 5 * time.Second
)

// TokenWatcherConfig configures a TokenWatcher.
type TokenWatcherConfig struct {
	// Path is the token file to watch.
	Path string

	// OnChange is called after the file was created, replaced, written or
	// removed.
	OnChange func()

	Debounce     time.Duration
	PollInterval time.Duration
}

// TokenWatcher notices token file changes made by other processes, such as
// "dav-proxy auth login" run while the proxy is serving.
//
// The parent directory is watched rather than the file itself, because an
// atomic save replaces the file's inode. When fsnotify cannot be used the
// watcher polls the file's modification time.
type TokenWatcher struct {
	mu      sync.Mutex
	cfg     TokenWatcherConfig
	fsw     *fsnotify.Watcher
	stopCh  chan struct{}
	running bool

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// NewTokenWatcher creates a watcher. Call Start to begin watching.
func NewTokenWatcher(cfg TokenWatcherConfig) *TokenWatcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultWatchDebounce
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultWatchPollInterval
	}
	return &TokenWatcher{cfg: cfg}
}

// Start begins watching. It is a no-op when already running.
func (w *TokenWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	w.stopCh = make(chan struct{})
	w.running = true

	dir := filepath.Dir(w.cfg.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		logging.Warn("TokenWatcher", "Cannot create %s, falling back to polling: %v", dir, err)
		go w.poll(w.stopCh)
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("TokenWatcher", "fsnotify not available, falling back to polling: %v", err)
		go w.poll(w.stopCh)
		return nil
	}
	if err := fsw.Add(dir); err != nil {
		logging.Warn("TokenWatcher", "Failed to watch %s, falling back to polling: %v", dir, err)
		fsw.Close()
		go w.poll(w.stopCh)
		return nil
	}
	w.fsw = fsw

	go w.processEvents(w.stopCh, fsw.Events, fsw.Errors)

	logging.Debug("TokenWatcher", "Watching %s for token changes", w.cfg.Path)
	return nil
}

func (w *TokenWatcher) processEvents(stopCh <-chan struct{}, eventsCh <-chan fsnotify.Event, errorsCh <-chan error) {
	for {
		select {
		case <-stopCh:
			return
		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.cfg.Path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			logging.Debug("TokenWatcher", "Token file event %s", event.Op)
			w.trigger()
		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			logging.Error("TokenWatcher", err, "fsnotify error")
		}
	}
}

func (w *TokenWatcher) poll(stopCh <-chan struct{}) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	last := w.stamp()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if cur := w.stamp(); !cur.Equal(last) {
				last = cur
				w.trigger()
			}
		}
	}
}

// stamp is the file's modification time, zero when it does not exist.
func (w *TokenWatcher) stamp() time.Time {
	info, err := os.Stat(w.cfg.Path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (w *TokenWatcher) trigger() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		running := w.running
		w.mu.Unlock()

		if running && w.cfg.OnChange != nil {
			w.cfg.OnChange()
		}
	})
}

// Stop ends watching. It is safe to call more than once.
func (w *TokenWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()

	if w.fsw != nil {
		if err := w.fsw.Close(); err != nil {
			logging.Warn("TokenWatcher", "Error closing fsnotify watcher: %v", err)
		}
		w.fsw = nil
	}
}
