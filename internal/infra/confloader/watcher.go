package confloader

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce coalesces the burst of fsnotify events a single config
// file edit usually produces (most editors write a temp file, rename it
// over the target, and touch the directory's mtime — three events for
// one logical change) into one callback invocation, so config.Watch's
// onReload doesn't run config.Verify/DiffStructural three times for
// one save.
const defaultDebounce = 300 * time.Millisecond

// Watcher watches a config file's directory for writes and renames, and
// fans out to registered callbacks. It watches the directory rather than
// the file itself so it survives editors that replace the file instead of
// writing it in place, but filters events down to the specific file(s)
// passed to Watch — the directory otherwise reports every unrelated
// entry inside it too (lock files, other configs sharing the directory).
type Watcher struct {
	watcher       *fsnotify.Watcher
	watchedFiles  map[string]bool
	callbacks     []func(string)
	mu            sync.RWMutex
	done          chan struct{}
	logger        *slog.Logger
	debounce      time.Duration
	debounceTimer *time.Timer
	debounceMu    sync.Mutex
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the logger for the watcher.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithDebounce overrides how long the watcher waits after the last
// qualifying event before firing callbacks. A zero duration disables
// coalescing and notifies on every event.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// NewWatcher creates a new configuration file watcher.
func NewWatcher(opts ...WatcherOption) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	watcher := &Watcher{
		watcher:      w,
		watchedFiles: make(map[string]bool),
		callbacks:    make([]func(string), 0),
		done:         make(chan struct{}),
		logger:       slog.Default(),
		debounce:     defaultDebounce,
	}

	for _, opt := range opts {
		opt(watcher)
	}

	return watcher, nil
}

// Watch adds a file to watch. Multiple calls accumulate: their
// directories are all added to the underlying fsnotify watcher, and
// their filenames are all matched against future events.
func (w *Watcher) Watch(path string) error {
	dir := filepath.Dir(path)
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Error("failed to watch directory",
			"path", dir,
			"error", err,
		)
		return err
	}

	w.mu.Lock()
	w.watchedFiles[filepath.Clean(path)] = true
	w.mu.Unlock()

	w.logger.Debug("watching directory for changes",
		"path", dir,
		"file", filepath.Base(path),
	)
	return nil
}

// OnChange registers a callback to be called when a watched file changes.
// The callback receives the path of the changed file.
func (w *Watcher) OnChange(callback func(string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start starts watching for changes.
// This function blocks until Stop() is called.
func (w *Watcher) Start() {
	w.logger.Info("configuration watcher started")

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				w.logger.Debug("watcher events channel closed")
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !w.isWatchedFile(event.Name) {
				continue
			}
			w.logger.Debug("configuration file changed",
				"file", event.Name,
				"op", event.Op.String(),
			)
			w.scheduleNotify(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.logger.Debug("watcher errors channel closed")
				return
			}
			// Log error with full context for debugging
			w.logger.Error("configuration watcher error",
				"error", err,
			)
		case <-w.done:
			w.logger.Debug("watcher received stop signal")
			return
		}
	}
}

// StartAsync starts watching in a goroutine.
func (w *Watcher) StartAsync() {
	go w.Start()
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceMu.Unlock()
	if err := w.watcher.Close(); err != nil {
		w.logger.Error("failed to close watcher",
			"error", err,
		)
		return err
	}
	w.logger.Info("configuration watcher stopped")
	return nil
}

// isWatchedFile reports whether name matches a path passed to Watch. An
// empty watchedFiles set (Watch never called) matches everything, which
// only matters for tests that drive notifyCallbacks/scheduleNotify
// directly without calling Watch first.
func (w *Watcher) isWatchedFile(name string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.watchedFiles) == 0 {
		return true
	}
	return w.watchedFiles[filepath.Clean(name)]
}

// scheduleNotify debounces notifyCallbacks so a burst of events for one
// file save collapses into a single callback invocation.
func (w *Watcher) scheduleNotify(path string) {
	if w.debounce <= 0 {
		w.notifyCallbacks(path)
		return
	}

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounce, func() {
		w.notifyCallbacks(path)
	})
}

// notifyCallbacks calls all registered callbacks.
func (w *Watcher) notifyCallbacks(path string) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, cb := range w.callbacks {
		cb(path)
	}
}
