package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/chainscope/txgate/internal/observability"
	"github.com/chainscope/txgate/internal/waf"
)

// RulesCallback is called with the new rule set after a successful reload.
type RulesCallback func([]waf.Rule)

// ErrorCallback is called when a reload attempt fails.
type ErrorCallback func(error)

// RulesWatcher watches a WAF rules file and pushes updates to a callback.
// A broken edit is reported through the error callback and the previous
// rule set stays in effect.
type RulesWatcher struct {
	path          string
	watcher       *fsnotify.Watcher
	callback      RulesCallback
	errorCallback ErrorCallback
	logger        observability.Logger
	debounceDelay time.Duration
	lastRules     []waf.Rule
	mu            sync.RWMutex
	stopCh        chan struct{}
	stoppedCh     chan struct{}
	running       bool
}

// WatcherOption is a functional option for configuring the watcher.
type WatcherOption func(*RulesWatcher)

// WithDebounceDelay sets the debounce delay for file changes.
func WithDebounceDelay(delay time.Duration) WatcherOption {
	return func(w *RulesWatcher) {
		w.debounceDelay = delay
	}
}

// WithWatcherLogger sets the logger for the watcher.
func WithWatcherLogger(logger observability.Logger) WatcherOption {
	return func(w *RulesWatcher) {
		w.logger = logger
	}
}

// WithErrorCallback sets the error callback for the watcher.
func WithErrorCallback(callback ErrorCallback) WatcherOption {
	return func(w *RulesWatcher) {
		w.errorCallback = callback
	}
}

// NewRulesWatcher creates a watcher for the rules file at path.
func NewRulesWatcher(path string, callback RulesCallback, opts ...WatcherOption) (*RulesWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &RulesWatcher{
		path:          absPath,
		watcher:       fsWatcher,
		callback:      callback,
		debounceDelay: 100 * time.Millisecond,
		logger:        observability.NopLogger(),
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Start loads the rules once, invokes the callback, and begins watching.
func (w *RulesWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	rules, err := LoadRules(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.lastRules = rules
	w.mu.Unlock()
	w.callback(rules)

	// Watch the directory, not the file: editors replace files on save and
	// the inode-level watch would be lost.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.logger.Info("watching waf rules file",
		observability.String("path", w.path))

	go w.watch(ctx)

	return nil
}

// Stop stops the watcher and waits for the watch loop to exit.
func (w *RulesWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.stoppedCh

	return w.watcher.Close()
}

// LastRules returns the most recently loaded rule set.
func (w *RulesWatcher) LastRules() []waf.Rule {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastRules
}

func (w *RulesWatcher) watch(ctx context.Context) {
	defer close(w.stoppedCh)

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			debounceTimer, debounceCh = w.handleFileEvent(event, debounceTimer, debounceCh)

		case <-debounceCh:
			debounceCh = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("rules watcher error", observability.Error(err))
			if w.errorCallback != nil {
				w.errorCallback(err)
			}
		}
	}
}

func (w *RulesWatcher) handleFileEvent(
	event fsnotify.Event,
	debounceTimer *time.Timer,
	debounceCh <-chan time.Time,
) (timer *time.Timer, ch <-chan time.Time) {
	if filepath.Clean(event.Name) != w.path {
		return debounceTimer, debounceCh
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return debounceTimer, debounceCh
	}

	w.logger.Debug("waf rules file changed",
		observability.String("path", event.Name),
		observability.String("op", event.Op.String()))

	if debounceTimer != nil {
		debounceTimer.Stop()
	}
	debounceTimer = time.NewTimer(w.debounceDelay)
	return debounceTimer, debounceTimer.C
}

func (w *RulesWatcher) reload() {
	rules, err := LoadRules(w.path)
	if err != nil {
		w.logger.Error("waf rules reload failed, keeping previous rules",
			observability.String("path", w.path),
			observability.Error(err))
		if w.errorCallback != nil {
			w.errorCallback(err)
		}
		return
	}

	w.mu.Lock()
	w.lastRules = rules
	w.mu.Unlock()

	w.logger.Info("waf rules reloaded",
		observability.String("path", w.path),
		observability.Int("rules", len(rules)))

	w.callback(rules)
}
