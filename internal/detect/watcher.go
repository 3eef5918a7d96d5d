package detect

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce is how long the watcher waits after the last write
// before reloading.
const DefaultReloadDebounce = 500 * time.Millisecond

// Watcher reloads a policy file when it changes and hands each valid policy
// to apply. Invalid files are logged and the previous policy stays active.
type Watcher struct {
	path     string
	apply    func(*Policy)
	logger   *slog.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
}

type WatcherOption func(*Watcher)

func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher watches the directory holding path so editors that replace the
// file by rename are still seen.
func NewWatcher(path string, apply func(*Policy), opts ...WatcherOption) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("policy path is required")
	}
	if apply == nil {
		return nil, fmt.Errorf("apply func is required")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("resolve policy path: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(abs), err)
	}
	w := &Watcher{
		path:     abs,
		apply:    apply,
		logger:   slog.Default(),
		debounce: DefaultReloadDebounce,
		watcher:  fw,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.schedule(ctx)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnContext(ctx, "policy watcher error", "error", err)
		}
	}
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.reload(ctx) })
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *Watcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	policy, err := LoadPolicy(w.path)
	if err != nil {
		w.logger.ErrorContext(ctx, "detection policy reload failed", "path", w.path, "error", err)
		return
	}
	w.apply(policy)
	w.logger.InfoContext(ctx, "detection policy reloaded",
		"path", w.path,
		"block_threshold", policy.BlockThreshold.String(),
		"extra_patterns", len(policy.ExtraInjectionPatterns),
	)
}
