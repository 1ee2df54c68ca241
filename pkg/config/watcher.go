package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// BundleWatcher watches a policy bundle directory and notifies subscribers
// when its rego modules change, so the running engine can swap in a freshly
// compiled evaluator without a restart.
type BundleWatcher struct {
	dir         string
	mu          sync.Mutex
	subscribers []chan struct{}
	watcher     *fsnotify.Watcher
	cancel      context.CancelFunc
	logger      *slog.Logger
}

// debounceWindow collapses editor write bursts into a single notification.
const debounceWindow = 200 * time.Millisecond

// NewBundleWatcher creates a watcher for the specified directory.
func NewBundleWatcher(dir string, logger *slog.Logger) (*BundleWatcher, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(absDir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch bundle dir: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &BundleWatcher{
		dir:     absDir,
		watcher: watcher,
		cancel:  cancel,
		logger:  logger,
	}

	go w.watchLoop(ctx)

	return w, nil
}

// Subscribe returns a channel that receives a signal after bundle changes.
func (w *BundleWatcher) Subscribe() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan struct{}, 1)
	w.subscribers = append(w.subscribers, ch)
	return ch
}

// Close stops watching and releases the underlying watcher.
func (w *BundleWatcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

func (w *BundleWatcher) watchLoop(ctx context.Context) {
	var pending bool
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".rego") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if pending {
				continue
			}
			pending = true
			time.AfterFunc(debounceWindow, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			pending = false
			w.notify()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("bundle watcher error", "dir", w.dir, "error", err)
		}
	}
}

func (w *BundleWatcher) notify() {
	w.mu.Lock()
	subscribers := append([]chan struct{}(nil), w.subscribers...)
	w.mu.Unlock()

	w.logger.Info("policy bundle change detected", "dir", w.dir)
	for _, ch := range subscribers {
		select {
		case ch <- struct{}{}:
		default:
			// Subscriber hasn't drained the previous signal; one is enough.
		}
	}
}
