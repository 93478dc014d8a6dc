// Package watcher reloads a configuration file when it changes on disk.
package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// FileWatcher calls onChange, debounced, whenever the watched file is written,
// created, or replaced. The parent directory is watched so that editors that
// save by rename are picked up.
type FileWatcher struct {
	path     string
	onChange func(path string)
	debounce time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	timer    *time.Timer
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// Option configures a FileWatcher.
type Option func(*FileWatcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *FileWatcher) { w.logger = l }
}

// WithDebounce sets the quiet period before onChange fires.
func WithDebounce(d time.Duration) Option {
	return func(w *FileWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewFileWatcher creates a watcher for path. It does nothing until Start.
func NewFileWatcher(path string, onChange func(path string), opts ...Option) *FileWatcher {
	w := &FileWatcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		debounce: defaultDebounce,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
func (w *FileWatcher) Start(ctx context.Context) error {
	if w.path == "" || w.path == "." {
		return errors.New("watcher: path is required")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw
	w.started = true
	if w.logger != nil {
		w.logger.Debug("watching config file", zap.String("path", w.path), zap.Duration("debounce", w.debounce))
	}
	go w.run(ctx, fw)
	return nil
}

func (w *FileWatcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *FileWatcher) handleEvent(ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != w.path {
		return
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return
	}
	if w.logger != nil {
		w.logger.Debug("config file event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		w.timer = nil
		w.mu.Unlock()
		if w.onChange != nil {
			w.onChange(w.path)
		}
	})
}

// Stop stops the watcher and releases resources. Pending callbacks are dropped.
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
