package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadHandler receives the freshly loaded configuration after a change.
type ReloadHandler func(*Config)

// Watcher hot-reloads the config file and notifies handlers. Only tunables
// read per-request (poll interval, rate limits) take effect at runtime;
// endpoints and ports need a restart.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	handler ReloadHandler
	logger  *zap.Logger
	// fsnotify often fires several writes per save; coalesce them
	debounce time.Duration
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, handler ReloadHandler, logger *zap.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config watcher needs a file path")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which drops the
	// watch when set on the file itself.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}
	return &Watcher{
		path:     path,
		watcher:  fw,
		handler:  handler,
		logger:   logger,
		debounce: 200 * time.Millisecond,
	}, nil
}

// Start watches for changes until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.watcher.Close()
	var pending *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(w.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("Config reload failed", zap.String("path", w.path), zap.Error(err))
				continue
			}
			w.logger.Info("Config reloaded", zap.String("path", w.path))
			if w.handler != nil {
				w.handler(cfg)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}
