package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/visionarypath/sight/logging"
	"github.com/visionarypath/sight/utils"
)

// DefaultWatchDelay is how long a config file has to stay unchanged before it is reloaded.
const DefaultWatchDelay = 250 * time.Millisecond

// A Watcher rereads a config file whenever it changes and delivers every config that reads and
// validates. Invalid configs are logged and skipped.
type Watcher struct {
	path    string
	logger  logging.Logger
	watcher *fsnotify.Watcher
	workers utils.StoppableWorkers
	configs chan *Config
}

// NewWatcher starts watching the config file at path. Bursts of changes within delay of each
// other cause one reload.
func NewWatcher(path string, delay time.Duration, logger logging.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create config watcher")
	}
	// Editors often replace the file rather than write it, so watch its directory.
	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "cannot watch %q", path), fsWatcher.Close())
	}
	if delay <= 0 {
		delay = DefaultWatchDelay
	}

	w := &Watcher{
		path:    abs,
		logger:  logger,
		watcher: fsWatcher,
		workers: utils.NewStoppableWorkers(),
		configs: make(chan *Config),
	}
	debounced := debounce.New(delay)
	w.workers.AddWorkers(func(ctx context.Context) {
		w.watch(ctx, func() { debounced(func() { w.reload(ctx) }) })
	})
	return w, nil
}

// Configs delivers reloaded configs. It is never closed.
func (w *Watcher) Configs() <-chan *Config {
	return w.configs
}

func (w *Watcher) watch(ctx context.Context, changed func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			changed()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := Read(w.path, w.logger)
	if err != nil {
		w.logger.Warnw("ignoring invalid config change", "path", w.path, "error", err)
		return
	}
	w.logger.Infow("config changed", "path", w.path)
	select {
	case <-ctx.Done():
	case w.configs <- cfg:
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.workers.Stop()
	return w.watcher.Close()
}
