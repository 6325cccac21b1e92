// internal/config/watch.go

package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reloads a config file whenever it changes on disk. Invalid edits
// are logged and skipped; the last good config stays in effect.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	log     *logrus.Entry
}

// NewWatcher watches the file's directory, so editors that save by rename
// are still seen.
func NewWatcher(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:    abs,
		watcher: w,
		log:     logrus.WithFields(logrus.Fields{"component": "config", "path": abs}),
	}, nil
}

// Run calls onChange with every valid reload until ctx ends.
func (w *Watcher) Run(ctx context.Context, onChange func(Config)) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err == nil {
				cfg, err = withEnv(cfg)
			}
			if err != nil {
				w.log.WithError(err).Warn("reload failed, keeping previous config")
				continue
			}
			w.log.Info("config reloaded")
			onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("watcher error")
		}
	}
}
