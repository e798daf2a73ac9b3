package config

import (
	"context"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher observes a directory (typically ProfilesDir, where the address
// book and its secrets live) and reloads a Config file whenever that
// directory changes, using an fsnotify watch-then-signal loop of the kind
// commonly used for certificate reloads, here carrying a Config instead.
type Watcher struct {
	watchPath  string
	configPath string
	ReloadCh   chan<- Config
	ErrorCh    chan<- error
}

// NewWatcher constructs a Watcher that observes watchPath and, on change,
// reloads configPath. Reloaded configs are sent on reloadCh; watch errors
// are sent on errorCh.
func NewWatcher(watchPath, configPath string, reloadCh chan<- Config, errorCh chan<- error) *Watcher {
	return &Watcher{watchPath: watchPath, configPath: configPath, ReloadCh: reloadCh, ErrorCh: errorCh}
}

// StartWatching blocks, re-loading and publishing configPath's Config each
// time watchPath changes, until ctx is cancelled or the watcher errors.
func (w *Watcher) StartWatching(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.watchPath); err != nil {
		return err
	}

LOOP:
	for {
		select {
		case event := <-watcher.Events:
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.configPath)
			if err != nil {
				log.WithError(err).WithField("path", w.configPath).Warn("config: reload failed, keeping previous")
				continue
			}
			w.ReloadCh <- cfg
		case err := <-watcher.Errors:
			w.ErrorCh <- err
			log.WithError(err).WithField("path", w.watchPath).Warn("config: watch error")
			break LOOP
		case <-ctx.Done():
			if err := ctx.Err(); err != nil {
				w.ErrorCh <- err
			}
			break LOOP
		}
	}
	return nil
}
