package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	logx "notifyd/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

var errWatcherClosed = errors.New("config watcher closed")

// Watch runs one fsnotify session on the config file's directory, so
// editors that save by rename are followed too. Bursts of events are
// coalesced: the file is reloaded once nothing has happened for the debounce
// interval. Watch returns nil when ctx is done and an error if the watcher
// cannot be set up or breaks; the caller decides whether to run it again.
func (m *ConfigManager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()

	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config watch %s: %w", dir, err)
	}
	log := m.log.With(logx.String("dir", dir), logx.String("file", name))
	log.Debug("config watcher started")

	settle := time.NewTimer(m.debounce)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if strings.EqualFold(filepath.Base(ev.Name), name) {
				settle.Reset(m.debounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were lost; the file may have changed.
				log.Warn("config watch overflow", logx.Err(err))
				settle.Reset(m.debounce)
				continue
			}
			log.Warn("config watch error", logx.Err(err))

		case <-settle.C:
			m.reload(ctx)
		}
	}
}
