package s2sconfig

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const watchDebounce = 100 * time.Millisecond

// Watch reloads filename into c whenever it changes, until ctx is done.
// The directory is watched rather than the file so that editors which
// replace the file on save are followed.
func (c *Config) Watch(ctx context.Context, filename string) error {
	path, err := filepath.Abs(filename)
	if err != nil {
		return errors.Wrap(err, "unable to resolve config path")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "unable to create watcher")
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return errors.Wrap(err, "unable to watch config directory")
	}

	wlog := log.WithFields(logrus.Fields{"file": path})
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				if err := c.Load(path); err != nil {
					wlog.WithError(err).Warn("Reload incomplete")
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			wlog.WithError(err).Warn("Watcher error")
		}
	}
}
