package config

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config whenever the file changes on disk and hands the
// parsed result to onChange. Editors replace files with rename+create, so
// the parent directory is watched and events are filtered by name. The
// returned stop function ends the watch.
func Watch(path string, onChange func(*FileConfig)) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, err
	}

	log := slog.Default().With("component", "config")
	done := make(chan struct{})
	go func() {
		defer close(done)
		var pending *time.Timer
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				// Writes arrive in bursts; settle before reloading.
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(100*time.Millisecond, func() {
					fc, lerr := Load(abs)
					if lerr != nil {
						log.Warn("config reload skipped", "err", lerr)
						return
					}
					log.Info("config reloaded", "path", abs)
					onChange(fc)
				})
			case werr, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("config watch", "err", werr)
			}
		}
	}()

	return func() {
		_ = w.Close()
		<-done
	}, nil
}
