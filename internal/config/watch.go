package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// WatchSettings watches the settings file and invokes onChange with the
// reloaded settings whenever it is written. The watch is on the config
// directory so that editors replacing the file (write-to-temp + rename) are
// still observed. Returns a stop function.
func WatchSettings(onChange func(*Settings)) (func(), error) {
	if err := EnsureDir(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(Dir()); err != nil {
		watcher.Close()
		return nil, err
	}

	target := filepath.Clean(SettingsPath())
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
					continue
				}
				settings, err := LoadSettings()
				if err != nil {
					logrus.Warnf("settings reload failed: %v", err)
					continue
				}
				onChange(settings)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logrus.Debugf("settings watcher error: %v", err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
