package conf

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch starts an fsnotify watcher on the directory holding path. Each time
// the file is written or recreated it is reloaded and, when valid, handed to
// onChange. Invalid edits are logged and ignored so a typo never takes the
// running configuration down. The returned function stops the watcher.
func Watch(path string, logger *zap.Logger, onChange func(*Conf)) (func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("conf: start watcher: %w", err)
	}
	// Editors often replace the file, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("conf: watch %s: %w", path, err)
	}

	target := filepath.Clean(path)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				c, err := Load(path)
				if err != nil {
					logger.Warn("conf: reload rejected", zap.String("path", path), zap.Error(err))
					continue
				}
				logger.Info("conf: reloaded", zap.String("path", path))
				onChange(c)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("conf: watcher error", zap.Error(err))
			}
		}
	}()

	stop := func() {
		close(done)
		watcher.Close()
	}
	return stop, nil
}
