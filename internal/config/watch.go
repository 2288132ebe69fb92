// Package config provides the shared fsnotify watch-with-backoff loop used
// by both the hosts CSV and listener YAML loaders, adapted from the
// teacher's WatchConfigFile/StartWatcherWithRestart pair in main.go.
package config

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"

	"github.com/taijiproxy/taiji/internal/logging"
	"github.com/taijiproxy/taiji/internal/metrics"
)

// ErrWatchDirMissing is returned by watchFile when the config file's parent
// directory doesn't exist yet, the local-development case. Watch retries it
// every 30 seconds and disables the watcher after 3 consecutive misses.
var ErrWatchDirMissing = errors.New("watch directory does not exist")

// Watch runs reload once, then watches path's parent directory (ConfigMaps
// update via symlink swap, same as the teacher) and calls reload on every
// Write/Create event, debounced by 1 second. It restarts the underlying
// watcher on failure with exponential backoff, capped at 5 minutes, exactly
// as StartWatcherWithRestart does. source labels the log lines and the
// last-load timestamp metric; the watcher-restart counter is labelled by
// path.
func Watch(ctx context.Context, log logr.Logger, path, source string, reload func() error) {
	if err := reload(); err != nil {
		log.Error(err, "initial config load failed", "source", source)
	}

	go func() {
		attempt := 0
		const maxBackoff = 5 * time.Minute
		consecutiveDirMissing := 0

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			attempt++
			if attempt > 1 {
				metrics.WatcherRestartsTotal.WithLabelValues(path).Inc()
				log.Info("restarting file watcher", "source", source, "attempt", attempt)
			}

			err := watchFile(ctx, log, path, source, reload)
			if ctx.Err() != nil {
				return
			}

			if errors.Is(err, ErrWatchDirMissing) {
				consecutiveDirMissing++
				if consecutiveDirMissing == 1 {
					logging.Warn(log, "file watcher disabled", "source", source, "err", err)
				}
				if consecutiveDirMissing >= 3 {
					log.Info("file watcher permanently disabled, directory does not exist", "source", source)
					return
				}
				if !sleepOrDone(ctx, 30*time.Second) {
					return
				}
				continue
			}
			consecutiveDirMissing = 0

			backoff := time.Duration(math.Min(float64(time.Second)*math.Pow(2, float64(attempt-1)), float64(maxBackoff)))
			log.Error(err, "file watcher stopped, restarting", "source", source, "backoff", backoff)
			if !sleepOrDone(ctx, backoff) {
				return
			}
		}
	}()
}

func watchFile(ctx context.Context, log logr.Logger, path, source string, reload func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	watchDir := filepath.Dir(path)
	if !dirExists(watchDir) {
		return ErrWatchDirMissing
	}
	if err := watcher.Add(watchDir); err != nil {
		return err
	}
	log.Info("watching directory for configuration changes", "source", source, "dir", watchDir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			log.Info("configuration change detected, reloading", "source", source)
			time.Sleep(time.Second) // debounce rapid successive writes
			if err := reload(); err != nil {
				log.Error(err, "failed to reload configuration", "source", source)
			} else {
				metrics.ConfigLastLoadTimestamp.WithLabelValues(source).SetToCurrentTime()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			log.Error(err, "file watcher error", "source", source)
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func dirExists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}
