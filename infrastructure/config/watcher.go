// Package config provides configuration loading for the canvas backend.
// This file implements hot reloading of the tuning overlay: the lock
// schedule, auto-collapse thresholds and cache TTL can change without a
// redeploy; everything else requires a restart.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounceDelay = 500 * time.Millisecond

// Watcher watches the tuning file and swaps in a fresh Config when it
// changes. Components that cache tuning values register a callback.
type Watcher struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
	watcher   *fsnotify.Watcher
	logger    *zap.Logger
	stopCh    chan struct{}
}

// NewWatcher creates a watcher over the config's tuning file. When the file
// is absent the watcher is inert and GetConfig keeps serving the initial
// configuration.
func NewWatcher(initial *Config, logger *zap.Logger) (*Watcher, error) {
	w := &Watcher{
		config: initial,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	if initial.TuningFile == "" {
		logger.Info("Tuning hot reload disabled: no tuning file configured")
		return w, nil
	}
	if _, err := os.Stat(initial.TuningFile); err != nil {
		logger.Info("Tuning hot reload disabled: tuning file not present",
			zap.String("file", initial.TuningFile),
		)
		return w, nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory, not the file: editors and config rollouts
	// replace the file, which drops a direct file watch.
	if err := fsWatcher.Add(filepath.Dir(initial.TuningFile)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch tuning file: %w", err)
	}
	w.watcher = fsWatcher

	go w.watchLoop()

	logger.Info("Tuning hot reload enabled",
		zap.String("file", initial.TuningFile),
	)

	return w, nil
}

// watchLoop monitors for file changes and triggers reloads.
func (w *Watcher) watchLoop() {
	defer w.watcher.Close()

	var debounceTimer *time.Timer

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.GetConfig().TuningFile) {
				continue
			}

			w.logger.Info("Tuning file changed",
				zap.String("file", event.Name),
				zap.String("operation", event.Op.String()),
			)

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, func() {
				w.reload()
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))

		case <-w.stopCh:
			w.logger.Info("Stopping tuning watcher")
			return
		}
	}
}

// reload re-reads the tuning overlay and notifies callbacks if it changed.
func (w *Watcher) reload() {
	current := w.GetConfig()

	next := *current
	next.Tuning = defaultTuning()
	if err := next.loadTuningFile(); err != nil {
		w.logger.Error("Failed to reload tuning file", zap.Error(err))
		return
	}
	if err := next.Validate(); err != nil {
		w.logger.Error("Invalid tuning after reload", zap.Error(err))
		return
	}

	if next.Tuning == current.Tuning {
		w.logger.Debug("Tuning unchanged after reload")
		return
	}

	w.mu.Lock()
	w.config = &next
	w.mu.Unlock()

	w.logger.Info("Tuning reloaded",
		zap.Int("lockMaxRetries", next.Tuning.Lock.MaxRetries),
		zap.Int("versionMaxTransactions", next.Tuning.Versioning.MaxTransactions),
		zap.Int("cacheTTLSeconds", next.Tuning.Cache.TTLSeconds),
	)

	w.notifyCallbacks(&next)
}

// OnChange registers a callback to be called when tuning changes.
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, callback)
	w.mu.Unlock()
}

// GetConfig returns the current configuration.
func (w *Watcher) GetConfig() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	if w.watcher != nil {
		close(w.stopCh)
	}
}

// notifyCallbacks notifies all registered callbacks of the new config.
func (w *Watcher) notifyCallbacks(next *Config) {
	w.mu.RLock()
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for i, callback := range callbacks {
		// Callbacks run detached so a slow listener cannot stall the
		// watch loop.
		go func(idx int, cb func(*Config)) {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("Tuning callback panicked",
						zap.Int("callback_index", idx),
						zap.Any("panic", r),
					)
				}
			}()

			cb(next)
		}(i, callback)
	}
}
