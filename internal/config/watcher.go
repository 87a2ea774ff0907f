package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const watchDebounce = 500 * time.Millisecond

// Watcher reloads the store when the config document changes on disk, so
// edits made by another process (or by hand) take effect without a restart.
type Watcher struct {
	store     *Store
	watcher   *fsnotify.Watcher
	callbacks []func(Document)
	stopCh    chan struct{}
	mu        sync.RWMutex
	running   bool
	lastMod   time.Time
}

// NewWatcher creates a watcher for the store's backing file.
func NewWatcher(store *Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Watcher{
		store:   store,
		watcher: fsw,
		stopCh:  make(chan struct{}),
	}, nil
}

// AddCallback registers a function invoked with the fresh document after
// each successful reload.
func (w *Watcher) AddCallback(cb func(Document)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start begins watching. The config directory is watched rather than the
// file: atomic saves rename a temp file over it, which replaces the inode a
// plain file watch would follow.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if stat, err := os.Stat(w.store.Path()); err == nil {
		w.lastMod = stat.ModTime()
	}

	dir := filepath.Dir(w.store.Path())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch config dir %s: %w", dir, err)
	}

	w.running = true
	go w.watchLoop()
	return nil
}

// Stop halts the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	close(w.stopCh)
	return w.watcher.Close()
}

func (w *Watcher) watchLoop() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.isConfigEvent(event) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, w.handleChange)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logrus.WithError(err).Warn("config watcher error")

		case <-w.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

func (w *Watcher) isConfigEvent(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != filepath.Clean(w.store.Path()) {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

func (w *Watcher) handleChange() {
	stat, err := os.Stat(w.store.Path())
	if err != nil {
		return
	}

	w.mu.Lock()
	if !stat.ModTime().After(w.lastMod) {
		w.mu.Unlock()
		return
	}
	w.lastMod = stat.ModTime()
	w.mu.Unlock()

	if err := w.store.Reload(); err != nil {
		logrus.WithError(err).Error("failed to reload config after file change")
		return
	}

	doc := w.store.Snapshot()

	w.mu.RLock()
	callbacks := make([]func(Document), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, cb := range callbacks {
		cb(doc)
	}
	logrus.Info("config reloaded after external change")
}

// TriggerReload forces a reload outside the event path.
func (w *Watcher) TriggerReload() error {
	return w.store.Reload()
}
