package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lexlapax/statecore/internal/logging"
)

// Watcher watches a config file for changes and reloads it, debounced the
// same way the teacher's directory watcher debounces rapid filesystem
// events, then hands the reloaded Config to onReload.
type Watcher struct {
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	path     string
	onReload func(*Config)
	debounce time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

// NewWatcher creates a Watcher for path. Call Start to begin watching.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:  w,
		path:     path,
		onReload: onReload,
		debounce: 300 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching path's parent directory (editors replace files via
// rename, which fsnotify only sees on the directory, not the file itself).
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		logging.BootWarn("config watcher: failed to watch %s: %v", dir, err)
		return err
	}
	logging.Boot("config watcher: watching %s", w.path)
	go w.run()
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	var pending bool
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if sameFile(event.Name, w.path) && (event.Op&(fsnotify.Write|fsnotify.Create) != 0) {
				pending = true
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.BootError("config watcher error: %v", err)
		case <-timer.C:
			if pending {
				pending = false
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		logging.BootError("config watcher: reload of %s failed: %v", w.path, err)
		return
	}
	logging.Boot("config watcher: reloaded %s", w.path)
	if w.onReload != nil {
		w.onReload(cfg)
	}
}

func sameFile(a, b string) bool {
	return filepath.Base(a) == filepath.Base(b)
}
