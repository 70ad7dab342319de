package blacklist

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDelay coalesces bursts of file events into one reload.
const DefaultReloadDelay = 200 * time.Millisecond

// Reloader is implemented by Manager.
type Reloader interface {
	Reload() error
}

// Watcher reloads the blacklist when its file changes on disk. It watches
// the parent directory so atomic renames are observed.
type Watcher struct {
	path     string
	reloader Reloader
	delay    time.Duration

	watcher *fsnotify.Watcher

	startOnce sync.Once
	stopOnce  sync.Once
	startErr  error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher for the file at path.
func NewWatcher(path string, reloader Reloader) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		reloader: reloader,
		delay:    DefaultReloadDelay,
	}
}

// Start begins watching.
func (w *Watcher) Start() error {
	w.startOnce.Do(func() {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			w.startErr = fmt.Errorf("create file watcher: %w", err)
			return
		}
		if err := watcher.Add(filepath.Dir(w.path)); err != nil {
			_ = watcher.Close()
			w.startErr = fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
			return
		}
		w.watcher = watcher
		w.ctx, w.cancel = context.WithCancel(context.Background())
		w.wg.Add(1)
		go w.loop()
	})
	return w.startErr
}

// Stop stops watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel == nil {
			return
		}
		w.cancel()
		_ = w.watcher.Close()
		w.wg.Wait()
	})
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var pending <-chan time.Time
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			pending = time.After(w.delay)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("blacklist: watcher error: %v", err)
		case <-pending:
			pending = nil
			if err := w.reloader.Reload(); err != nil {
				log.Printf("blacklist: %v", err)
				continue
			}
			log.Printf("blacklist: reloaded %s", w.path)
		case <-w.ctx.Done():
			return
		}
	}
}
