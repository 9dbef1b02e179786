// internal/config/watcher.go
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a registry directory when source files change.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	registry *Registry
	onChange []func(path string)
	mu       sync.RWMutex
	done     chan struct{}
}

// Watch starts reloading sources from dir until ctx is done or Close is called.
func (r *Registry) Watch(ctx context.Context, dir string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch source directory: %w", err)
	}

	w := &Watcher{
		watcher:  fw,
		dir:      dir,
		registry: r,
		done:     make(chan struct{}),
	}
	go w.watch(ctx)
	return w, nil
}

// OnChange registers a callback run after a file was reloaded or removed
func (w *Watcher) OnChange(callback func(path string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, callback)
}

// watch handles file system events
func (w *Watcher) watch(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.registry.logger.Errorf("source watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !isSourceFile(filepath.Base(event.Name)) {
		return
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.registry.forgetFile(event.Name)
	case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
		if err := w.registry.loadFile(event.Name); err != nil {
			return
		}
	default:
		return
	}

	w.mu.RLock()
	callbacks := make([]func(string), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.RUnlock()
	for _, cb := range callbacks {
		cb(event.Name)
	}
}

// Close stops the watcher and releases resources
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
