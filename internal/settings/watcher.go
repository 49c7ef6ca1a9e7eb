package settings

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/quinn/tabmind/internal/capability"
)

// Watch reloads the settings file when it changes on disk and invokes
// onReload with the fresh values. Returns a stop function. Editors
// that replace the file (rename+create) are handled by watching the
// directory rather than the file itself.
func (s *Settings) Watch(onReload func(*Settings)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	path := s.Path()
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch settings dir: %w", err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				fresh, err := Load(path)
				if err != nil {
					continue
				}
				s.applyFrom(fresh)
				if onReload != nil {
					onReload(s)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}

// applyFrom copies values from a freshly loaded Settings.
func (s *Settings) applyFrom(fresh *Settings) {
	fresh.mu.RLock()
	enabled := make(map[capability.Capability]bool, len(fresh.enabled))
	for k, v := range fresh.enabled {
		enabled[k] = v
	}
	autoOptimize := fresh.autoOptimize
	predictive := fresh.predictiveBrowsing
	learning := fresh.learningMode
	threshold := fresh.confidenceThreshold
	maxConcurrent := fresh.maxConcurrent
	fresh.mu.RUnlock()

	s.mu.Lock()
	s.enabled = enabled
	s.autoOptimize = autoOptimize
	s.predictiveBrowsing = predictive
	s.learningMode = learning
	s.confidenceThreshold = threshold
	s.maxConcurrent = maxConcurrent
	s.mu.Unlock()
}
