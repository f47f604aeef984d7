package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a burst of manifest changes is
// reloaded.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads the stage classes of a search path when its manifests
// change on disk.
type Watcher struct {
	registry  *Registry
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration

	mu    sync.Mutex
	roots []string

	reloaded chan []string
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for registry. debounce <= 0 selects
// DefaultDebounce.
func NewWatcher(registry *Registry, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		registry:  registry,
		fsWatcher: fsw,
		debounce:  debounce,
		reloaded:  make(chan []string, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start watches every search path of the registry and returns a channel that
// receives the roots reloaded after each debounced burst of changes.
func (w *Watcher) Start() (<-chan []string, error) {
	roots := w.registry.Paths()
	for _, root := range roots {
		if err := w.addTree(root); err != nil {
			return nil, err
		}
	}
	w.mu.Lock()
	w.roots = roots
	w.mu.Unlock()

	go w.loop()

	return w.reloaded, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
	})
	return err
}

// addTree adds root and every visible directory below it.
func (w *Watcher) addTree(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("watching %s: %w", root, err)
	}
	if !info.IsDir() {
		return w.fsWatcher.Add(filepath.Dir(root))
	}

	var (
		mu   sync.Mutex
		dirs = []string{root}
	)
	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == root || !d.IsDir() {
			return nil
		}
		if isSkipped(d.Name()) {
			return filepath.SkipDir
		}
		mu.Lock()
		dirs = append(dirs, path)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", root, err)
	}

	var errs []error
	for _, dir := range dirs {
		if err := w.fsWatcher.Add(dir); err != nil {
			errs = append(errs, fmt.Errorf("watching directory %s: %w", dir, err))
		}
	}
	return errors.Join(errs...)
}

// rootOf returns the registered root containing path.
func (w *Watcher) rootOf(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, root := range w.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return root, true
		}
	}
	return "", false
}

// loop processes file system events with debouncing.
func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		pending = make(map[string]bool)
	)

	for {
		var fire <-chan time.Time
		if timer != nil {
			fire = timer.C
		}

		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			root, ok := w.rootOf(event.Name)
			if !ok {
				continue
			}

			// New directories need their own watch.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !isSkipped(info.Name()) {
					if err := w.addTree(event.Name); err != nil {
						w.registry.logger.Warn("Failed to watch new directory.", "path", event.Name, "error", err)
					}
				}
			}

			if !w.isRelevantEvent(root, event) {
				continue
			}
			pending[root] = true

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-fire:
			timer = nil
			if len(pending) == 0 {
				continue
			}
			roots := make([]string, 0, len(pending))
			for root := range pending {
				roots = append(roots, root)
			}
			sort.Strings(roots)
			clear(pending)

			if err := w.registry.FindAndRegister(true, roots...); err != nil {
				w.registry.logger.Warn("Reloading stage manifests reported errors.", "error", err)
			}
			// Drop the notification if the consumer is behind.
			select {
			case w.reloaded <- roots:
			default:
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.registry.logger.Warn("File watcher error.", "error", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// isRelevantEvent reports whether the event touches a manifest.
func (w *Watcher) isRelevantEvent(root string, event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	rel, err := filepath.Rel(root, event.Name)
	if err != nil {
		return false
	}
	if rel == "." {
		rel = filepath.Base(root)
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if isSkipped(part) {
			return false
		}
	}
	return isManifestName(rel)
}
