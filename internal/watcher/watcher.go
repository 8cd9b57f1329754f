// Package watcher observes the tabular files for modifications made outside
// the application, typically by a person saving the file from office
// software, and triggers debounced reloads.
package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/carebridge/portal/internal/tabular"
)

type Logger interface {
	Printf(format string, args ...any)
}

const (
	DefaultDebounce     = 2 * time.Second
	DefaultGrace        = 1 * time.Second
	DefaultPollInterval = 1 * time.Second

	// ManualReloadChangeID tags reloads requested explicitly rather than
	// observed on disk.
	ManualReloadChangeID = "manual_reload"
)

// Reloader is the store surface the watcher needs to reload fresh
// snapshots. Satisfied by *tabular.Store.
type Reloader interface {
	LoadAll() tabular.Snapshots
	Paths() []string
}

// ReloadFunc receives the identity of the settled change and the freshly
// reloaded snapshots of every entity kind.
type ReloadFunc func(changeID string, snapshots tabular.Snapshots)

type Options struct {
	// Debounce is the quiet period required after the last detected change
	// before a reload fires. Office software saves in multiple steps (temp
	// file, rename, metadata touch); the debounce collapses one save burst
	// into one reload.
	Debounce time.Duration
	// Grace is the additional wait after the debounce settles before the
	// file is actually read, reducing the chance of reading a half-written
	// file. Heuristic, not a guarantee.
	Grace time.Duration
	// PollInterval drives the mtime polling loop. Polling backs up the
	// fsnotify events because the editing application may hold exclusive
	// locks or save through renames that drop the watch.
	PollInterval time.Duration
	Logger       Logger
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

type Watcher struct {
	store        Reloader
	reload       ReloadFunc
	debounce     time.Duration
	grace        time.Duration
	pollInterval time.Duration
	logger       Logger

	fsw *fsnotify.Watcher

	mu     sync.Mutex
	timers map[string]*time.Timer
	stamps map[string]fileStamp

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New(store Reloader, reload ReloadFunc, opts Options) (*Watcher, error) {
	if store == nil || reload == nil {
		return nil, errors.New("store and reload callback are required")
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	grace := opts.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Watcher{
		store:        store,
		reload:       reload,
		debounce:     debounce,
		grace:        grace,
		pollInterval: pollInterval,
		logger:       opts.Logger,
		timers:       map[string]*time.Timer{},
		stamps:       map[string]fileStamp{},
		closed:       make(chan struct{}),
	}, nil
}

// Watch begins monitoring every entity file. The watch combines fsnotify
// events on the data directory with an mtime polling loop; both feed the
// same per-file debounce, so the strategy degrades to pure polling when
// events are unavailable.
func (w *Watcher) Watch() error {
	paths := w.store.Paths()
	if len(paths) == 0 {
		return errors.New("no files to watch")
	}

	w.mu.Lock()
	for _, path := range paths {
		w.stamps[path] = statStamp(path)
	}
	w.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		// Polling alone still detects changes; log and continue.
		w.logf("[WATCHER] fsnotify unavailable, falling back to polling only: %v", err)
	} else {
		w.fsw = fsw
		if err := fsw.Add(filepath.Dir(paths[0])); err != nil {
			w.logf("[WATCHER] watch %s: %v", filepath.Dir(paths[0]), err)
		}
		w.wg.Add(1)
		go w.eventLoop(paths)
	}

	w.wg.Add(1)
	go w.pollLoop(paths)
	w.logf("[WATCHER] watching %d tabular files", len(paths))
	return nil
}

func (w *Watcher) eventLoop(paths []string) {
	defer w.wg.Done()
	watched := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		watched[filepath.Clean(path)] = struct{}{}
	}
	for {
		select {
		case <-w.closed:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if _, ok := watched[filepath.Clean(event.Name)]; !ok {
				continue
			}
			w.bump(filepath.Clean(event.Name))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Watch errors are logged, not retried; the poll loop keeps the
			// file covered.
			w.logf("[WATCHER] watch error: %v", err)
		}
	}
}

func (w *Watcher) pollLoop(paths []string) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.closed:
			return
		case <-ticker.C:
			for _, path := range paths {
				current := statStamp(path)
				w.mu.Lock()
				previous := w.stamps[path]
				changed := !current.modTime.Equal(previous.modTime) || current.size != previous.size
				if changed {
					w.stamps[path] = current
				}
				w.mu.Unlock()
				if changed {
					w.bump(path)
				}
			}
		}
	}
}

// bump starts or resets the debounce timer for one file. Only when the
// timer expires without another reset does the change count as settled.
func (w *Watcher) bump(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.timers[path]; ok {
		timer.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.settled(path)
	})
}

func (w *Watcher) settled(path string) {
	// The closed check and the Add are under the same mutex as Shutdown's
	// close, so a reload can never start once Shutdown begins waiting.
	w.mu.Lock()
	delete(w.timers, path)
	select {
	case <-w.closed:
		w.mu.Unlock()
		return
	default:
	}
	w.wg.Add(1)
	w.mu.Unlock()
	go func() {
		defer w.wg.Done()
		// Give the editor a moment to finish flushing before reading.
		select {
		case <-time.After(w.grace):
		case <-w.closed:
			return
		}
		changeID := filepath.Base(path)
		w.logf("[WATCHER] change settled: %s", changeID)
		w.reload(changeID, w.store.LoadAll())
	}()
}

// ManualReload bypasses debouncing and forces an immediate reload of every
// entity through the same callback as organic changes.
func (w *Watcher) ManualReload() tabular.Snapshots {
	w.logf("[WATCHER] manual reload requested")
	snapshots := w.store.LoadAll()
	w.reload(ManualReloadChangeID, snapshots)
	return snapshots
}

// Shutdown stops every timer and releases the watch handles. Safe to call
// more than once.
func (w *Watcher) Shutdown() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		close(w.closed)
		for path, timer := range w.timers {
			timer.Stop()
			delete(w.timers, path)
		}
		w.mu.Unlock()
		if w.fsw != nil {
			_ = w.fsw.Close()
		}
		w.wg.Wait()
		w.logf("[WATCHER] shut down")
	})
}

func (w *Watcher) logf(format string, args ...any) {
	if w.logger == nil {
		return
	}
	w.logger.Printf(format, args...)
}

func statStamp(path string) fileStamp {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}
	}
	return fileStamp{modTime: info.ModTime(), size: info.Size()}
}
