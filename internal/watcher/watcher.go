// Package watcher implements a recursive filesystem observer with per-path
// debounce and ignore-marker suppression, wrapped around fsnotify behind an
// FsWatcher interface so tests can inject a fake instead of touching the
// real filesystem.
package watcher

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Kind is the collapsed event kind emitted after debounce.
type Kind int

const (
	Add Kind = iota
	Change
	Unlink
	AddDir
	UnlinkDir
	ignore // synthetic marker only, never emitted
)

func (k Kind) String() string {
	switch k {
	case Add:
		return "add"
	case Change:
		return "change"
	case Unlink:
		return "unlink"
	case AddDir:
		return "addDir"
	case UnlinkDir:
		return "unlinkDir"
	default:
		return "ignore"
	}
}

// Event is one collapsed, debounced filesystem event.
type Event struct {
	Path string
	Kind Kind
}

// debounceWindow is the quiescent period the watcher waits after the last
// raw event on a path before emitting a collapsed event.
// A var, not a const, so tests can shrink it instead of sleeping a full second.
var debounceWindow = 1 * time.Second

// FsWatcher abstracts filesystem event monitoring, satisfied by
// *fsnotify.Watcher. Tests inject a fake.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct{ w *fsnotify.Watcher }

func (fw *fsnotifyWrapper) Add(name string) error         { return fw.w.Add(name) }
func (fw *fsnotifyWrapper) Remove(name string) error       { return fw.w.Remove(name) }
func (fw *fsnotifyWrapper) Close() error                   { return fw.w.Close() }
func (fw *fsnotifyWrapper) Events() <-chan fsnotify.Event  { return fw.w.Events }
func (fw *fsnotifyWrapper) Errors() <-chan error           { return fw.w.Errors }

// Watcher observes a local root recursively and emits collapsed events.
type Watcher struct {
	fs     FsWatcher
	logger *slog.Logger
	events chan Event

	mu      sync.Mutex
	buffers map[string][]Kind
	timers  map[string]*time.Timer
	ready   bool

	now func() time.Time // overridable in tests; unused beyond documentation today
}

// newFsWatcherFunc is overridden in tests to avoid touching the real filesystem.
var newFsWatcherFunc = func() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fsnotifyWrapper{w: w}, nil
}

// New creates a Watcher. Call Start to begin the recursive scan and event loop.
func New(logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := newFsWatcherFunc()
	if err != nil {
		return nil, fmt.Errorf("watcher: creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		fs:      fw,
		logger:  logger,
		events:  make(chan Event, 256),
		buffers: make(map[string][]Kind),
		timers:  make(map[string]*time.Timer),
		now:     time.Now,
	}, nil
}

// Events returns the channel of collapsed, debounced events.
func (w *Watcher) Events() <-chan Event { return w.events }

// Start performs the initial recursive scan (adding every directory to the
// underlying fsnotify watch set) and then begins consuming raw events.
// Events observed before the scan completes are silently dropped — Start
// itself does the scanning synchronously, so no event loop runs until it
// returns.
func (w *Watcher) Start(root string) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if addErr := w.fs.Add(path); addErr != nil {
				return fmt.Errorf("watcher: watching %s: %w", path, addErr)
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("watcher: initial scan of %s: %w", root, err)
	}

	w.mu.Lock()
	w.ready = true
	w.mu.Unlock()

	go w.loop()

	return nil
}

// Close stops the watcher and releases the underlying fsnotify handle.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// WatchDir adds a newly created directory to the watch set (called by the
// reconciler after materializing a new folder on disk).
func (w *Watcher) WatchDir(path string) error {
	if err := w.fs.Add(path); err != nil {
		return fmt.Errorf("watcher: watching %s: %w", path, err)
	}

	return nil
}

// UnwatchDir removes a directory from the watch set (called by the
// reconciler before/after deleting a directory).
func (w *Watcher) UnwatchDir(path string) error {
	return w.fs.Remove(path) //nolint:wrapcheck // best-effort; caller logs
}

// Ignore injects a synthetic ignore marker into path's debounce buffer,
// scoped to the next debounce-fire only. Must be called immediately before
// the reconciler performs a disk write to that path.
func (w *Watcher) Ignore(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buffers[path] = append(w.buffers[path], ignore)
	w.resetTimerLocked(path)
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fs.Events():
			if !ok {
				return
			}

			w.handleRaw(ev)

		case err, ok := <-w.fs.Errors():
			if !ok {
				return
			}

			w.logger.Warn("watcher error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) handleRaw(ev fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.ready {
		return // readiness: drop events before the initial scan completes
	}

	kind, isDir, ok := classify(ev)
	if !ok {
		return
	}

	if isDir && ev.Op.Has(fsnotify.Create) {
		// New directories must be watched immediately so their own
		// children raise events; best-effort, errors are logged not fatal.
		if err := w.fs.Add(ev.Name); err != nil {
			w.logger.Warn("failed to watch new directory", slog.String("path", ev.Name), slog.Any("error", err))
		}
	}

	w.buffers[ev.Name] = append(w.buffers[ev.Name], kind)
	w.resetTimerLocked(ev.Name)
}

// resetTimerLocked (re)starts the 1s debounce timer for path. Caller must hold w.mu.
func (w *Watcher) resetTimerLocked(path string) {
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}

	w.timers[path] = time.AfterFunc(debounceWindow, func() { w.fire(path) })
}

// fire collapses path's buffer into at most one emission.
func (w *Watcher) fire(path string) {
	w.mu.Lock()
	buf := w.buffers[path]
	delete(w.buffers, path)
	delete(w.timers, path)
	w.mu.Unlock()

	if len(buf) == 0 {
		return
	}

	for _, k := range buf {
		if k == ignore {
			return // any ignore marker in the window discards the emission entirely
		}
	}

	collapsed, ok := collapse(buf)
	if !ok {
		return
	}

	select {
	case w.events <- Event{Path: path, Kind: collapsed}:
	default:
		w.logger.Warn("watcher event channel full, dropping event", slog.String("path", path))
	}
}

// collapse picks the last occurrence of a structural event (unlink,
// unlinkDir, add, addDir); if none exists, it emits the last buffered event.
func collapse(buf []Kind) (Kind, bool) {
	for i := len(buf) - 1; i >= 0; i-- {
		switch buf[i] {
		case Unlink, UnlinkDir, Add, AddDir:
			return buf[i], true
		}
	}

	return buf[len(buf)-1], true
}

// classify maps an fsnotify event to a watcher Kind. ok is false for events
// this watcher does not care about (e.g. chmod-only).
func classify(ev fsnotify.Event) (kind Kind, isDir bool, ok bool) {
	info, statErr := os.Lstat(ev.Name)
	isDir = statErr == nil && info.IsDir()

	switch {
	case ev.Op.Has(fsnotify.Create):
		if isDir {
			return AddDir, true, true
		}

		return Add, false, true

	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		// The entry is gone by the time we stat it; fsnotify cannot tell us
		// whether it was a file or directory, so callers that need that
		// distinction rely on the reconciler's own cached FileInfo lookup.
		return Unlink, false, true

	case ev.Op.Has(fsnotify.Write):
		return Change, isDir, true

	default:
		return 0, false, false
	}
}
