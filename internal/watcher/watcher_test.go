package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFsWatcher is a hand-written stub satisfying FsWatcher.
type fakeFsWatcher struct {
	added  []string
	events chan fsnotify.Event
	errs   chan error
	closed bool
}

func newFakeFsWatcher() *fakeFsWatcher {
	return &fakeFsWatcher{
		events: make(chan fsnotify.Event, 32),
		errs:   make(chan error, 4),
	}
}

func (f *fakeFsWatcher) Add(name string) error         { f.added = append(f.added, name); return nil }
func (f *fakeFsWatcher) Remove(string) error            { return nil }
func (f *fakeFsWatcher) Close() error                   { f.closed = true; return nil }
func (f *fakeFsWatcher) Events() <-chan fsnotify.Event { return f.events }
func (f *fakeFsWatcher) Errors() <-chan error           { return f.errs }

func newTestWatcher(t *testing.T) (*Watcher, *fakeFsWatcher) {
	t.Helper()

	fake := newFakeFsWatcher()

	orig := newFsWatcherFunc
	newFsWatcherFunc = func() (FsWatcher, error) { return fake, nil }
	t.Cleanup(func() { newFsWatcherFunc = orig })

	origWindow := debounceWindow
	debounceWindow = 30 * time.Millisecond
	t.Cleanup(func() { debounceWindow = origWindow })

	w, err := New(nil)
	require.NoError(t, err)

	return w, fake
}

func TestWatcher_Start_WatchesEveryDirectoryRecursively(t *testing.T) {
	w, fake := newTestWatcher(t)

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))

	require.NoError(t, w.Start(root))

	assert.Contains(t, fake.added, root)
	assert.Contains(t, fake.added, filepath.Join(root, "a"))
	assert.Contains(t, fake.added, filepath.Join(root, "a", "b"))
}

func TestWatcher_EventsBeforeReady_AreDropped(t *testing.T) {
	w, fake := newTestWatcher(t)

	// Simulate a raw event arriving before Start (and thus before ready).
	w.handleRaw(fsnotify.Event{Name: "/sync/x.txt", Op: fsnotify.Write})

	select {
	case <-w.Events():
		t.Fatal("expected no event before readiness")
	case <-time.After(80 * time.Millisecond):
	}

	_ = fake
}

func TestWatcher_DebounceCollapsesToStructuralEvent(t *testing.T) {
	w, _ := newTestWatcher(t)

	root := t.TempDir()
	require.NoError(t, w.Start(root))

	path := filepath.Join(root, "x.txt")
	w.handleRaw(fsnotify.Event{Name: path, Op: fsnotify.Write})
	w.handleRaw(fsnotify.Event{Name: path, Op: fsnotify.Remove})

	select {
	case ev := <-w.Events():
		assert.Equal(t, path, ev.Path)
		assert.Equal(t, Unlink, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for collapsed event")
	}
}

func TestWatcher_Ignore_SuppressesTheWholeWindow(t *testing.T) {
	w, _ := newTestWatcher(t)

	root := t.TempDir()
	require.NoError(t, w.Start(root))

	path := filepath.Join(root, "x.txt")
	w.Ignore(path)
	w.handleRaw(fsnotify.Event{Name: path, Op: fsnotify.Write})

	select {
	case ev := <-w.Events():
		t.Fatalf("expected suppression, got %+v", ev)
	case <-time.After(120 * time.Millisecond):
	}
}

func TestWatcher_Ignore_OnlySuppressesNextFireNotLaterEdits(t *testing.T) {
	w, _ := newTestWatcher(t)

	root := t.TempDir()
	require.NoError(t, w.Start(root))

	path := filepath.Join(root, "x.txt")
	w.Ignore(path)
	w.handleRaw(fsnotify.Event{Name: path, Op: fsnotify.Write})

	time.Sleep(80 * time.Millisecond) // let the suppressed window fire and clear

	// A genuine later edit must not be suppressed.
	w.handleRaw(fsnotify.Event{Name: path, Op: fsnotify.Write})

	select {
	case ev := <-w.Events():
		assert.Equal(t, Change, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected the later genuine edit to be emitted")
	}
}

func TestWatcher_NewDirectory_IsWatchedImmediately(t *testing.T) {
	w, fake := newTestWatcher(t)

	root := t.TempDir()
	require.NoError(t, w.Start(root))

	newDir := filepath.Join(root, "new")
	require.NoError(t, os.Mkdir(newDir, 0o755))

	w.handleRaw(fsnotify.Event{Name: newDir, Op: fsnotify.Create})

	assert.Contains(t, fake.added, newDir)
}
