package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamsinhale/drivesync/internal/watcher"
)

type fakeLocalApplier struct {
	addFile    []string
	addDir     []string
	updateFile []string
	removed    []string
	failPath   string
}

func (f *fakeLocalApplier) AddLocalFile(_ context.Context, path string) error {
	if path == f.failPath {
		return errors.New("boom")
	}

	f.addFile = append(f.addFile, path)

	return nil
}

func (f *fakeLocalApplier) AddLocalDir(_ context.Context, path string) error {
	f.addDir = append(f.addDir, path)
	return nil
}

func (f *fakeLocalApplier) UpdateLocalFile(_ context.Context, path string) error {
	f.updateFile = append(f.updateFile, path)
	return nil
}

func (f *fakeLocalApplier) RemoveLocal(_ context.Context, path string) error {
	f.removed = append(f.removed, path)
	return nil
}

func TestApplyLocalEvent_RoutesEachKindToItsMethod(t *testing.T) {
	applier := &fakeLocalApplier{}
	ctx := context.Background()

	require.NoError(t, applyLocalEvent(ctx, applier, watcher.Event{Path: "/a", Kind: watcher.Add}))
	require.NoError(t, applyLocalEvent(ctx, applier, watcher.Event{Path: "/b", Kind: watcher.AddDir}))
	require.NoError(t, applyLocalEvent(ctx, applier, watcher.Event{Path: "/c", Kind: watcher.Change}))
	require.NoError(t, applyLocalEvent(ctx, applier, watcher.Event{Path: "/d", Kind: watcher.Unlink}))
	require.NoError(t, applyLocalEvent(ctx, applier, watcher.Event{Path: "/e", Kind: watcher.UnlinkDir}))

	assert.Equal(t, []string{"/a"}, applier.addFile)
	assert.Equal(t, []string{"/b"}, applier.addDir)
	assert.Equal(t, []string{"/c"}, applier.updateFile)
	assert.Equal(t, []string{"/d", "/e"}, applier.removed)
}

func TestApplyLocalEvent_PropagatesApplierError(t *testing.T) {
	applier := &fakeLocalApplier{failPath: "/bad"}

	err := applyLocalEvent(context.Background(), applier, watcher.Event{Path: "/bad", Kind: watcher.Add})
	require.Error(t, err)
}
