package bootstrap

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamsinhale/drivesync/internal/cache"
	"github.com/tamsinhale/drivesync/internal/reconciler"
	"github.com/tamsinhale/drivesync/internal/remote"
	"github.com/tamsinhale/drivesync/internal/statestore"
)

// fakeRemote is a hand-written stub satisfying RemoteOps.
type fakeRemote struct {
	mu       sync.Mutex
	root     remote.FileInfo
	children map[string][]remote.FileInfo // folderID -> its children
	listErr  map[string]error
}

func (f *fakeRemote) GetMetadata(_ context.Context, id string) (remote.FileInfo, error) {
	if id == f.root.ID {
		return f.root, nil
	}

	return remote.FileInfo{}, errors.New("not found")
}

func (f *fakeRemote) ListAllChildren(_ context.Context, folderID string) ([]remote.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.listErr[folderID]; err != nil {
		return nil, err
	}

	return f.children[folderID], nil
}

// fakeApplier is a hand-written stub satisfying Applier.
type fakeApplier struct {
	mu      sync.Mutex
	applied []string
}

func (a *fakeApplier) ApplyRemoteChange(_ context.Context, c remote.Change) (reconciler.Outcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.applied = append(a.applied, c.FileID)

	if c.File == nil || c.File.IsFolder() {
		return reconciler.OutcomeNone, nil
	}

	if c.File.HasSize {
		return reconciler.OutcomeDownloaded, nil
	}

	return reconciler.OutcomeIgnored, nil
}

// fakeTokenSeeder is a hand-written stub satisfying TokenSeeder.
type fakeTokenSeeder struct {
	seeded bool
	token  string
}

func (s *fakeTokenSeeder) SeedFreshToken(context.Context) error {
	s.seeded = true
	return nil
}

func (s *fakeTokenSeeder) CurrentToken() string { return s.token }

// fakeStore is a hand-written stub satisfying Persister.
type fakeStore struct {
	saved *statestore.State
}

func (s *fakeStore) Save(_ context.Context, _ string, st *statestore.State) error {
	s.saved = st
	return nil
}

const rootID = "root"

func folderInfo(id string) remote.FileInfo {
	return remote.FileInfo{ID: id, Name: id, MimeType: "application/vnd.google-apps.folder"}
}

func fileInfo(id string) remote.FileInfo {
	return remote.FileInfo{ID: id, Name: id, MimeType: "text/plain", HasSize: true, Size: 3}
}

func TestBootstrap_Run_SeedsTokenBeforeListing(t *testing.T) {
	rm := &fakeRemote{root: folderInfo(rootID), children: map[string][]remote.FileInfo{
		rootID: {fileInfo("a")},
	}}
	ap := &fakeApplier{}
	seeder := &fakeTokenSeeder{token: "tok1"}
	st := &fakeStore{}
	c := cache.New(rootID, "/local", nil)

	b := New(rm, ap, seeder, st, c, "acct1", rootID, nil, nil)

	require.NoError(t, b.Run(context.Background()))
	assert.True(t, seeder.seeded)
}

func TestBootstrap_Run_WalksNestedFolders(t *testing.T) {
	rm := &fakeRemote{root: folderInfo(rootID), children: map[string][]remote.FileInfo{
		rootID:   {folderInfo("sub"), fileInfo("top.txt")},
		"sub":    {fileInfo("nested.txt")},
	}}
	ap := &fakeApplier{}
	st := &fakeStore{}
	c := cache.New(rootID, "/local", nil)

	b := New(rm, ap, &fakeTokenSeeder{}, st, c, "acct1", rootID, nil, nil)

	require.NoError(t, b.Run(context.Background()))

	assert.Contains(t, ap.applied, rootID)
	assert.Contains(t, ap.applied, "sub")
	assert.Contains(t, ap.applied, "top.txt")
	assert.Contains(t, ap.applied, "nested.txt")
}

func TestBootstrap_Run_SavesSyncedStateOnCompletion(t *testing.T) {
	rm := &fakeRemote{root: folderInfo(rootID), children: map[string][]remote.FileInfo{
		rootID: {fileInfo("a")},
	}}
	ap := &fakeApplier{}
	seeder := &fakeTokenSeeder{token: "tok-final"}
	st := &fakeStore{}
	c := cache.New(rootID, "/local", nil)

	b := New(rm, ap, seeder, st, c, "acct1", rootID, nil, nil)

	require.NoError(t, b.Run(context.Background()))

	require.NotNil(t, st.saved)
	assert.True(t, st.saved.Synced)
	assert.Equal(t, "tok-final", st.saved.ChangeToken)
	assert.Equal(t, rootID, st.saved.RootID)
}

func TestBootstrap_Bootstrapping_FalseAfterRunCompletes(t *testing.T) {
	rm := &fakeRemote{root: folderInfo(rootID), children: map[string][]remote.FileInfo{}}
	b := New(rm, &fakeApplier{}, &fakeTokenSeeder{}, &fakeStore{}, cache.New(rootID, "/local", nil), "acct1", rootID, nil, nil)

	assert.True(t, b.Bootstrapping())
	require.NoError(t, b.Run(context.Background()))
	assert.False(t, b.Bootstrapping())
}

func TestBootstrap_Run_PropagatesListError(t *testing.T) {
	rm := &fakeRemote{
		root:     folderInfo(rootID),
		children: map[string][]remote.FileInfo{},
		listErr:  map[string]error{rootID: errors.New("boom")},
	}
	b := New(rm, &fakeApplier{}, &fakeTokenSeeder{}, &fakeStore{}, cache.New(rootID, "/local", nil), "acct1", rootID, nil, nil)

	err := b.Run(context.Background())
	require.Error(t, err)
	assert.False(t, b.Bootstrapping(), "running flag must clear even on error")
}
