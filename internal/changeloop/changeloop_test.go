package changeloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamsinhale/drivesync/internal/cache"
	"github.com/tamsinhale/drivesync/internal/reconciler"
	"github.com/tamsinhale/drivesync/internal/remote"
	"github.com/tamsinhale/drivesync/internal/statestore"
)

// fakeRemote is a hand-written stub satisfying RemoteOps.
type fakeRemote struct {
	mu      sync.Mutex
	pages   [][]remote.Change
	tokens  []string
	callIdx int
	startTok string
}

func (f *fakeRemote) ChangesStartPageToken(context.Context) (string, error) {
	return f.startTok, nil
}

func (f *fakeRemote) PullChanges(_ context.Context, _ string) ([]remote.Change, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.callIdx >= len(f.pages) {
		return nil, f.tokens[len(f.tokens)-1], nil
	}

	changes := f.pages[f.callIdx]
	tok := f.tokens[f.callIdx]
	f.callIdx++

	return changes, tok, nil
}

// fakeApplier is a hand-written stub satisfying Applier.
type fakeApplier struct {
	mu      sync.Mutex
	applied []string
	failIDs map[string]bool
}

func (a *fakeApplier) ApplyRemoteChange(_ context.Context, c remote.Change) (reconciler.Outcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.applied = append(a.applied, c.FileID)

	if a.failIDs[c.FileID] {
		return reconciler.OutcomeNone, errors.New("boom")
	}

	return reconciler.OutcomeNone, nil
}

// fakeStore is a hand-written stub satisfying Persister.
type fakeStore struct {
	mu     sync.Mutex
	saves  []*statestore.State
}

func (s *fakeStore) Save(_ context.Context, _ string, st *statestore.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *st
	s.saves = append(s.saves, &cp)

	return nil
}

func (s *fakeStore) lastSave() *statestore.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.saves) == 0 {
		return nil
	}

	return s.saves[len(s.saves)-1]
}

func newTestLoop(remoteOps RemoteOps, applier Applier, store Persister, gate Gate) *Loop {
	c := cache.New("root", "/local", nil)
	l := New(remoteOps, applier, store, c, gate, "acct1", "root", nil)
	l.sleep = func(time.Duration) {}

	return l
}

func TestLoop_Cycle_BuffersBeforeApplying(t *testing.T) {
	rm := &fakeRemote{
		pages:  [][]remote.Change{{{FileID: "a"}, {FileID: "b"}}},
		tokens: []string{"tok2"},
	}
	ap := &fakeApplier{}
	st := &fakeStore{}
	l := newTestLoop(rm, ap, st, nil)

	require.NoError(t, l.cycle(context.Background()))

	assert.Equal(t, []string{"a", "b"}, ap.applied)
	// First save must have happened before any change was applied, carrying
	// the full buffer and the already-advanced token.
	require.GreaterOrEqual(t, len(st.saves), 1)
	first := st.saves[0]
	assert.Equal(t, "tok2", first.ChangeToken)
	assert.Len(t, first.ChangesToExecute, 2)

	last := st.lastSave()
	assert.Empty(t, last.ChangesToExecute)
}

func TestLoop_Cycle_ResumesBufferedChangesWithoutPulling(t *testing.T) {
	rm := &fakeRemote{} // PullChanges would panic-via-index if called with no pages configured past callIdx; here it must not be invoked since pending is non-empty
	ap := &fakeApplier{}
	st := &fakeStore{}
	l := newTestLoop(rm, ap, st, nil)
	l.SeedFromState(&statestore.State{
		ChangeToken:      "tok1",
		ChangesToExecute: []remote.Change{{FileID: "x"}, {FileID: "y"}},
	})

	require.NoError(t, l.cycle(context.Background()))

	assert.Equal(t, []string{"x", "y"}, ap.applied)
	assert.Equal(t, 0, rm.callIdx)
}

func TestLoop_Cycle_AppliedErrorDoesNotHaltRemainingChanges(t *testing.T) {
	rm := &fakeRemote{
		pages:  [][]remote.Change{{{FileID: "a"}, {FileID: "b"}, {FileID: "c"}}},
		tokens: []string{"tok2"},
	}
	ap := &fakeApplier{failIDs: map[string]bool{"b": true}}
	st := &fakeStore{}
	l := newTestLoop(rm, ap, st, nil)

	require.NoError(t, l.cycle(context.Background()))

	assert.Equal(t, []string{"a", "b", "c"}, ap.applied)
	assert.Empty(t, l.pending)
}

func TestLoop_Cycle_NoChangesDoesNotSave(t *testing.T) {
	rm := &fakeRemote{tokens: []string{"tok1"}}
	ap := &fakeApplier{}
	st := &fakeStore{}
	l := newTestLoop(rm, ap, st, nil)
	l.SeedFromState(&statestore.State{ChangeToken: "tok1"})

	require.NoError(t, l.cycle(context.Background()))

	assert.Empty(t, st.saves)
}

type fakeGate struct{ bootstrapping bool }

func (g *fakeGate) Bootstrapping() bool { return g.bootstrapping }

func TestLoop_Run_SkipsCyclesWhileBootstrapping(t *testing.T) {
	rm := &fakeRemote{
		pages:  [][]remote.Change{{{FileID: "a"}}},
		tokens: []string{"tok2"},
	}
	ap := &fakeApplier{}
	st := &fakeStore{}
	gate := &fakeGate{bootstrapping: true}
	l := newTestLoop(rm, ap, st, gate)

	ctx, cancel := context.WithCancel(context.Background())

	sleeps := 0
	l.sleep = func(time.Duration) {
		sleeps++
		if sleeps == 2 {
			cancel()
		}
	}

	l.Run(ctx)

	assert.Empty(t, ap.applied, "no cycle should run while bootstrapping holds the gate")
}

func TestLoop_Run_StopsAtNextSleepBoundary(t *testing.T) {
	rm := &fakeRemote{tokens: []string{"tok1"}}
	ap := &fakeApplier{}
	st := &fakeStore{}
	l := newTestLoop(rm, ap, st, nil)
	l.SeedFromState(&statestore.State{ChangeToken: "tok1"})

	ctx, cancel := context.WithCancel(context.Background())

	l.sleep = func(time.Duration) { cancel() }

	done := make(chan struct{})

	go func() {
		l.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

func TestLoop_SeedFreshToken(t *testing.T) {
	rm := &fakeRemote{startTok: "fresh"}
	l := newTestLoop(rm, &fakeApplier{}, &fakeStore{}, nil)

	require.NoError(t, l.SeedFreshToken(context.Background()))
	assert.Equal(t, "fresh", l.changeToken)
}
