// Package changeloop implements the change-polling loop: it fetches pages
// from the remote changes feed on a timer and drives the Reconciler. Fetch
// page, buffer, apply each item, persist, sleep, repeat.
package changeloop

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tamsinhale/drivesync/internal/cache"
	"github.com/tamsinhale/drivesync/internal/reconciler"
	"github.com/tamsinhale/drivesync/internal/remote"
	"github.com/tamsinhale/drivesync/internal/statestore"
)

// pollInterval is the sleep between cycles when there is nothing left to
// apply. A var so tests can shrink it.
var pollInterval = 8 * time.Second

// RemoteOps is the subset of the Remote Client Adapter the loop calls.
type RemoteOps interface {
	ChangesStartPageToken(ctx context.Context) (string, error)
	PullChanges(ctx context.Context, startToken string) ([]remote.Change, string, error)
}

// Applier is the subset of the Reconciler the loop drives.
type Applier interface {
	ApplyRemoteChange(ctx context.Context, c remote.Change) (reconciler.Outcome, error)
}

// Gate reports whether bootstrap currently holds the single `syncing` flag:
// while true, the loop must not run a cycle.
type Gate interface {
	Bootstrapping() bool
}

// Persister is the subset of the State Store the loop uses.
type Persister interface {
	Save(ctx context.Context, accountID string, state *statestore.State) error
}

// Loop is the Change Loop. One instance per account; Run blocks until ctx
// is cancelled.
type Loop struct {
	remote    RemoteOps
	applier   Applier
	store     Persister
	cache     *cache.Cache
	gate      Gate
	accountID string
	rootID    string
	logger    *slog.Logger
	sleep     func(time.Duration) // overridable in tests

	mu          sync.Mutex
	changeToken string
	pending     []remote.Change
}

// New creates a Loop. SeedFreshToken or SeedFromState must be called before
// Run to establish the starting changeToken.
func New(remoteOps RemoteOps, applier Applier, store Persister, c *cache.Cache, gate Gate, accountID, rootID string, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}

	return &Loop{
		remote: remoteOps, applier: applier, store: store, cache: c, gate: gate,
		accountID: accountID, rootID: rootID, logger: logger, sleep: time.Sleep,
	}
}

// SeedFromState restores the changeToken and any buffered, not-yet-applied
// changes from a persisted document, recovering from a crash mid-batch.
func (l *Loop) SeedFromState(st *statestore.State) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.changeToken = st.ChangeToken
	l.pending = append([]remote.Change(nil), st.ChangesToExecute...)
}

// SeedFreshToken acquires a starting token for a brand-new account (no
// persisted state yet) — called once, right after bootstrap starts watching
// for local changes but before its initial listing begins.
func (l *Loop) SeedFreshToken(ctx context.Context) error {
	tok, err := l.remote.ChangesStartPageToken(ctx)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.changeToken = tok
	l.mu.Unlock()

	return nil
}

// CurrentToken returns the loop's current changeToken.
func (l *Loop) CurrentToken() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.changeToken
}

// Run executes cycles until ctx is cancelled, sleeping pollInterval between
// them (or skipping entirely while bootstrap holds the gate). Cancellation
// is cooperative: the loop checks ctx at the next sleep or between changes.
func (l *Loop) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if l.gate != nil && l.gate.Bootstrapping() {
			if !sleepCtx(ctx, pollInterval, l.sleep) {
				return
			}

			continue
		}

		if err := l.cycle(ctx); err != nil {
			l.logger.Error("change loop cycle failed", slog.Any("error", err))
		}

		if !sleepCtx(ctx, pollInterval, l.sleep) {
			return
		}
	}
}

// cycle pulls one batch of changes (if nothing is already buffered from a
// prior crash) and applies the buffered changes head-first, saving state
// after every applied change.
func (l *Loop) cycle(ctx context.Context) error {
	l.mu.Lock()
	hasPending := len(l.pending) > 0
	token := l.changeToken
	l.mu.Unlock()

	if !hasPending {
		changes, newToken, err := l.remote.PullChanges(ctx, token)
		if err != nil {
			return err
		}

		if len(changes) > 0 {
			l.mu.Lock()
			l.pending = changes
			l.changeToken = newToken
			l.mu.Unlock()

			// The save below persists the buffered changes and the advanced
			// token together, atomically, before any individual change is
			// applied: a crash here still has the full buffer on disk to
			// resume from, so no change is ever lost between a token advance
			// and its application.
			if err := l.save(ctx); err != nil {
				return err
			}
		} else if newToken != token {
			l.mu.Lock()
			l.changeToken = newToken
			l.mu.Unlock()
		}
	}

	return l.applyPending(ctx)
}

// applyPending applies buffered changes head-first, removing each from the
// buffer and saving after it completes (whether or not it errored — a local
// filesystem error drops that one effect, but the token has already
// advanced past it).
func (l *Loop) applyPending(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		l.mu.Lock()
		if len(l.pending) == 0 {
			l.mu.Unlock()
			return nil
		}

		c := l.pending[0]
		l.mu.Unlock()

		if _, err := l.applier.ApplyRemoteChange(ctx, c); err != nil {
			l.logger.Error("applying remote change failed",
				slog.String("fileId", c.FileID), slog.Any("error", err))
		}

		l.mu.Lock()
		l.pending = l.pending[1:]
		l.mu.Unlock()

		if err := l.save(ctx); err != nil {
			return err
		}
	}
}

func (l *Loop) save(ctx context.Context) error {
	l.mu.Lock()
	state := &statestore.State{
		RootID:           l.rootID,
		ChangeToken:      l.changeToken,
		FileInfo:         l.cache.Snapshot(),
		Synced:           true,
		ChangesToExecute: append([]remote.Change(nil), l.pending...),
	}
	l.mu.Unlock()

	return l.store.Save(ctx, l.accountID, state)
}

// sleepCtx sleeps d via sleepFn, returning false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration, sleepFn func(time.Duration)) bool {
	done := make(chan struct{})

	go func() {
		sleepFn(d)
		close(done)
	}()

	select {
	case <-ctx.Done():
		return false
	case <-done:
		return true
	}
}
