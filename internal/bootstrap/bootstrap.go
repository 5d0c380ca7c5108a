// Package bootstrap implements the first-run full directory download: when
// an account has never finished syncing, it recursively lists the entire
// remote tree and drives every discovered entity through the Reconciler
// before the change loop is allowed to run.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/tamsinhale/drivesync/internal/cache"
	"github.com/tamsinhale/drivesync/internal/reconciler"
	"github.com/tamsinhale/drivesync/internal/remote"
	"github.com/tamsinhale/drivesync/internal/statestore"
)

// Notify receives the human-readable bootstrap status strings: "Getting
// files info...", an incremental "<N> files downloaded, <M> files
// ignored..." after each listed batch, and a final "All done! <N> files
// downloaded and <M> ignored." when the walk completes.
type Notify func(msg string)

// defaultConcurrency bounds how many folders are listed in parallel.
const defaultConcurrency = 8

// RemoteOps is the subset of the Remote Client Adapter bootstrap calls.
type RemoteOps interface {
	GetMetadata(ctx context.Context, id string) (remote.FileInfo, error)
	ListAllChildren(ctx context.Context, folderID string) ([]remote.FileInfo, error)
}

// Applier is the subset of the Reconciler bootstrap drives. Every upsert
// discovered during the walk is routed through the same entry point the
// change loop uses, so a brand-new entity is stored and (if eligible)
// downloaded with exactly the same policy.
type Applier interface {
	ApplyRemoteChange(ctx context.Context, c remote.Change) (reconciler.Outcome, error)
}

// TokenSeeder captures a starting changes-feed token before listing begins,
// so any change that lands mid-walk is picked up by the change loop
// afterward rather than silently missed.
type TokenSeeder interface {
	SeedFreshToken(ctx context.Context) error
	CurrentToken() string
}

// Persister is the subset of the State Store bootstrap uses.
type Persister interface {
	Save(ctx context.Context, accountID string, state *statestore.State) error
}

// Bootstrap runs the one-time full-tree walk. Bootstrapping() satisfies
// changeloop.Gate, so the change loop is held off a running account until
// Run returns.
type Bootstrap struct {
	remote      RemoteOps
	applier     Applier
	tokenSeeder TokenSeeder
	store       Persister
	cache       *cache.Cache
	accountID   string
	rootID      string
	logger      *slog.Logger
	notify      Notify
	concurrency int

	running    atomic.Bool
	applyMu    sync.Mutex // serializes Applier calls across concurrent listers
	downloaded atomic.Int64
	ignored    atomic.Int64
}

// New creates a Bootstrap. Bootstrapping() reports true from construction
// until Run completes, so a caller must not expose it as a Gate before
// deciding whether bootstrap actually needs to run. notify may be nil, in
// which case progress strings are simply not reported.
func New(remoteOps RemoteOps, applier Applier, tokenSeeder TokenSeeder, store Persister, c *cache.Cache, accountID, rootID string, logger *slog.Logger, notify Notify) *Bootstrap {
	if logger == nil {
		logger = slog.Default()
	}

	if notify == nil {
		notify = func(string) {}
	}

	b := &Bootstrap{
		remote: remoteOps, applier: applier, tokenSeeder: tokenSeeder, store: store, cache: c,
		accountID: accountID, rootID: rootID, logger: logger, notify: notify, concurrency: defaultConcurrency,
	}
	b.running.Store(true)

	return b
}

// SetTokenSeeder wires the token seeder after construction, for the common
// case where the token seeder (the change loop) and Bootstrap (the change
// loop's Gate) need a reference to each other.
func (b *Bootstrap) SetTokenSeeder(seeder TokenSeeder) {
	b.tokenSeeder = seeder
}

// MarkSynced releases the gate without running a walk, for an account that
// was already fully synced on a prior run and so never needs one this time.
func (b *Bootstrap) MarkSynced() {
	b.running.Store(false)
}

// Bootstrapping reports whether a walk is currently in progress.
func (b *Bootstrap) Bootstrapping() bool {
	return b.running.Load()
}

// Run performs the full-tree walk and blocks until it completes or ctx is
// cancelled. It must be called at most once.
func (b *Bootstrap) Run(ctx context.Context) error {
	defer b.running.Store(false)

	b.notify("Getting files info...")

	if err := b.tokenSeeder.SeedFreshToken(ctx); err != nil {
		return fmt.Errorf("bootstrap: capturing starting changes token: %w", err)
	}

	root, err := b.remote.GetMetadata(ctx, b.rootID)
	if err != nil {
		return fmt.Errorf("bootstrap: fetching root: %w", err)
	}

	if err := b.apply(ctx, root); err != nil {
		return fmt.Errorf("bootstrap: storing root: %w", err)
	}

	if err := b.walk(ctx, b.rootID); err != nil {
		return fmt.Errorf("bootstrap: walking remote tree: %w", err)
	}

	if err := b.finish(ctx); err != nil {
		return fmt.Errorf("bootstrap: saving completed state: %w", err)
	}

	b.notify(fmt.Sprintf("All done! %d files downloaded and %d ignored.", b.downloaded.Load(), b.ignored.Load()))

	return nil
}

// walk lists folders breadth-first, a bounded-concurrency batch of sibling
// folders at a time. Listing runs concurrently; applying discovered
// entities to the Reconciler is serialized through apply, preserving the
// Reconciler's single-writer invariant even though discovery is parallel.
func (b *Bootstrap) walk(ctx context.Context, rootFolderID string) error {
	level := []string{rootFolderID}

	for len(level) > 0 {
		var (
			mu        sync.Mutex
			nextLevel []string
		)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.concurrency)

		for _, folderID := range level {
			g.Go(func() error {
				children, err := b.remote.ListAllChildren(gctx, folderID)
				if err != nil {
					return fmt.Errorf("listing children of %s: %w", folderID, err)
				}

				var childFolders []string

				for _, child := range children {
					if err := b.apply(gctx, child); err != nil {
						return err
					}

					if child.IsFolder() {
						childFolders = append(childFolders, child.ID)
					}
				}

				mu.Lock()
				nextLevel = append(nextLevel, childFolders...)
				mu.Unlock()

				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}

		level = nextLevel

		b.notify(fmt.Sprintf("%d files downloaded, %d files ignored...", b.downloaded.Load(), b.ignored.Load()))
	}

	return nil
}

// apply drives one discovered entity through the Reconciler as if it were
// a freshly observed remote change — the same code path AddLocalFile's
// sibling, ApplyRemoteChange, uses for any new entity: store then download
// if eligible.
func (b *Bootstrap) apply(ctx context.Context, info remote.FileInfo) error {
	b.applyMu.Lock()
	defer b.applyMu.Unlock()

	outcome, err := b.applier.ApplyRemoteChange(ctx, remote.Change{FileID: info.ID, File: &info})
	if err != nil {
		return err
	}

	// The root itself is always ignored under the download policy (it has
	// no content of its own) but isn't a "file" the walk discovered, so it
	// never counts toward either tally.
	if info.ID == b.rootID {
		return nil
	}

	switch outcome {
	case reconciler.OutcomeDownloaded:
		b.downloaded.Add(1)
	case reconciler.OutcomeIgnored:
		b.ignored.Add(1)
	}

	return nil
}

func (b *Bootstrap) finish(ctx context.Context) error {
	state := &statestore.State{
		RootID:      b.rootID,
		ChangeToken: b.tokenSeeder.CurrentToken(),
		FileInfo:    b.cache.Snapshot(),
		Synced:      true,
	}

	return b.store.Save(ctx, b.accountID, state)
}
