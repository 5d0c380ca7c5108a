// Package engine wires the metadata cache, state store, remote adapter,
// watcher, work queue, reconciler, bootstrap, and change loop into one
// running sync engine per account, and owns its startup and shutdown
// sequencing.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/tamsinhale/drivesync/internal/bootstrap"
	"github.com/tamsinhale/drivesync/internal/cache"
	"github.com/tamsinhale/drivesync/internal/changeloop"
	"github.com/tamsinhale/drivesync/internal/driveapi"
	"github.com/tamsinhale/drivesync/internal/queue"
	"github.com/tamsinhale/drivesync/internal/reconciler"
	"github.com/tamsinhale/drivesync/internal/remote"
	"github.com/tamsinhale/drivesync/internal/statestore"
	"github.com/tamsinhale/drivesync/internal/watcher"
)

// Notify is called on every status-relevant transition (bootstrap progress,
// a reconciled change, an error). Engine calls it synchronously on its own
// goroutines, so a Notify that blocks stalls the engine; callers that need
// fanout (e.g. internal/statusbus) should make their own Notify non-blocking.
type Notify func(event string, detail string)

// Config holds everything Start needs to bring one account's engine up.
type Config struct {
	AccountID    string
	LocalRoot    string
	RemoteRootID string
	StateDBPath  string
	OAuth        driveapi.OAuthConfig
	TokenPath    string
	QueueDepth   int // buffered local-event capacity; 0 uses a sane default
}

const defaultQueueDepth = 256

// Engine owns one account's full sync stack.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	notify Notify

	store        *statestore.Store
	cache        *cache.Cache
	adapter      *remote.Adapter
	rc           *reconciler.Reconciler
	watch        *watcher.Watcher
	wq           *queue.Queue
	loop         *changeloop.Loop
	bootstrapper *bootstrap.Bootstrap
}

// New constructs an Engine. It opens the state database and authenticates
// the remote client, but does not yet start watching, bootstrapping, or
// polling — call Start for that.
func New(ctx context.Context, cfg Config, logger *slog.Logger, notify Notify) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if notify == nil {
		notify = func(string, string) {}
	}

	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = defaultQueueDepth
	}

	store, err := statestore.Open(ctx, cfg.StateDBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("engine: opening state store: %w", err)
	}

	httpClient, err := driveapi.NewAuthenticatedHTTPClient(ctx, cfg.OAuth, cfg.TokenPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: authenticating: %w", err)
	}

	transport, err := driveapi.New(ctx, httpClient, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: creating remote client: %w", err)
	}

	adapter := remote.New(transport, logger)

	w, err := watcher.New(logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: creating watcher: %w", err)
	}

	c := cache.New(cfg.RemoteRootID, cfg.LocalRoot, logger)

	rc := reconciler.New(c, adapter, reconciler.NewOSDisk(), w, cfg.RemoteRootID, logger)
	wq := queue.New(cfg.QueueDepth, logger)

	b := bootstrap.New(adapter, rc, nil, store, c, cfg.AccountID, cfg.RemoteRootID, logger, func(msg string) {
		notify("status", msg)
	})
	loop := changeloop.New(adapter, rc, store, c, b, cfg.AccountID, cfg.RemoteRootID, logger)
	b.SetTokenSeeder(loop)

	return &Engine{
		cfg: cfg, logger: logger, notify: notify,
		store: store, cache: c, adapter: adapter, rc: rc, watch: w, wq: wq,
		loop: loop, bootstrapper: b,
	}, nil
}

// Start restores persisted state (if any), starts the local watcher, runs
// bootstrap when the account has never finished syncing, then starts the
// work queue consumer and the change loop. It blocks until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	st, err := e.store.Load(ctx, e.cfg.AccountID)
	if err != nil {
		return fmt.Errorf("engine: loading state: %w", err)
	}

	if st != nil {
		e.cache.LoadFrom(st.FileInfo)
		e.loop.SeedFromState(st)

		if st.Synced {
			e.bootstrapper.MarkSynced()
		}
	}

	if err := e.watch.Start(e.cfg.LocalRoot); err != nil {
		return fmt.Errorf("engine: starting watcher: %w", err)
	}
	defer e.watch.Close()

	e.notify("status", "Watching changes in the remote folder...")

	go e.dispatchLocalEvents(ctx)

	if st == nil || !st.Synced {
		if err := e.bootstrapper.Run(ctx); err != nil {
			return fmt.Errorf("engine: bootstrap: %w", err)
		}
	}

	go e.wq.Run(ctx)

	e.notify("sync-running", e.cfg.AccountID)
	e.loop.Run(ctx)

	e.wq.Stop()
	e.wq.Wait()

	return nil
}

// dispatchLocalEvents routes debounced filesystem events onto the work
// queue as reconciler calls, keeping the queue's single consumer as the
// only goroutine that ever mutates through the reconciler for local events
// (the change loop is the only other writer, and the two never overlap
// since bootstrap's Gate holds the change loop off until Start releases it).
func (e *Engine) dispatchLocalEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-e.watch.Events():
			if !ok {
				return
			}

			e.enqueue(ev)
		}
	}
}

// localApplier is the subset of the Reconciler that handles local
// filesystem events, broken out so the Kind-to-method dispatch in
// applyLocalEvent is testable without a fully wired Engine.
type localApplier interface {
	AddLocalFile(ctx context.Context, path string) error
	AddLocalDir(ctx context.Context, path string) error
	UpdateLocalFile(ctx context.Context, path string) error
	RemoveLocal(ctx context.Context, path string) error
}

// applyLocalEvent routes one debounced watcher event to the matching
// Reconciler entry point.
func applyLocalEvent(ctx context.Context, applier localApplier, ev watcher.Event) error {
	switch ev.Kind {
	case watcher.Add:
		return applier.AddLocalFile(ctx, ev.Path)
	case watcher.Change:
		return applier.UpdateLocalFile(ctx, ev.Path)
	case watcher.Unlink, watcher.UnlinkDir:
		return applier.RemoveLocal(ctx, ev.Path)
	case watcher.AddDir:
		return applier.AddLocalDir(ctx, ev.Path)
	default:
		return nil
	}
}

func (e *Engine) enqueue(ev watcher.Event) {
	e.wq.Enqueue(func(ctx context.Context) {
		if err := applyLocalEvent(ctx, e.rc, ev); err != nil {
			e.logger.Error("reconciling local event failed",
				slog.String("path", ev.Path), slog.String("kind", ev.Kind.String()), slog.Any("error", err))
			e.notify("local-event-error", fmt.Sprintf("%s: %v", ev.Path, err))

			return
		}

		e.notify("local-event-applied", filepath.Clean(ev.Path))
	})
}

// Close releases resources that outlive Start returning (the state
// database handle). Call after Start has returned.
func (e *Engine) Close() error {
	return e.store.Close()
}
