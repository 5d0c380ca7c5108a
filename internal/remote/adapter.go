package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// ErrTransient marks a connection-reset-class fault. Transport
// implementations (internal/driveapi) wrap such errors with this sentinel so
// the adapter can distinguish "retry once" from "propagate immediately".
var ErrTransient = errors.New("remote: transient connectivity fault")

// Retry/paging timings.
const (
	retryDelay        = 2 * time.Second
	structureWalkGap  = 100 * time.Millisecond
	listChunkGap      = 500 * time.Millisecond
)

// Transport is the raw cloud-drive HTTP client this package wraps. It is
// satisfied by *driveapi.Client; tests supply a fake. The transport itself
// (auth, request construction) is an external collaborator — this package
// only adds retry-once and pagination semantics on top of it.
type Transport interface {
	ListFolder(ctx context.Context, folderID, pageToken string) (files []FileInfo, nextPageToken string, err error)
	GetMetadata(ctx context.Context, id string) (FileInfo, error)
	GetContent(ctx context.Context, id string) (io.ReadCloser, error)
	CreateFile(ctx context.Context, info FileInfo, body io.Reader) (FileInfo, error)
	UpdateFile(ctx context.Context, id string, body io.Reader) (FileInfo, error)
	DeleteFile(ctx context.Context, id string) error
	ChangesStartPageToken(ctx context.Context) (string, error)
	ChangesList(ctx context.Context, pageToken string) (Page, error)
}

// Adapter is the Remote Client Adapter: every call is wrapped by tryTwice,
// and paginated listings insert a small delay between pages to avoid
// rate-limit penalties.
type Adapter struct {
	transport Transport
	logger    *slog.Logger
	sleep     func(time.Duration) // overridable in tests
}

// New creates an Adapter over the given transport.
func New(transport Transport, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Adapter{transport: transport, logger: logger, sleep: time.Sleep}
}

// tryTwice calls fn; on ErrTransient it waits retryDelay and calls fn once
// more. Any other error, or a second transient error, propagates immediately.
func (a *Adapter) tryTwice(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}

	if !errors.Is(err, ErrTransient) {
		return err
	}

	a.logger.Warn("transient remote fault, retrying once", slog.String("op", op), slog.Any("error", err))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.after(retryDelay):
	}

	return fn()
}

func (a *Adapter) after(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)

	go func() {
		a.sleep(d)
		ch <- time.Now()
	}()

	return ch
}

// GetMetadata fetches a single file's metadata, retrying once on transient fault.
func (a *Adapter) GetMetadata(ctx context.Context, id string) (FileInfo, error) {
	var info FileInfo

	err := a.tryTwice(ctx, "files.get", func() error {
		var innerErr error
		info, innerErr = a.transport.GetMetadata(ctx, id)
		return innerErr
	})
	if err != nil {
		return FileInfo{}, fmt.Errorf("remote: get metadata %s: %w", id, err)
	}

	return info, nil
}

// GetContent opens a streaming download for a file, retrying once on transient fault.
func (a *Adapter) GetContent(ctx context.Context, id string) (io.ReadCloser, error) {
	var rc io.ReadCloser

	err := a.tryTwice(ctx, "files.get.media", func() error {
		var innerErr error
		rc, innerErr = a.transport.GetContent(ctx, id)
		return innerErr
	})
	if err != nil {
		return nil, fmt.Errorf("remote: get content %s: %w", id, err)
	}

	return rc, nil
}

// CreateFile uploads a new file (or folder, when body is nil), retrying once on transient fault.
func (a *Adapter) CreateFile(ctx context.Context, info FileInfo, body io.Reader) (FileInfo, error) {
	var result FileInfo

	err := a.tryTwice(ctx, "files.create", func() error {
		var innerErr error
		result, innerErr = a.transport.CreateFile(ctx, info, body)
		return innerErr
	})
	if err != nil {
		return FileInfo{}, fmt.Errorf("remote: create file %q: %w", info.Name, err)
	}

	return result, nil
}

// UpdateFile replaces a file's content, retrying once on transient fault.
func (a *Adapter) UpdateFile(ctx context.Context, id string, body io.Reader) (FileInfo, error) {
	var result FileInfo

	err := a.tryTwice(ctx, "files.update", func() error {
		var innerErr error
		result, innerErr = a.transport.UpdateFile(ctx, id, body)
		return innerErr
	})
	if err != nil {
		return FileInfo{}, fmt.Errorf("remote: update file %s: %w", id, err)
	}

	return result, nil
}

// DeleteFile deletes a file by id, retrying once on transient fault.
func (a *Adapter) DeleteFile(ctx context.Context, id string) error {
	err := a.tryTwice(ctx, "files.delete", func() error {
		return a.transport.DeleteFile(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("remote: delete file %s: %w", id, err)
	}

	return nil
}

// ChangesStartPageToken fetches the current start token for the changes feed.
func (a *Adapter) ChangesStartPageToken(ctx context.Context) (string, error) {
	var token string

	err := a.tryTwice(ctx, "changes.getStartPageToken", func() error {
		var innerErr error
		token, innerErr = a.transport.ChangesStartPageToken(ctx)
		return innerErr
	})
	if err != nil {
		return "", fmt.Errorf("remote: get start page token: %w", err)
	}

	return token, nil
}

// ListAllChildren lists every entry directly under folderID, paging until
// the server returns no nextPageToken. Used by structure walks (bootstrap),
// which sleep structureWalkGap between pages.
func (a *Adapter) ListAllChildren(ctx context.Context, folderID string) ([]FileInfo, error) {
	var all []FileInfo

	pageToken := ""

	for {
		var (
			files []FileInfo
			next  string
		)

		err := a.tryTwice(ctx, "files.list", func() error {
			var innerErr error
			files, next, innerErr = a.transport.ListFolder(ctx, folderID, pageToken)
			return innerErr
		})
		if err != nil {
			return nil, fmt.Errorf("remote: list folder %s: %w", folderID, err)
		}

		all = append(all, files...)

		if next == "" {
			return all, nil
		}

		pageToken = next

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-a.after(structureWalkGap):
		}
	}
}

// PullChanges pages changes.list from startToken until the server stops
// returning nextPageToken, sleeping listChunkGap between pages. It returns
// every change collected plus the new start token reported on the final
// page (changeToken is only ever advanced to this value, per invariant 3).
func (a *Adapter) PullChanges(ctx context.Context, startToken string) ([]Change, string, error) {
	var all []Change

	pageToken := startToken
	newToken := startToken

	for {
		var page Page

		err := a.tryTwice(ctx, "changes.list", func() error {
			var innerErr error
			page, innerErr = a.transport.ChangesList(ctx, pageToken)
			return innerErr
		})
		if err != nil {
			return nil, "", fmt.Errorf("remote: list changes: %w", err)
		}

		all = append(all, page.Changes...)

		if page.NewStartToken != "" {
			newToken = page.NewStartToken
		}

		if page.NextPageToken == "" {
			return all, newToken, nil
		}

		pageToken = page.NextPageToken

		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-a.after(listChunkGap):
		}
	}
}
