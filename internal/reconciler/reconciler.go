// Package reconciler implements the single writer over cache, disk, and
// remote state: resolve what changed, ignore before writing, mutate, then
// persist.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/tamsinhale/drivesync/internal/cache"
	"github.com/tamsinhale/drivesync/internal/remote"
)

// ErrInvariantViolation marks an assertion failure: a local event referred
// to a path whose parent is not in the cache. The triggering event is
// dropped and logged, never retried.
var ErrInvariantViolation = errors.New("reconciler: invariant violation")

// folderMimeType marks a remote entity as a directory.
const folderMimeType = "application/vnd.google-apps.folder"

// Outcome classifies what ApplyRemoteChange did with a remote entity's
// content, so callers that report download/ignore progress (bootstrap's
// notify messages) can count without duplicating the download policy.
type Outcome int

const (
	// OutcomeNone means the change touched metadata or paths only (rename,
	// removal, no-op, a folder materialized) — nothing to count either way.
	OutcomeNone Outcome = iota
	// OutcomeDownloaded means file content was fetched and written to disk.
	OutcomeDownloaded
	// OutcomeIgnored means the entity was skipped under the download policy
	// (the root, or a non-folder with no reported size).
	OutcomeIgnored
)

// RemoteOps is the subset of the Remote Client Adapter the reconciler calls.
// Satisfied by *remote.Adapter; tests supply a fake.
type RemoteOps interface {
	GetContent(ctx context.Context, id string) (io.ReadCloser, error)
	CreateFile(ctx context.Context, info remote.FileInfo, body io.Reader) (remote.FileInfo, error)
	UpdateFile(ctx context.Context, id string, body io.Reader) (remote.FileInfo, error)
	DeleteFile(ctx context.Context, id string) error
}

// WatchIgnorer is the subset of the Local Watcher the reconciler drives:
// registering an ignore before every disk write, and adjusting the watch
// set as directories come and go.
type WatchIgnorer interface {
	Ignore(path string)
	WatchDir(path string) error
	UnwatchDir(path string) error
}

// Reconciler applies remote changes and local filesystem events to the
// Metadata Cache, the local disk, and the remote drive. One instance is
// shared by the Change Loop and the Work Queue consumer, which never run
// concurrently.
type Reconciler struct {
	cache   *cache.Cache
	remote  RemoteOps
	disk    Disk
	watcher WatchIgnorer
	rootID  string
	logger  *slog.Logger
}

// New creates a Reconciler. disk is typically NewOSDisk() in production and
// a fake in tests.
func New(c *cache.Cache, r RemoteOps, disk Disk, w WatchIgnorer, rootID string, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reconciler{cache: c, remote: r, disk: disk, watcher: w, rootID: rootID, logger: logger}
}

// ApplyRemoteChange is the entry point for a single remote change event.
// The returned Outcome reports whether content was downloaded or skipped
// under the ignore policy, for callers that tally download/ignore counts.
func (rc *Reconciler) ApplyRemoteChange(ctx context.Context, c remote.Change) (Outcome, error) {
	if c.Removed || (c.File != nil && c.File.Trashed) {
		return OutcomeNone, rc.removeByID(c.FileID)
	}

	updated := c.File.Clone()

	old, existed := rc.cache.GetInfo(c.FileID)
	if !existed {
		rc.cache.StoreInfo(updated)
		return rc.download(ctx, updated)
	}

	oldPaths := rc.cache.PathsOfID(c.FileID)
	rc.cache.StoreInfo(updated)
	newPaths := rc.cache.PathsOfID(c.FileID)

	if old.Name == updated.Name && sameParentSet(old.Parents, updated.Parents) && old.ModifiedTime.Equal(updated.ModifiedTime) {
		return OutcomeNone, nil
	}

	if len(oldPaths) == 0 && len(newPaths) == 0 {
		return OutcomeNone, nil // outside the mirrored tree
	}

	if !updated.IsFolder() && old.MD5Checksum != "" && old.MD5Checksum != updated.MD5Checksum {
		if err := rc.removePaths(oldPaths); err != nil {
			return OutcomeNone, err
		}

		return rc.download(ctx, updated)
	}

	if len(oldPaths) == 0 && len(newPaths) > 0 {
		return rc.download(ctx, updated)
	}

	if ShouldIgnore(updated, rc.rootID) {
		return OutcomeNone, nil
	}

	return OutcomeNone, rc.changePathsFor(updated, oldPaths, newPaths)
}

// removeByID deletes every path id resolves to, on disk and in the cache.
func (rc *Reconciler) removeByID(id string) error {
	paths := rc.cache.RemoveInfo(id)
	return rc.removePaths(paths)
}

func (rc *Reconciler) removePaths(paths []string) error {
	for _, p := range paths {
		rc.watcher.Ignore(p)

		if err := rc.watcher.UnwatchDir(p); err != nil {
			rc.logger.Debug("unwatch on removal (best-effort)", slog.String("path", p), slog.Any("error", err))
		}

		if err := rc.disk.RemoveAll(p); err != nil {
			rc.logger.Warn("removing path failed", slog.String("path", p), slog.Any("error", err))
		}
	}

	return nil
}

// ChangePaths is the entry point for reconciling a set of old local paths
// to a set of new ones: renames overlapping aliases, deletes extras, and
// materializes new aliases by copying from newPaths[0].
func (rc *Reconciler) ChangePaths(oldPaths, newPaths []string) error {
	removed := setDiff(oldPaths, newPaths)
	added := setDiff(newPaths, oldPaths)

	n := len(removed)
	if len(added) < n {
		n = len(added)
	}

	// Establish a content source before anything is deleted, in case no
	// rename pair exists to seed newPaths[0]: this fallback materializes
	// that path first when there is no overlap to rename into it.
	source := ""
	if len(oldPaths) > 0 {
		source = oldPaths[0]
	}

	for i := 0; i < n; i++ {
		rc.watcher.Ignore(removed[i])
		rc.watcher.Ignore(added[i])

		if err := rc.disk.MkdirAll(dirOf(added[i])); err != nil {
			return err
		}

		if err := rc.disk.Rename(removed[i], added[i]); err != nil {
			return err
		}

		if removed[i] == source {
			source = added[i]
		}
	}

	if n == 0 && len(added) > 0 && source != "" && source != added[0] {
		rc.watcher.Ignore(added[0])

		if err := rc.disk.MkdirAll(dirOf(added[0])); err != nil {
			return err
		}

		if err := rc.disk.CopyFile(source, added[0]); err != nil {
			return err
		}

		source = added[0]
	}

	for _, p := range added[n:] {
		if p == source {
			continue
		}

		rc.watcher.Ignore(p)

		if err := rc.disk.MkdirAll(dirOf(p)); err != nil {
			return err
		}

		if err := rc.disk.CopyFile(source, p); err != nil {
			return err
		}
	}

	for _, p := range removed[n:] {
		rc.watcher.Ignore(p)

		if err := rc.disk.RemoveAll(p); err != nil {
			return err
		}
	}

	return nil
}

// changePathsFor applies ChangePaths when info is a folder that must also
// be re-materialized as a directory (so extra aliases end up as directories,
// not copied files) and re-registers watches on the resulting paths.
func (rc *Reconciler) changePathsFor(info remote.FileInfo, oldPaths, newPaths []string) error {
	if !info.IsFolder() {
		if err := rc.ChangePaths(oldPaths, newPaths); err != nil {
			return fmt.Errorf("reconciler: changing paths for %s: %w", info.ID, err)
		}

		return nil
	}

	removed := setDiff(oldPaths, newPaths)
	added := setDiff(newPaths, oldPaths)

	n := len(removed)
	if len(added) < n {
		n = len(added)
	}

	for i := 0; i < n; i++ {
		rc.watcher.Ignore(removed[i])
		rc.watcher.Ignore(added[i])

		if err := rc.watcher.UnwatchDir(removed[i]); err != nil {
			rc.logger.Debug("unwatch before folder rename", slog.Any("error", err))
		}

		if err := rc.disk.MkdirAll(dirOf(added[i])); err != nil {
			return err
		}

		if err := rc.disk.Rename(removed[i], added[i]); err != nil {
			return err
		}

		if err := rc.watcher.WatchDir(added[i]); err != nil {
			return fmt.Errorf("reconciler: watching %s: %w", added[i], err)
		}
	}

	for _, p := range added[n:] {
		rc.watcher.Ignore(p)

		if err := rc.disk.MkdirAll(p); err != nil {
			return err
		}

		if err := rc.watcher.WatchDir(p); err != nil {
			return fmt.Errorf("reconciler: watching %s: %w", p, err)
		}
	}

	for _, p := range removed[n:] {
		rc.watcher.Ignore(p)

		if err := rc.watcher.UnwatchDir(p); err != nil {
			rc.logger.Debug("unwatch before folder removal", slog.Any("error", err))
		}

		if err := rc.disk.RemoveAll(p); err != nil {
			return err
		}
	}

	return nil
}

// AddLocalFile is the entry point for a locally created path.
func (rc *Reconciler) AddLocalFile(ctx context.Context, path string) error {
	if _, ok := rc.cache.IDForPath(path); ok {
		return rc.UpdateLocalFile(ctx, path)
	}

	parentID, ok := rc.cache.IDForPath(filepath.Dir(path))
	if !ok {
		rc.logger.Error("add-local-file: parent not in cache, dropping event",
			slog.String("path", path))

		return fmt.Errorf("%w: no cached parent for %s", ErrInvariantViolation, path)
	}

	if !rc.disk.Exists(path) {
		return nil // already removed again before we got to it
	}

	f, err := rc.disk.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info := remote.FileInfo{Name: filepath.Base(path), Parents: []string{parentID}}

	result, err := rc.remote.CreateFile(ctx, info, f)
	if err != nil {
		return fmt.Errorf("reconciler: uploading new file %s: %w", path, err)
	}

	rc.cache.StoreInfo(result)

	return nil
}

// AddLocalDir is the folder-side mirror of AddLocalFile: the Local Watcher
// emits addDir for a locally created directory, and it needs the same
// parent-resolution and remote-creation treatment, minus any content body.
func (rc *Reconciler) AddLocalDir(ctx context.Context, path string) error {
	if _, ok := rc.cache.IDForPath(path); ok {
		return nil // already mapped, nothing to do
	}

	parentID, ok := rc.cache.IDForPath(filepath.Dir(path))
	if !ok {
		rc.logger.Error("add-local-dir: parent not in cache, dropping event",
			slog.String("path", path))

		return fmt.Errorf("%w: no cached parent for %s", ErrInvariantViolation, path)
	}

	if !rc.disk.Exists(path) {
		return nil
	}

	info := remote.FileInfo{
		Name:     filepath.Base(path),
		Parents:  []string{parentID},
		MimeType: folderMimeType,
	}

	result, err := rc.remote.CreateFile(ctx, info, nil)
	if err != nil {
		return fmt.Errorf("reconciler: creating remote folder %s: %w", path, err)
	}

	rc.cache.StoreInfo(result)

	if err := rc.watcher.WatchDir(path); err != nil {
		return fmt.Errorf("reconciler: watching %s: %w", path, err)
	}

	return nil
}

// UpdateLocalFile is the entry point for a locally modified path.
func (rc *Reconciler) UpdateLocalFile(ctx context.Context, path string) error {
	id, ok := rc.cache.IDForPath(path)
	if !ok {
		return nil
	}

	if !rc.disk.Exists(path) {
		return nil
	}

	sum, err := rc.disk.MD5(path)
	if err != nil {
		return fmt.Errorf("reconciler: hashing %s: %w", path, err)
	}

	cached, _ := rc.cache.GetInfo(id)
	if sum == cached.MD5Checksum {
		return nil
	}

	f, err := rc.disk.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	result, err := rc.remote.UpdateFile(ctx, id, f)
	if err != nil {
		return fmt.Errorf("reconciler: uploading update %s: %w", path, err)
	}

	rc.cache.StoreInfo(result)

	for _, alias := range rc.cache.PathsOfID(id) {
		if alias == path {
			continue
		}

		rc.watcher.Ignore(alias)

		if err := rc.disk.CopyFile(path, alias); err != nil {
			rc.logger.Warn("propagating update to alias failed", slog.String("alias", alias), slog.Any("error", err))
		}
	}

	return nil
}

// RemoveLocal is the entry point for a locally removed path.
func (rc *Reconciler) RemoveLocal(ctx context.Context, path string) error {
	id, ok := rc.cache.IDForPath(path)
	if !ok {
		return nil
	}

	aliases := rc.cache.RemoveInfo(id)
	for _, alias := range aliases {
		rc.watcher.Ignore(alias)

		if err := rc.disk.RemoveAll(alias); err != nil {
			rc.logger.Warn("removing alias failed", slog.String("alias", alias), slog.Any("error", err))
		}
	}

	if err := rc.remote.DeleteFile(ctx, id); err != nil {
		return fmt.Errorf("reconciler: deleting remote file %s: %w", id, err)
	}

	return nil
}

// download implements the download policy: folders are
// materialized as directories at every path; files are fetched once and
// copied to any additional paths; ignorable entities are skipped entirely.
func (rc *Reconciler) download(ctx context.Context, info remote.FileInfo) (Outcome, error) {
	if ShouldIgnore(info, rc.rootID) {
		return OutcomeIgnored, nil
	}

	paths := rc.cache.PathsOfID(info.ID)
	if len(paths) == 0 {
		return OutcomeNone, nil
	}

	if info.IsFolder() {
		for _, p := range paths {
			rc.watcher.Ignore(p)

			if err := rc.disk.MkdirAll(p); err != nil {
				return OutcomeNone, err
			}

			if err := rc.watcher.WatchDir(p); err != nil {
				return OutcomeNone, fmt.Errorf("reconciler: watching %s: %w", p, err)
			}
		}

		return OutcomeNone, nil
	}

	primary := paths[0]
	rc.watcher.Ignore(primary)

	if err := rc.disk.MkdirAll(dirOf(primary)); err != nil {
		return OutcomeNone, err
	}

	rcStream, err := rc.remote.GetContent(ctx, info.ID)
	if err != nil {
		return OutcomeNone, fmt.Errorf("reconciler: downloading %s: %w", info.ID, err)
	}
	defer rcStream.Close()

	sum, _, err := rc.disk.WriteFromReader(primary, rcStream)
	if err != nil {
		_ = rc.disk.Remove(primary) // partial writes must not linger for the watcher to re-upload

		return OutcomeNone, fmt.Errorf("reconciler: writing %s: %w", primary, err)
	}

	if info.MD5Checksum != "" && sum != info.MD5Checksum {
		rc.logger.Warn("downloaded content checksum mismatch",
			slog.String("path", primary), slog.String("expected", info.MD5Checksum), slog.String("got", sum))
	}

	for _, p := range paths[1:] {
		rc.watcher.Ignore(p)

		if err := rc.disk.MkdirAll(dirOf(p)); err != nil {
			return OutcomeNone, err
		}

		if err := rc.disk.CopyFile(primary, p); err != nil {
			return OutcomeNone, err
		}
	}

	return OutcomeDownloaded, nil
}
