// Package cache implements the in-memory metadata cache: the id -> FileInfo
// map plus the path -> id index derived from it. Path
// materialization is kept a pure function of (fileInfo, rootID, localRoot) —
// see pathsOf — so it can always be recomputed from scratch rather than
// incrementally patched, avoiding cycle-as-ownership bugs in a graph where
// files may have multiple parents.
package cache

import (
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/tamsinhale/drivesync/internal/remote"
)

// maxPathDepth bounds pathsOf recursion. The remote service is not expected
// to hand back cyclic parent graphs, but the resolver must not hang if it
// ever does — paths exceeding this depth are dropped rather than looped.
const maxPathDepth = 64

// Cache is the Metadata Cache. All exported methods are safe for concurrent
// use, though the single-writer model in practice means only the
// Reconciler ever calls the mutating ones.
type Cache struct {
	mu        sync.RWMutex
	rootID    string
	localRoot string
	fileInfo  map[string]remote.FileInfo // id -> FileInfo
	paths     map[string]string          // absolute local path -> id
	logger    *slog.Logger
}

// New creates an empty Cache rooted at localRoot, mirroring the remote
// folder rootID.
func New(rootID, localRoot string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{
		rootID:    rootID,
		localRoot: localRoot,
		fileInfo:  make(map[string]remote.FileInfo),
		paths:     make(map[string]string),
		logger:    logger,
	}
}

// LoadFrom replaces the cache's fileInfo map wholesale (used when restoring
// persisted state) and recomputes paths.
func (c *Cache) LoadFrom(fileInfo map[string]remote.FileInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fileInfo = make(map[string]remote.FileInfo, len(fileInfo))
	for id, info := range fileInfo {
		c.fileInfo[id] = info.Clone()
	}

	c.recomputePathsLocked()
}

// Snapshot returns a deep copy of the fileInfo map, suitable for persistence.
func (c *Cache) Snapshot() map[string]remote.FileInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]remote.FileInfo, len(c.fileInfo))
	for id, info := range c.fileInfo {
		out[id] = info.Clone()
	}

	return out
}

// GetInfo returns the cached FileInfo for id, or false if unknown.
// forceRefresh is honored by the caller: when true, the caller is expected
// to have already refreshed via the remote adapter and called StoreInfo
// before calling GetInfo again — the cache itself has no network access.
func (c *Cache) GetInfo(id string) (remote.FileInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info, ok := c.fileInfo[id]

	return info, ok
}

// StoreInfo inserts or replaces info, then refreshes the paths entries for
// the new info (invariant 1).
func (c *Cache) StoreInfo(info remote.FileInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fileInfo[info.ID] = info.Clone()
	c.recomputePathsLocked()
}

// RemoveInfo deletes id from the cache and returns every path that used to
// resolve through it (so the caller can remove those paths on disk), then
// deletes those entries from the paths index.
func (c *Cache) RemoveInfo(id string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, ok := c.fileInfo[id]
	if !ok {
		return nil
	}

	removed := c.pathsOfLocked(info, make(map[string]int))

	delete(c.fileInfo, id)
	c.recomputePathsLocked()

	return removed
}

// PathsOf returns the current set of local paths the given info resolves to.
func (c *Cache) PathsOf(info remote.FileInfo) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.pathsOfLocked(info, make(map[string]int))
}

// PathsOfID is a convenience wrapper around PathsOf for a cached id.
func (c *Cache) PathsOfID(id string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info, ok := c.fileInfo[id]
	if !ok {
		return nil
	}

	return c.pathsOfLocked(info, make(map[string]int))
}

// IDForPath looks up the id materialized at an absolute local path.
func (c *Cache) IDForPath(path string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.paths[path]

	return id, ok
}

// RecomputePaths rebuilds the entire paths index from fileInfo. Exposed for
// callers that mutate FileInfo entries in bulk (e.g. bootstrap) and want to
// defer recomputation until after the batch.
func (c *Cache) RecomputePaths() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recomputePathsLocked()
}

// recomputePathsLocked rebuilds c.paths from c.fileInfo. Callers must hold c.mu.
func (c *Cache) recomputePathsLocked() {
	c.paths = make(map[string]string)

	// Deterministic iteration order for reproducible path assignment when
	// two ids race for the same materialized path (should not happen under
	// a correct parent graph, but keeps behavior stable if it does).
	ids := make([]string, 0, len(c.fileInfo))
	for id := range c.fileInfo {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	for _, id := range ids {
		info := c.fileInfo[id]
		for _, p := range c.pathsOfLocked(info, make(map[string]int)) {
			c.paths[p] = id
		}
	}
}

// pathsOfLocked resolves info's local paths recursively:
//   - info.ID == rootID -> the single local-root path
//   - info.Parents empty -> no paths (outside the tracked tree)
//   - otherwise -> cross product of pathsOf(parent) joined with info.Name
//
// depth counts the ancestors visited per parent id on this branch; once their
// total reaches maxPathDepth the branch is dropped, so neither a cycle in the
// remote parent graph nor an over-deep chain loops.
func (c *Cache) pathsOfLocked(info remote.FileInfo, depth map[string]int) []string {
	if info.ID == c.rootID {
		return []string{c.localRoot}
	}

	if len(info.Parents) == 0 {
		return nil
	}

	// Each recursion level increments exactly one parent's count, so the
	// sum is the current recursion depth.
	total := 0
	for _, n := range depth {
		total += n
	}

	if total >= maxPathDepth {
		c.logger.Warn("path resolution exceeded max depth, dropping", slog.String("id", info.ID))
		return nil
	}

	var all []string

	for _, parentID := range info.Parents {
		if depth[parentID] >= maxPathDepth {
			c.logger.Warn("path resolution exceeded max depth, dropping", slog.String("parent", parentID))
			continue
		}

		parent, ok := c.fileInfo[parentID]
		if !ok {
			continue
		}

		nextDepth := cloneDepth(depth)
		nextDepth[parentID]++

		for _, parentPath := range c.pathsOfLocked(parent, nextDepth) {
			all = append(all, filepath.Join(parentPath, info.Name))
		}
	}

	return all
}

func cloneDepth(d map[string]int) map[string]int {
	out := make(map[string]int, len(d))
	for k, v := range d {
		out[k] = v
	}

	return out
}
