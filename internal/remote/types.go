// Package remote defines the data types exchanged with the cloud-drive API
// and a retrying adapter over the raw transport (internal/driveapi).
package remote

import (
	"strings"
	"time"
)

// FileInfo is the canonical remote metadata for one drive entity (file or
// folder). It mirrors the "fields" projection the adapter always requests:
// "id,name,mimeType,md5Checksum,size,modifiedTime,parents,trashed".
type FileInfo struct {
	ID           string
	Name         string // one path segment, never contains a separator
	MimeType     string
	MD5Checksum  string // hex, empty when the server has none
	Size         int64
	HasSize      bool // distinguishes "0 bytes" from "no size reported"
	ModifiedTime time.Time
	Parents      []string // ordered set of parent ids, possibly empty
	Trashed      bool
}

// IsFolder reports whether the mime type denotes a directory. Per the data
// model, any mime type containing the literal substring "folder" is a
// directory — this is the Google-Drive-style convention
// ("application/vnd.google-apps.folder").
func (f FileInfo) IsFolder() bool {
	return strings.Contains(f.MimeType, "folder")
}

// Clone returns a deep copy safe to mutate independently of f.
func (f FileInfo) Clone() FileInfo {
	cp := f
	cp.Parents = append([]string(nil), f.Parents...)
	return cp
}

// Change is one entry from the changes feed: either a removal (Removed
// true, File absent) or an upsert (File populated).
type Change struct {
	FileID  string
	Removed bool
	File    *FileInfo // nil when Removed
}

// Page is one page of a changes.list response.
type Page struct {
	Changes         []Change
	NextPageToken   string // non-empty while more pages remain
	NewStartToken   string // set on the final page; becomes the new changeToken
}
