package reconciler

import (
	"crypto/md5" //nolint:gosec // md5 is the remote service's content-checksum algorithm, not used for security
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Disk abstracts the local filesystem operations the Reconciler performs.
// The concrete implementation is osDisk; tests inject a fake so reconciler
// logic can be verified without touching a real filesystem.
type Disk interface {
	MkdirAll(path string) error
	WriteFromReader(path string, r io.Reader) (md5Hex string, size int64, err error)
	CopyFile(src, dst string) error
	Remove(path string) error
	RemoveAll(path string) error
	Rename(oldPath, newPath string) error
	MD5(path string) (string, error)
	Exists(path string) bool
	Open(path string) (io.ReadCloser, error)
}

// osDisk implements Disk against the real operating system filesystem.
type osDisk struct{}

// NewOSDisk returns the production Disk implementation.
func NewOSDisk() Disk { return osDisk{} }

func (osDisk) MkdirAll(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("reconciler: mkdir %s: %w", path, err)
	}

	return nil
}

// WriteFromReader streams r into a new file at path, computing its md5 hash
// as it writes. Temporary files are not used — downloads write directly to
// the destination and the caller removes partial output on error.
func (osDisk) WriteFromReader(path string, r io.Reader) (string, int64, error) {
	f, err := os.Create(path) //nolint:gosec // path is derived from cached remote metadata, not raw user input
	if err != nil {
		return "", 0, fmt.Errorf("reconciler: creating %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New() //nolint:gosec // see top-of-file note
	n, err := io.Copy(f, io.TeeReader(r, h))
	if err != nil {
		return "", 0, fmt.Errorf("reconciler: writing %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func (osDisk) CopyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // src is a path already materialized by this engine
	if err != nil {
		return fmt.Errorf("reconciler: opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst) //nolint:gosec // dst is derived from cached remote metadata
	if err != nil {
		return fmt.Errorf("reconciler: creating %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("reconciler: copying %s to %s: %w", src, dst, err)
	}

	return nil
}

func (osDisk) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reconciler: removing %s: %w", path, err)
	}

	return nil
}

func (osDisk) RemoveAll(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("reconciler: removing %s: %w", path, err)
	}

	return nil
}

func (osDisk) Rename(oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("reconciler: renaming %s to %s: %w", oldPath, newPath, err)
	}

	return nil
}

func (osDisk) MD5(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // path is a previously materialized local path
	if err != nil {
		return "", fmt.Errorf("reconciler: opening %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New() //nolint:gosec // see top-of-file note
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("reconciler: hashing %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func (osDisk) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (osDisk) Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path) //nolint:gosec // path is a previously materialized local path
	if err != nil {
		return nil, fmt.Errorf("reconciler: opening %s: %w", path, err)
	}

	return f, nil
}

// dirOf is a small filepath.Dir wrapper kept here so callers read naturally
// (reconciler.go already imports path/filepath for other things too).
func dirOf(path string) string { return filepath.Dir(path) }
