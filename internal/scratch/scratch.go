// Package scratch manages the per-invocation scratch directory spec.md §3
// and §5 require: owner-only, created on a memory-backed filesystem where
// available, and unconditionally erased on every exit path.
package scratch

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir is a scratch directory scoped to a single agent invocation.
type Dir struct {
	Path string
}

// defaultBase is tried first; it is tmpfs-backed on every Linux instance
// this system targets. Callers needing a different base (tests, hosts
// without /dev/shm) can use NewIn.
const defaultBase = "/dev/shm"

// New creates a fresh scratch directory under /dev/shm, falling back to
// os.TempDir() if /dev/shm does not exist (non-Linux hosts, restricted
// containers).
func New() (*Dir, error) {
	base := defaultBase
	if _, err := os.Stat(base); err != nil {
		base = os.TempDir()
	}
	return NewIn(base)
}

// NewIn creates a fresh scratch directory under base with mode 0700.
func NewIn(base string) (*Dir, error) {
	path, err := os.MkdirTemp(base, "ec2-ssh-authd-")
	if err != nil {
		return nil, fmt.Errorf("scratch: create directory: %w", err)
	}
	if err := os.Chmod(path, 0700); err != nil {
		os.RemoveAll(path)
		return nil, fmt.Errorf("scratch: set permissions: %w", err)
	}
	return &Dir{Path: path}, nil
}

// WriteFile writes data to a file named name inside the scratch directory
// with the given mode (0400 or 0600 per spec.md §5).
func (d *Dir) WriteFile(name string, data []byte, mode os.FileMode) error {
	return os.WriteFile(filepath.Join(d.Path, name), data, mode)
}

// Close erases the scratch directory and everything in it. Callers defer
// this immediately after New/NewIn so cleanup runs on every exit path.
func (d *Dir) Close() error {
	if d == nil {
		return nil
	}
	return os.RemoveAll(d.Path)
}
