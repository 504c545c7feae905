// Package storage resolves remote file names against the server's
// storage root (§6 "Persisted state": `<storage>/<remoteName>`, no
// metadata sidecars).
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Root is the server's storage directory.
type Root struct {
	path string
}

// New returns a Root rooted at dir, creating it if necessary.
func New(dir string) (*Root, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root %q: %w", dir, err)
	}
	return &Root{path: dir}, nil
}

// Resolve maps remoteName to a path under the storage root, rejecting any
// name that would escape it.
func (r *Root) Resolve(remoteName string) (string, error) {
	clean := filepath.Clean(remoteName)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("storage: remoteName %q escapes storage root", remoteName)
	}
	return filepath.Join(r.path, clean), nil
}

// Exists reports whether path names an existing entry that is not a
// directory; readability is not checked.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
