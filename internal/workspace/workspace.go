// Package workspace owns the on-disk layout that holds published tile archives.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ArchiveDir is the subdirectory the map server sidecar serves from.
const ArchiveDir = "mbtiles"

const archiveExt = ".mbtiles"

type Workspace struct {
	root string
}

// Ensure creates root and root/mbtiles when missing. Calling it again on an
// existing tree is a no-op.
func Ensure(root string) (*Workspace, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("workspace: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace %s: %w", root, err)
	}
	if err := os.MkdirAll(filepath.Join(abs, ArchiveDir), 0o755); err != nil {
		return nil, fmt.Errorf("workspace %s: %w", abs, err)
	}
	return &Workspace{root: abs}, nil
}

func (w *Workspace) Root() string       { return w.root }
func (w *Workspace) ArchiveDir() string { return filepath.Join(w.root, ArchiveDir) }

// ArchivePath is <root>/mbtiles/<stem>.mbtiles.
func (w *Workspace) ArchivePath(stem string) string {
	return filepath.Join(w.ArchiveDir(), stem+archiveExt)
}

// StemOf returns the file name of path without directory or extension.
func StemOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ArchiveName maps an archive file name back to the stem it was published
// under. ok is false for anything that is not an archive.
func ArchiveName(path string) (stem string, ok bool) {
	base := filepath.Base(path)
	if !strings.EqualFold(filepath.Ext(base), archiveExt) {
		return "", false
	}
	return base[:len(base)-len(archiveExt)], true
}
