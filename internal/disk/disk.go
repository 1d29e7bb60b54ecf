// Package disk lists drives and directory children for the file browser.
package disk

import (
	"cmp"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mohammed-shakir/shapetiles/internal/apperr"
)

type EntryType string

const (
	TypeDrive  EntryType = "drive"
	TypeFolder EntryType = "folder"
	TypeFile   EntryType = "file"
)

type Entry struct {
	Path string    `json:"path"`
	Name string    `json:"name"`
	Type EntryType `json:"type"`
}

// driveRoots probes A:\ through Z:\ and keeps the ones that exist.
func driveRoots(exists func(root string) bool) []Entry {
	var out []Entry
	for l := 'A'; l <= 'Z'; l++ {
		root := string(l) + `:\`
		if exists(root) {
			out = append(out, Entry{Path: root, Name: string(l), Type: TypeDrive})
		}
	}
	return out
}

// ListDir lists the direct children of dir, folders first and each group
// sorted by name. Entries that cannot be inspected are skipped.
func ListDir(ctx context.Context, logger *slog.Logger, dir string) ([]Entry, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if strings.TrimSpace(dir) == "" {
		return nil, apperr.Newf(apperr.KindInvalidArgument, "disk_read_dir", dir, "empty path")
	}
	des, err := os.ReadDir(dir)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, apperr.New(apperr.KindSourceNotFound, "disk_read_dir", dir, nil)
		case des == nil:
			return nil, apperr.New(apperr.KindInvalidArgument, "disk_read_dir", dir, err)
		}
		// partial listing; keep what was read
		logger.WarnContext(ctx, "directory listing incomplete", "path", dir, "err", err)
	}

	out := make([]Entry, 0, len(des))
	for _, de := range des {
		p := filepath.Join(dir, de.Name())
		typ, err := entryType(p, de)
		if err != nil {
			logger.WarnContext(ctx, "skip unreadable entry", "path", p, "err", err)
			continue
		}
		out = append(out, Entry{Path: p, Name: de.Name(), Type: typ})
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if a.Type != b.Type {
			if a.Type == TypeFolder {
				return -1
			}
			if b.Type == TypeFolder {
				return 1
			}
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out, nil
}

func entryType(p string, de fs.DirEntry) (EntryType, error) {
	mode := de.Type()
	if mode&fs.ModeSymlink != 0 {
		fi, err := os.Stat(p)
		if err != nil {
			return "", err
		}
		mode = fi.Mode()
	}
	if mode.IsDir() {
		return TypeFolder, nil
	}
	return TypeFile, nil
}
