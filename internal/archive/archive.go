// Package archive reads MBTiles tile archives produced by the tile builder.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mohammed-shakir/shapetiles/internal/apperr"
)

// ErrNoTile is returned by Tile when the archive has no blob at z/x/y.
var ErrNoTile = errors.New("archive: no tile")

type Archive struct {
	path    string
	db      *sql.DB
	modTime time.Time
	size    int64
}

// Verify checks that path names a regular, non-empty file.
func Verify(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("verify archive: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("verify archive %s: not a regular file", path)
	}
	if fi.Size() == 0 {
		return fmt.Errorf("verify archive %s: empty file", path)
	}
	return nil
}

// Open opens path read-only and checks that it carries a tiles table.
func Open(ctx context.Context, path string) (*Archive, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.New(apperr.KindSourceNotFound, "open archive", path, nil)
		}
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	dsn, err := readOnlyDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}

	var n int
	err = db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE name = 'tiles' AND type IN ('table', 'view')`).Scan(&n)
	if err != nil || n == 0 {
		_ = db.Close()
		if err == nil {
			err = errors.New("no tiles table")
		}
		return nil, apperr.New(apperr.KindSourceMalformed, "open archive", path, err)
	}
	return &Archive{path: path, db: db, modTime: fi.ModTime(), size: fi.Size()}, nil
}

func readOnlyDSN(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("archive path %s: %w", path, err)
	}
	p := filepath.ToSlash(abs)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	u := url.URL{Scheme: "file", Path: p, RawQuery: "mode=ro"}
	return u.String(), nil
}

func (a *Archive) Path() string { return a.path }

// Version identifies the file contents for cache keys; it changes whenever the
// archive is rebuilt.
func (a *Archive) Version() string {
	return fmt.Sprintf("%d-%d", a.modTime.UnixNano(), a.size)
}

// Tile returns the blob for XYZ address z/x/y. Rows are stored TMS-flipped.
func (a *Archive) Tile(ctx context.Context, z, x, y uint32) ([]byte, error) {
	row := (uint64(1) << z) - 1 - uint64(y)
	var data []byte
	err := a.db.QueryRowContext(ctx,
		`SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`,
		z, x, row).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoTile
	}
	if err != nil {
		return nil, fmt.Errorf("tile %d/%d/%d: %w", z, x, y, err)
	}
	return data, nil
}

func (a *Archive) Metadata(ctx context.Context) (map[string]string, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT name, value FROM metadata`)
	if err != nil {
		return nil, fmt.Errorf("metadata %s: %w", a.path, err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string]string{}
	for rows.Next() {
		var k, v sql.NullString
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("metadata %s: %w", a.path, err)
		}
		out[k.String] = v.String
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metadata %s: %w", a.path, err)
	}
	return out, nil
}

func (a *Archive) Close() error { return a.db.Close() }

// IsGzip reports whether b starts with the gzip magic bytes.
func IsGzip(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}
