package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/shapetiles/internal/apperr"
	"github.com/mohammed-shakir/shapetiles/internal/archive"
	"github.com/mohammed-shakir/shapetiles/internal/cache"
	"github.com/mohammed-shakir/shapetiles/internal/cache/keys"
	"github.com/mohammed-shakir/shapetiles/internal/core/config"
	"github.com/mohammed-shakir/shapetiles/internal/core/observability"
)

type ArchiveSource interface {
	Get(ctx context.Context, stem string) (*archive.Archive, error)
}

// Tiles serves z/x/y requests straight from the workspace archives.
type Tiles struct {
	archives ArchiveSource
	cache    cache.Interface
	logger   *slog.Logger
}

func NewTiles(archives ArchiveSource, c cache.Interface, logger *slog.Logger) *Tiles {
	if c == nil {
		c = cache.Noop{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tiles{archives: archives, cache: c, logger: logger}
}

// parseTile validates z/x/y; y may carry a .pbf or .mvt suffix.
func parseTile(zs, xs, ys string) (maptile.Tile, error) {
	ys = strings.TrimSuffix(strings.TrimSuffix(ys, ".pbf"), ".mvt")
	z, err := strconv.ParseUint(zs, 10, 32)
	if err != nil {
		return maptile.Tile{}, fmt.Errorf("z: %w", err)
	}
	if z > config.MaxZoomLimit {
		return maptile.Tile{}, fmt.Errorf("z %d above %d", z, config.MaxZoomLimit)
	}
	x, err := strconv.ParseUint(xs, 10, 32)
	if err != nil {
		return maptile.Tile{}, fmt.Errorf("x: %w", err)
	}
	y, err := strconv.ParseUint(ys, 10, 32)
	if err != nil {
		return maptile.Tile{}, fmt.Errorf("y: %w", err)
	}
	t := maptile.New(uint32(x), uint32(y), maptile.Zoom(z))
	if !t.Valid() {
		return maptile.Tile{}, fmt.Errorf("tile %d/%d/%d out of range", z, x, y)
	}
	return t, nil
}

func (t *Tiles) archive(w http.ResponseWriter, r *http.Request, name string) (*archive.Archive, bool) {
	a, err := t.archives.Get(r.Context(), name)
	switch {
	case err == nil:
		return a, true
	case errors.Is(err, apperr.ErrSourceNotFound):
		http.Error(w, "unknown archive "+strconv.Quote(name), http.StatusNotFound)
	case errors.Is(err, apperr.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		t.logger.ErrorContext(r.Context(), "open archive", "archive", name, "err", err)
		http.Error(w, "archive unavailable", http.StatusInternalServerError)
	}
	return nil, false
}

// ServeTile handles GET /tiles/{name}/{z}/{x}/{y}.
func (t *Tiles) ServeTile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
	outcome := "error"
	defer func() {
		observability.IncTileServed(outcome)
		observability.ObserveHTTP(r.Method, "/tiles/{name}/{z}/{x}/{y}", sw.code, time.Since(start).Seconds())
	}()

	name := chi.URLParam(r, "name")
	tile, err := parseTile(chi.URLParam(r, "z"), chi.URLParam(r, "x"), chi.URLParam(r, "y"))
	if err != nil {
		http.Error(sw, "invalid tile address: "+err.Error(), http.StatusBadRequest)
		return
	}
	a, ok := t.archive(sw, r, name)
	if !ok {
		outcome = "not_found"
		return
	}

	key := keys.TileKey(name, a.Path(), a.Version(), uint32(tile.Z), tile.X, tile.Y)
	if blob, ok := t.cache.Get(r.Context(), key); ok {
		outcome = "hit"
		writeTile(sw, blob)
		return
	}

	blob, err := a.Tile(r.Context(), uint32(tile.Z), tile.X, tile.Y)
	if errors.Is(err, archive.ErrNoTile) {
		outcome = "empty"
		sw.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		t.logger.ErrorContext(r.Context(), "read tile", "archive", name, "err", err)
		http.Error(sw, "tile read failed", http.StatusInternalServerError)
		return
	}
	t.cache.Set(r.Context(), key, blob)
	outcome = "miss"
	writeTile(sw, blob)
}

func writeTile(w http.ResponseWriter, blob []byte) {
	h := w.Header()
	h.Set("Content-Type", "application/x-protobuf")
	h.Set("Content-Length", strconv.Itoa(len(blob)))
	if archive.IsGzip(blob) {
		h.Set("Content-Encoding", "gzip")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}

// ServeTileJSON handles GET /tiles/{name}.
func (t *Tiles) ServeTileJSON(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
	defer func() {
		observability.ObserveHTTP(r.Method, "/tiles/{name}", sw.code, time.Since(start).Seconds())
	}()

	name := chi.URLParam(r, "name")
	a, ok := t.archive(sw, r, name)
	if !ok {
		return
	}
	tj, err := a.TileJSON(r.Context(), name, baseURL(r)+"/tiles/"+name+"/{z}/{x}/{y}")
	if err != nil {
		t.logger.ErrorContext(r.Context(), "tilejson", "archive", name, "err", err)
		http.Error(sw, "metadata read failed", http.StatusInternalServerError)
		return
	}
	sw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(sw).Encode(tj)
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host
}
