// Package export converts a Shapefile into a GeoJSON FeatureCollection.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/shapetiles/internal/apperr"
	"github.com/mohammed-shakir/shapetiles/internal/attribute"
	"github.com/mohammed-shakir/shapetiles/internal/geometry"
	"github.com/mohammed-shakir/shapetiles/internal/shapefile"
)

type Result struct {
	Body     []byte
	Features int
	Skipped  int
}

// Message is the envelope note for a finished export, empty when nothing
// was skipped. Skipped counts unsupported and malformed records alike.
func (r Result) Message() string {
	if r.Skipped == 0 {
		return ""
	}
	return fmt.Sprintf("skipped %d geometries (unsupported or malformed)", r.Skipped)
}

type Exporter struct {
	logger *slog.Logger
	opts   []shapefile.Option
}

func New(logger *slog.Logger, opts ...shapefile.Option) *Exporter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Exporter{logger: logger, opts: opts}
}

// Export reads path in file order. Records whose geometry is unsupported,
// malformed or unreadable are left out and counted in Skipped, as are the
// records after a break in the .shp stream.
func (e *Exporter) Export(ctx context.Context, path string) (Result, error) {
	r, err := shapefile.Open(path, e.opts...)
	if err != nil {
		return Result{}, err
	}
	defer r.Close()

	fc := geojson.NewFeatureCollection()
	skipped, seen := 0, 0
	for i, res := range r.All() {
		seen++
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("export %s: %w", path, err)
		}
		f, err := feature(res)
		if err != nil {
			skipped++
			lvl := slog.LevelDebug
			if !errors.Is(err, apperr.ErrUnsupportedGeometry) {
				lvl = slog.LevelWarn
			}
			e.logger.Log(ctx, lvl, "geojson record skipped", "path", path, "record", i, "err", err)
			continue
		}
		fc.Append(f)
	}
	if rest := r.Len() - seen; rest > 0 {
		skipped += rest
		e.logger.WarnContext(ctx, "geojson stream ended early", "path", path, "unread", rest)
	}

	body, err := fc.MarshalJSON()
	if err != nil {
		return Result{}, fmt.Errorf("export %s: marshal: %w", path, err)
	}
	return Result{Body: body, Features: len(fc.Features), Skipped: skipped}, nil
}

// WriteFile exports path and writes the collection next to it as <stem>.geojson.
func (e *Exporter) WriteFile(ctx context.Context, path string) (string, Result, error) {
	res, err := e.Export(ctx, path)
	if err != nil {
		return "", Result{}, err
	}
	out := shapefile.Stem(path) + ".geojson"
	if err := os.WriteFile(out, res.Body, 0o644); err != nil {
		return "", Result{}, fmt.Errorf("write %s: %w", out, err)
	}
	return out, res, nil
}

func feature(res shapefile.Result) (*geojson.Feature, error) {
	if res.Err != nil {
		return nil, res.Err
	}
	g, err := geometry.Normalize(res.Shape)
	if err != nil {
		return nil, err
	}
	og := geometry.ToGeoJSON(g)
	if err := geometry.CheckFinite(og); err != nil {
		return nil, apperr.New(apperr.KindMalformedGeometry, "export", "", err)
	}
	f := geojson.NewFeature(og)
	rec, _ := attribute.DecodeRecord(res.Record)
	for _, en := range rec.Entries() {
		f.Properties[en.Name] = en.Value.Interface()
	}
	return f, nil
}
