// Package preview builds per-record feature previews ({wkt, ...attributes})
// from a Shapefile using a bounded pool of workers.
package preview

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/shapetiles/internal/attribute"
	"github.com/mohammed-shakir/shapetiles/internal/core/observability"
	"github.com/mohammed-shakir/shapetiles/internal/geometry"
	"github.com/mohammed-shakir/shapetiles/internal/shapefile"
)

// GeometryKey is the feature key holding the WKT text or a diagnostic.
const GeometryKey = "wkt"

type Stats struct {
	Records  int
	Failed   int
	Warnings int
}

type Pipeline struct {
	workers int
	logger  *slog.Logger
	opts    []shapefile.Option
}

func New(workers int, logger *slog.Logger, opts ...shapefile.Option) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{workers: workers, logger: logger, opts: opts}
}

type outcome struct {
	failed   bool
	warnings int
}

// Run returns exactly one feature per source record, indexed by record
// position. Per-record failures land in the wkt slot as text.
func (p *Pipeline) Run(ctx context.Context, path string) ([]*attribute.Record, Stats, error) {
	r, err := shapefile.Open(path, p.opts...)
	if err != nil {
		return nil, Stats{}, err
	}
	defer r.Close()

	fields := r.Fields()
	names := keyNames(fields)
	out := make([]*attribute.Record, r.Len())
	outcomes := make([]outcome, r.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for {
		if err := gctx.Err(); err != nil {
			break
		}
		res, ok := r.Next()
		if !ok {
			break
		}
		g.Go(func() error {
			out[res.Index], outcomes[res.Index] = build(res, names)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, Stats{}, fmt.Errorf("preview %s: %w", path, err)
	}

	st := Stats{Records: len(out)}
	for i := range out {
		if out[i] == nil {
			out[i] = unread(i, names)
			outcomes[i].failed = true
		}
		if outcomes[i].failed {
			st.Failed++
		}
		st.Warnings += outcomes[i].warnings
	}
	observability.AddPreviewRecords("ok", st.Records-st.Failed)
	observability.AddPreviewRecords("error", st.Failed)
	p.logger.DebugContext(ctx, "preview done",
		"path", path, "records", st.Records, "failed", st.Failed, "warnings", st.Warnings)
	return out, st, nil
}

func build(res shapefile.Result, names []string) (*attribute.Record, outcome) {
	rec := attribute.NewRecord(len(names) + 1)
	rec.Set(GeometryKey, attribute.NullValue())

	var oc outcome
	for i, c := range res.Record {
		if i >= len(names) {
			break
		}
		v, w := attribute.Decode(c.Cell)
		if w != nil {
			oc.warnings++
		}
		rec.Set(names[i], v)
	}

	wkt, err := encode(res)
	if err != nil {
		oc.failed = true
		rec.Set(GeometryKey, attribute.TextValue(err.Error()))
		return rec, oc
	}
	rec.Set(GeometryKey, attribute.TextValue(wkt))
	return rec, oc
}

func encode(res shapefile.Result) (string, error) {
	if res.Err != nil {
		return "", res.Err
	}
	g, err := geometry.Normalize(res.Shape)
	if err != nil {
		return "", fmt.Errorf("record %d: %w", res.Index, err)
	}
	wkt, err := geometry.EncodeWKT(g)
	if err != nil {
		return "", fmt.Errorf("record %d: %w", res.Index, err)
	}
	return wkt, nil
}

// unread fills a slot the reader never reached because the stream broke off.
func unread(i int, names []string) *attribute.Record {
	rec := attribute.NewRecord(len(names) + 1)
	rec.Set(GeometryKey, attribute.TextValue(fmt.Sprintf("record %d: not read, shapefile stream ended early", i)))
	for _, n := range names {
		rec.Set(n, attribute.NullValue())
	}
	return rec
}

// keyNames maps dbf columns to feature keys. A column that collides with the
// geometry key, or with a name already taken, gets a _1, _2... suffix.
func keyNames(fields []shapefile.Field) []string {
	taken := map[string]bool{GeometryKey: true}
	out := make([]string, len(fields))
	for i, f := range fields {
		name := f.Name
		for n := 1; taken[name]; n++ {
			name = f.Name + "_" + strconv.Itoa(n)
		}
		taken[name] = true
		out[i] = name
	}
	return out
}
