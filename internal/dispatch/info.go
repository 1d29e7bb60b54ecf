package dispatch

import (
	"context"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"

	"github.com/mohammed-shakir/shapetiles/internal/core/model"
	"github.com/mohammed-shakir/shapetiles/internal/shapefile"
)

// web mercator latitude limit
const maxMercatorLat = 85.05112878

func (d *Dispatcher) ShapefileInfo(ctx context.Context, path string) model.Envelope {
	return d.run(ctx, VerbShapefileInfo, func(ctx context.Context) (model.Envelope, error) {
		p, err := requirePath(VerbShapefileInfo, path)
		if err != nil {
			return model.Envelope{}, err
		}
		var opts []shapefile.Option
		if d.o.Encoding != "" {
			opts = append(opts, shapefile.WithEncoding(d.o.Encoding))
		}
		r, err := shapefile.Open(p, opts...)
		if err != nil {
			return model.Envelope{}, err
		}
		defer func() { _ = r.Close() }()

		info := model.ShapefileInfo{
			Path:      r.Path(),
			ShapeType: r.ShapeType().String(),
			Records:   r.Len(),
		}
		for _, f := range r.Fields() {
			info.Fields = append(info.Fields, model.Field{
				Name:     f.Name,
				Type:     string(f.Type),
				Length:   f.Length,
				Decimals: f.Decimals,
			})
		}
		bx := r.Bounds()
		info.Bounds = [4]float64{bx.MinX, bx.MinY, bx.MaxX, bx.MaxY}

		b := orb.Bound{Min: orb.Point{bx.MinX, bx.MinY}, Max: orb.Point{bx.MaxX, bx.MaxY}}
		if r.Len() == 0 || !geographic(b) {
			return model.OK(info, "bounds are not geographic; tile and cell coverage omitted"), nil
		}

		clamped := b
		clamped.Min[1] = math.Max(clamped.Min[1], -maxMercatorLat)
		clamped.Max[1] = math.Min(clamped.Max[1], maxMercatorLat)
		mb := project.Bound(clamped, project.WGS84.ToMercator)
		info.Mercator = &[4]float64{mb.Min.X(), mb.Min.Y(), mb.Max.X(), mb.Max.Y()}

		z := maptile.Zoom(d.o.MinZoom)
		nw := maptile.At(orb.Point{clamped.Min.Lon(), clamped.Max.Lat()}, z)
		se := maptile.At(orb.Point{clamped.Max.Lon(), clamped.Min.Lat()}, z)
		last := uint32(1)<<uint32(z) - 1
		info.Tiles = &model.TileRange{
			Zoom: d.o.MinZoom,
			MinX: min(nw.X, last),
			MinY: min(nw.Y, last),
			MaxX: min(se.X, last),
			MaxY: min(se.Y, last),
		}

		if d.o.Cells != nil {
			cov, err := d.o.Cells.CellsForBound(b, d.o.H3Res)
			if err != nil {
				d.logger.WarnContext(ctx, "h3 coverage", "err", err)
			} else {
				info.H3Res = cov.Res
				info.H3Cells = cov.Cells
				info.H3Truncated = cov.Truncated
			}
		}
		return model.OK(info, ""), nil
	})
}

func geographic(b orb.Bound) bool {
	return b.Min.Lon() >= -180 && b.Max.Lon() <= 180 && b.Min.Lat() >= -90 && b.Max.Lat() <= 90
}
