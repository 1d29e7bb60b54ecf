// Package dispatch maps shell verbs onto the preview, export and publish
// pipelines and wraps every outcome in a model.Envelope.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mohammed-shakir/shapetiles/internal/apperr"
	"github.com/mohammed-shakir/shapetiles/internal/core/model"
	"github.com/mohammed-shakir/shapetiles/internal/core/observability"
	"github.com/mohammed-shakir/shapetiles/internal/disk"
	"github.com/mohammed-shakir/shapetiles/internal/events"
	"github.com/mohammed-shakir/shapetiles/internal/export"
	mylog "github.com/mohammed-shakir/shapetiles/internal/logger"
	"github.com/mohammed-shakir/shapetiles/internal/mapper"
	"github.com/mohammed-shakir/shapetiles/internal/preview"
	"github.com/mohammed-shakir/shapetiles/internal/shapefile"
	"github.com/mohammed-shakir/shapetiles/internal/workspace"
)

const (
	VerbDiskReadDir        = "disk_read_dir"
	VerbShapefileToGeoJSON = "shapefile_to_geojson"
	VerbShapefileToRecord  = "shapefile_to_record"
	VerbCreateServer       = "create_server"
	VerbShapefileInfo      = "shapefile_info"
)

// ErrUnknownVerb is a transport-level error, not an envelope.
var ErrUnknownVerb = errors.New("unknown command")

type TileBuilder interface {
	Build(ctx context.Context, input, output string) error
}

type Sidecar interface {
	Start(ctx context.Context) error
	PID() int
	Addr() string
}

// ArchiveEvictor drops cached handles for a republished archive.
type ArchiveEvictor interface {
	Evict(stem string)
}

type Options struct {
	Workspace *workspace.Workspace
	Builder   TileBuilder
	Sidecar   Sidecar
	Events    events.Publisher
	Cells     mapper.Interface
	Archives  ArchiveEvictor
	Logger    *slog.Logger

	PreviewWorkers int
	Encoding       string
	WriteGeoJSON   bool
	MinZoom        int
	MaxZoom        int
	H3Res          int

	// PublicURL is the base the HTTP server is reachable at, used to build
	// tile URLs in create_server responses.
	PublicURL string
}

type Dispatcher struct {
	o        Options
	logger   *slog.Logger
	preview  *preview.Pipeline
	exporter *export.Exporter
}

func New(o Options) *Dispatcher {
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Events == nil {
		o.Events = events.Noop{}
	}
	var opts []shapefile.Option
	if o.Encoding != "" {
		opts = append(opts, shapefile.WithEncoding(o.Encoding))
	}
	return &Dispatcher{
		o:        o,
		logger:   o.Logger,
		preview:  preview.New(o.PreviewWorkers, o.Logger, opts...),
		exporter: export.New(o.Logger, opts...),
	}
}

func Verbs() []string {
	return []string{VerbDiskReadDir, VerbShapefileToGeoJSON, VerbShapefileToRecord, VerbCreateServer, VerbShapefileInfo}
}

// Dispatch runs verb. The error is non-nil only for an unknown verb; every
// other failure is reported inside the envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, verb string, req model.CommandRequest) (model.Envelope, error) {
	switch verb {
	case VerbDiskReadDir:
		return d.DiskReadDir(ctx, req.Path), nil
	case VerbShapefileToGeoJSON:
		return d.ShapefileToGeoJSON(ctx, deref(req.Path)), nil
	case VerbShapefileToRecord:
		return d.ShapefileToRecord(ctx, deref(req.Path)), nil
	case VerbCreateServer:
		return d.CreateServer(ctx, deref(req.Path)), nil
	case VerbShapefileInfo:
		return d.ShapefileInfo(ctx, deref(req.Path)), nil
	default:
		return model.Envelope{}, fmt.Errorf("%w: %q", ErrUnknownVerb, verb)
	}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// run wraps one verb with logging and metrics.
func (d *Dispatcher) run(ctx context.Context, verb string, fn func(ctx context.Context) (model.Envelope, error)) model.Envelope {
	ctx = mylog.WithVerb(ctx, verb)
	start := time.Now()
	env, err := fn(ctx)
	if err != nil {
		env = model.Fail(err)
	}
	dur := time.Since(start)
	observability.ObserveCommand(verb, env.Success, dur)

	if env.Success {
		d.logger.InfoContext(ctx, "command done", "verb", verb, "duration", dur.String(), "msg", env.Msg)
	} else {
		d.logger.WarnContext(ctx, "command failed", "verb", verb, "duration", dur.String(), "msg", env.Msg)
	}
	return env
}

func requirePath(verb, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", apperr.Newf(apperr.KindInvalidArgument, verb, "", "path is required")
	}
	return p, nil
}

// resolveSource finds the .shp for p, which may omit the extension.
func resolveSource(verb, p string) (string, error) {
	for _, c := range []string{p, shapefile.Stem(p) + ".shp"} {
		fi, err := os.Stat(c)
		if err == nil && fi.Mode().IsRegular() {
			return c, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", apperr.New(apperr.KindSourceNotFound, verb, p, err)
		}
	}
	return "", apperr.New(apperr.KindSourceNotFound, verb, p, nil)
}

func (d *Dispatcher) DiskReadDir(ctx context.Context, path *string) model.Envelope {
	return d.run(ctx, VerbDiskReadDir, func(ctx context.Context) (model.Envelope, error) {
		if path == nil || strings.TrimSpace(*path) == "" {
			return model.OK(disk.ListRoots(), ""), nil
		}
		entries, err := disk.ListDir(ctx, d.logger, *path)
		if err != nil {
			return model.Envelope{}, err
		}
		return model.OK(entries, ""), nil
	})
}

func (d *Dispatcher) ShapefileToGeoJSON(ctx context.Context, path string) model.Envelope {
	return d.run(ctx, VerbShapefileToGeoJSON, func(ctx context.Context) (model.Envelope, error) {
		p, err := requirePath(VerbShapefileToGeoJSON, path)
		if err != nil {
			return model.Envelope{}, err
		}
		var res export.Result
		if d.o.WriteGeoJSON {
			out, r, err := d.exporter.WriteFile(ctx, p)
			if err != nil {
				return model.Envelope{}, err
			}
			d.logger.DebugContext(ctx, "geojson written", "path", out)
			res = r
		} else if res, err = d.exporter.Export(ctx, p); err != nil {
			return model.Envelope{}, err
		}
		return model.OK(string(res.Body), res.Message()), nil
	})
}

func (d *Dispatcher) ShapefileToRecord(ctx context.Context, path string) model.Envelope {
	return d.run(ctx, VerbShapefileToRecord, func(ctx context.Context) (model.Envelope, error) {
		p, err := requirePath(VerbShapefileToRecord, path)
		if err != nil {
			return model.Envelope{}, err
		}
		out, st, err := d.preview.Run(ctx, p)
		if err != nil {
			return model.Envelope{}, err
		}
		msg := ""
		if st.Failed > 0 {
			msg = fmt.Sprintf("%d of %d records have no geometry", st.Failed, st.Records)
		}
		return model.OK(out, msg), nil
	})
}

// CreateServer builds <workspace>/mbtiles/<stem>.mbtiles and, only when that
// succeeds, makes sure the map server sidecar is running.
func (d *Dispatcher) CreateServer(ctx context.Context, path string) model.Envelope {
	return d.run(ctx, VerbCreateServer, func(ctx context.Context) (model.Envelope, error) {
		p, err := requirePath(VerbCreateServer, path)
		if err != nil {
			return model.Envelope{}, err
		}
		if d.o.Workspace == nil || d.o.Builder == nil || d.o.Sidecar == nil {
			return model.Envelope{}, errors.New("create_server: publishing is not configured")
		}
		src, err := resolveSource(VerbCreateServer, p)
		if err != nil {
			return model.Envelope{}, err
		}
		stem := workspace.StemOf(src)
		out := d.o.Workspace.ArchivePath(stem)
		ctx = mylog.WithArchive(ctx, stem)

		if err := d.o.Builder.Build(ctx, src, out); err != nil {
			return model.Envelope{}, err
		}
		if d.o.Archives != nil {
			d.o.Archives.Evict(stem)
		}
		if err := d.o.Sidecar.Start(ctx); err != nil {
			return model.Envelope{}, err
		}

		d.o.Events.Publish(events.ArchivePublished{
			Stem:    stem,
			Archive: out,
			MinZoom: d.o.MinZoom,
			MaxZoom: d.o.MaxZoom,
		})

		base := strings.TrimRight(d.o.PublicURL, "/")
		return model.OK(model.Published{
			Archive:    out,
			TilesURL:   base + "/tiles/" + stem + "/{z}/{x}/{y}",
			TileJSON:   base + "/tiles/" + stem,
			SidecarURL: "http://" + d.o.Sidecar.Addr() + "/" + stem,
			SidecarPID: d.o.Sidecar.PID(),
		}, ""), nil
	})
}
