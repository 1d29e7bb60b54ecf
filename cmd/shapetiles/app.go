package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mohammed-shakir/shapetiles/internal/archive"
	"github.com/mohammed-shakir/shapetiles/internal/cache"
	"github.com/mohammed-shakir/shapetiles/internal/core/config"
	"github.com/mohammed-shakir/shapetiles/internal/core/health"
	"github.com/mohammed-shakir/shapetiles/internal/core/observability"
	"github.com/mohammed-shakir/shapetiles/internal/dispatch"
	"github.com/mohammed-shakir/shapetiles/internal/events"
	"github.com/mohammed-shakir/shapetiles/internal/logger"
	h3mapper "github.com/mohammed-shakir/shapetiles/internal/mapper/h3"
	"github.com/mohammed-shakir/shapetiles/internal/metrics"
	"github.com/mohammed-shakir/shapetiles/internal/sidecar"
	"github.com/mohammed-shakir/shapetiles/internal/tiles/build"
	"github.com/mohammed-shakir/shapetiles/internal/workspace"
)

// app holds everything a subcommand needs. close releases it in reverse
// construction order.
type app struct {
	cfg        config.Config
	log        *slog.Logger
	ws         *workspace.Workspace
	metrics    *metrics.Provider
	tiles      cache.Interface
	archives   *archive.Registry
	sidecar    *sidecar.Supervisor
	events     events.Publisher
	dispatcher *dispatch.Dispatcher
}

func newApp(ctx context.Context, cfg config.Config, component string) (*app, error) {
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: component,
	}, os.Stderr)
	log := logger.NewSlog(&zl)

	ws, err := workspace.Ensure(cfg.WorkspaceDir)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, ws: ws}

	a.metrics = metrics.Init(metrics.Config{Build: metrics.BuildInfo{
		Version:   Version,
		Revision:  Revision,
		BuildDate: BuildDate,
	}})
	observability.Init(a.metrics.Registerer(), cfg.MetricsEnabled)

	a.tiles, err = cache.New(ctx, cache.Config{
		Kind:      cfg.TileCache,
		Size:      cfg.TileCacheSize,
		TTL:       cfg.TileCacheTTL,
		RedisAddr: cfg.RedisAddr,
		OpTimeout: cfg.CacheOpTimeout,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("tile cache: %w", err)
	}

	a.archives, err = archive.NewRegistry(ws.ArchiveDir(), cfg.ArchiveHandles, log)
	if err != nil {
		a.close(context.Background())
		return nil, err
	}

	a.sidecar = sidecar.New(sidecar.Config{
		Binary: cfg.SidecarBinary,
		Addr:   cfg.SidecarAddr,
		Dir:    ws.ArchiveDir(),
	}, log)

	a.events = events.Noop{}
	if cfg.Events.Enabled {
		k, err := events.NewKafka(cfg.Events.BrokerList(), cfg.Events.Topic, 0, log)
		if err != nil {
			// publishing is best effort; the pipeline works without it
			log.Warn("events disabled", "err", err)
		} else {
			a.events = k
		}
	}

	builder := build.New(build.Config{
		Binary:    cfg.OgrBinary,
		MinZoom:   cfg.MinZoom,
		MaxZoom:   cfg.MaxZoom,
		TargetSRS: cfg.TargetSRS,
		SourceSRS: cfg.SourceSRS,
	}, log)

	a.dispatcher = dispatch.New(dispatch.Options{
		Workspace:      ws,
		Builder:        builder,
		Sidecar:        a.sidecar,
		Events:         a.events,
		Cells:          h3mapper.New(),
		Archives:       a.archives,
		Logger:         log,
		PreviewWorkers: cfg.PreviewWorkers,
		Encoding:       cfg.DBFEncoding,
		WriteGeoJSON:   cfg.WriteGeoJSON,
		MinZoom:        cfg.MinZoom,
		MaxZoom:        cfg.MaxZoom,
		H3Res:          cfg.H3Res,
		PublicURL:      publicURL(cfg.Addr),
	})
	return a, nil
}

// publicURL turns a listen address into a base URL; wildcard hosts map to
// loopback.
func publicURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	addr = strings.Replace(addr, "0.0.0.0:", "127.0.0.1:", 1)
	return "http://" + addr
}

func (a *app) readiness() health.Checks {
	return health.Checks{
		"workspace": func(context.Context) error {
			st, err := os.Stat(a.ws.ArchiveDir())
			if err != nil {
				return err
			}
			if !st.IsDir() {
				return errors.New("archive dir is not a directory")
			}
			return nil
		},
		"ogr2ogr": func(context.Context) error {
			_, err := exec.LookPath(a.cfg.OgrBinary)
			return err
		},
		"sidecar": func(context.Context) error {
			_, err := exec.LookPath(a.cfg.SidecarBinary)
			return err
		},
	}
}

func (a *app) close(ctx context.Context) {
	if a.sidecar != nil {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.sidecar.Stop(stopCtx); err != nil {
			a.log.Warn("sidecar stop", "err", err)
		}
		cancel()
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.log.Warn("events close", "err", err)
		}
	}
	if a.archives != nil {
		if err := a.archives.Close(); err != nil {
			a.log.Warn("archive registry close", "err", err)
		}
	}
	if a.tiles != nil {
		if err := a.tiles.Close(); err != nil {
			a.log.Warn("tile cache close", "err", err)
		}
	}
}
