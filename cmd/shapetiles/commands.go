package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/shapetiles/internal/core/executor"
	"github.com/mohammed-shakir/shapetiles/internal/core/httpclient"
	"github.com/mohammed-shakir/shapetiles/internal/core/model"
	"github.com/mohammed-shakir/shapetiles/internal/core/router"
	"github.com/mohammed-shakir/shapetiles/internal/core/server"
	"github.com/mohammed-shakir/shapetiles/internal/dispatch"
	"github.com/mohammed-shakir/shapetiles/internal/events"
)

func newServeCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the command dispatcher and tile endpoints over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, "server")
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			if err := a.archives.Watch(ctx); err != nil {
				a.log.Warn("archive watch disabled", "dir", a.ws.ArchiveDir(), "err", err)
			}

			if cfg.Events.Enabled && cfg.Events.Subscribe {
				sub := events.NewSubscriber(events.SubscriberConfig{
					Brokers: cfg.Events.BrokerList(),
					Topic:   cfg.Events.Topic,
					GroupID: cfg.Events.GroupID,
				}, a.archives, a.log)
				go func() {
					if err := sub.Run(ctx); err != nil {
						a.log.Error("event subscriber stopped", "err", err)
					}
				}()
			}

			handler := server.NewHandler(a.log, server.Deps{
				Dispatcher: a.dispatcher,
				Tiles:      router.NewTiles(a.archives, a.tiles, a.log),
				Proxy:      executor.New(a.log, httpclient.NewSidecar(), a.sidecar),
				Ready:      a.readiness(),
				Metrics:    a.metrics.Handler(),
			})
			a.log.Info("starting shapetiles",
				"addr", cfg.Addr,
				"version", Version,
				"workspace", a.ws.Root(),
				"tile_cache", cfg.TileCache)
			return server.Run(ctx, cfg, a.log, handler)
		},
	}
}

// oneShot builds a subcommand that runs a single verb and prints its
// envelope.
func oneShot(f *flags, use, short, verb string, args cobra.PositionalArgs) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, argv []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, "cli")
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			_, err = runVerb(cmd.Context(), cmd.OutOrStdout(), a.dispatcher, verb, argv)
			return err
		},
	}
}

func runVerb(ctx context.Context, out io.Writer, d router.CommandDispatcher, verb string, argv []string) (model.Envelope, error) {
	var req model.CommandRequest
	if len(argv) > 0 {
		req.Path = &argv[0]
	}
	env, err := d.Dispatch(ctx, verb, req)
	if err != nil {
		return env, err
	}
	if err := printEnvelope(out, env); err != nil {
		return env, err
	}
	if !env.Success {
		return env, errFailed
	}
	return env, nil
}

func printEnvelope(w io.Writer, env model.Envelope) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

func newLsCmd(f *flags) *cobra.Command {
	return oneShot(f, "ls [dir]", "List a directory, or the drive roots when no dir is given",
		dispatch.VerbDiskReadDir, cobra.MaximumNArgs(1))
}

func newRecordsCmd(f *flags) *cobra.Command {
	return oneShot(f, "records <file.shp>", "Print WKT preview records for a Shapefile",
		dispatch.VerbShapefileToRecord, cobra.ExactArgs(1))
}

func newGeoJSONCmd(f *flags) *cobra.Command {
	return oneShot(f, "geojson <file.shp>", "Convert a Shapefile to a GeoJSON FeatureCollection",
		dispatch.VerbShapefileToGeoJSON, cobra.ExactArgs(1))
}

func newInfoCmd(f *flags) *cobra.Command {
	return oneShot(f, "info <file.shp>", "Describe a Shapefile's schema, extent and coverage",
		dispatch.VerbShapefileInfo, cobra.ExactArgs(1))
}

func newPublishCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <file.shp>",
		Short: "Build an MBTiles archive and serve it with the map server until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, "cli")
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			if _, err := runVerb(ctx, cmd.OutOrStdout(), a.dispatcher, dispatch.VerbCreateServer, argv); err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				a.log.Info("stopping map server", "pid", a.sidecar.PID())
				return nil
			case <-a.sidecar.Done():
				if err := a.sidecar.ExitErr(); err != nil {
					return fmt.Errorf("map server exited: %w", err)
				}
				return nil
			}
		},
	}
}
