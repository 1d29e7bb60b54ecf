// Command shapetiles previews Shapefiles, exports GeoJSON and publishes
// vector tile archives behind a map server sidecar.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/shapetiles/internal/core/config"
)

var (
	Version   = "dev"
	Revision  = ""
	BuildDate = ""
)

// errFailed marks a command whose envelope reported failure; the envelope
// was already printed.
var errFailed = errors.New("command failed")

type flags struct {
	configFile string
	addr       string
	workspace  string
	logLevel   string
	logConsole bool
	minZoom    int
	maxZoom    int
	cache      string
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "shapetiles",
		Short:         "Shapefile preview, GeoJSON export and vector tile publishing",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	bindFlags(root, f)

	root.AddCommand(
		newServeCmd(f),
		newLsCmd(f),
		newRecordsCmd(f),
		newGeoJSONCmd(f),
		newPublishCmd(f),
		newInfoCmd(f),
	)
	return root
}

func bindFlags(cmd *cobra.Command, f *flags) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.configFile, "config", "", "YAML config file overlaid on the environment")
	pf.StringVar(&f.addr, "addr", "", "HTTP listen address")
	pf.StringVar(&f.workspace, "workspace", "", "workspace directory holding mbtiles/")
	pf.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	pf.BoolVar(&f.logConsole, "log-console", false, "human readable log output")
	pf.IntVar(&f.minZoom, "min-zoom", 0, "lowest zoom written to archives")
	pf.IntVar(&f.maxZoom, "max-zoom", 0, "highest zoom written to archives")
	pf.StringVar(&f.cache, "tile-cache", "", "tile cache: none, lru or redis")
}

// loadConfig applies .env, the environment, the YAML overlay and finally
// any flag set on the command line, in that order.
func loadConfig(cmd *cobra.Command, f *flags) (config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config.Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := config.FromEnv()
	if f.configFile != "" {
		var err error
		if cfg, err = config.LoadFile(f.configFile, cfg); err != nil {
			return cfg, err
		}
	}

	changed := func(name string) bool { return cmd.Flags().Changed(name) }
	if changed("addr") {
		cfg.Addr = f.addr
	}
	if changed("workspace") {
		cfg.WorkspaceDir = f.workspace
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-console") {
		cfg.LogConsole = f.logConsole
	}
	if changed("min-zoom") {
		cfg.MinZoom = f.minZoom
	}
	if changed("max-zoom") {
		cfg.MaxZoom = f.maxZoom
	}
	if changed("tile-cache") {
		cfg.TileCache = f.cache
	}
	cfg.Normalize()
	return cfg, nil
}
