// Package build drives ogr2ogr to turn a Shapefile into an MBTiles archive.
package build

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mohammed-shakir/shapetiles/internal/apperr"
	"github.com/mohammed-shakir/shapetiles/internal/archive"
	"github.com/mohammed-shakir/shapetiles/internal/core/observability"
)

const outputTail = 8 << 10

type Config struct {
	Binary    string
	MinZoom   int
	MaxZoom   int
	TargetSRS string
	SourceSRS string // empty: let ogr2ogr read the .prj
}

type commandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

type Builder struct {
	cfg     Config
	logger  *slog.Logger
	command commandFunc
	now     func() time.Time
}

func New(cfg Config, logger *slog.Logger) *Builder {
	if cfg.Binary == "" {
		cfg.Binary = "ogr2ogr"
	}
	if cfg.TargetSRS == "" {
		cfg.TargetSRS = "EPSG:3857"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{cfg: cfg, logger: logger, command: exec.CommandContext, now: time.Now}
}

// Args is the ogr2ogr argument vector for one build.
func (b *Builder) Args(input, output string) []string {
	args := []string{
		"-f", "MBTiles", output, input,
		"-dsco", "MINZOOM=" + strconv.Itoa(b.cfg.MinZoom),
		"-dsco", "MAXZOOM=" + strconv.Itoa(b.cfg.MaxZoom),
		"-t_srs", b.cfg.TargetSRS,
	}
	if b.cfg.SourceSRS != "" {
		args = append(args, "-s_srs", b.cfg.SourceSRS)
	}
	return args
}

// Build runs ogr2ogr and waits for it. Cancelling ctx kills the child. On
// success the output archive is verified to exist and be non-empty.
func (b *Builder) Build(ctx context.Context, input, output string) error {
	const op = "create_server"
	for _, p := range []string{input, output} {
		if !utf8.ValidString(p) {
			return apperr.Newf(apperr.KindPathEncoding, op, strconv.Quote(p), "path is not valid UTF-8")
		}
	}

	var stdout, stderr tailBuffer
	cmd := b.command(ctx, b.cfg.Binary, b.Args(input, output)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	start := b.now()
	b.logger.InfoContext(ctx, "tile build start",
		"input", input, "output", output, "min_zoom", b.cfg.MinZoom, "max_zoom", b.cfg.MaxZoom)

	if err := cmd.Start(); err != nil {
		observability.ObserveTileBuild("tool_missing", time.Since(start))
		return apperr.New(apperr.KindToolNotAvailable, op, b.cfg.Binary, err)
	}
	err := cmd.Wait()
	dur := time.Since(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			observability.ObserveTileBuild("cancelled", dur)
			return fmt.Errorf("tile build %s: %w", input, ctxErr)
		}
		observability.ObserveTileBuild("failed", dur)
		b.logger.WarnContext(ctx, "tile build failed",
			"input", input, "err", err, "stderr", stderr.String(), "duration", dur.String())

		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return &apperr.Error{
				Kind:   apperr.KindTileBuildFailed,
				Op:     op,
				Path:   input,
				Code:   ee.ExitCode(),
				Detail: lastLine(stderr.String()),
			}
		}
		return apperr.New(apperr.KindTileBuildFailed, op, input, err)
	}

	if err := archive.Verify(output); err != nil {
		observability.ObserveTileBuild("failed", dur)
		return &apperr.Error{
			Kind:   apperr.KindTileBuildFailed,
			Op:     op,
			Path:   output,
			Detail: "tool exited cleanly but the archive is missing or empty",
			Err:    err,
		}
	}
	observability.ObserveTileBuild("ok", dur)
	b.logger.InfoContext(ctx, "tile build done",
		"output", output, "duration", dur.String(), "stdout", stdout.String())
	return nil
}

// Version returns the first line ogr2ogr prints for --version.
func (b *Builder) Version(ctx context.Context) (string, error) {
	var stdout tailBuffer
	cmd := b.command(ctx, b.cfg.Binary, "--version")
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return "", apperr.New(apperr.KindToolNotAvailable, "version", b.cfg.Binary, err)
		}
		return "", fmt.Errorf("%s --version: %w", b.cfg.Binary, err)
	}
	out, _, _ := strings.Cut(strings.TrimSpace(stdout.String()), "\n")
	return out, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// tailBuffer keeps the last outputTail bytes written to it.
type tailBuffer struct {
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) >= outputTail {
		t.buf = append(t.buf[:0], p[len(p)-outputTail:]...)
		return n, nil
	}
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - outputTail; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return n, nil
}

func (t *tailBuffer) String() string { return string(t.buf) }
