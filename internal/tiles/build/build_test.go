package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/shapetiles/internal/apperr"
)

// TestHelperProcess stands in for ogr2ogr. It is not a real test.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	switch os.Getenv("HELPER_MODE") {
	case "ok":
		// -f MBTiles <out> <in> ...
		_ = os.WriteFile(args[2], []byte("SQLite format 3\x00"), 0o644)
		fmt.Println("0...10...20...30...40...50...60...70...80...90...100 - done.")
		os.Exit(0)
	case "empty":
		os.Exit(0)
	case "fail":
		fmt.Fprintln(os.Stderr, "ERROR 1: Unable to open datasource")
		fmt.Fprintln(os.Stderr, "ERROR 1: with the following drivers.")
		os.Exit(3)
	case "version":
		fmt.Println("GDAL 3.8.4, released 2024/02/08")
		os.Exit(0)
	case "hang":
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(2)
}

func helper(mode string) commandFunc {
	return func(ctx context.Context, _ string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--"}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "HELPER_MODE="+mode)
		return cmd
	}
}

func newTestBuilder(mode string) *Builder {
	b := New(Config{MinZoom: 1, MaxZoom: 22}, nil)
	b.command = helper(mode)
	return b
}

func TestArgs(t *testing.T) {
	b := New(Config{MinZoom: 1, MaxZoom: 18}, nil)
	got := b.Args("/in/roads.shp", "/ws/mbtiles/roads.mbtiles")
	want := []string{
		"-f", "MBTiles", "/ws/mbtiles/roads.mbtiles", "/in/roads.shp",
		"-dsco", "MINZOOM=1", "-dsco", "MAXZOOM=18",
		"-t_srs", "EPSG:3857",
	}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v\nwant %v", got, want)
	}

	b = New(Config{MinZoom: 0, MaxZoom: 4, SourceSRS: "EPSG:3006"}, nil)
	got = b.Args("in.shp", "out.mbtiles")
	if got[len(got)-2] != "-s_srs" || got[len(got)-1] != "EPSG:3006" {
		t.Fatalf("source srs not passed: %v", got)
	}
}

func TestBuild_OK(t *testing.T) {
	out := filepath.Join(t.TempDir(), "roads.mbtiles")
	if err := newTestBuilder("ok").Build(context.Background(), "roads.shp", out); err != nil {
		t.Fatalf("build: %v", err)
	}
	fi, err := os.Stat(out)
	if err != nil || fi.Size() == 0 {
		t.Fatalf("archive missing or empty: %v", err)
	}
}

func TestBuild_NonZeroExit(t *testing.T) {
	out := filepath.Join(t.TempDir(), "roads.mbtiles")
	err := newTestBuilder("fail").Build(context.Background(), "roads.shp", out)
	if !errors.Is(err, apperr.ErrTileBuildFailed) {
		t.Fatalf("got %v want TileBuildFailed", err)
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Code != 3 {
		t.Fatalf("got %#v want exit code 3", err)
	}
	if !strings.Contains(err.Error(), "exit code 3") {
		t.Fatalf("message %q lacks exit code", err.Error())
	}
	if !strings.Contains(err.Error(), "with the following drivers") {
		t.Fatalf("message %q lacks stderr tail", err.Error())
	}
}

func TestBuild_SuccessWithoutArchive(t *testing.T) {
	out := filepath.Join(t.TempDir(), "roads.mbtiles")
	err := newTestBuilder("empty").Build(context.Background(), "roads.shp", out)
	if !errors.Is(err, apperr.ErrTileBuildFailed) {
		t.Fatalf("got %v want TileBuildFailed", err)
	}
	msg := err.Error()
	if strings.Contains(msg, "exit code") {
		t.Fatalf("message %q reports an exit code for a clean exit", msg)
	}
	if !strings.Contains(msg, "missing or empty") {
		t.Fatalf("message %q lacks the archive reason", msg)
	}
}

func TestBuild_ToolMissing(t *testing.T) {
	b := New(Config{Binary: "ogr2ogr-does-not-exist-" + t.Name()}, nil)
	err := b.Build(context.Background(), "in.shp", filepath.Join(t.TempDir(), "o.mbtiles"))
	if !errors.Is(err, apperr.ErrToolNotAvailable) {
		t.Fatalf("got %v want ToolNotAvailable", err)
	}
}

func TestBuild_InvalidUTF8Path(t *testing.T) {
	err := newTestBuilder("ok").Build(context.Background(), "bad\xffname.shp", "out.mbtiles")
	if !errors.Is(err, apperr.ErrPathEncoding) {
		t.Fatalf("got %v want PathEncodingError", err)
	}
}

func TestBuild_CancelKillsChild(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := newTestBuilder("hang").Build(ctx, "in.shp", filepath.Join(t.TempDir(), "o.mbtiles"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v want deadline exceeded", err)
	}
	if time.Since(start) > 20*time.Second {
		t.Fatalf("child not killed on cancel")
	}
}

func TestVersion(t *testing.T) {
	v, err := newTestBuilder("version").Version(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(v, "GDAL 3.8.4") {
		t.Fatalf("got %q", v)
	}
}

func TestTailBuffer_KeepsEnd(t *testing.T) {
	var tb tailBuffer
	chunk := strings.Repeat("x", outputTail-1)
	_, _ = tb.Write([]byte(chunk))
	_, _ = tb.Write([]byte("END"))
	if len(tb.buf) != outputTail || !strings.HasSuffix(tb.String(), "END") {
		t.Fatalf("len=%d suffix=%q", len(tb.buf), tb.String()[len(tb.buf)-3:])
	}
	_, _ = tb.Write([]byte(strings.Repeat("y", outputTail+5)))
	if len(tb.buf) != outputTail || tb.buf[0] != 'y' {
		t.Fatalf("oversized write not truncated")
	}
}
