package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/shapetiles/internal/core/model"
	"github.com/mohammed-shakir/shapetiles/internal/dispatch"
)

func parsed(t *testing.T, args ...string) (*cobra.Command, *flags) {
	t.Helper()
	f := &flags{}
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	bindFlags(cmd, f)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return cmd, f
}

func TestLoadConfig_Precedence(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ADDR", "127.0.0.1:7000")
	t.Setenv("TILE_MAX_ZOOM", "12")
	t.Setenv("LOG_LEVEL", "warn")

	yml := filepath.Join(t.TempDir(), "shapetiles.yaml")
	if err := os.WriteFile(yml, []byte("addr: 127.0.0.1:7100\nmax_zoom: 14\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd, f := parsed(t, "--config", yml, "--max-zoom", "16", "--tile-cache", "none")
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Addr != "127.0.0.1:7100" {
		t.Fatalf("addr=%q want yaml value", cfg.Addr)
	}
	if cfg.MaxZoom != 16 {
		t.Fatalf("max zoom=%d want flag value 16", cfg.MaxZoom)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("log level=%q want env value", cfg.LogLevel)
	}
	if cfg.TileCache != "none" {
		t.Fatalf("tile cache=%q want none", cfg.TileCache)
	}
}

func TestLoadConfig_ReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("SIDECAR_ADDR", "")
	_ = os.Unsetenv("SIDECAR_ADDR")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SIDECAR_ADDR=127.0.0.1:3999\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd, f := parsed(t)
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.SidecarAddr != "127.0.0.1:3999" {
		t.Fatalf("sidecar addr=%q want .env value", cfg.SidecarAddr)
	}
}

func TestLoadConfig_BadYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	yml := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(yml, []byte("addr: [\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cmd, f := parsed(t, "--config", yml)
	if _, err := loadConfig(cmd, f); err == nil {
		t.Fatal("want parse error")
	}
}

type stubDispatcher struct {
	env  model.Envelope
	err  error
	verb string
	path *string
}

func (s *stubDispatcher) Dispatch(_ context.Context, verb string, req model.CommandRequest) (model.Envelope, error) {
	s.verb, s.path = verb, req.Path
	return s.env, s.err
}

func TestRunVerb_PrintsEnvelope(t *testing.T) {
	d := &stubDispatcher{env: model.OK([]string{"POINT (1 2)"}, "")}
	var out bytes.Buffer

	if _, err := runVerb(context.Background(), &out, d, dispatch.VerbShapefileToRecord, []string{"a.shp"}); err != nil {
		t.Fatalf("runVerb: %v", err)
	}
	if d.path == nil || *d.path != "a.shp" {
		t.Fatalf("path=%v want a.shp", d.path)
	}
	if !strings.Contains(out.String(), `"POINT (1 2)"`) {
		t.Fatalf("output=%s", out.String())
	}
}

func TestRunVerb_NoArgsSendsNilPath(t *testing.T) {
	d := &stubDispatcher{env: model.OK(nil, "")}
	if _, err := runVerb(context.Background(), &bytes.Buffer{}, d, dispatch.VerbDiskReadDir, nil); err != nil {
		t.Fatalf("runVerb: %v", err)
	}
	if d.path != nil {
		t.Fatalf("path=%q want nil", *d.path)
	}
}

func TestRunVerb_FailureEnvelope(t *testing.T) {
	d := &stubDispatcher{env: model.Envelope{Success: false, Msg: "ogr2ogr exited with status 1"}}
	var out bytes.Buffer

	_, err := runVerb(context.Background(), &out, d, dispatch.VerbCreateServer, []string{"a.shp"})
	if !errors.Is(err, errFailed) {
		t.Fatalf("err=%v want errFailed", err)
	}
	if !strings.Contains(out.String(), "ogr2ogr exited") {
		t.Fatalf("failure envelope not printed: %s", out.String())
	}
}

func TestPublicURL(t *testing.T) {
	cases := map[string]string{
		":8090":          "http://127.0.0.1:8090",
		"0.0.0.0:8090":   "http://127.0.0.1:8090",
		"10.0.0.5:8090":  "http://10.0.0.5:8090",
		"127.0.0.1:8090": "http://127.0.0.1:8090",
	}
	for in, want := range cases {
		if got := publicURL(in); got != want {
			t.Fatalf("publicURL(%q)=%q want %q", in, got, want)
		}
	}
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "ls", "records", "geojson", "publish", "info"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Fatalf("subcommand %q missing: %v", name, err)
		}
	}
}
