package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/require"

	"github.com/mohammed-shakir/shapetiles/internal/apperr"
	"github.com/mohammed-shakir/shapetiles/internal/core/model"
	"github.com/mohammed-shakir/shapetiles/internal/disk"
	"github.com/mohammed-shakir/shapetiles/internal/events"
	h3mapper "github.com/mohammed-shakir/shapetiles/internal/mapper/h3"
	"github.com/mohammed-shakir/shapetiles/internal/shapefile"
	"github.com/mohammed-shakir/shapetiles/internal/shapefile/shptest"
	"github.com/mohammed-shakir/shapetiles/internal/workspace"
)

type fakeBuilder struct {
	err    error
	calls  int
	input  string
	output string
}

func (f *fakeBuilder) Build(_ context.Context, input, output string) error {
	f.calls++
	f.input, f.output = input, output
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(output, []byte("SQLite format 3\x00"), 0o644)
}

type fakeSidecar struct {
	err    error
	starts int
}

func (f *fakeSidecar) Start(context.Context) error {
	f.starts++
	return f.err
}

func (f *fakeSidecar) PID() int     { return 4242 }
func (f *fakeSidecar) Addr() string { return "127.0.0.1:3000" }

type recordingEvents struct {
	mu  sync.Mutex
	got []events.ArchivePublished
}

func (r *recordingEvents) Publish(ev events.ArchivePublished) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ev)
}

func (r *recordingEvents) Close() error { return nil }

type evictor struct{ stems []string }

func (e *evictor) Evict(stem string) { e.stems = append(e.stems, stem) }

type harness struct {
	d   *Dispatcher
	ws  *workspace.Workspace
	b   *fakeBuilder
	sc  *fakeSidecar
	ev  *recordingEvents
	arc *evictor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ws, err := workspace.Ensure(filepath.Join(t.TempDir(), "workspace"))
	require.NoError(t, err)
	h := &harness{ws: ws, b: &fakeBuilder{}, sc: &fakeSidecar{}, ev: &recordingEvents{}, arc: &evictor{}}
	h.d = New(Options{
		Workspace:      ws,
		Builder:        h.b,
		Sidecar:        h.sc,
		Events:         h.ev,
		Archives:       h.arc,
		Cells:          h3mapper.New(),
		PreviewWorkers: 4,
		MinZoom:        1,
		MaxZoom:        22,
		H3Res:          5,
		PublicURL:      "http://127.0.0.1:8090/",
	})
	return h
}

func roundTrip(t *testing.T, env model.Envelope) map[string]any {
	t.Helper()
	b, err := json.Marshal(env)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func pointsWithID(t *testing.T) string {
	ds := shptest.Dataset{
		Type:   shapefile.TypePoint,
		Shapes: []shapefile.Shape{shapefile.Point{X: 1, Y: 2}, shapefile.Point{X: 3, Y: 4}},
		Fields: []shptest.Field{shptest.Num("id", 4, 0)},
		Rows:   [][]string{{"7"}, {"8"}},
	}
	return ds.Write(t, t.TempDir(), "points")
}

func TestShapefileToRecord_PointPreview(t *testing.T) {
	h := newHarness(t)
	env := h.d.ShapefileToRecord(context.Background(), pointsWithID(t))
	require.True(t, env.Success, env.Msg)

	b, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var got []map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	require.ElementsMatch(t, []map[string]any{
		{"wkt": "POINT(1 2)", "id": 7.0},
		{"wkt": "POINT(3 4)", "id": 8.0},
	}, got)
}

func TestShapefileToGeoJSON_PolygonWithHole(t *testing.T) {
	h := newHarness(t)
	ds := shptest.Dataset{
		Type: shapefile.TypePolygon,
		Shapes: []shapefile.Shape{shapefile.Polygon{Rings: [][]shapefile.Coord{
			shptest.Square(0, 0, 10),
			shptest.Reverse(shptest.Square(2, 2, 6)),
		}}},
		Fields: []shptest.Field{shptest.Char("n", 1)},
		Rows:   [][]string{{"a"}},
	}
	env := h.d.ShapefileToGeoJSON(context.Background(), ds.Write(t, t.TempDir(), "hole"))
	require.True(t, env.Success, env.Msg)
	require.Empty(t, env.Msg)

	body, ok := env.Data.(string)
	require.True(t, ok, "data is the serialized collection, got %T", env.Data)
	fc, err := geojson.UnmarshalFeatureCollection([]byte(body))
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	poly, ok := fc.Features[0].Geometry.(orb.Polygon)
	require.True(t, ok, "got %T", fc.Features[0].Geometry)
	require.Len(t, poly, 2)
	require.Equal(t, orb.Point{0, 0}, poly[0][0], "outer ring first")
	require.Equal(t, orb.Point{2, 2}, poly[1][0])
	require.Equal(t, orb.CCW, poly[0].Orientation(), "RFC 7946 outer winding")
	require.Equal(t, orb.CW, poly[1].Orientation(), "RFC 7946 hole winding")
}

func TestShapefileToGeoJSON_SkipsUnsupported(t *testing.T) {
	h := newHarness(t)
	ds := shptest.Dataset{
		Type: shapefile.TypePoint,
		Shapes: []shapefile.Shape{
			shapefile.Point{X: 1, Y: 1},
			shapefile.Unsupported{ShapeType: shapefile.TypeMultiPatch},
			shapefile.Point{X: 2, Y: 2},
			shapefile.Point{X: 3, Y: 3},
		},
		Fields: []shptest.Field{shptest.Num("id", 2, 0)},
		Rows:   [][]string{{"1"}, {"2"}, {"3"}, {"4"}},
	}
	env := h.d.ShapefileToGeoJSON(context.Background(), ds.Write(t, t.TempDir(), "mixed"))
	require.True(t, env.Success, env.Msg)
	require.Equal(t, "skipped 1 geometries (unsupported or malformed)", env.Msg)

	fc, err := geojson.UnmarshalFeatureCollection([]byte(env.Data.(string)))
	require.NoError(t, err)
	require.Len(t, fc.Features, 3)
	for i, want := range []float64{1, 3, 4} {
		require.Equal(t, want, fc.Features[i].Properties["id"], "feature %d out of order", i)
	}
}

func TestShapefileToGeoJSON_WritesSiblingWhenEnabled(t *testing.T) {
	h := newHarness(t)
	h.d.o.WriteGeoJSON = true
	src := pointsWithID(t)
	env := h.d.ShapefileToGeoJSON(context.Background(), src)
	require.True(t, env.Success, env.Msg)
	_, err := os.Stat(strings.TrimSuffix(src, ".shp") + ".geojson")
	require.NoError(t, err)
}

func TestCreateServer_Success(t *testing.T) {
	h := newHarness(t)
	src := pointsWithID(t)

	env := h.d.CreateServer(context.Background(), src)
	require.True(t, env.Success, env.Msg)

	want := h.ws.ArchivePath("points")
	pub, ok := env.Data.(model.Published)
	require.True(t, ok, "got %T", env.Data)
	require.Equal(t, want, pub.Archive)
	require.Equal(t, "http://127.0.0.1:8090/tiles/points/{z}/{x}/{y}", pub.TilesURL)
	require.Equal(t, "http://127.0.0.1:3000/points", pub.SidecarURL)

	fi, err := os.Stat(want)
	require.NoError(t, err)
	require.NotZero(t, fi.Size())

	require.Equal(t, src, h.b.input)
	require.Equal(t, 1, h.sc.starts)
	require.Equal(t, []string{"points"}, h.arc.stems)
	require.Len(t, h.ev.got, 1)
	require.Equal(t, "points", h.ev.got[0].Stem)
	require.Equal(t, 22, h.ev.got[0].MaxZoom)
}

func TestCreateServer_AcceptsPathWithoutExtension(t *testing.T) {
	h := newHarness(t)
	src := pointsWithID(t)
	env := h.d.CreateServer(context.Background(), strings.TrimSuffix(src, ".shp"))
	require.True(t, env.Success, env.Msg)
	require.Equal(t, src, h.b.input)
}

func TestCreateServer_BuildFailureSkipsSidecar(t *testing.T) {
	h := newHarness(t)
	h.b.err = &apperr.Error{Kind: apperr.KindTileBuildFailed, Op: "create_server", Code: 1}

	env := h.d.CreateServer(context.Background(), pointsWithID(t))
	require.False(t, env.Success)
	require.Nil(t, env.Data)
	require.Contains(t, env.Msg, "exit code 1")
	require.Zero(t, h.sc.starts, "sidecar must not start after a failed build")
	require.Empty(t, h.ev.got)

	out := roundTrip(t, env)
	require.Contains(t, out, "data")
	require.Nil(t, out["data"])
}

func TestCreateServer_MissingInput(t *testing.T) {
	h := newHarness(t)
	env := h.d.CreateServer(context.Background(), filepath.Join(t.TempDir(), "nope.shp"))
	require.False(t, env.Success)
	require.Contains(t, env.Msg, "SourceNotFound")
	require.Zero(t, h.b.calls)
}

func TestCreateServer_SidecarFailure(t *testing.T) {
	h := newHarness(t)
	h.sc.err = apperr.New(apperr.KindServerSpawnFailed, "start map server", "martin", errors.New("boom"))
	env := h.d.CreateServer(context.Background(), pointsWithID(t))
	require.False(t, env.Success)
	require.Contains(t, env.Msg, "ServerSpawnFailed")
}

func TestPathValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	blank := "   "
	for _, verb := range []string{VerbShapefileToGeoJSON, VerbShapefileToRecord, VerbCreateServer, VerbShapefileInfo} {
		for _, p := range []*string{nil, &blank} {
			env, err := h.d.Dispatch(ctx, verb, model.CommandRequest{Path: p})
			require.NoError(t, err)
			require.False(t, env.Success, verb)
			require.Contains(t, env.Msg, "path is required")
		}
	}
}

func TestDispatch_UnknownVerb(t *testing.T) {
	h := newHarness(t)
	_, err := h.d.Dispatch(context.Background(), "format_disk", model.CommandRequest{})
	require.ErrorIs(t, err, ErrUnknownVerb)
}

func TestDiskReadDir(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	env := h.d.DiskReadDir(ctx, nil)
	require.True(t, env.Success)
	roots := env.Data.([]disk.Entry)
	require.NotEmpty(t, roots)
	for _, r := range roots {
		require.Equal(t, disk.TypeDrive, r.Type)
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.shp"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "z"), 0o755))
	env = h.d.DiskReadDir(ctx, &dir)
	require.True(t, env.Success, env.Msg)
	entries := env.Data.([]disk.Entry)
	require.Len(t, entries, 2)
	require.Equal(t, disk.TypeFolder, entries[0].Type)
	require.Equal(t, disk.TypeFile, entries[1].Type)

	missing := filepath.Join(dir, "missing")
	env = h.d.DiskReadDir(ctx, &missing)
	require.False(t, env.Success)
}

func TestShapefileInfo(t *testing.T) {
	h := newHarness(t)
	ds := shptest.Dataset{
		Type:   shapefile.TypePoint,
		Shapes: []shapefile.Shape{shapefile.Point{X: 17.95, Y: 59.30}, shapefile.Point{X: 18.15, Y: 59.40}},
		Fields: []shptest.Field{shptest.Char("name", 10), shptest.Num("pop", 8, 2)},
		Rows:   [][]string{{"a", "1.5"}, {"b", "2"}},
	}
	env := h.d.ShapefileInfo(context.Background(), ds.Write(t, t.TempDir(), "sthlm"))
	require.True(t, env.Success, env.Msg)

	info := env.Data.(model.ShapefileInfo)
	require.Equal(t, "Point", info.ShapeType)
	require.Equal(t, 2, info.Records)
	require.Equal(t, []model.Field{
		{Name: "name", Type: "C", Length: 10},
		{Name: "pop", Type: "N", Length: 8, Decimals: 2},
	}, info.Fields)
	require.InDelta(t, 17.95, info.Bounds[0], 1e-9)
	require.NotNil(t, info.Mercator)
	require.NotNil(t, info.Tiles)
	require.Equal(t, 1, info.Tiles.Zoom)
	require.Equal(t, uint32(1), info.Tiles.MinX)
	require.Equal(t, uint32(0), info.Tiles.MinY)
	require.NotEmpty(t, info.H3Cells)
	require.LessOrEqual(t, len(info.H3Cells), h3mapper.DefaultMaxCells)
}

func TestShapefileInfo_ProjectedBounds(t *testing.T) {
	h := newHarness(t)
	ds := shptest.Dataset{
		Type:   shapefile.TypePoint,
		Shapes: []shapefile.Shape{shapefile.Point{X: 674000, Y: 6580000}},
		Fields: []shptest.Field{shptest.Char("n", 1)},
		Rows:   [][]string{{"a"}},
	}
	env := h.d.ShapefileInfo(context.Background(), ds.Write(t, t.TempDir(), "sweref"))
	require.True(t, env.Success)
	info := env.Data.(model.ShapefileInfo)
	require.Nil(t, info.Tiles)
	require.Empty(t, info.H3Cells)
	require.Contains(t, env.Msg, "not geographic")
}
