package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	return rr.Body.String()
}

func TestInit_ExportsDomainMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, true)
	Init(reg, true) // second registration is tolerated

	ObserveCommand("create_server", false, 20*time.Millisecond)
	ObserveTileBuild("failed", time.Second)
	IncTileServed("hit")
	AddPreviewRecords("ok", 3)
	SetSidecarRunning(true)
	IncSidecarLine("stderr")
	ObserveCacheOp("get", errors.New("x"), 0.001)

	body := scrape(t, reg)
	for _, want := range []string{
		`shapetiles_commands_total{outcome="error",verb="create_server"} 1`,
		`shapetiles_tile_build_duration_seconds_count{outcome="failed"} 1`,
		`shapetiles_tiles_served_total{outcome="hit"}`,
		`shapetiles_sidecar_running 1`,
		`shapetiles_sidecar_log_lines_total{stream="stderr"}`,
		`redis_operation_duration_seconds_count{op="get",result="error"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in\n%s", want, body)
		}
	}
}

func TestInit_DisabledExportsNothing(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, false)
	ObserveHTTP("GET", "/healthz", 200, 0.001)

	if body := scrape(t, reg); strings.Contains(body, "http_requests_total") {
		t.Fatalf("disabled registry exported metrics:\n%s", body)
	}
}
