package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/roach88/fleetsync/internal/model"
	"github.com/roach88/fleetsync/internal/route"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.RouteChanged(route.Route{Type: route.TypeMachine})
	c.RouteChanged(route.Route{Type: route.TypeMachine})
	c.RouteChanged(route.Route{Type: route.TypeFleet})
	c.MachineReady(&model.Machine{ID: "abc"})
	c.DownloadProgress("downloading", 40)
	c.DownloadError(model.CodeDownloadFailed, "")
	c.DownloadError(model.CodeFleetValidationFailed, "duplicate_machine_ids")
	c.ImportRequested("https://example.com/a.json")
	c.FleetReady("Line A", 3)

	if got := testutil.ToFloat64(c.routes.WithLabelValues("machine")); got != 2 {
		t.Fatalf("expected 2 machine routes, got %f", got)
	}
	if got := testutil.ToFloat64(c.routes.WithLabelValues("fleet")); got != 1 {
		t.Fatalf("expected 1 fleet route, got %f", got)
	}
	if got := testutil.ToFloat64(c.machinesReady); got != 1 {
		t.Fatalf("expected 1 machine ready, got %f", got)
	}
	if got := testutil.ToFloat64(c.downloadPct); got != 40 {
		t.Fatalf("expected progress 40, got %f", got)
	}
	if got := testutil.ToFloat64(c.downloadErrors.WithLabelValues("download_failed", "")); got != 1 {
		t.Fatalf("expected 1 download error, got %f", got)
	}
	if got := testutil.ToFloat64(c.downloadErrors.WithLabelValues("fleet_validation_failed", "duplicate_machine_ids")); got != 1 {
		t.Fatalf("expected 1 validation error, got %f", got)
	}
	if got := testutil.ToFloat64(c.imports); got != 1 {
		t.Fatalf("expected 1 import, got %f", got)
	}
	if got := testutil.ToFloat64(c.fleetSize); got != 3 {
		t.Fatalf("expected fleet size 3, got %f", got)
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	a.ImportRequested("https://example.com/a.json")

	if got := testutil.ToFloat64(b.imports); got != 0 {
		t.Fatalf("expected independent registries, got %f", got)
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.FleetReady("Line A", 2)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "fleetsync_fleets_ready_total 1") {
		t.Fatalf("metrics output missing fleet counter:\n%s", body)
	}
}
