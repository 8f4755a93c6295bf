// Package metrics exposes dispatcher results as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/fleetsync/internal/dispatch"
	"github.com/roach88/fleetsync/internal/model"
	"github.com/roach88/fleetsync/internal/route"
)

// Collector implements dispatch.Listener by counting events.
// Each Collector owns its registry so tests and multiple instances do not
// collide on the default registerer.
type Collector struct {
	registry       *prometheus.Registry
	routes         *prometheus.CounterVec
	machinesReady  prometheus.Counter
	downloadErrors *prometheus.CounterVec
	downloadPct    prometheus.Gauge
	imports        prometheus.Counter
	fleets         prometheus.Counter
	fleetSize      prometheus.Gauge
}

var _ dispatch.Listener = (*Collector)(nil)

// NewCollector creates a Collector with a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetsync_routes_total",
			Help: "Navigation events resolved to a known route, by type.",
		}, []string{"type"}),
		machinesReady: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetsync_machines_ready_total",
			Help: "Machines handed to the presentation layer.",
		}),
		downloadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetsync_errors_total",
			Help: "Machine and fleet failures reported to the presentation layer, by code and validation reason.",
		}, []string{"code", "reason"}),
		downloadPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleetsync_download_progress_percent",
			Help: "Progress of the most recent reference data download.",
		}),
		imports: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetsync_imports_requested_total",
			Help: "Import links forwarded to the import collaborator.",
		}),
		fleets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetsync_fleets_ready_total",
			Help: "Fleet descriptors provisioned successfully.",
		}),
		fleetSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fleetsync_last_fleet_size",
			Help: "Member count of the most recently provisioned fleet.",
		}),
	}

	c.registry.MustRegister(
		c.routes,
		c.machinesReady,
		c.downloadErrors,
		c.downloadPct,
		c.imports,
		c.fleets,
		c.fleetSize,
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RouteChanged(r route.Route) {
	c.routes.WithLabelValues(string(r.Type)).Inc()
}

func (c *Collector) MachineReady(*model.Machine) {
	c.machinesReady.Inc()
}

func (c *Collector) DownloadProgress(_ string, percent int) {
	c.downloadPct.Set(float64(percent))
}

func (c *Collector) DownloadError(code model.Code, reason string) {
	c.downloadErrors.WithLabelValues(string(code), reason).Inc()
}

func (c *Collector) ImportRequested(string) {
	c.imports.Inc()
}

func (c *Collector) FleetReady(_ string, count int) {
	c.fleets.Inc()
	c.fleetSize.Set(float64(count))
}
