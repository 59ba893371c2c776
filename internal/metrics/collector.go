// Package metrics exposes the monitor's state as Prometheus metrics. The
// collector reads live snapshots at scrape time instead of maintaining its
// own counters, so it can never drift from the components it describes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/snadboy/dockmon/internal/domain"
)

// Sources are the read-only snapshot functions the collector scrapes.
type Sources struct {
	Hosts         func() []domain.HostStatus
	Containers    func() int
	Routes        func() domain.RouteState
	Passes        func() uint64
	ApplyFailures func() uint64
	Errors        func() []domain.ErrorRecord
}

// Collector implements prometheus.Collector.
type Collector struct {
	sources Sources

	hostUp        *prometheus.Desc
	hostFailures  *prometheus.Desc
	hostsTotal    *prometheus.Desc
	containers    *prometheus.Desc
	routesDesired *prometheus.Desc
	routesApplied *prometheus.Desc
	passesTotal   *prometheus.Desc
	applyFailures *prometheus.Desc
	errorStreaks  *prometheus.Desc
}

func NewCollector(sources Sources) *Collector {
	return &Collector{
		sources: sources,
		hostUp: prometheus.NewDesc(
			"dockmon_host_up",
			"Host connection status (1=connected, 0=anything else)",
			[]string{"host", "kind"},
			nil,
		),
		hostFailures: prometheus.NewDesc(
			"dockmon_host_consecutive_failures",
			"Consecutive connection failures for a host; resets to 0 on success",
			[]string{"host", "kind"},
			nil,
		),
		hostsTotal: prometheus.NewDesc(
			"dockmon_hosts",
			"Number of configured hosts",
			nil,
			nil,
		),
		containers: prometheus.NewDesc(
			"dockmon_containers",
			"Number of containers tracked in the inventory",
			nil,
			nil,
		),
		routesDesired: prometheus.NewDesc(
			"dockmon_routes_desired",
			"Number of routes in the desired set",
			nil,
			nil,
		),
		routesApplied: prometheus.NewDesc(
			"dockmon_routes_applied",
			"Number of routes confirmed applied to the proxy",
			nil,
			nil,
		),
		passesTotal: prometheus.NewDesc(
			"dockmon_reconcile_passes_total",
			"Total reconciliation passes since start",
			nil,
			nil,
		),
		applyFailures: prometheus.NewDesc(
			"dockmon_route_apply_failures_total",
			"Total failed proxy route calls since start",
			nil,
			nil,
		),
		errorStreaks: prometheus.NewDesc(
			"dockmon_error_streak",
			"Consecutive failure count of an active (host, operation) error streak",
			[]string{"host", "op"},
			nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hostUp
	ch <- c.hostFailures
	ch <- c.hostsTotal
	ch <- c.containers
	ch <- c.routesDesired
	ch <- c.routesApplied
	ch <- c.passesTotal
	ch <- c.applyFailures
	ch <- c.errorStreaks
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	hosts := c.sources.Hosts()
	ch <- prometheus.MustNewConstMetric(c.hostsTotal, prometheus.GaugeValue, float64(len(hosts)))

	for _, h := range hosts {
		up := 0.0
		if h.State == domain.StateConnected.String() {
			up = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.hostUp, prometheus.GaugeValue, up,
			h.Name, string(h.Kind))
		ch <- prometheus.MustNewConstMetric(c.hostFailures, prometheus.GaugeValue, float64(h.Failures),
			h.Name, string(h.Kind))
	}

	ch <- prometheus.MustNewConstMetric(c.containers, prometheus.GaugeValue,
		float64(c.sources.Containers()))

	routes := c.sources.Routes()
	ch <- prometheus.MustNewConstMetric(c.routesDesired, prometheus.GaugeValue, float64(len(routes.Desired)))
	ch <- prometheus.MustNewConstMetric(c.routesApplied, prometheus.GaugeValue, float64(len(routes.Applied)))

	ch <- prometheus.MustNewConstMetric(c.passesTotal, prometheus.CounterValue, float64(c.sources.Passes()))
	ch <- prometheus.MustNewConstMetric(c.applyFailures, prometheus.CounterValue, float64(c.sources.ApplyFailures()))

	for _, rec := range c.sources.Errors() {
		ch <- prometheus.MustNewConstMetric(c.errorStreaks, prometheus.GaugeValue, float64(rec.Count),
			rec.Host, string(rec.Op))
	}
}
