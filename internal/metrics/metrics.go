// Package metrics exposes the daemon snapshot as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/hc-state/internal/logic"
	"github.com/sweeney/hc-state/internal/status"
)

const namespace = "hc_state"

// SnapshotSource is satisfied by *status.Tracker.
type SnapshotSource interface {
	Snapshot() status.Snapshot
}

// Collector reads one snapshot per scrape.
type Collector struct {
	src SnapshotSource

	status         *prometheus.Desc
	on             *prometheus.Desc
	transitions    *prometheus.Desc
	tokenDeadline  *prometheus.Desc
	tokenRefreshes *prometheus.Desc
	streamUp       *prometheus.Desc
	streamConnects *prometheus.Desc
	commands       *prometheus.Desc
	mqttUp         *prometheus.Desc
	uptime         *prometheus.Desc
}

// NewCollector creates a collector labelled with the appliance id.
func NewCollector(src SnapshotSource, haID string) *Collector {
	constLabels := prometheus.Labels{"ha_id": haID}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, constLabels)
	}
	return &Collector{
		src:            src,
		status:         desc("status", "1 for the current appliance status, 0 otherwise.", "status"),
		on:             desc("on", "Host-visible switch value (1 = on)."),
		transitions:    desc("transitions_total", "Accepted status transitions by target status.", "status"),
		tokenDeadline:  desc("token_expiry_timestamp_seconds", "Unix time the access token expires."),
		tokenRefreshes: desc("token_refreshes_total", "Token exchanges by result.", "result"),
		streamUp:       desc("stream_connected", "1 while the event stream is open."),
		streamConnects: desc("stream_connects_total", "Event stream connections opened."),
		commands:       desc("commands_total", "Power state commands sent by result.", "result"),
		mqttUp:         desc("mqtt_connected", "1 while the MQTT connection is open."),
		uptime:         desc("uptime_seconds", "Seconds since the daemon started."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.status
	ch <- c.on
	ch <- c.transitions
	ch <- c.tokenDeadline
	ch <- c.tokenRefreshes
	ch <- c.streamUp
	ch <- c.streamConnects
	ch <- c.commands
	ch <- c.mqttUp
	ch <- c.uptime
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.src.Snapshot()
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v int, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	for _, s := range logic.AllStatuses {
		gauge(c.status, boolFloat(snap.Status == s), s.String())
	}
	gauge(c.on, boolFloat(snap.On()))

	counts := map[logic.Status]int{
		logic.StatusInactive:     snap.Counts.Inactive,
		logic.StatusRunning:      snap.Counts.Running,
		logic.StatusDisconnected: snap.Counts.Disconnected,
		logic.StatusWakingUp:     snap.Counts.WakingUp,
		logic.StatusShuttingDown: snap.Counts.ShuttingDown,
	}
	for _, s := range logic.AllStatuses {
		counter(c.transitions, counts[s], s.String())
	}

	if !snap.Token.Deadline.IsZero() {
		gauge(c.tokenDeadline, float64(snap.Token.Deadline.Unix()))
	}
	counter(c.tokenRefreshes, snap.Token.Refreshed, "ok")
	counter(c.tokenRefreshes, snap.Token.Failed, "failed")

	gauge(c.streamUp, boolFloat(snap.Stream.Connected))
	counter(c.streamConnects, snap.Stream.Connects)

	counter(c.commands, snap.Commands.Sent-snap.Commands.Failed, "ok")
	counter(c.commands, snap.Commands.Failed, "failed")

	gauge(c.mqttUp, boolFloat(snap.MQTTConnected))
	gauge(c.uptime, snap.Uptime().Seconds())
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// NewRegistry returns a private registry with the snapshot collector and Go
// runtime metrics.
func NewRegistry(src SnapshotSource, haID string) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(src, haID),
		collectors.NewGoCollector(),
	)
	return reg
}

// Handler serves reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
