// Package metrics exposes XACT link counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Frame results used as the "result" label
const (
	ResultFound            = "found"
	ResultChecksumMismatch = "checksum_mismatch"
	ResultTimeout          = "timeout"
)

// Metrics groups the link collectors. A nil *Metrics records nothing.
type Metrics struct {
	// FramesTotal counts telemetry responses by result
	FramesTotal *prometheus.CounterVec

	// PointsOutOfRangeTotal counts telemetry points a frame did not cover
	PointsOutOfRangeTotal prometheus.Counter

	// CommandsTotal counts commands written to the device
	CommandsTotal *prometheus.CounterVec

	// SerialBytesReadTotal counts raw bytes received from the port
	SerialBytesReadTotal prometheus.Counter

	// LinkDegraded is 1 while consecutive misses exceed the threshold
	LinkDegraded prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the link collectors on reg
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xact_frames_total",
				Help: "Total number of telemetry responses by scan result",
			},
			[]string{"result"}, // result: found/checksum_mismatch/timeout
		),
		PointsOutOfRangeTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "xact_points_out_of_range_total",
				Help: "Total number of telemetry points outside a decoded frame's window",
			},
		),
		CommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xact_commands_total",
				Help: "Total number of commands written to the device",
			},
			[]string{"command"}, // command: write/read/read_crc
		),
		SerialBytesReadTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "xact_serial_bytes_read_total",
				Help: "Total number of bytes read from the serial port",
			},
		),
		LinkDegraded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "xact_link_degraded",
				Help: "1 while the link has missed more consecutive responses than allowed",
			},
		),
		gatherer: reg,
	}
}

// Frame records one response outcome
func (m *Metrics) Frame(result string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(result).Inc()
}

// OutOfRange records points skipped by a decode
func (m *Metrics) OutOfRange(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PointsOutOfRangeTotal.Add(float64(n))
}

// Command records one command written to the device
func (m *Metrics) Command(name string) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(name).Inc()
}

// BytesRead records bytes received from the port
func (m *Metrics) BytesRead(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SerialBytesReadTotal.Add(float64(n))
}

// SetDegraded updates the link health gauge
func (m *Metrics) SetDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.LinkDegraded.Set(1)
	} else {
		m.LinkDegraded.Set(0)
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
