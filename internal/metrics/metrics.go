// Package metrics exposes Prometheus instrumentation for stream transports.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stream kinds used as label values.
const (
	KindHTTP   = "http"
	KindDevice = "device"
)

var (
	// StreamOpenTotal counts stream construction attempts by kind and result.
	StreamOpenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hdhr_stream_open_total",
		Help: "Stream construction attempts by kind and result",
	}, []string{"kind", "result"})

	// StreamOpenDuration tracks how long construction takes until the transport is viable.
	StreamOpenDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hdhr_stream_open_duration_seconds",
		Help:    "Time from open request until the first data is available",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8},
	}, []string{"kind"})

	// StreamBytesTotal counts bytes delivered to readers.
	StreamBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hdhr_stream_bytes_total",
		Help: "Bytes delivered to stream readers",
	}, []string{"kind"})

	// StreamRestartTotal counts HTTP transfers restarted with a new byte range.
	StreamRestartTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hdhr_stream_restart_total",
		Help: "HTTP transfers restarted by seeks outside the buffered window",
	})

	// StreamSeekTotal counts seeks by how they were satisfied.
	StreamSeekTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hdhr_stream_seek_total",
		Help: "Seeks by mode (buffer, restart, unsupported)",
	}, []string{"mode"})

	// FilterPacketsTotal counts packets touched by the transport stream filter.
	FilterPacketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hdhr_filter_packets_total",
		Help: "Packets handled by the transport stream filter by action",
	}, []string{"action"})

	// TunerSelectTotal counts tuner selection outcomes.
	TunerSelectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hdhr_tuner_select_total",
		Help: "Tuner selection attempts by result",
	}, []string{"result"})
)

// ObserveStreamOpen records a construction attempt.
func ObserveStreamOpen(kind string, err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	StreamOpenTotal.WithLabelValues(kind, result).Inc()
	if err == nil {
		StreamOpenDuration.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// AddStreamBytes records bytes handed to a reader.
func AddStreamBytes(kind string, n int) {
	if n > 0 {
		StreamBytesTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// IncSeek records a seek outcome.
func IncSeek(mode string) {
	StreamSeekTotal.WithLabelValues(mode).Inc()
}

// IncFilterPackets records packets nulled, tables rewritten or filtering disabled.
func IncFilterPackets(action string, n int) {
	if n > 0 {
		FilterPacketsTotal.WithLabelValues(action).Add(float64(n))
	}
}

// IncTunerSelect records a tuner selection outcome.
func IncTunerSelect(result string) {
	TunerSelectTotal.WithLabelValues(result).Inc()
}
