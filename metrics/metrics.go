// Package metrics exposes archive activity as Prometheus collectors.
package metrics

import (
	"fmt"

	"github.com/dhcgn/mbox-index/stats"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics implements stats.Observer. Each instance owns its registry so
// several archives, or parallel tests, never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	Operations      *prometheus.CounterVec
	OperationErrors *prometheus.CounterVec
	StaleRejections prometheus.Counter
	BytesRead       prometheus.Counter
	RewriteDuration prometheus.Histogram
	Messages        prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mbox_operations_total",
			Help: "Completed archive operations by kind",
		}, []string{"op"}),
		OperationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mbox_operation_errors_total",
			Help: "Failed archive operations by kind",
		}, []string{"op"}),
		StaleRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mbox_stale_rejections_total",
			Help: "Mutations refused because the file changed since it was indexed",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mbox_bytes_read_total",
			Help: "Bytes returned by message reads",
		}),
		RewriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mbox_rewrite_duration_seconds",
			Help:    "Time spent rewriting the archive through a scratch file",
			Buckets: prometheus.DefBuckets,
		}),
		Messages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mbox_messages",
			Help: "Messages in the archive at the last successful index",
		}),
	}

	m.registry.MustRegister(
		m.Operations,
		m.OperationErrors,
		m.StaleRejections,
		m.BytesRead,
		m.RewriteDuration,
		m.Messages,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Observe(evt stats.Event) {
	op := string(evt.Op)
	if evt.Err != nil {
		m.OperationErrors.WithLabelValues(op).Inc()
		if evt.Op == stats.OpStale {
			m.StaleRejections.Inc()
		}
		return
	}

	m.Operations.WithLabelValues(op).Inc()
	switch evt.Op {
	case stats.OpOpen:
		m.Messages.Set(float64(evt.Messages))
	case stats.OpGet:
		m.BytesRead.Add(float64(evt.Bytes))
	case stats.OpRemove, stats.OpInsert, stats.OpUpdate:
		m.RewriteDuration.Observe(evt.Duration.Seconds())
	}
}

// WriteTextfile dumps the registry in the text exposition format, for the
// node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
