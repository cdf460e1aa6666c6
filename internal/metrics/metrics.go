// Package metrics holds the Prometheus collectors shared by the publish and
// consume pipelines. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "heimdall"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics groups the collectors.
type Metrics struct {
	published     *prometheus.CounterVec
	filtered      *prometheus.CounterVec
	delivered     *prometheus.CounterVec
	inFlight      prometheus.Gauge
	consumed      *prometheus.CounterVec
	flushes       *prometheus.CounterVec
	flushedRows   *prometheus.CounterVec
	flushDuration *prometheus.HistogramVec
}

func newCounterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// New creates the collectors and registers them with reg when reg is not nil.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		published: newCounterVec("publisher", "submitted_total", "Events submitted to the producer.", "kind", "result"),
		filtered:  newCounterVec("publisher", "filtered_total", "Events dropped by a filter block.", "kind"),
		delivered: newCounterVec("publisher", "delivered_total", "Delivery reports received from the broker.", "kind", "result"),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "in_flight",
			Help:      "Messages submitted but not yet acknowledged by the broker.",
		}),
		consumed:    newCounterVec("consumer", "messages_total", "Messages received from the log.", "topic", "result"),
		flushes:     newCounterVec("consumer", "flushes_total", "Sink flushes.", "kind", "result"),
		flushedRows: newCounterVec("consumer", "flushed_rows_total", "Rows handed to the sink.", "kind"),
		flushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "flush_duration_seconds",
				Help:      "Duration of sink flushes.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"kind"},
		),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.published, m.filtered, m.delivered, m.inFlight,
			m.consumed, m.flushes, m.flushedRows, m.flushDuration,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// Published counts a submission attempt.
func (m *Metrics) Published(kind string, err error) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(kind, result(err)).Inc()
}

// Filtered counts an event a filter block did not want.
func (m *Metrics) Filtered(kind string) {
	if m == nil {
		return
	}
	m.filtered.WithLabelValues(kind).Inc()
}

// Delivered counts a delivery report.
func (m *Metrics) Delivered(kind string, err error) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(kind, result(err)).Inc()
}

func (m *Metrics) SetInFlight(n int64) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(n))
}

// Consumed counts a message taken off the log.
func (m *Metrics) Consumed(topic string, err error) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(topic, result(err)).Inc()
}

// Flushed records one sink call for kind.
func (m *Metrics) Flushed(kind string, rows int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.flushes.WithLabelValues(kind, result(err)).Inc()
	m.flushDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	if err == nil {
		m.flushedRows.WithLabelValues(kind).Add(float64(rows))
	}
}
