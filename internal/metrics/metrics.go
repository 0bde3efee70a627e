// Package metrics exposes daemon counters in the Prometheus format. Metrics
// are written to a local textfile only; nothing is served or pushed.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/xerrors"
)

const namespace = "keystr"

type Metrics struct {
	Registry *prometheus.Registry

	Keystrokes  prometheus.Counter
	Flushes     *prometheus.CounterVec
	LastFlush   prometheus.Gauge
	StoredTotal prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Keystrokes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keystrokes_total",
			Help:      "Key presses counted since the daemon started.",
		}),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Attempts to persist the in-memory record, by result.",
		}, []string{"result"}),
		LastFlush: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_flush_timestamp_seconds",
			Help:      "Unix time of the last successful flush.",
		}),
		StoredTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stored_keystrokes",
			Help:      "Lifetime total as of the last successful flush.",
		}),
	}
	m.Registry.MustRegister(m.Keystrokes, m.Flushes, m.LastFlush, m.StoredTotal)
	return m
}

// KeyPress counts one delivered key press.
func (m *Metrics) KeyPress() {
	m.Keystrokes.Inc()
}

// ObserveFlush records the outcome of a flush of a record holding total.
func (m *Metrics) ObserveFlush(total uint64, at time.Time, err error) {
	if err != nil {
		m.Flushes.WithLabelValues("failure").Inc()
		return
	}
	m.Flushes.WithLabelValues("success").Inc()
	m.LastFlush.Set(float64(at.Unix()))
	m.StoredTotal.Set(float64(total))
}

// WriteTextfile writes the registry in the node_exporter textfile format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return xerrors.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
