// Package metrics provides Prometheus metrics for the indexer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "curvescope"

// Metrics holds the indexer's collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	TransactionsScanned *prometheus.CounterVec
	EventsDecoded       *prometheus.CounterVec
	MalformedEvents     *prometheus.CounterVec
	TradesRecorded      *prometheus.CounterVec
	DuplicatesSkipped   prometheus.Counter
	Graduations         prometheus.Counter
	CycleErrors         prometheus.Counter
	ArchiveErrors       prometheus.Counter
	CycleDuration       prometheus.Histogram
	CursorVersion       prometheus.Gauge
	Running             prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers all collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TransactionsScanned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "transactions_scanned_total",
			Help:      "Transactions examined, by relevance",
		}, []string{"relevant"}),
		EventsDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "events_decoded_total",
			Help:      "Program events decoded, by kind",
		}, []string{"kind"}),
		MalformedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "malformed_events_total",
			Help:      "Events skipped because their payload could not be decoded",
		}, []string{"kind"}),
		TradesRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "trades_recorded_total",
			Help:      "Trades written to the ledger, by kind",
		}, []string{"kind"}),
		DuplicatesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "duplicate_trades_skipped_total",
			Help:      "Trades skipped because their transaction was already recorded",
		}),
		Graduations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "graduations_total",
			Help:      "Pools that crossed the graduation threshold",
		}),
		CycleErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "cycle_errors_total",
			Help:      "Indexing cycles that failed",
		}),
		ArchiveErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "errors_total",
			Help:      "Trades that could not be appended to the archive",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one fetch/classify/dispatch cycle",
			Buckets:   prometheus.DefBuckets,
		}),
		CursorVersion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "cursor_version",
			Help:      "Last ledger version examined",
		}),
		Running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "running",
			Help:      "1 while the indexing loop is active",
		}),
		gatherer: reg,
	}
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) TransactionScanned(relevant bool) {
	if m == nil {
		return
	}
	label := "false"
	if relevant {
		label = "true"
	}
	m.TransactionsScanned.WithLabelValues(label).Inc()
}

func (m *Metrics) EventDecoded(kind string) {
	if m == nil {
		return
	}
	m.EventsDecoded.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventMalformed(kind string) {
	if m == nil {
		return
	}
	m.MalformedEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) TradeRecorded(kind string) {
	if m == nil {
		return
	}
	m.TradesRecorded.WithLabelValues(kind).Inc()
}

func (m *Metrics) DuplicateSkipped() {
	if m == nil {
		return
	}
	m.DuplicatesSkipped.Inc()
}

func (m *Metrics) Graduated() {
	if m == nil {
		return
	}
	m.Graduations.Inc()
}

func (m *Metrics) CycleFailed() {
	if m == nil {
		return
	}
	m.CycleErrors.Inc()
}

func (m *Metrics) ArchiveFailed() {
	if m == nil {
		return
	}
	m.ArchiveErrors.Inc()
}

func (m *Metrics) ObserveCycle(seconds float64) {
	if m == nil {
		return
	}
	m.CycleDuration.Observe(seconds)
}

func (m *Metrics) SetCursor(version uint64) {
	if m == nil {
		return
	}
	m.CursorVersion.Set(float64(version))
}

func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.Running.Set(1)
		return
	}
	m.Running.Set(0)
}
