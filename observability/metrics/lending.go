package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"moneymarket/core/events"
)

// LendingMetrics captures request, pool and event telemetry for the lending
// service. A nil receiver is valid and records nothing.
type LendingMetrics struct {
	requests     *prometheus.CounterVec
	errors       *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	events       *prometheus.CounterVec
	liquidations *prometheus.CounterVec
	cash         *prometheus.GaugeVec
	borrows      *prometheus.GaugeVec
	reserves     *prometheus.GaugeVec
	utilization  *prometheus.GaugeVec
	height       prometheus.Gauge
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

// Lending returns the process-wide metrics registered on the default registry.
func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = NewLendingMetrics(prometheus.DefaultRegisterer)
	})
	return lendingRegistry
}

// NewLendingMetrics builds and registers the collectors on reg.
func NewLendingMetrics(reg prometheus.Registerer) *LendingMetrics {
	m := &LendingMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moneymarket",
			Subsystem: "lending",
			Name:      "requests_total",
			Help:      "Total ledger operations segmented by operation and outcome.",
		}, []string{"operation", "outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moneymarket",
			Subsystem: "lending",
			Name:      "errors_total",
			Help:      "Rejected ledger operations segmented by error code.",
		}, []string{"operation", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "moneymarket",
			Subsystem: "lending",
			Name:      "operation_duration_seconds",
			Help:      "Latency distribution for ledger operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moneymarket",
			Subsystem: "lending",
			Name:      "events_total",
			Help:      "Ledger events emitted by type.",
		}, []string{"type"}),
		liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moneymarket",
			Subsystem: "lending",
			Name:      "liquidations_total",
			Help:      "Completed liquidations segmented by borrowed and collateral pool.",
		}, []string{"borrowed", "collateral"}),
		cash: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "moneymarket",
			Subsystem: "pool",
			Name:      "cash",
			Help:      "Underlying held by the pool in whole units.",
		}, []string{"pool"}),
		borrows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "moneymarket",
			Subsystem: "pool",
			Name:      "borrows",
			Help:      "Outstanding borrows of the pool in whole units.",
		}, []string{"pool"}),
		reserves: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "moneymarket",
			Subsystem: "pool",
			Name:      "reserves",
			Help:      "Protocol reserves of the pool in whole units.",
		}, []string{"pool"}),
		utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "moneymarket",
			Subsystem: "pool",
			Name:      "utilization_ratio",
			Help:      "Borrows over cash plus borrows minus reserves.",
		}, []string{"pool"}),
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "moneymarket",
			Subsystem: "lending",
			Name:      "block_height",
			Help:      "Most recent block height supplied to the engine.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.requests,
			m.errors,
			m.latency,
			m.events,
			m.liquidations,
			m.cash,
			m.borrows,
			m.reserves,
			m.utilization,
			m.height,
		)
	}
	return m
}

// Observe records one ledger operation. code is empty on success.
func (m *LendingMetrics) Observe(operation, code string, duration time.Duration) {
	if m == nil {
		return
	}
	operation = strings.TrimSpace(operation)
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if code != "" {
		outcome = "error"
		m.errors.WithLabelValues(operation, code).Inc()
	}
	m.requests.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetPool publishes a pool snapshot.
func (m *LendingMetrics) SetPool(pool string, cash, borrows, reserves, utilization float64) {
	if m == nil {
		return
	}
	m.cash.WithLabelValues(pool).Set(cash)
	m.borrows.WithLabelValues(pool).Set(borrows)
	m.reserves.WithLabelValues(pool).Set(reserves)
	m.utilization.WithLabelValues(pool).Set(utilization)
}

// SetHeight records the engine's current block height.
func (m *LendingMetrics) SetHeight(height uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
}

// Emit implements events.Emitter.
func (m *LendingMetrics) Emit(e events.Event) {
	if m == nil || e == nil {
		return
	}
	m.events.WithLabelValues(e.EventType()).Inc()
	if liq, ok := e.(events.Liquidated); ok {
		m.liquidations.WithLabelValues(liq.BorrowedPool, liq.CollateralPool).Inc()
	}
}
