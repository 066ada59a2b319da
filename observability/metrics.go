package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type loanMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	liquidations prometheus.Counter
	migrations   prometheus.Counter
	height       prometheus.Gauge
}

type rpcMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	throttle prometheus.Counter
}

var (
	loanMetricsOnce sync.Once
	loanRegistry    *loanMetrics

	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics
)

// LoanMetrics returns the lazily-initialised registry recording loan module
// transactions and block processing.
func LoanMetrics() *loanMetrics {
	loanMetricsOnce.Do(func() {
		loanRegistry = &loanMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vaultchain",
				Subsystem: "loan",
				Name:      "operations_total",
				Help:      "Loan module transactions segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vaultchain",
				Subsystem: "loan",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution of loan module transactions.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vaultchain",
				Subsystem: "loan",
				Name:      "liquidations_total",
				Help:      "Vaults moved into liquidation by the end of block scan.",
			}),
			migrations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vaultchain",
				Subsystem: "loan",
				Name:      "scheme_migrations_total",
				Help:      "Vaults moved to the default scheme after their scheme was destroyed.",
			}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vaultchain",
				Name:      "block_height",
				Help:      "Height of the last applied block.",
			}),
		}
		prometheus.MustRegister(
			loanRegistry.operations,
			loanRegistry.latency,
			loanRegistry.liquidations,
			loanRegistry.migrations,
			loanRegistry.height,
		)
	})
	return loanRegistry
}

// ObserveOperation records the outcome of one transaction. Outcome should be
// "success", "rejected" or "error".
func (m *loanMetrics) ObserveOperation(op, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	if outcome == "" {
		outcome = "success"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *loanMetrics) RecordLiquidations(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.liquidations.Add(float64(n))
}

func (m *loanMetrics) RecordMigrations(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.migrations.Add(float64(n))
}

func (m *loanMetrics) SetHeight(height uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
}

// RPCMetrics returns the lazily-initialised registry for the query API.
func RPCMetrics() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vaultchain",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Query API requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vaultchain",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for query API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttle: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vaultchain",
				Subsystem: "rpc",
				Name:      "throttled_total",
				Help:      "Query API requests rejected by the rate limiter.",
			}),
		}
		prometheus.MustRegister(rpcRegistry.requests, rpcRegistry.latency, rpcRegistry.throttle)
	})
	return rpcRegistry
}

// Observe records a query API call. The status code should be the HTTP
// status that was ultimately written to the response writer.
func (m *rpcMetrics) Observe(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *rpcMetrics) RecordThrottle() {
	if m == nil {
		return
	}
	m.throttle.Inc()
}
