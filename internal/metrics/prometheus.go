package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics holds all Prometheus metrics for the clicker.
type PrometheusMetrics struct {
	// Counters
	ClicksTotal         *prometheus.CounterVec
	SubmitsTotal        *prometheus.CounterVec
	CacheLookups        *prometheus.CounterVec
	NonceResyncs        *prometheus.CounterVec
	SessionLoads        *prometheus.CounterVec
	GasEstimateFailures prometheus.Counter
	HeadReconnects      prometheus.Counter

	// Gauges
	InFlight      prometheus.Gauge
	UnlockedTiers prometheus.Gauge

	// Histograms
	ConfirmLatency *prometheus.HistogramVec
	SubmitLatency  prometheus.Histogram
	RPCLatency     *prometheus.HistogramVec
}

// NewPrometheusMetrics creates and registers all Prometheus metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		ClicksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clicker_clicks_total",
				Help: "Clicks by source and final state",
			},
			[]string{"source", "state"},
		),

		SubmitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clicker_submits_total",
				Help: "Submission attempts by outcome",
			},
			[]string{"outcome"},
		),

		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clicker_rpc_cache_lookups_total",
				Help: "Transport cache lookups by rule and result",
			},
			[]string{"rule", "result"},
		),

		NonceResyncs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clicker_nonce_resyncs_total",
				Help: "Nonce tracker resynchronisations by reason",
			},
			[]string{"reason"},
		),

		SessionLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clicker_session_loads_total",
				Help: "Session load attempts by outcome",
			},
			[]string{"outcome"},
		),

		GasEstimateFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "clicker_gas_estimate_failures_total",
				Help: "Failed gas estimate refreshes",
			},
		),

		HeadReconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "clicker_head_feed_reconnects_total",
				Help: "newHeads subscription reconnect attempts",
			},
		),

		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "clicker_clicks_in_flight",
				Help: "Clicks broadcast and not yet finalised",
			},
		),

		UnlockedTiers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "clicker_unlocked_tiers",
				Help: "Number of unlocked auto-click tiers",
			},
		),

		ConfirmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clicker_confirmation_latency_seconds",
				Help:    "Broadcast to receipt latency in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"status"},
		),

		SubmitLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "clicker_submit_latency_seconds",
				Help:    "Sign and broadcast latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		),

		RPCLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clicker_rpc_latency_seconds",
				Help:    "RPC call latency by method",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 5},
			},
			[]string{"method", "status"},
		),
	}
}

// RecordClick records a finalised click.
func (m *PrometheusMetrics) RecordClick(source, state string) {
	m.ClicksTotal.WithLabelValues(source, state).Inc()
}

// RecordSubmit records a submission outcome and its latency.
func (m *PrometheusMetrics) RecordSubmit(outcome string, elapsed time.Duration) {
	m.SubmitsTotal.WithLabelValues(outcome).Inc()
	m.SubmitLatency.Observe(elapsed.Seconds())
}

// RecordConfirmation records broadcast to receipt latency.
func (m *PrometheusMetrics) RecordConfirmation(success bool, latency time.Duration) {
	m.ConfirmLatency.WithLabelValues(statusLabel(success)).Observe(latency.Seconds())
}

// RecordCacheLookup records a transport cache hit or miss.
func (m *PrometheusMetrics) RecordCacheLookup(rule string, hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	m.CacheLookups.WithLabelValues(rule, result).Inc()
}

// RecordNonceResync records a nonce tracker resync.
func (m *PrometheusMetrics) RecordNonceResync(reason string) {
	m.NonceResyncs.WithLabelValues(reason).Inc()
}

// RecordGasEstimateFailure records a failed estimate refresh.
func (m *PrometheusMetrics) RecordGasEstimateFailure() {
	m.GasEstimateFailures.Inc()
}

// RecordSessionLoad records a session load outcome.
func (m *PrometheusMetrics) RecordSessionLoad(outcome string) {
	m.SessionLoads.WithLabelValues(outcome).Inc()
}

// RecordHeadReconnect records a newHeads reconnect attempt.
func (m *PrometheusMetrics) RecordHeadReconnect() {
	m.HeadReconnects.Inc()
}

// knownRPCMethods is a fixed set of known RPC methods to prevent cardinality explosion
var knownRPCMethods = map[string]bool{
	"eth_chainId":               true,
	"eth_sendRawTransaction":    true,
	"eth_getTransactionCount":   true,
	"eth_blockNumber":           true,
	"eth_getBlockByNumber":      true,
	"eth_getCode":               true,
	"eth_estimateGas":           true,
	"eth_maxPriorityFeePerGas":  true,
	"eth_getTransactionReceipt": true,
	"eth_call":                  true,
}

// RecordRPCLatency records RPC call latency. Its signature matches
// rpc.CallObserver.
func (m *PrometheusMetrics) RecordRPCLatency(method string, success bool, elapsed time.Duration) {
	// Bucket unknown methods into 'other' to prevent cardinality explosion
	bucketedMethod := method
	if !knownRPCMethods[method] {
		bucketedMethod = "other"
	}
	m.RPCLatency.WithLabelValues(bucketedMethod, statusLabel(success)).Observe(elapsed.Seconds())
}

// SetInFlight updates the in-flight gauge.
func (m *PrometheusMetrics) SetInFlight(count int64) {
	m.InFlight.Set(float64(count))
}

// SetUnlockedTiers updates the unlocked tier gauge.
func (m *PrometheusMetrics) SetUnlockedTiers(count int) {
	m.UnlockedTiers.Set(float64(count))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
