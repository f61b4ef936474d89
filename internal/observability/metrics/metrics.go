package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the constant labels stamped on every engine metric.
type Config struct {
	ServiceName string
	Environment string
}

// EngineMetrics captures update-engine health signals: upstream requests
// spent, chunk outcomes, freshness decisions, and run durations.
type EngineMetrics struct {
	requestsUsed      *prometheus.CounterVec
	chunksProcessed   *prometheus.CounterVec
	datasetsCompleted *prometheus.CounterVec
	freshnessChecks   *prometheus.CounterVec
	sentinelChanges   *prometheus.CounterVec
	quotaDenied       *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
}

var (
	engineMetricsOnce sync.Once
	engineMetrics     *EngineMetrics
)

// Engine returns the singleton engine metrics registry.
func Engine() *EngineMetrics {
	return EngineWithConfig(Config{})
}

// EngineWithConfig returns the singleton engine metrics registry using config labels.
func EngineWithConfig(cfg Config) *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineMetrics = newEngineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return engineMetrics
}

// ResetEngineMetricsForTest resets the engine metrics singleton for tests.
func ResetEngineMetricsForTest() {
	engineMetricsOnce = sync.Once{}
	engineMetrics = nil
}

func newEngineMetrics(registerer prometheus.Registerer, cfg Config) *EngineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "varsel"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &EngineMetrics{
		requestsUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "varsel_engine_requests_total",
			Help:        "Upstream requests consumed by scope and operation.",
			ConstLabels: constLabels,
		}, []string{"scope", "operation"}),
		chunksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "varsel_engine_chunks_total",
			Help:        "Update chunks by scope and outcome.",
			ConstLabels: constLabels,
		}, []string{"scope", "outcome"}),
		datasetsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "varsel_engine_datasets_completed_total",
			Help:        "Datasets whose update cycle reached completion.",
			ConstLabels: constLabels,
		}, []string{"scope"}),
		freshnessChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "varsel_engine_freshness_checks_total",
			Help:        "Freshness checks by scope and result.",
			ConstLabels: constLabels,
		}, []string{"scope", "result"}),
		sentinelChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "varsel_engine_sentinel_changes_total",
			Help:        "Sentinels that reported changed upstream data.",
			ConstLabels: constLabels,
		}, []string{"scope"}),
		quotaDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "varsel_engine_quota_denied_total",
			Help:        "Ledger denials by scope and operation.",
			ConstLabels: constLabels,
		}, []string{"scope", "operation"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "varsel_engine_run_duration_seconds",
			Help:        "Duration of orchestrator runs per scope.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"scope"}),
	}

	registerer.MustRegister(
		m.requestsUsed,
		m.chunksProcessed,
		m.datasetsCompleted,
		m.freshnessChecks,
		m.sentinelChanges,
		m.quotaDenied,
		m.runDuration,
	)
	return m
}

func (m *EngineMetrics) AddRequestsUsed(scope, operation string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.requestsUsed.WithLabelValues(scope, operation).Add(float64(n))
}

func (m *EngineMetrics) IncChunk(scope, outcome string) {
	if m == nil {
		return
	}
	m.chunksProcessed.WithLabelValues(scope, outcome).Inc()
}

func (m *EngineMetrics) IncDatasetCompleted(scope string) {
	if m == nil {
		return
	}
	m.datasetsCompleted.WithLabelValues(scope).Inc()
}

func (m *EngineMetrics) ObserveFreshnessCheck(scope string, flagged bool) {
	if m == nil {
		return
	}
	result := "unchanged"
	if flagged {
		result = "changed"
	}
	m.freshnessChecks.WithLabelValues(scope, result).Inc()
}

func (m *EngineMetrics) AddSentinelChanges(scope string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sentinelChanges.WithLabelValues(scope).Add(float64(n))
}

func (m *EngineMetrics) IncQuotaDenied(scope, operation string) {
	if m == nil {
		return
	}
	m.quotaDenied.WithLabelValues(scope, operation).Inc()
}

func (m *EngineMetrics) ObserveRunDuration(scope string, d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(scope).Observe(d.Seconds())
}

// Chunk outcomes.
const (
	ChunkOutcomeOK          = "ok"
	ChunkOutcomeFailed      = "failed"
	ChunkOutcomePersistence = "persistence_error"
)
