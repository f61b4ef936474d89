package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestEngineCountersCarryScopeLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	ResetEngineMetricsForTest()
	m := EngineWithConfig(Config{ServiceName: "varsel", Environment: "test"})

	m.AddRequestsUsed("ssb", "full_update", 3)
	m.AddRequestsUsed("ssb", "full_update", 2)
	m.IncChunk("ssb", ChunkOutcomeOK)
	m.IncChunk("ssb", ChunkOutcomeFailed)
	m.IncDatasetCompleted("ssb")
	m.IncQuotaDenied("ssb", "freshness_check")
	m.AddSentinelChanges("ssb", 4)

	base := map[string]string{"service": "varsel", "env": "test"}

	requestLabels := withLabels(base, map[string]string{"scope": "ssb", "operation": "full_update"})
	if got := getCounterValue(t, registry, "varsel_engine_requests_total", requestLabels); got != 5 {
		t.Fatalf("expected 5 requests used, got %v", got)
	}

	okLabels := withLabels(base, map[string]string{"scope": "ssb", "outcome": ChunkOutcomeOK})
	if got := getCounterValue(t, registry, "varsel_engine_chunks_total", okLabels); got != 1 {
		t.Fatalf("expected 1 ok chunk, got %v", got)
	}
	failedLabels := withLabels(base, map[string]string{"scope": "ssb", "outcome": ChunkOutcomeFailed})
	if got := getCounterValue(t, registry, "varsel_engine_chunks_total", failedLabels); got != 1 {
		t.Fatalf("expected 1 failed chunk, got %v", got)
	}

	completedLabels := withLabels(base, map[string]string{"scope": "ssb"})
	if got := getCounterValue(t, registry, "varsel_engine_datasets_completed_total", completedLabels); got != 1 {
		t.Fatalf("expected 1 completed dataset, got %v", got)
	}

	deniedLabels := withLabels(base, map[string]string{"scope": "ssb", "operation": "freshness_check"})
	if got := getCounterValue(t, registry, "varsel_engine_quota_denied_total", deniedLabels); got != 1 {
		t.Fatalf("expected 1 quota denial, got %v", got)
	}

	changeLabels := withLabels(base, map[string]string{"scope": "ssb"})
	if got := getCounterValue(t, registry, "varsel_engine_sentinel_changes_total", changeLabels); got != 4 {
		t.Fatalf("expected 4 sentinel changes, got %v", got)
	}
}

func TestEngineFreshnessCheckResultLabel(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	ResetEngineMetricsForTest()
	m := EngineWithConfig(Config{ServiceName: "varsel", Environment: "test"})

	m.ObserveFreshnessCheck("ssb", true)
	m.ObserveFreshnessCheck("ssb", false)
	m.ObserveFreshnessCheck("ssb", false)

	base := map[string]string{"service": "varsel", "env": "test", "scope": "ssb"}

	changed := withLabels(base, map[string]string{"result": "changed"})
	if got := getCounterValue(t, registry, "varsel_engine_freshness_checks_total", changed); got != 1 {
		t.Fatalf("expected 1 changed check, got %v", got)
	}
	unchanged := withLabels(base, map[string]string{"result": "unchanged"})
	if got := getCounterValue(t, registry, "varsel_engine_freshness_checks_total", unchanged); got != 2 {
		t.Fatalf("expected 2 unchanged checks, got %v", got)
	}
}

func TestEngineRunDurationRecordsObservations(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	ResetEngineMetricsForTest()
	m := EngineWithConfig(Config{ServiceName: "varsel", Environment: "test"})

	m.ObserveRunDuration("ssb", 250*time.Millisecond)
	m.ObserveRunDuration("ssb", 750*time.Millisecond)

	labels := map[string]string{"service": "varsel", "env": "test", "scope": "ssb"}
	count, sum := getHistogramValue(t, registry, "varsel_engine_run_duration_seconds", labels)
	if count != 2 {
		t.Fatalf("expected 2 observations, got %d", count)
	}
	if sum != 1.0 {
		t.Fatalf("expected sum 1.0, got %v", sum)
	}
}

func TestEngineIgnoresNonPositiveAdds(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	ResetEngineMetricsForTest()
	m := EngineWithConfig(Config{ServiceName: "varsel", Environment: "test"})

	m.AddRequestsUsed("ssb", "full_update", 0)
	m.AddRequestsUsed("ssb", "full_update", -1)
	m.AddSentinelChanges("ssb", 0)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "varsel_engine_requests_total" || mf.GetName() == "varsel_engine_sentinel_changes_total" {
			t.Fatalf("expected no samples for %s", mf.GetName())
		}
	}
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		ResetEngineMetricsForTest()
	}
}

func withLabels(base, extra map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func getHistogramValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) (uint64, float64) {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Histogram == nil {
				t.Fatalf("metric %s is not a histogram", name)
			}
			return metric.GetHistogram().GetSampleCount(), metric.GetHistogram().GetSampleSum()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0, 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
