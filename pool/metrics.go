package pool

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// ModelLatencyMetrics accumulates per-registry_key latency observations.
// Sum/count/max are updated lock-free; max uses a CAS loop exactly as
// spec.md §4.9 specifies.
type ModelLatencyMetrics struct {
	LatencySumMS   atomic.Int64
	LatencyCountMS atomic.Int64
	LatencyMaxMS   atomic.Int64
	requests       atomic.Int64
}

func (m *ModelLatencyMetrics) record(latencyMS int64) {
	m.LatencySumMS.Add(latencyMS)
	m.LatencyCountMS.Add(1)
	m.requests.Add(1)
	for {
		cur := m.LatencyMaxMS.Load()
		if latencyMS <= cur {
			return
		}
		if m.LatencyMaxMS.CompareAndSwap(cur, latencyMS) {
			return
		}
	}
}

// Avg returns the mean latency in milliseconds, or (0, false) if no
// requests have been recorded yet.
func (m *ModelLatencyMetrics) Avg() (float64, bool) {
	count := m.LatencyCountMS.Load()
	if count == 0 {
		return 0, false
	}
	return float64(m.LatencySumMS.Load()) / float64(count), true
}

// PoolMetrics holds the atomic counters of spec.md §3/§4.9 plus per-model
// latency aggregates, and renders both (and the memory governor's gauges)
// as a Prometheus text document via the real client_golang exposition
// encoder — which is what gives correct escaping of label values containing
// quotes or backslashes for free, rather than a hand-rolled string builder.
type PoolMetrics struct {
	TotalRequests     atomic.Int64
	TotalErrors       atomic.Int64
	TotalTimeouts     atomic.Int64
	WorkersSpawned    atomic.Int64
	WorkersEvicted    atomic.Int64
	CircuitRejections atomic.Int64

	perModel sync.Map // string -> *ModelLatencyMetrics

	governor       *MemoryGovernor
	workersPerModel func() map[string]int
}

// NewPoolMetrics constructs a metrics set bound to the given memory
// governor (for the memory gauges) and a callback the pool core supplies
// to report live worker counts per registry_key (for pool_model_workers).
func NewPoolMetrics(governor *MemoryGovernor, workersPerModel func() map[string]int) *PoolMetrics {
	return &PoolMetrics{governor: governor, workersPerModel: workersPerModel}
}

func (m *PoolMetrics) modelMetrics(registryKey string) *ModelLatencyMetrics {
	v, _ := m.perModel.LoadOrStore(registryKey, &ModelLatencyMetrics{})
	return v.(*ModelLatencyMetrics)
}

// RecordRequest updates both the global and per-model counters for a
// completed (non-timeout) request: success=false increments TotalErrors.
// Use RecordTimeout instead on the timeout path — spec.md §8 requires
// "exactly one of {success path, error path, timeout path} fires" per
// request, and §4.5 already keeps circuit rejections out of TotalErrors on
// the same principle, so TotalTimeouts and TotalErrors are disjoint here
// too.
func (m *PoolMetrics) RecordRequest(registryKey string, latencyMS int64, success bool) {
	m.TotalRequests.Add(1)
	if !success {
		m.TotalErrors.Add(1)
	}
	m.modelMetrics(registryKey).record(latencyMS)
}

// RecordTimeout updates the global and per-model counters for a request
// that failed because the worker's first reply never arrived within
// request_timeout_secs (spec.md §8: the timeout path, disjoint from the
// error path — it increments TotalTimeouts, never TotalErrors).
func (m *PoolMetrics) RecordTimeout(registryKey string, latencyMS int64) {
	m.TotalRequests.Add(1)
	m.TotalTimeouts.Add(1)
	m.modelMetrics(registryKey).record(latencyMS)
}

// GetAvgLatency returns the average latency for a model, or (0, false) if
// no requests have completed for it yet.
func (m *PoolMetrics) GetAvgLatency(registryKey string) (float64, bool) {
	v, ok := m.perModel.Load(registryKey)
	if !ok {
		return 0, false
	}
	return v.(*ModelLatencyMetrics).Avg()
}

// promDesc constants mirror the names in spec.md §6.4 exactly.
var (
	descRequestsTotal   = prometheus.NewDesc("pool_requests_total", "Total requests across all models", nil, nil)
	descErrorsTotal     = prometheus.NewDesc("pool_errors_total", "Total request failures, excluding timeouts and circuit rejections", nil, nil)
	descTimeoutsTotal   = prometheus.NewDesc("pool_timeouts_total", "Total request timeouts", nil, nil)
	descSpawnedTotal    = prometheus.NewDesc("pool_workers_spawned_total", "Total workers spawned", nil, nil)
	descEvictedTotal    = prometheus.NewDesc("pool_workers_evicted_total", "Total workers evicted", nil, nil)
	descRejectionsTotal = prometheus.NewDesc("pool_circuit_rejections_total", "Total circuit breaker rejections", nil, nil)

	descModelRequests  = prometheus.NewDesc("pool_model_requests_total", "Requests per model", []string{"model"}, nil)
	descModelLatAvg    = prometheus.NewDesc("pool_model_latency_avg_ms", "Average latency per model", []string{"model"}, nil)
	descModelLatMax    = prometheus.NewDesc("pool_model_latency_max_ms", "Peak latency per model", []string{"model"}, nil)
	descModelWorkers   = prometheus.NewDesc("pool_model_workers", "Active workers per model", []string{"model"}, nil)

	descMemoryUsed     = prometheus.NewDesc("pool_memory_used_mb", "Memory used by workers", nil, nil)
	descMemoryLimit    = prometheus.NewDesc("pool_memory_limit_mb", "Memory limit", nil, nil)
	descMemoryPressure = prometheus.NewDesc("pool_memory_pressure", "Memory pressure level (0=Low,1=Normal,2=High,3=Critical)", nil, nil)
)

// Describe implements prometheus.Collector.
func (m *PoolMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		descRequestsTotal, descErrorsTotal, descTimeoutsTotal, descSpawnedTotal,
		descEvictedTotal, descRejectionsTotal, descModelRequests, descModelLatAvg,
		descModelLatMax, descModelWorkers, descMemoryUsed, descMemoryLimit, descMemoryPressure,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector, gathering the current atomic
// snapshot. Registered per-model series come from the live sync.Map, so new
// models that spawn workers after startup appear without re-registration.
func (m *PoolMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(descRequestsTotal, prometheus.CounterValue, float64(m.TotalRequests.Load()))
	ch <- prometheus.MustNewConstMetric(descErrorsTotal, prometheus.CounterValue, float64(m.TotalErrors.Load()))
	ch <- prometheus.MustNewConstMetric(descTimeoutsTotal, prometheus.CounterValue, float64(m.TotalTimeouts.Load()))
	ch <- prometheus.MustNewConstMetric(descSpawnedTotal, prometheus.CounterValue, float64(m.WorkersSpawned.Load()))
	ch <- prometheus.MustNewConstMetric(descEvictedTotal, prometheus.CounterValue, float64(m.WorkersEvicted.Load()))
	ch <- prometheus.MustNewConstMetric(descRejectionsTotal, prometheus.CounterValue, float64(m.CircuitRejections.Load()))

	m.perModel.Range(func(key, value any) bool {
		model := key.(string)
		lm := value.(*ModelLatencyMetrics)
		ch <- prometheus.MustNewConstMetric(descModelRequests, prometheus.CounterValue, float64(lm.requests.Load()), model)
		if avg, ok := lm.Avg(); ok {
			ch <- prometheus.MustNewConstMetric(descModelLatAvg, prometheus.GaugeValue, avg, model)
		}
		ch <- prometheus.MustNewConstMetric(descModelLatMax, prometheus.GaugeValue, float64(lm.LatencyMaxMS.Load()), model)
		return true
	})

	if m.workersPerModel != nil {
		for model, n := range m.workersPerModel() {
			ch <- prometheus.MustNewConstMetric(descModelWorkers, prometheus.GaugeValue, float64(n), model)
		}
	}

	if m.governor != nil {
		stats := m.governor.GetStats()
		ch <- prometheus.MustNewConstMetric(descMemoryUsed, prometheus.GaugeValue, float64(stats.AllocatedMB))
		ch <- prometheus.MustNewConstMetric(descMemoryLimit, prometheus.GaugeValue, float64(stats.LimitMB))
		ch <- prometheus.MustNewConstMetric(descMemoryPressure, prometheus.GaugeValue, float64(stats.Pressure))
	}
}

// Render gathers the registered collector and encodes it as the Prometheus
// text exposition format, ready to be served from a /metrics handler (the
// HTTP serving itself is explicitly out of this module's scope — spec.md §1).
func (m *PoolMetrics) Render() (string, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(m); err != nil {
		return "", err
	}
	families, err := reg.Gather()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	enc := expfmt.NewEncoder(&sb, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, f := range families {
		if err := enc.Encode(f); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}
