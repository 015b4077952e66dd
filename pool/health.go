package pool

import "time"

// HealthStatusLevel is the coarse status of a model or of the pool overall.
type HealthStatusLevel int

const (
	Healthy HealthStatusLevel = iota
	Degraded
	Unhealthy
)

func (s HealthStatusLevel) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// WorkerHealthStats summarizes worker counts for one model.
type WorkerHealthStats struct {
	Total int
	Busy  int
	Idle  int
}

// ModelHealth is the per-model entry of PoolHealth.models (spec.md §6.5).
type ModelHealth struct {
	RegistryKey   string
	Status        HealthStatusLevel
	Workers       WorkerHealthStats
	QueueDepth    int
	AvgLatencyMS  *float64
}

// MemoryHealth mirrors MemoryGovernor.GetStats plus derived fields.
type MemoryHealth struct {
	UsedMB      int64
	LimitMB     int64
	AvailableMB int64
	Pressure    Pressure
	Utilization float64
}

// PoolHealth is the top-level health surface of spec.md §6.5. Degraded
// applies when any model has zero Ready workers but workers exist;
// Unhealthy when memory pressure is Critical or any model is fully Failed.
type PoolHealth struct {
	Status    HealthStatusLevel
	Models    []ModelHealth
	Memory    MemoryHealth
	Timestamp time.Time
}

func memoryHealthFromStats(stats MemoryStats) MemoryHealth {
	available := stats.LimitMB - stats.AllocatedMB
	if available < 0 {
		available = 0
	}
	utilization := 0.0
	if stats.LimitMB > 0 {
		utilization = float64(stats.AllocatedMB) / float64(stats.LimitMB)
	}
	return MemoryHealth{
		UsedMB:      stats.AllocatedMB,
		LimitMB:     stats.LimitMB,
		AvailableMB: available,
		Pressure:    stats.Pressure,
		Utilization: utilization,
	}
}

// overallStatus computes the top-level status from per-model statuses and
// memory pressure, per spec.md §6.5.
func overallStatus(models []ModelHealth, pressure Pressure) HealthStatusLevel {
	if pressure >= PressureCritical {
		return Unhealthy
	}
	status := Healthy
	for _, m := range models {
		if m.Status == Unhealthy {
			return Unhealthy
		}
		if m.Status == Degraded {
			status = Degraded
		}
	}
	return status
}

// modelStatus classifies one model's health from its worker counts.
// allFailed means every worker registered for this model has transitioned
// to Failed (spec.md §6.5: "Unhealthy... any model is fully Failed").
// ready is the count of workers in the Ready state specifically (neither
// Processing nor Idle); spec.md §6.5 calls out zero Ready workers while
// workers still exist as Degraded.
func modelStatus(stats WorkerHealthStats, ready int, allFailed bool) HealthStatusLevel {
	if allFailed {
		return Unhealthy
	}
	if stats.Total > 0 && ready == 0 {
		return Degraded
	}
	return Healthy
}
