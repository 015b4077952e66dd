package pool

import (
	"sync"
	"sync/atomic"

	"github.com/pbnjay/memory"
)

// Pressure classifies memory utilization against the configured limit.
type Pressure int

const (
	PressureLow Pressure = iota
	PressureNormal
	PressureHigh
	PressureCritical
)

func (p Pressure) String() string {
	switch p {
	case PressureLow:
		return "low"
	case PressureNormal:
		return "normal"
	case PressureHigh:
		return "high"
	case PressureCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func pressureFromRatio(ratio float64) Pressure {
	switch {
	case ratio < 0.5:
		return PressureLow
	case ratio < 0.75:
		return PressureNormal
	case ratio < 0.9:
		return PressureHigh
	default:
		return PressureCritical
	}
}

// MemoryStats is a point-in-time snapshot returned by GetStats.
type MemoryStats struct {
	AllocatedMB int64
	LimitMB     int64
	Pressure    Pressure
}

// MemoryGovernorConfig controls the default admission limit. LimitMB of 0
// means "derive from system memory" — the default fraction is conservative
// because a process typically shares the host with other services.
type MemoryGovernorConfig struct {
	LimitMB               int64   `envconfig:"POOL_MEMORY_LIMIT_MB" default:"0"`
	DefaultLimitFraction   float64 `envconfig:"POOL_MEMORY_DEFAULT_FRACTION" default:"0.5"`
}

// resolveLimitMB returns the configured limit, or a fraction of total system
// memory (via github.com/pbnjay/memory) when unset or non-positive.
func (c MemoryGovernorConfig) resolveLimitMB() int64 {
	if c.LimitMB > 0 {
		return c.LimitMB
	}
	fraction := c.DefaultLimitFraction
	if fraction <= 0 || fraction > 1 {
		fraction = 0.5
	}
	total := memory.TotalMemory()
	if total == 0 {
		// memory.TotalMemory() returns 0 when detection fails (e.g. in a
		// sandboxed test environment); fall back to a conservative fixed
		// default rather than admitting nothing.
		return 4096
	}
	totalMB := int64(total / (1024 * 1024))
	limit := int64(float64(totalMB) * fraction)
	if limit <= 0 {
		limit = 4096
	}
	return limit
}

// MemoryGovernor is the process-wide admission controller bounding aggregate
// resident model memory (spec.md §4.8). It answers admission questions; it
// never spawns or evicts workers itself — the pool core acts on the
// pressure it reports during maintenance.
type MemoryGovernor struct {
	mu          sync.Mutex
	allocatedMB int64
	limitMB     int64
}

// NewMemoryGovernor constructs a governor with the configured (or derived)
// limit.
func NewMemoryGovernor(cfg MemoryGovernorConfig) *MemoryGovernor {
	return &MemoryGovernor{limitMB: cfg.resolveLimitMB()}
}

// AllocationGuard holds an in-flight memory claim. It must be either
// Commit()-ed (converting the claim into durable accounting once the
// worker's memory is tracked by the pool) or allowed to drop, at which
// point Release() must be called to avoid a leaked claim. The pool always
// calls one of these explicitly; AllocationGuard has no finalizer, matching
// the Go idiom of explicit resource release over Drop-based RAII.
type AllocationGuard struct {
	governor  *MemoryGovernor
	mb        int64
	consumed  atomic.Bool
}

// MB reports the size of the claim this guard represents.
func (g *AllocationGuard) MB() int64 { return g.mb }

// Commit marks the claim as durably accounted for; a subsequent Release is
// a no-op.
func (g *AllocationGuard) Commit() {
	g.consumed.Store(true)
}

// Release returns the claim's memory to the governor. No-op after Commit or
// after a prior Release.
func (g *AllocationGuard) Release() {
	if g.consumed.CompareAndSwap(false, true) {
		g.governor.release(g.mb)
	}
}

// MemoryRejectedError is returned by TryAllocate when admission would
// violate the configured limit or push pressure to Critical.
type MemoryRejectedError struct {
	Reason   string
	Pressure Pressure
}

func (e *MemoryRejectedError) Error() string { return "memory rejected: " + e.Reason }

// TryAllocate admits a claim of mb megabytes iff allocated+mb <= limit AND
// the resulting pressure would remain below Critical. On success it returns
// an AllocationGuard the caller must Commit or Release.
func (g *MemoryGovernor) TryAllocate(mb int64) (*AllocationGuard, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	projected := g.allocatedMB + mb
	projectedPressure := PressureCritical
	if g.limitMB > 0 {
		projectedPressure = pressureFromRatio(float64(projected) / float64(g.limitMB))
	}

	if projected > g.limitMB {
		return nil, &MemoryRejectedError{Reason: "would exceed memory limit", Pressure: projectedPressure}
	}

	if projectedPressure >= PressureCritical {
		return nil, &MemoryRejectedError{Reason: "would push pressure to critical", Pressure: PressureCritical}
	}

	g.allocatedMB = projected
	return &AllocationGuard{governor: g, mb: mb}, nil
}

// release decrements allocated memory by mb. Called by AllocationGuard.Release
// (a load that failed before commit) and, through Release, by the pool when
// a worker is evicted (spec.md's remove_memory).
func (g *MemoryGovernor) release(mb int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allocatedMB -= mb
	if g.allocatedMB < 0 {
		g.allocatedMB = 0
	}
}

// Release is the public form of release, used by the pool core's
// remove_memory/add_memory bookkeeping (spec.md §4.6) when memory is
// tracked outside of an AllocationGuard's lifecycle.
func (g *MemoryGovernor) Release(mb int64) { g.release(mb) }

func (g *MemoryGovernor) pressureLocked() Pressure {
	if g.limitMB <= 0 {
		return PressureCritical
	}
	return pressureFromRatio(float64(g.allocatedMB) / float64(g.limitMB))
}

// GetStats returns a lock-free-readable snapshot. The lock is held only
// long enough to copy the two integers; spec.md §5 allows stats reads to be
// effectively lock-free relative to the allocation path.
func (g *MemoryGovernor) GetStats() MemoryStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return MemoryStats{
		AllocatedMB: g.allocatedMB,
		LimitMB:     g.limitMB,
		Pressure:    g.pressureLocked(),
	}
}
