package pool

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Pool is the generic worker registry shared by every capability
// specialization (capability/texttotext, capability/vision, ...), mirroring
// the source's Pool<W: PoolWorkerHandle>. W carries the capability-specific
// request channels; Pool itself only ever touches the embedded WorkerHandle
// core through the WorkerHandleLike interface, so this file has no
// capability-specific knowledge at all.
type Pool[W WorkerHandleLike] struct {
	Config  PoolConfig
	Logger  *zap.Logger
	Memory  *MemoryGovernor
	Metrics *PoolMetrics
	Events  *LifecycleBus
	Tracer  trace.Tracer

	circuitCfg CircuitBreakerConfig

	mu      sync.RWMutex
	workers map[string][]W

	spawnLocks      sync.Map // string -> *sync.Mutex
	circuitBreakers sync.Map // string -> *CircuitBreaker

	shuttingDown atomic.Bool
	nextWorkerID atomic.Uint64

	maintCancel context.CancelFunc
	maintDone   chan struct{}
}

// PoolDeps bundles the Pool constructor's optional collaborators. Zero values
// are safe: a nil Logger becomes zap.NewNop(), a nil Events stays a no-op
// bus, a nil Tracer falls back to the global otel tracer provider.
type PoolDeps struct {
	Logger               *zap.Logger
	MemoryGovernorConfig MemoryGovernorConfig
	CircuitBreakerConfig CircuitBreakerConfig
	Events               *LifecycleBus
	Tracer               trace.Tracer
}

// NewPool constructs a pool with an empty registry. It calls setMaxProcs
// once per process (spec.md §5 [EXPANSION]), so GOMAXPROCS reflects the
// cgroup CPU quota rather than the host's full core count.
func NewPool[W WorkerHandleLike](cfg PoolConfig, deps PoolDeps) *Pool[W] {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	setMaxProcs(logger)

	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("modelpool")
	}

	p := &Pool[W]{
		Config:     cfg,
		Logger:     logger,
		Memory:     NewMemoryGovernor(deps.MemoryGovernorConfig),
		Events:     deps.Events,
		Tracer:     tracer,
		circuitCfg: deps.CircuitBreakerConfig,
		workers:    make(map[string][]W),
	}
	p.Metrics = NewPoolMetrics(p.Memory, p.WorkersPerModel)
	return p
}

// NextWorkerID hands out the next sequential worker_id, mirroring the
// source's pool-owned AtomicU64 counter (types.rs).
func (p *Pool[W]) NextWorkerID() uint64 {
	return p.nextWorkerID.Add(1)
}

// IsShuttingDown reports whether Shutdown has been called; every capability
// dispatch path checks this before admitting a new request (spec.md §4.6).
func (p *Pool[W]) IsShuttingDown() bool {
	return p.shuttingDown.Load()
}

// GetCircuitBreaker lazily creates the breaker for registryKey on first use,
// matching the source's get_or_insert_with over a per-key map (types.rs).
func (p *Pool[W]) GetCircuitBreaker(registryKey string) *CircuitBreaker {
	if v, ok := p.circuitBreakers.Load(registryKey); ok {
		return v.(*CircuitBreaker)
	}
	cb := NewCircuitBreaker(p.circuitCfg, registryKey, p.Events)
	actual, _ := p.circuitBreakers.LoadOrStore(registryKey, cb)
	return actual.(*CircuitBreaker)
}

// spawnGuard is the Go equivalent of the source's SpawnGuard: it holds the
// per-registry_key spawn mutex for the duration of a model load so at most
// one concurrent spawn happens per key (spec.md §4.4/invariant 5),
// serializing rather than rejecting a second concurrent spawner — the
// second caller simply waits for the lock instead of failing the request.
type spawnGuard struct {
	lock *sync.Mutex
}

// AcquireSpawnLock blocks until it becomes the sole spawner for
// registryKey. The returned guard's Release must be called exactly once,
// typically via defer, however spawn_C_worker exits.
func (p *Pool[W]) AcquireSpawnLock(registryKey string) *spawnGuard {
	v, _ := p.spawnLocks.LoadOrStore(registryKey, &sync.Mutex{})
	lock := v.(*sync.Mutex)
	lock.Lock()
	return &spawnGuard{lock: lock}
}

// Release frees the spawn lock.
func (g *spawnGuard) Release() {
	g.lock.Unlock()
}

// SpawnPreflight performs the shared admission checks every
// spawn_C_worker entry point runs before invoking its loader (spec.md
// §4.7): it acquires the per-key spawn lock, enforces
// max_workers_per_model, and admits a memory claim. The caller runs its
// loader while holding the returned guards, then either commits the
// AllocationGuard and calls RegisterWorker on success, or releases it (via
// AllocationGuard.Release) on load failure — always releasing the spawn
// guard last, typically via defer.
func (p *Pool[W]) SpawnPreflight(registryKey string, perWorkerMB int64) (*spawnGuard, *AllocationGuard, error) {
	guard := p.AcquireSpawnLock(registryKey)

	if p.Config.MaxWorkersPerModel > 0 && len(p.Workers(registryKey)) >= p.Config.MaxWorkersPerModel {
		guard.Release()
		return nil, nil, newPoolError(ErrLoadFailed, "max_workers_per_model reached for "+registryKey)
	}

	alloc, err := p.Memory.TryAllocate(perWorkerMB)
	if err != nil {
		guard.Release()
		var mre *MemoryRejectedError
		if errors.As(err, &mre) {
			return nil, nil, &PoolError{Kind: ErrMemoryRejected, Detail: mre.Reason, Pressure: mre.Pressure}
		}
		return nil, nil, newPoolError(ErrMemoryRejected, err.Error())
	}
	return guard, alloc, nil
}

// RegisterWorker applies the pool's HealthTimeout to the worker's handle,
// adds the fully-loaded worker to the registry under registryKey, bumps
// WorkersSpawned and fires a worker_spawned lifecycle event (spec.md §4.6
// register_worker).
func (p *Pool[W]) RegisterWorker(registryKey string, handle W) {
	handle.Core().HealthTimeout = p.Config.HealthTimeout()
	p.mu.Lock()
	p.workers[registryKey] = append(p.workers[registryKey], handle)
	p.mu.Unlock()

	p.Metrics.WorkersSpawned.Add(1)
	p.Events.WorkerSpawned(registryKey, handle.Core().WorkerID)
}

// Workers returns a snapshot copy of the workers registered under
// registryKey. The copy means callers (including SelectWorkerPowerOfTwo) can
// range over it without holding the registry lock.
func (p *Pool[W]) Workers(registryKey string) []W {
	p.mu.RLock()
	defer p.mu.RUnlock()
	src := p.workers[registryKey]
	out := make([]W, len(src))
	copy(out, src)
	return out
}

// WorkersPerModel reports the live worker count per registry_key, feeding
// the pool_model_workers gauge (spec.md §6.4).
func (p *Pool[W]) WorkersPerModel() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]int, len(p.workers))
	for key, ws := range p.workers {
		out[key] = len(ws)
	}
	return out
}

// removeWorker drops the worker with the given WorkerID from registryKey's
// slice. Called by the maintenance loop once it has confirmed the worker's
// Exited channel closed (or the shutdown timeout elapsed).
func (p *Pool[W]) removeWorker(registryKey string, workerID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ws := p.workers[registryKey]
	for i, w := range ws {
		if w.Core().WorkerID == workerID {
			p.workers[registryKey] = append(ws[:i], ws[i+1:]...)
			return
		}
	}
}

// StartMaintenance launches the background maintenance loop (spec.md §4.6):
// health-probing, Ready→Idle inactivity transitions, Idle→evicted draining,
// and pressure-driven LRU eviction. Call Shutdown to stop it.
func (p *Pool[W]) StartMaintenance() {
	ctx, cancel := context.WithCancel(context.Background())
	p.maintCancel = cancel
	p.maintDone = make(chan struct{})

	go func() {
		defer close(p.maintDone)
		ticker := time.NewTicker(p.Config.MaintenanceInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.runMaintenance()
			}
		}
	}()
}

// Shutdown marks the pool as shutting down, stops the maintenance loop, and
// signals every registered worker to stop, waiting up to ShutdownTimeout in
// total (one deadline shared by all workers) for them to drain.
func (p *Pool[W]) Shutdown() {
	if !p.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	if p.maintCancel != nil {
		p.maintCancel()
		<-p.maintDone
	}

	p.mu.RLock()
	all := make([]W, 0)
	for _, ws := range p.workers {
		all = append(all, ws...)
	}
	p.mu.RUnlock()

	deadline := time.After(p.Config.ShutdownTimeout())
	for _, w := range all {
		w.Core().SignalShutdown()
	}
	for _, w := range all {
		select {
		case <-w.Core().Exited:
		case <-deadline:
			p.Logger.Warn("shutdown timed out waiting for worker drain",
				zap.String("registry_key", w.RegistryKey()), zap.Uint64("worker_id", w.Core().WorkerID))
		}
	}
}

// runMaintenance is one maintenance tick. It walks every registry key once:
// first probing liveness and aging Ready workers into Idle, then evicting
// Idle workers past the cooldown, then — if memory pressure is High or
// Critical — evicting further idle-evictable workers LRU-first until
// pressure drops back to Normal (spec.md §4.6/§4.8). A worker that IsAlive
// finds stale is marked Dead and skipped from then on; it is not removed
// from the registry and its memory claim is not released.
func (p *Pool[W]) runMaintenance() {
	cooldown := p.Config.CooldownIdle()
	now := time.Now()

	p.mu.RLock()
	keys := make([]string, 0, len(p.workers))
	for k := range p.workers {
		keys = append(keys, k)
	}
	p.mu.RUnlock()

	for _, key := range keys {
		for _, w := range p.Workers(key) {
			core := w.Core()
			if core.State.IsTerminal() {
				continue
			}
			if !core.IsAlive() {
				continue
			}
			idleFor := now.Sub(time.Unix(core.LastUsed.Load(), 0))
			if idleFor > cooldown {
				core.State.CompareAndSwap(StateReady, StateIdle)
			}
		}
	}

	for _, key := range keys {
		for _, w := range p.Workers(key) {
			core := w.Core()
			idleFor := now.Sub(time.Unix(core.LastUsed.Load(), 0))
			if core.State.Load() == StateIdle && idleFor > cooldown {
				p.evict(key, w)
			}
		}
	}

	p.evictUnderPressure(keys)
}

// evict transitions a worker through Evicting, signals it to stop, reclaims
// its memory and removes it from the registry. It does not block on the
// worker's drain: a background goroutine waits for Exited (bounded by
// ShutdownTimeout), then marks the worker Dead, removes it, releases its
// memory and counts the eviction, keeping one tick's work bounded.
func (p *Pool[W]) evict(registryKey string, w W) {
	core := w.Core()
	if !core.State.CompareAndSwap(StateIdle, StateEvicting) &&
		!core.State.CompareAndSwap(StateReady, StateEvicting) {
		return
	}
	core.SignalShutdown()

	go func() {
		select {
		case <-core.Exited:
		case <-time.After(p.Config.ShutdownTimeout()):
		}
		core.State.Store(StateDead)
		p.removeWorker(registryKey, core.WorkerID)
		p.Memory.Release(core.PerWorkerMB)
		p.Metrics.WorkersEvicted.Add(1)
		p.Events.WorkerEvicted(registryKey, core.WorkerID)
	}()
}

// evictUnderPressure evicts idle-evictable workers, least-recently-used
// first across all registry keys, until memory pressure drops back to
// Normal or there is nothing left evictable (spec.md §4.8).
func (p *Pool[W]) evictUnderPressure(keys []string) {
	stats := p.Memory.GetStats()
	if stats.Pressure < PressureHigh {
		return
	}
	p.Events.PressureChanged(stats.Pressure)

	type candidate struct {
		key string
		w   W
	}
	var candidates []candidate
	for _, key := range keys {
		for _, w := range p.Workers(key) {
			if w.Core().IsEvictable() {
				candidates = append(candidates, candidate{key: key, w: w})
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].w.Core().LastUsed.Load() < candidates[j].w.Core().LastUsed.Load()
	})

	for _, c := range candidates {
		if p.Memory.GetStats().Pressure < PressureHigh {
			return
		}
		p.evict(c.key, c.w)
	}
}

// Health builds a PoolHealth snapshot from the live registry (spec.md §6.5).
func (p *Pool[W]) Health() PoolHealth {
	p.mu.RLock()
	keys := make([]string, 0, len(p.workers))
	for k := range p.workers {
		keys = append(keys, k)
	}
	p.mu.RUnlock()

	models := make([]ModelHealth, 0, len(keys))
	for _, key := range keys {
		ws := p.Workers(key)
		stats := WorkerHealthStats{Total: len(ws)}
		ready, failed := 0, 0
		queueDepth := 0
		for _, w := range ws {
			core := w.Core()
			switch core.State.Load() {
			case StateReady:
				ready++
				stats.Idle++
			case StateProcessing:
				stats.Busy++
			case StateIdle:
				stats.Idle++
			case StateFailed:
				failed++
			}
			queueDepth += int(core.PendingReqs.Load())
		}
		var avg *float64
		if v, ok := p.Metrics.GetAvgLatency(key); ok {
			avg = &v
		}
		models = append(models, ModelHealth{
			RegistryKey:  key,
			Status:       modelStatus(stats, ready, failed == len(ws) && len(ws) > 0),
			Workers:      stats,
			QueueDepth:   queueDepth,
			AvgLatencyMS: avg,
		})
	}

	memStats := p.Memory.GetStats()
	memHealth := memoryHealthFromStats(memStats)
	return PoolHealth{
		Status:    overallStatus(models, memStats.Pressure),
		Models:    models,
		Memory:    memHealth,
		Timestamp: time.Now(),
	}
}
