package pool

import (
	"sync"
	"sync/atomic"
	"time"
)

// HealthPing is sent by the pool to ask a worker whether it is still alive.
type HealthPing struct{}

// HealthPong is the worker's reply to a HealthPing.
type HealthPong struct {
	WorkerID   uint64
	Timestamp  int64
	QueueDepth int
}

// DefaultHealthTimeout accommodates multi-gigabyte model loads over slow
// links — intentionally generous so a worker mid-download is never declared
// dead. NewWorkerHandle starts every handle with it; Pool.RegisterWorker
// then replaces it with PoolConfig.HealthTimeout, which defaults to the
// request timeout (spec.md §4.2/§9).
const DefaultHealthTimeout = 6 * time.Hour

// WorkerHandle owns the per-worker bookkeeping shared between the pool's
// registry, the maintenance loop, and in-flight request paths. It is safe
// for concurrent use: pending-request count, last-used timestamp and state
// are atomic; the health-pong receiver is guarded by a try-lock mutex.
type WorkerHandle struct {
	WorkerID     uint64
	RegistryKey  string
	PerWorkerMB  int64
	PendingReqs  atomic.Int64
	LastUsed     atomic.Int64 // unix seconds
	State        *AtomicWorkerState
	HealthTimeout time.Duration

	// Shutdown is closed exactly once, by SignalShutdown (from eviction or
	// Pool.Shutdown), to broadcast a one-shot stop signal to the worker
	// goroutine — the idiomatic Go
	// substitute for the source's single-consumer mpsc shutdown channel.
	Shutdown chan struct{}
	// Exited is closed by the worker goroutine's own defer as it returns,
	// letting eviction and Pool.Shutdown wait (bounded by ShutdownTimeout) for a
	// clean drain before reclaiming the worker's memory reservation.
	Exited chan struct{}
	HealthTx chan<- HealthPing

	shutdownOnce sync.Once
	healthMu sync.Mutex
	healthRx <-chan HealthPong
}

// NewWorkerHandle constructs a handle in the Spawning state with last-used
// stamped to now.
func NewWorkerHandle(workerID uint64, registryKey string, perWorkerMB int64, healthTx chan<- HealthPing, healthRx <-chan HealthPong) *WorkerHandle {
	h := &WorkerHandle{
		WorkerID:      workerID,
		RegistryKey:   registryKey,
		PerWorkerMB:   perWorkerMB,
		State:         NewAtomicWorkerState(),
		HealthTimeout: DefaultHealthTimeout,
		Shutdown:      make(chan struct{}),
		Exited:        make(chan struct{}),
		HealthTx:      healthTx,
		healthRx:      healthRx,
	}
	h.Touch()
	return h
}

// SignalShutdown closes the Shutdown channel exactly once. Safe to call from
// the maintenance loop concurrently with anything else touching the handle.
func (h *WorkerHandle) SignalShutdown() {
	h.shutdownOnce.Do(func() { close(h.Shutdown) })
}

// Touch stamps LastUsed to the current unix time. Called on request start
// and on a health pong.
func (h *WorkerHandle) Touch() {
	h.LastUsed.Store(time.Now().Unix())
}

// CanAcceptRequests delegates to the embedded state cell.
func (h *WorkerHandle) CanAcceptRequests() bool { return h.State.CanAcceptRequests() }

// IsEvictable delegates to the embedded state cell.
func (h *WorkerHandle) IsEvictable() bool { return h.State.IsEvictable() }

// IsAlive implements spec.md §4.2's liveness probe:
//  1. send a ping without blocking; a ping nobody is ready to receive is
//     dropped and is not by itself taken as death.
//  2. try a non-blocking receive on the pong channel.
//  3. if no pong is available yet, fall back to last-used staleness, unless
//     the pong receiver is contended, in which case consult state first and
//     then staleness, lock-free.
func (h *WorkerHandle) IsAlive() bool {
	select {
	case h.HealthTx <- HealthPing{}:
	default:
		// Unbuffered/full ping channel with no reader: a worker
		// mid-processing reads pings again on its next select iteration,
		// so the ping is dropped and the staleness check below decides
		// instead of failing fast here.
	}

	if !h.healthMu.TryLock() {
		// Lock contention: a concurrent health check is already running.
		// A prior Dead/Failed short-circuits to false without touching
		// the channel at all.
		if h.State.IsTerminal() {
			return false
		}
		return !h.stale()
	}
	defer h.healthMu.Unlock()

	select {
	case pong, ok := <-h.healthRx:
		if !ok {
			h.State.Store(StateDead)
			return false
		}
		h.LastUsed.Store(pong.Timestamp)
		return true
	default:
		if h.stale() {
			h.State.Store(StateDead)
			return false
		}
		return true
	}
}

func (h *WorkerHandle) stale() bool {
	last := h.LastUsed.Load()
	timeout := h.HealthTimeout
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}
	return time.Since(time.Unix(last, 0)) > timeout
}

// WorkerHandleLike is implemented by every capability-specific worker handle
// so the generic Pool[W] can reach the shared core fields without knowing
// about capability-specific request channels. Mirrors the Rust source's
// PoolWorkerHandle trait (core/core_mut/registry_key).
type WorkerHandleLike interface {
	Core() *WorkerHandle
	RegistryKey() string
}

// PendingRequestsGuard decrements a worker's pending-request counter exactly
// once, on Release, however the request path exits (success, timeout,
// channel error, caller cancellation). Preserves invariant 1 of spec.md §8:
// pending_requests always equals the count of not-yet-released guards.
type PendingRequestsGuard struct {
	counter  *atomic.Int64
	released atomic.Bool
}

// AcquirePendingRequestsGuard increments the counter and returns a guard
// that must have Release called exactly once (typically via defer).
func AcquirePendingRequestsGuard(counter *atomic.Int64) *PendingRequestsGuard {
	counter.Add(1)
	return &PendingRequestsGuard{counter: counter}
}

// Release decrements the counter. Safe to call more than once; only the
// first call has effect, so a deferred Release composes safely with an
// explicit early Release on a cancellation path.
func (g *PendingRequestsGuard) Release() {
	if g.released.CompareAndSwap(false, true) {
		g.counter.Add(-1)
	}
}
