package pool

import "sync/atomic"

// WorkerState is the lifecycle stage of a loaded model, stored as one atomic
// word per worker. Readers use acquire loads; writers use release stores via
// the accessors below. Dead and Failed are absorbing for request acceptance.
type WorkerState uint32

const (
	StateSpawning WorkerState = iota
	StateLoading
	StateReady
	StateProcessing
	StateIdle
	StateEvicting
	StateFailed
	StateDead
)

func (s WorkerState) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateProcessing:
		return "processing"
	case StateIdle:
		return "idle"
	case StateEvicting:
		return "evicting"
	case StateFailed:
		return "failed"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// AtomicWorkerState is a single atomic word carrying a WorkerState. It is the
// only mechanism by which a worker's lifecycle stage is read or written;
// exactly one writer transitions per event (invariant 3 of spec.md §8).
type AtomicWorkerState struct {
	v atomic.Uint32
}

// NewAtomicWorkerState constructs a state cell starting in Spawning.
func NewAtomicWorkerState() *AtomicWorkerState {
	s := &AtomicWorkerState{}
	s.v.Store(uint32(StateSpawning))
	return s
}

// Load performs an acquire read of the current state.
func (s *AtomicWorkerState) Load() WorkerState {
	return WorkerState(s.v.Load())
}

// Store performs a release write of a new state. Callers are responsible for
// only issuing legal transitions (see spec.md §3); the cell itself does not
// validate the transition graph, matching the source's fused-transition
// allowance ("implementations MAY fuse transitions... but MUST NOT skip
// terminal absorption").
func (s *AtomicWorkerState) Store(next WorkerState) {
	s.v.Store(uint32(next))
}

// CompareAndSwap performs the single legal-transition check the maintenance
// loop and capability worker loops rely on so two goroutines racing to move
// the same worker never stomp each other's transition: whichever CAS loses
// simply no-ops instead of clobbering a newer, more specific state.
func (s *AtomicWorkerState) CompareAndSwap(old, next WorkerState) bool {
	return s.v.CompareAndSwap(uint32(old), uint32(next))
}

// CanAcceptRequests reports whether the worker is in a state that accepts
// new dispatch: Ready, Processing, or Idle.
func (s *AtomicWorkerState) CanAcceptRequests() bool {
	switch s.Load() {
	case StateReady, StateProcessing, StateIdle:
		return true
	default:
		return false
	}
}

// IsEvictable reports whether the worker may be targeted by the maintenance
// loop's idle-eviction pass: Ready or Idle only.
func (s *AtomicWorkerState) IsEvictable() bool {
	switch s.Load() {
	case StateReady, StateIdle:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the state is absorbing (Dead or Failed).
func (s *AtomicWorkerState) IsTerminal() bool {
	switch s.Load() {
	case StateDead, StateFailed:
		return true
	default:
		return false
	}
}
