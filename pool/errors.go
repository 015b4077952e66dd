package pool

import "fmt"

// PoolError is the wire-visible error taxonomy of spec.md §6.3.
// Non-streaming capabilities surface these as the call's error return.
// Streaming capabilities deliver a worker-side failure as a terminal chunk
// whose Err is set; pre-flight rejections (including CircuitOpen) and
// failures while waiting for the first reply are returned as the call's
// error, not as a chunk.
type PoolError struct {
	Kind     PoolErrorKind
	Detail   string
	Pressure Pressure
}

// PoolErrorKind enumerates the taxonomy.
type PoolErrorKind int

const (
	ErrShuttingDown PoolErrorKind = iota
	ErrNoWorkers
	ErrNoAliveWorkers
	ErrCircuitOpen
	ErrTimeout
	ErrChannelClosed
	ErrLoadFailed
	ErrMemoryRejected
	ErrWorkerError
)

func (k PoolErrorKind) String() string {
	switch k {
	case ErrShuttingDown:
		return "shutting_down"
	case ErrNoWorkers:
		return "no_workers"
	case ErrNoAliveWorkers:
		return "no_alive_workers"
	case ErrCircuitOpen:
		return "circuit_open"
	case ErrTimeout:
		return "timeout"
	case ErrChannelClosed:
		return "channel_closed"
	case ErrLoadFailed:
		return "load_failed"
	case ErrMemoryRejected:
		return "memory_rejected"
	case ErrWorkerError:
		return "worker_error"
	default:
		return "unknown"
	}
}

func (e *PoolError) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Is supports errors.Is(err, &PoolError{Kind: ErrTimeout}) style matching on
// Kind alone, ignoring Detail/Pressure.
func (e *PoolError) Is(target error) bool {
	other, ok := target.(*PoolError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

func newPoolError(kind PoolErrorKind, detail string) *PoolError {
	return &PoolError{Kind: kind, Detail: detail}
}

// NewLoadFailedError wraps a loader failure at spawn time (spec.md §6.3
// LoadFailed(detail)), surfaced to the spawn caller with the governor claim
// already released.
func NewLoadFailedError(detail string) *PoolError { return newPoolError(ErrLoadFailed, detail) }

// NewWorkerError wraps a capability trait call failure surfaced mid-request
// (spec.md §6.3 WorkerError(detail)) — a semantic failure, not a transport
// one; the worker itself remains live.
func NewWorkerError(detail string) *PoolError { return newPoolError(ErrWorkerError, detail) }

// NewChannelClosedError wraps a transport failure where the worker's inbox
// or reply channel could not be used (spec.md §6.3 ChannelClosed, §7(b)
// transport failures).
func NewChannelClosedError(detail string) *PoolError { return newPoolError(ErrChannelClosed, detail) }

// NewNoWorkersError wraps a registry_key with no registered workers
// (spec.md §6.3 NoWorkers). Exposed for capability packages' metadata
// accessors (spec.md §6.1's embedding_dimension/supported_dimensions/etc.),
// which need a live model reference but skip the full Preflight dispatch
// path since they perform no work and touch no pending-request guard.
func NewNoWorkersError(registryKey string) *PoolError { return newPoolError(ErrNoWorkers, registryKey) }

// IsPreflightRejection reports whether this error was surfaced before any
// worker capacity was consumed (spec.md §7(a)): ShuttingDown, NoWorkers,
// NoAliveWorkers, CircuitOpen, MemoryRejected.
func (e *PoolError) IsPreflightRejection() bool {
	switch e.Kind {
	case ErrShuttingDown, ErrNoWorkers, ErrNoAliveWorkers, ErrCircuitOpen, ErrMemoryRejected:
		return true
	default:
		return false
	}
}

// IsTransportFailure reports whether this error indicates the worker is
// suspect (spec.md §7(b)): ChannelClosed, Timeout.
func (e *PoolError) IsTransportFailure() bool {
	switch e.Kind {
	case ErrChannelClosed, ErrTimeout:
		return true
	default:
		return false
	}
}
