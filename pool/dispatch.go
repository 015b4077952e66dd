package pool

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NewRequestID mints a correlation id for one capability call, attached to
// every log line the dispatch helpers emit for that call's lifetime.
func NewRequestID() string {
	return uuid.NewString()
}

func recordBreaker(b *CircuitBreaker, success bool) {
	if success {
		b.RecordSuccess()
	} else {
		b.RecordFailure()
	}
}

// DispatchStream drives the common request path shared by every streaming
// capability method (spec.md §4.7/§4.7.1): it waits for the worker's first
// reply under requestTimeout — the only part of the call the timeout
// bounds — then tunnels the remainder into a caller-owned channel,
// recording the circuit breaker and metrics outcome exactly once, at the
// terminal chunk. guard is released exactly once regardless of exit path.
func DispatchStream[T any](ctx context.Context, logger *zap.Logger, requestID string, start time.Time, requestTimeout time.Duration, guard *PendingRequestsGuard, breaker *CircuitBreaker, metrics *PoolMetrics, registryKey string, replyCh chan Chunk[T]) (<-chan Chunk[T], error) {
	first, err := AwaitFirstReply(ctx, requestTimeout, replyCh)
	if err != nil {
		guard.Release()
		// A caller-side cancel (ctx.Err() != nil) reached the same ErrTimeout
		// kind as the pool's own request_timeout_secs firing, but it isn't
		// evidence the worker is unhealthy — only the pool's own timer
		// expiring is, so only that case records a breaker failure.
		if ctx.Err() == nil {
			recordBreaker(breaker, false)
		}
		if pe, ok := err.(*PoolError); ok && pe.Kind == ErrTimeout {
			metrics.RecordTimeout(registryKey, time.Since(start).Milliseconds())
		} else {
			metrics.RecordRequest(registryKey, time.Since(start).Milliseconds(), false)
		}
		logger.Warn("request failed waiting for first reply",
			zap.String("request_id", requestID), zap.String("registry_key", registryKey), zap.Error(err))
		return nil, err
	}

	out := make(chan Chunk[T])
	go func() {
		defer close(out)
		defer guard.Release()

		emit := func(c Chunk[T]) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		finish := func(success bool) {
			recordBreaker(breaker, success)
			metrics.RecordRequest(registryKey, time.Since(start).Milliseconds(), success)
		}

		if !emit(first) {
			finish(false)
			return
		}
		if first.Err != nil {
			finish(false)
			return
		}

		for {
			select {
			case <-ctx.Done():
				finish(false)
				return
			case c, ok := <-replyCh:
				if !ok {
					finish(true)
					return
				}
				if !emit(c) {
					finish(false)
					return
				}
				if c.Err != nil {
					finish(false)
					return
				}
			}
		}
	}()
	return out, nil
}

// DispatchSingle drives the common request path shared by every
// non-streaming capability method (spec.md §4.7.2/§4.7.3): requestTimeout
// bounds the whole call, and guard/breaker/metrics bookkeeping happens
// exactly once regardless of how the call resolves.
func DispatchSingle[T any](ctx context.Context, logger *zap.Logger, requestID string, start time.Time, requestTimeout time.Duration, guard *PendingRequestsGuard, breaker *CircuitBreaker, metrics *PoolMetrics, registryKey string, replyCh chan Chunk[T]) (T, error) {
	defer guard.Release()

	reply, err := AwaitFirstReply(ctx, requestTimeout, replyCh)
	var zero T
	if err != nil {
		// See DispatchStream: a caller-side cancel shouldn't penalize the
		// worker's breaker, only the pool's own request_timeout_secs firing.
		if ctx.Err() == nil {
			recordBreaker(breaker, false)
		}
		if pe, ok := err.(*PoolError); ok && pe.Kind == ErrTimeout {
			metrics.RecordTimeout(registryKey, time.Since(start).Milliseconds())
		} else {
			metrics.RecordRequest(registryKey, time.Since(start).Milliseconds(), false)
		}
		logger.Warn("request failed", zap.String("request_id", requestID), zap.String("registry_key", registryKey), zap.Error(err))
		return zero, err
	}
	if reply.Err != nil {
		recordBreaker(breaker, false)
		metrics.RecordRequest(registryKey, time.Since(start).Milliseconds(), false)
		logger.Warn("request returned worker error", zap.String("request_id", requestID), zap.String("registry_key", registryKey), zap.Error(reply.Err))
		return zero, reply.Err
	}
	recordBreaker(breaker, true)
	metrics.RecordRequest(registryKey, time.Since(start).Milliseconds(), true)
	logger.Debug("request completed", zap.String("request_id", requestID), zap.String("registry_key", registryKey))
	return reply.Value, nil
}

// Preflight performs the checks every capability public method runs before
// touching a worker (spec.md §4.7): shutdown, circuit breaker, worker
// selection and liveness filtering. It does not enqueue anything; callers
// still need to acquire a pending-request guard and send the request.
func Preflight[W WorkerHandleLike](p *Pool[W], registryKey string) (W, *CircuitBreaker, error) {
	var zero W
	if p.IsShuttingDown() {
		return zero, nil, newPoolError(ErrShuttingDown, "pool is shutting down")
	}

	breaker := p.GetCircuitBreaker(registryKey)
	if !breaker.CanRequest() {
		p.Metrics.CircuitRejections.Add(1)
		return zero, nil, newPoolError(ErrCircuitOpen, registryKey)
	}

	all := p.Workers(registryKey)
	if len(all) == 0 {
		return zero, nil, newPoolError(ErrNoWorkers, registryKey)
	}

	alive := make([]W, 0, len(all))
	for _, w := range all {
		if w.Core().CanAcceptRequests() && w.Core().IsAlive() {
			alive = append(alive, w)
		}
	}
	if len(alive) == 0 {
		return zero, nil, newPoolError(ErrNoAliveWorkers, registryKey)
	}

	worker, ok := SelectWorkerPowerOfTwo(alive)
	if !ok {
		return zero, nil, newPoolError(ErrNoAliveWorkers, registryKey)
	}
	return worker, breaker, nil
}
