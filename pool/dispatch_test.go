package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func dispatchTestBreaker(threshold int) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: threshold, Cooldown: time.Second}, "mock/dispatch", nil)
}

// TestDispatchStreamTimeoutRecordsTimeoutNotError covers spec.md §8: a
// genuine request_timeout_secs expiry must increment TotalTimeouts only,
// never TotalErrors, and it must count as a breaker failure since it is
// evidence the worker may be unresponsive.
func TestDispatchStreamTimeoutRecordsTimeoutNotError(t *testing.T) {
	breaker := dispatchTestBreaker(1)
	metrics := NewPoolMetrics(testGovernor(1000), func() map[string]int { return nil })
	var counter atomic.Int64
	guard := AcquirePendingRequestsGuard(&counter)

	replyCh := make(chan Chunk[int])
	_, err := DispatchStream(context.Background(), zap.NewNop(), "req-1", time.Now(), 5*time.Millisecond, guard, breaker, metrics, "mock/dispatch", replyCh)
	if err == nil {
		t.Fatal("expected a timeout error")
	}

	if got := metrics.TotalTimeouts.Load(); got != 1 {
		t.Errorf("TotalTimeouts = %d, want 1", got)
	}
	if got := metrics.TotalErrors.Load(); got != 0 {
		t.Errorf("TotalErrors = %d, want 0 (a timeout must not also count as an error)", got)
	}
	if got := counter.Load(); got != 0 {
		t.Errorf("pending-request counter = %d, want 0 (guard must release on timeout)", got)
	}
	if got := breaker.State(); got != "open" {
		t.Errorf("breaker.State() = %q, want %q (a genuine timeout is evidence the worker is unresponsive)", got, "open")
	}
}

// TestDispatchStreamCallerCancelDoesNotPenalizeBreaker covers the case
// where the caller's own context is cancelled before the worker's first
// reply arrives: the pool never learns anything about the worker's health
// from that, so the breaker must not record it as a failure, unlike a
// genuine request_timeout_secs expiry (see
// TestDispatchStreamTimeoutRecordsTimeoutNotError).
func TestDispatchStreamCallerCancelDoesNotPenalizeBreaker(t *testing.T) {
	breaker := dispatchTestBreaker(1)
	metrics := NewPoolMetrics(testGovernor(1000), func() map[string]int { return nil })
	var counter atomic.Int64
	guard := AcquirePendingRequestsGuard(&counter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	replyCh := make(chan Chunk[int])
	_, err := DispatchStream(ctx, zap.NewNop(), "req-2", time.Now(), time.Second, guard, breaker, metrics, "mock/dispatch", replyCh)
	if err == nil {
		t.Fatal("expected an error when the caller's context is already cancelled")
	}

	if got := counter.Load(); got != 0 {
		t.Errorf("pending-request counter = %d, want 0 (guard must release on caller cancel)", got)
	}
	if got := breaker.State(); got != "closed" {
		t.Errorf("breaker.State() = %q, want %q (a caller cancel is not evidence the worker failed)", got, "closed")
	}
}

// TestDispatchSingleTimeoutRecordsTimeoutNotError is the DispatchSingle
// analogue of TestDispatchStreamTimeoutRecordsTimeoutNotError (spec.md
// §4.7.2: the whole call is bounded by request_timeout_secs).
func TestDispatchSingleTimeoutRecordsTimeoutNotError(t *testing.T) {
	breaker := dispatchTestBreaker(1)
	metrics := NewPoolMetrics(testGovernor(1000), func() map[string]int { return nil })
	var counter atomic.Int64
	guard := AcquirePendingRequestsGuard(&counter)

	replyCh := make(chan Chunk[int])
	_, err := DispatchSingle(context.Background(), zap.NewNop(), "req-3", time.Now(), 5*time.Millisecond, guard, breaker, metrics, "mock/dispatch", replyCh)
	if err == nil {
		t.Fatal("expected a timeout error")
	}

	if got := metrics.TotalTimeouts.Load(); got != 1 {
		t.Errorf("TotalTimeouts = %d, want 1", got)
	}
	if got := metrics.TotalErrors.Load(); got != 0 {
		t.Errorf("TotalErrors = %d, want 0 (a timeout must not also count as an error)", got)
	}
}

// TestDispatchSingleCallerCancelDoesNotPenalizeBreaker is the DispatchSingle
// analogue of TestDispatchStreamCallerCancelDoesNotPenalizeBreaker.
func TestDispatchSingleCallerCancelDoesNotPenalizeBreaker(t *testing.T) {
	breaker := dispatchTestBreaker(1)
	metrics := NewPoolMetrics(testGovernor(1000), func() map[string]int { return nil })
	var counter atomic.Int64
	guard := AcquirePendingRequestsGuard(&counter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	replyCh := make(chan Chunk[int])
	_, err := DispatchSingle(ctx, zap.NewNop(), "req-4", time.Now(), time.Second, guard, breaker, metrics, "mock/dispatch", replyCh)
	if err == nil {
		t.Fatal("expected an error when the caller's context is already cancelled")
	}
	if got := breaker.State(); got != "closed" {
		t.Errorf("breaker.State() = %q, want %q (a caller cancel is not evidence the worker failed)", got, "closed")
	}
}
