package pool

import (
	"testing"
	"time"
)

func newTestHandle() *WorkerHandle {
	tx := make(chan HealthPing, 1)
	rx := make(chan HealthPong, 1)
	return NewWorkerHandle(1, "mock/model", 64, tx, rx)
}

func TestNewWorkerHandleStartsSpawningAndTouched(t *testing.T) {
	h := newTestHandle()
	if got := h.State.Load(); got != StateSpawning {
		t.Errorf("state = %s, want spawning", got)
	}
	if h.LastUsed.Load() == 0 {
		t.Error("LastUsed should be stamped at construction")
	}
}

func TestSignalShutdownIsIdempotent(t *testing.T) {
	h := newTestHandle()
	h.SignalShutdown()
	h.SignalShutdown() // must not panic on double-close

	select {
	case <-h.Shutdown:
	default:
		t.Fatal("Shutdown channel should be closed")
	}
}

func TestIsAliveRespondsToPong(t *testing.T) {
	tx := make(chan HealthPing, 1)
	rx := make(chan HealthPong, 1)
	h := NewWorkerHandle(1, "mock/model", 64, tx, rx)

	go func() {
		<-tx
		rx <- HealthPong{WorkerID: 1, Timestamp: time.Now().Unix()}
	}()

	if !h.IsAlive() {
		t.Error("IsAlive() should be true after a prompt pong")
	}
}

func TestIsAliveStaleWithoutPong(t *testing.T) {
	tx := make(chan HealthPing, 1)
	rx := make(chan HealthPong, 1)
	h := NewWorkerHandle(1, "mock/model", 64, tx, rx)
	h.HealthTimeout = time.Millisecond
	h.LastUsed.Store(time.Now().Add(-time.Hour).Unix())

	if h.IsAlive() {
		t.Error("IsAlive() should be false once LastUsed exceeds HealthTimeout with no pong")
	}
	if got := h.State.Load(); got != StateDead {
		t.Errorf("state after stale IsAlive = %s, want dead", got)
	}
}

func TestPendingRequestsGuardReleaseIsIdempotent(t *testing.T) {
	h := newTestHandle()
	guard := AcquirePendingRequestsGuard(&h.PendingReqs)
	if h.PendingReqs.Load() != 1 {
		t.Fatalf("PendingReqs = %d, want 1 after acquire", h.PendingReqs.Load())
	}

	guard.Release()
	guard.Release() // must not double-decrement

	if h.PendingReqs.Load() != 0 {
		t.Errorf("PendingReqs = %d, want 0 after release", h.PendingReqs.Load())
	}
}
