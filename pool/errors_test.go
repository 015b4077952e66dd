package pool

import (
	"errors"
	"testing"
)

func TestPoolErrorString(t *testing.T) {
	e := newPoolError(ErrTimeout, "worker took too long")
	want := "timeout: worker took too long"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	bare := newPoolError(ErrNoWorkers, "")
	if got := bare.Error(); got != "no_workers" {
		t.Errorf("Error() with no detail = %q, want %q", got, "no_workers")
	}
}

func TestPoolErrorIsMatchesOnKindOnly(t *testing.T) {
	a := &PoolError{Kind: ErrCircuitOpen, Detail: "model/a"}
	b := &PoolError{Kind: ErrCircuitOpen, Detail: "model/b"}
	if !errors.Is(a, b) {
		t.Error("two PoolErrors with the same Kind should satisfy errors.Is regardless of Detail")
	}

	c := &PoolError{Kind: ErrTimeout}
	if errors.Is(a, c) {
		t.Error("PoolErrors with different Kinds should not satisfy errors.Is")
	}
}

func TestIsPreflightRejection(t *testing.T) {
	preflight := []PoolErrorKind{ErrShuttingDown, ErrNoWorkers, ErrNoAliveWorkers, ErrCircuitOpen, ErrMemoryRejected}
	for _, k := range preflight {
		e := &PoolError{Kind: k}
		if !e.IsPreflightRejection() {
			t.Errorf("%s should be a preflight rejection", k)
		}
	}

	notPreflight := []PoolErrorKind{ErrTimeout, ErrChannelClosed, ErrLoadFailed, ErrWorkerError}
	for _, k := range notPreflight {
		e := &PoolError{Kind: k}
		if e.IsPreflightRejection() {
			t.Errorf("%s should not be a preflight rejection", k)
		}
	}
}

func TestIsTransportFailure(t *testing.T) {
	for _, k := range []PoolErrorKind{ErrChannelClosed, ErrTimeout} {
		e := &PoolError{Kind: k}
		if !e.IsTransportFailure() {
			t.Errorf("%s should be a transport failure", k)
		}
	}
	if (&PoolError{Kind: ErrWorkerError}).IsTransportFailure() {
		t.Error("ErrWorkerError should not be a transport failure: the worker stays live")
	}
}
