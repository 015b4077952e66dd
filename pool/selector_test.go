package pool

import "testing"

// selectorTestHandle is a minimal WorkerHandleLike for exercising the
// selector without pulling in a capability package.
type selectorTestHandle struct {
	core *WorkerHandle
}

func (h *selectorTestHandle) Core() *WorkerHandle { return h.core }
func (h *selectorTestHandle) RegistryKey() string { return h.core.RegistryKey }

func newSelectorHandle(pending int64) *selectorTestHandle {
	h := &selectorTestHandle{core: newTestHandle()}
	h.core.PendingReqs.Store(pending)
	return h
}

func TestSelectWorkerPowerOfTwoEmpty(t *testing.T) {
	_, ok := SelectWorkerPowerOfTwo([]*selectorTestHandle{})
	if ok {
		t.Error("selecting from zero workers should return ok=false")
	}
}

func TestSelectWorkerPowerOfTwoSingle(t *testing.T) {
	only := newSelectorHandle(5)
	got, ok := SelectWorkerPowerOfTwo([]*selectorTestHandle{only})
	if !ok || got != only {
		t.Error("selecting from exactly one worker should return that worker unconditionally")
	}
}

// TestSelectWorkerPowerOfTwoBias is spec.md §8 S6: over many trials, the
// least-loaded worker in a mixed-load population should win about twice
// the share a uniform single pick would give it.
func TestSelectWorkerPowerOfTwoBias(t *testing.T) {
	light := newSelectorHandle(0)
	heavy1 := newSelectorHandle(10)
	heavy2 := newSelectorHandle(10)
	heavy3 := newSelectorHandle(10)
	workers := []*selectorTestHandle{light, heavy1, heavy2, heavy3}

	const trials = 10000
	lightWins := 0
	for i := 0; i < trials; i++ {
		w, ok := SelectWorkerPowerOfTwo(workers)
		if !ok {
			t.Fatal("SelectWorkerPowerOfTwo returned ok=false with a non-empty worker set")
		}
		if w == light {
			lightWins++
		}
	}

	// With 4 workers, a uniform single pick would give ~25%. Power of Two
	// Choices over two distinct indices picks the light worker whenever
	// either sample lands on it: 1 - (3/4)(2/3) = 1/2. A lower bound of 40%
	// sits far below that expectation, avoiding flakiness, while still
	// catching a selector that degraded to uniform random.
	if lightWins < trials*2/5 {
		t.Errorf("lightly-loaded worker won %d/%d selections, want at least 40%% (P2C bias, expected ~50%%)", lightWins, trials)
	}
}

func TestSelectWorkerPowerOfTwoTieReturnsOneOfTheCandidates(t *testing.T) {
	a := newSelectorHandle(3)
	b := newSelectorHandle(3)
	workers := []*selectorTestHandle{a, b}

	for i := 0; i < 200; i++ {
		w, ok := SelectWorkerPowerOfTwo(workers)
		if !ok {
			t.Fatal("expected a selection")
		}
		if w != a && w != b {
			t.Fatal("selected worker must be one of the two candidates")
		}
	}
}
