package pool

import "math/rand/v2"

// SelectWorkerPowerOfTwo implements spec.md §4.3. Zero workers selects
// nothing; one worker is returned unconditionally; two or more samples two
// distinct indices uniformly and returns the less-loaded of the pair,
// breaking ties toward the first sampled index. O(1): exactly two atomic
// loads, no scan of the full slice.
func SelectWorkerPowerOfTwo[W WorkerHandleLike](workers []W) (W, bool) {
	var zero W
	switch len(workers) {
	case 0:
		return zero, false
	case 1:
		return workers[0], true
	}

	n := len(workers)
	idx1 := rand.IntN(n)
	idx2 := rand.IntN(n)
	for idx2 == idx1 {
		idx2 = rand.IntN(n)
	}

	w1, w2 := workers[idx1], workers[idx2]
	load1 := w1.Core().PendingReqs.Load()
	load2 := w2.Core().PendingReqs.Load()

	if load1 <= load2 {
		return w1, true
	}
	return w2, true
}
