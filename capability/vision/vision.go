// Package vision is the vision capability specialization of the pool
// (spec.md §4.7.1): a streaming describe_image/describe_url surface over a
// capability.VisionCapable model. Grounded directly on the source's
// capability/registry/pool/capabilities/vision.rs — request variants,
// worker channel bundle, worker loop, spawn entry point and public pool
// methods all mirror that file's shape, translated into Go's
// channel/select idiom in place of Rust's tokio::select!.
package vision

import (
	"context"
	"time"

	"github.com/paracore-ai/modelpool/capability"
	"github.com/paracore-ai/modelpool/pool"
)

// describeRequest is the single request variant this capability accepts:
// either a local path or a remote URL is set, never both, distinguished by
// isURL. done is the calling context's Done channel, letting the worker
// notice a dropped stream without the pool ever closing a channel it
// doesn't own (spec.md §5 Cancellation).
type describeRequest struct {
	target string
	isURL  bool
	query  string
	reply  chan pool.Chunk[capability.StringChunk]
	done   <-chan struct{}
}

// workerChannels is the channel bundle a vision worker task selects over,
// alongside the common {shutdown, health} channels carried on WorkerHandle
// itself (spec.md §3 WorkerHandle, §4.7 worker channel bundle).
type workerChannels struct {
	describe chan describeRequest
}

// Handle is this capability's WorkerHandleLike implementation: the shared
// core plus the describe inbox.
type Handle struct {
	core *pool.WorkerHandle
	ch   workerChannels
}

func (h *Handle) Core() *pool.WorkerHandle { return h.core }
func (h *Handle) RegistryKey() string      { return h.core.RegistryKey }

// Pool is a vision-specialized pool.Pool.
type Pool = pool.Pool[*Handle]

// NewPool constructs an empty vision pool.
func NewPool(cfg pool.PoolConfig, deps pool.PoolDeps) *Pool {
	return pool.NewPool[*Handle](cfg, deps)
}

// Loader constructs the loaded model a spawn call registers. Deferred so
// the caller controls exactly when the (potentially slow) load runs, after
// admission has already succeeded (spec.md §4.7 spawn entry point).
type Loader func(ctx context.Context) (capability.VisionCapable, error)

// SpawnWorker loads a vision model and registers a worker for it under
// registryKey (spec.md §4.7 spawn_C_worker). On loader failure the
// allocation claim is released and no handle is registered.
func SpawnWorker(ctx context.Context, p *Pool, registryKey string, perWorkerMB int64, loader Loader) error {
	spawnGuard, alloc, err := p.SpawnPreflight(registryKey, perWorkerMB)
	if err != nil {
		return err
	}
	defer spawnGuard.Release()

	model, err := loader(ctx)
	if err != nil {
		alloc.Release()
		return pool.NewLoadFailedError(err.Error())
	}

	healthTx := make(chan pool.HealthPing)
	healthRx := make(chan pool.HealthPong, 1)
	core := pool.NewWorkerHandle(p.NextWorkerID(), registryKey, perWorkerMB, healthTx, healthRx)
	core.State.Store(pool.StateReady)

	h := &Handle{
		core: core,
		ch:   workerChannels{describe: make(chan describeRequest, p.Config.VisionQueueCapacity)},
	}

	go runWorker(h, model, healthTx, healthRx)

	alloc.Commit()
	p.RegisterWorker(registryKey, h)
	return nil
}

// runWorker is the worker loop of spec.md §4.7: a single-threaded
// cooperative selector over {describe inbox, health ping, shutdown}.
func runWorker(h *Handle, model capability.VisionCapable, healthTx <-chan pool.HealthPing, healthRx chan<- pool.HealthPong) {
	defer close(h.core.Exited)
	core := h.core

	for {
		select {
		case <-core.Shutdown:
			core.State.Store(pool.StateEvicting)
			return

		case <-healthTx:
			select {
			case healthRx <- pool.HealthPong{WorkerID: core.WorkerID, Timestamp: time.Now().Unix(), QueueDepth: len(h.ch.describe)}:
			default:
			}

		case req := <-h.ch.describe:
			handleDescribe(core, model, req)
		}
	}
}

func handleDescribe(core *pool.WorkerHandle, model capability.VisionCapable, req describeRequest) {
	core.State.Store(pool.StateProcessing)
	core.Touch()
	defer func() {
		core.State.CompareAndSwap(pool.StateProcessing, pool.StateReady)
		core.Touch()
		close(req.reply)
	}()

	var chunks <-chan capability.StringChunk
	var err error
	ctx := context.Background()
	if req.isURL {
		chunks, err = model.DescribeURL(ctx, req.target, req.query)
	} else {
		chunks, err = model.DescribeImage(ctx, req.target, req.query)
	}
	if err != nil {
		sendChunk(req.reply, req.done, pool.Chunk[capability.StringChunk]{Err: pool.NewWorkerError(err.Error())})
		return
	}

	discarding := false
	for c := range chunks {
		if discarding {
			continue
		}
		if c.Err != "" {
			sendChunk(req.reply, req.done, pool.Chunk[capability.StringChunk]{Err: pool.NewWorkerError(c.Err)})
			discarding = true
			continue
		}
		if !sendChunk(req.reply, req.done, pool.Chunk[capability.StringChunk]{Value: c}) {
			discarding = true
		}
	}
}

// sendChunk forwards one chunk to the reply port, stopping (and letting the
// caller discard remaining chunks) if done fires first — the worker
// noticing a dropped stream without the pool ever closing a channel it
// doesn't own (spec.md §5 Cancellation).
func sendChunk(reply chan<- pool.Chunk[capability.StringChunk], done <-chan struct{}, c pool.Chunk[capability.StringChunk]) bool {
	select {
	case reply <- c:
		return true
	case <-done:
		return false
	}
}

// dispatch is the shared body of DescribeImage and DescribeURL, the public
// pool methods for the describe request (spec.md §6.2/§4.7): check shutdown and circuit breaker,
// select a worker via Power of Two Choices, acquire a pending-request
// guard, enqueue, and tunnel the worker's lazy chunk sequence back to the
// caller with a timeout on the first reply only.
func dispatch(ctx context.Context, p *Pool, registryKey, target string, isURL bool, query string) (<-chan pool.Chunk[capability.StringChunk], error) {
	start := time.Now()
	ctx, span := pool.StartSpan(ctx, p.Tracer, "pool.vision.describe", registryKey)

	worker, breaker, err := pool.Preflight[*Handle](p, registryKey)
	if err != nil {
		pool.EndSpan(span, 0, err)
		return nil, err
	}

	guard := pool.AcquirePendingRequestsGuard(&worker.Core().PendingReqs)
	worker.Core().Touch()

	reply := make(chan pool.Chunk[capability.StringChunk], 1)
	select {
	case worker.ch.describe <- describeRequest{target: target, isURL: isURL, query: query, reply: reply, done: ctx.Done()}:
	case <-ctx.Done():
		guard.Release()
		err := pool.NewChannelClosedError("context cancelled before request was enqueued")
		pool.EndSpan(span, worker.core.WorkerID, err)
		return nil, err
	}

	ch, err := pool.DispatchStream(ctx, p.Logger, pool.NewRequestID(), start, p.Config.RequestTimeout(), guard, breaker, p.Metrics, registryKey, reply)
	pool.EndSpan(span, worker.core.WorkerID, err)
	return ch, err
}

// DescribeImage describes a local image file.
func DescribeImage(ctx context.Context, p *Pool, registryKey, path, query string) (<-chan pool.Chunk[capability.StringChunk], error) {
	return dispatch(ctx, p, registryKey, path, false, query)
}

// DescribeURL describes an image fetched from a remote URL.
func DescribeURL(ctx context.Context, p *Pool, registryKey, url, query string) (<-chan pool.Chunk[capability.StringChunk], error) {
	return dispatch(ctx, p, registryKey, url, true, query)
}
