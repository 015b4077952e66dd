// Package texttotext is the text-completion capability specialization of
// the pool (spec.md §4.7.1): a streaming prompt surface over a
// capability.TextToTextCapable model. Structured the same way as
// capability/vision (itself grounded on the source's
// capability/registry/pool/capabilities/vision.rs) — the two streaming
// capabilities share one shape, differing only in their request payload and
// chunk type.
package texttotext

import (
	"context"
	"time"

	"github.com/paracore-ai/modelpool/capability"
	"github.com/paracore-ai/modelpool/pool"
)

type promptRequest struct {
	prompt string
	params capability.CompletionParams
	reply  chan pool.Chunk[capability.CompletionChunk]
	done   <-chan struct{}
}

type workerChannels struct {
	prompt chan promptRequest
}

// Handle is this capability's WorkerHandleLike implementation.
type Handle struct {
	core *pool.WorkerHandle
	ch   workerChannels
}

func (h *Handle) Core() *pool.WorkerHandle { return h.core }
func (h *Handle) RegistryKey() string      { return h.core.RegistryKey }

// Pool is a text-to-text-specialized pool.Pool.
type Pool = pool.Pool[*Handle]

// NewPool constructs an empty text-to-text pool.
func NewPool(cfg pool.PoolConfig, deps pool.PoolDeps) *Pool {
	return pool.NewPool[*Handle](cfg, deps)
}

// Loader constructs the loaded model a spawn call registers.
type Loader func(ctx context.Context) (capability.TextToTextCapable, error)

// SpawnWorker loads a text-completion model and registers a worker for it
// under registryKey (spec.md §4.7 spawn_C_worker).
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
		ch:   workerChannels{prompt: make(chan promptRequest, p.Config.PromptQueueCapacity)},
	}

	go runWorker(h, model, healthTx, healthRx)

	alloc.Commit()
	p.RegisterWorker(registryKey, h)
	return nil
}

func runWorker(h *Handle, model capability.TextToTextCapable, healthTx <-chan pool.HealthPing, healthRx chan<- pool.HealthPong) {
	defer close(h.core.Exited)
	core := h.core

	for {
		select {
		case <-core.Shutdown:
			core.State.Store(pool.StateEvicting)
			return

		case <-healthTx:
			select {
			case healthRx <- pool.HealthPong{WorkerID: core.WorkerID, Timestamp: time.Now().Unix(), QueueDepth: len(h.ch.prompt)}:
			default:
			}

		case req := <-h.ch.prompt:
			handlePrompt(core, model, req)
		}
	}
}

func handlePrompt(core *pool.WorkerHandle, model capability.TextToTextCapable, req promptRequest) {
	core.State.Store(pool.StateProcessing)
	core.Touch()
	defer func() {
		core.State.CompareAndSwap(pool.StateProcessing, pool.StateReady)
		core.Touch()
		close(req.reply)
	}()

	chunks, err := model.Prompt(context.Background(), req.prompt, req.params)
	if err != nil {
		sendChunk(req.reply, req.done, pool.Chunk[capability.CompletionChunk]{Err: pool.NewWorkerError(err.Error())})
		return
	}

	discarding := false
	for c := range chunks {
		if discarding {
			continue
		}
		out := pool.Chunk[capability.CompletionChunk]{Value: c}
		if c.Kind == capability.ChunkError {
			out.Err = pool.NewWorkerError(c.Err)
		}
		if !sendChunk(req.reply, req.done, out) {
			discarding = true
		}
	}
}

func sendChunk(reply chan<- pool.Chunk[capability.CompletionChunk], done <-chan struct{}, c pool.Chunk[capability.CompletionChunk]) bool {
	select {
	case reply <- c:
		return true
	case <-done:
		return false
	}
}

// Prompt is the public pool method for the one request variant this
// capability accepts (spec.md §6.2): it selects a worker, enqueues the
// request, and tunnels the resulting chunk sequence back to the caller,
// bounding only the wait for the first chunk with request_timeout_secs.
func Prompt(ctx context.Context, p *Pool, registryKey, prompt string, params capability.CompletionParams) (<-chan pool.Chunk[capability.CompletionChunk], error) {
	start := time.Now()
	ctx, span := pool.StartSpan(ctx, p.Tracer, "pool.texttotext.prompt", registryKey)

	worker, breaker, err := pool.Preflight[*Handle](p, registryKey)
	if err != nil {
		pool.EndSpan(span, 0, err)
		return nil, err
	}

	guard := pool.AcquirePendingRequestsGuard(&worker.Core().PendingReqs)
	worker.Core().Touch()

	reply := make(chan pool.Chunk[capability.CompletionChunk], 1)
	select {
	case worker.ch.prompt <- promptRequest{prompt: prompt, params: params, reply: reply, done: ctx.Done()}:
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
