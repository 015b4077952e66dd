// Package texttoimage is the image-generation capability specialization of
// the pool (spec.md §4.7.3): a single-reply generate surface over a
// capability.TextToImageCapable model, whose payload is a byte buffer —
// otherwise identical in shape to capability/textembedding.
package texttoimage

import (
	"context"
	"time"

	"github.com/paracore-ai/modelpool/capability"
	"github.com/paracore-ai/modelpool/pool"
)

type generateRequest struct {
	prompt string
	params capability.ImageGenParams
	reply  chan pool.Chunk[[]byte]
}

type workerChannels struct {
	generate chan generateRequest
}

// Handle is this capability's WorkerHandleLike implementation.
type Handle struct {
	core *pool.WorkerHandle
	ch   workerChannels
}

func (h *Handle) Core() *pool.WorkerHandle { return h.core }
func (h *Handle) RegistryKey() string      { return h.core.RegistryKey }

// Pool is a text-to-image-specialized pool.Pool.
type Pool = pool.Pool[*Handle]

// NewPool constructs an empty text-to-image pool.
func NewPool(cfg pool.PoolConfig, deps pool.PoolDeps) *Pool {
	return pool.NewPool[*Handle](cfg, deps)
}

// Loader constructs the loaded model a spawn call registers.
type Loader func(ctx context.Context) (capability.TextToImageCapable, error)

// SpawnWorker loads an image-generation model and registers a worker for it
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
		ch:   workerChannels{generate: make(chan generateRequest, p.Config.ImageGenQueueCapacity)},
	}

	go runWorker(h, model, healthTx, healthRx)

	alloc.Commit()
	p.RegisterWorker(registryKey, h)
	return nil
}

func runWorker(h *Handle, model capability.TextToImageCapable, healthTx <-chan pool.HealthPing, healthRx chan<- pool.HealthPong) {
	defer close(h.core.Exited)
	core := h.core

	for {
		select {
		case <-core.Shutdown:
			core.State.Store(pool.StateEvicting)
			return

		case <-healthTx:
			select {
			case healthRx <- pool.HealthPong{WorkerID: core.WorkerID, Timestamp: time.Now().Unix(), QueueDepth: len(h.ch.generate)}:
			default:
			}

		case req := <-h.ch.generate:
			core.State.Store(pool.StateProcessing)
			core.Touch()
			img, err := model.Generate(context.Background(), req.prompt, req.params)
			if err != nil {
				req.reply <- pool.Chunk[[]byte]{Err: pool.NewWorkerError(err.Error())}
			} else {
				req.reply <- pool.Chunk[[]byte]{Value: img}
			}
			close(req.reply)
			core.State.CompareAndSwap(pool.StateProcessing, pool.StateReady)
			core.Touch()
		}
	}
}

// Generate is the public pool method for the generate request variant
// (spec.md §6.2/§4.7.3): request_timeout_secs bounds the whole call.
func Generate(ctx context.Context, p *Pool, registryKey, prompt string, params capability.ImageGenParams) ([]byte, error) {
	start := time.Now()
	ctx, span := pool.StartSpan(ctx, p.Tracer, "pool.texttoimage.generate", registryKey)

	worker, breaker, err := pool.Preflight[*Handle](p, registryKey)
	if err != nil {
		pool.EndSpan(span, 0, err)
		return nil, err
	}

	guard := pool.AcquirePendingRequestsGuard(&worker.Core().PendingReqs)
	worker.Core().Touch()

	reply := make(chan pool.Chunk[[]byte], 1)
	select {
	case worker.ch.generate <- generateRequest{prompt: prompt, params: params, reply: reply}:
	case <-ctx.Done():
		guard.Release()
		err := pool.NewChannelClosedError("context cancelled before request was enqueued")
		pool.EndSpan(span, worker.core.WorkerID, err)
		return nil, err
	}

	img, err := pool.DispatchSingle(ctx, p.Logger, pool.NewRequestID(), start, p.Config.RequestTimeout(), guard, breaker, p.Metrics, registryKey, reply)
	pool.EndSpan(span, worker.core.WorkerID, err)
	return img, err
}
