// Package imageembedding is the image-embedding capability specialization
// of the pool (spec.md §4.7.2): a non-streaming embed_image/batch surface
// over a capability.ImageEmbeddingCapable model.
package imageembedding

import (
	"context"
	"time"

	"github.com/paracore-ai/modelpool/capability"
	"github.com/paracore-ai/modelpool/pool"
)

type embedImageRequest struct {
	path  string
	reply chan pool.Chunk[[]float32]
}

type batchEmbedImageRequest struct {
	paths []string
	reply chan pool.Chunk[[][]float32]
}

type workerChannels struct {
	embedImage      chan embedImageRequest
	batchEmbedImage chan batchEmbedImageRequest
}

// Handle is this capability's WorkerHandleLike implementation.
type Handle struct {
	core *pool.WorkerHandle
	ch   workerChannels
}

func (h *Handle) Core() *pool.WorkerHandle { return h.core }
func (h *Handle) RegistryKey() string      { return h.core.RegistryKey }

// Pool is an image-embedding-specialized pool.Pool.
type Pool = pool.Pool[*Handle]

// NewPool constructs an empty image-embedding pool.
func NewPool(cfg pool.PoolConfig, deps pool.PoolDeps) *Pool {
	return pool.NewPool[*Handle](cfg, deps)
}

// Loader constructs the loaded model a spawn call registers.
type Loader func(ctx context.Context) (capability.ImageEmbeddingCapable, error)

// SpawnWorker loads an image-embedding model and registers a worker for it
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
		ch: workerChannels{
			embedImage:      make(chan embedImageRequest, p.Config.ImageEmbedQueueCapacity),
			batchEmbedImage: make(chan batchEmbedImageRequest, p.Config.ImageEmbedQueueCapacity),
		},
	}

	go runWorker(h, model, healthTx, healthRx)

	alloc.Commit()
	p.RegisterWorker(registryKey, h)
	return nil
}

func runWorker(h *Handle, model capability.ImageEmbeddingCapable, healthTx <-chan pool.HealthPing, healthRx chan<- pool.HealthPong) {
	defer close(h.core.Exited)
	core := h.core

	for {
		select {
		case <-core.Shutdown:
			core.State.Store(pool.StateEvicting)
			return

		case <-healthTx:
			depth := len(h.ch.embedImage) + len(h.ch.batchEmbedImage)
			select {
			case healthRx <- pool.HealthPong{WorkerID: core.WorkerID, Timestamp: time.Now().Unix(), QueueDepth: depth}:
			default:
			}

		case req := <-h.ch.embedImage:
			core.State.Store(pool.StateProcessing)
			core.Touch()
			vec, err := model.EmbedImage(context.Background(), req.path)
			if err != nil {
				req.reply <- pool.Chunk[[]float32]{Err: pool.NewWorkerError(err.Error())}
			} else {
				req.reply <- pool.Chunk[[]float32]{Value: vec}
			}
			close(req.reply)
			core.State.CompareAndSwap(pool.StateProcessing, pool.StateReady)
			core.Touch()

		case req := <-h.ch.batchEmbedImage:
			core.State.Store(pool.StateProcessing)
			core.Touch()
			vecs, err := model.BatchEmbedImage(context.Background(), req.paths)
			if err != nil {
				req.reply <- pool.Chunk[[][]float32]{Err: pool.NewWorkerError(err.Error())}
			} else {
				req.reply <- pool.Chunk[[][]float32]{Value: vecs}
			}
			close(req.reply)
			core.State.CompareAndSwap(pool.StateProcessing, pool.StateReady)
			core.Touch()
		}
	}
}

// EmbedImage is the public pool method for the embed_image request variant.
func EmbedImage(ctx context.Context, p *Pool, registryKey, path string) ([]float32, error) {
	start := time.Now()
	ctx, span := pool.StartSpan(ctx, p.Tracer, "pool.imageembedding.embed_image", registryKey)

	worker, breaker, err := pool.Preflight[*Handle](p, registryKey)
	if err != nil {
		pool.EndSpan(span, 0, err)
		return nil, err
	}

	guard := pool.AcquirePendingRequestsGuard(&worker.Core().PendingReqs)
	worker.Core().Touch()

	reply := make(chan pool.Chunk[[]float32], 1)
	select {
	case worker.ch.embedImage <- embedImageRequest{path: path, reply: reply}:
	case <-ctx.Done():
		guard.Release()
		err := pool.NewChannelClosedError("context cancelled before request was enqueued")
		pool.EndSpan(span, worker.core.WorkerID, err)
		return nil, err
	}

	vec, err := pool.DispatchSingle(ctx, p.Logger, pool.NewRequestID(), start, p.Config.RequestTimeout(), guard, breaker, p.Metrics, registryKey, reply)
	pool.EndSpan(span, worker.core.WorkerID, err)
	return vec, err
}

// BatchEmbedImage is the public pool method for the batch request variant.
func BatchEmbedImage(ctx context.Context, p *Pool, registryKey string, paths []string) ([][]float32, error) {
	start := time.Now()
	ctx, span := pool.StartSpan(ctx, p.Tracer, "pool.imageembedding.batch_embed_image", registryKey)

	worker, breaker, err := pool.Preflight[*Handle](p, registryKey)
	if err != nil {
		pool.EndSpan(span, 0, err)
		return nil, err
	}

	guard := pool.AcquirePendingRequestsGuard(&worker.Core().PendingReqs)
	worker.Core().Touch()

	reply := make(chan pool.Chunk[[][]float32], 1)
	select {
	case worker.ch.batchEmbedImage <- batchEmbedImageRequest{paths: paths, reply: reply}:
	case <-ctx.Done():
		guard.Release()
		err := pool.NewChannelClosedError("context cancelled before request was enqueued")
		pool.EndSpan(span, worker.core.WorkerID, err)
		return nil, err
	}

	vecs, err := pool.DispatchSingle(ctx, p.Logger, pool.NewRequestID(), start, p.Config.RequestTimeout(), guard, breaker, p.Metrics, registryKey, reply)
	pool.EndSpan(span, worker.core.WorkerID, err)
	return vecs, err
}
