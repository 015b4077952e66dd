// Package textembedding is the text-embedding capability specialization of
// the pool (spec.md §4.7.2): a non-streaming embed/batch_embed surface over
// a capability.TextEmbeddingCapable model. Shares the vision/text-to-text
// worker-loop shape but with single-result reply ports per
// pool.DispatchSingle rather than streamed chunk sequences.
package textembedding

import (
	"context"
	"time"

	"github.com/paracore-ai/modelpool/capability"
	"github.com/paracore-ai/modelpool/pool"
)

type embedRequest struct {
	text  string
	task  capability.EmbeddingTask
	reply chan pool.Chunk[[]float32]
}

type batchEmbedRequest struct {
	texts []string
	task  capability.EmbeddingTask
	reply chan pool.Chunk[[][]float32]
}

type workerChannels struct {
	embed      chan embedRequest
	batchEmbed chan batchEmbedRequest
}

// Handle is this capability's WorkerHandleLike implementation.
type Handle struct {
	core  *pool.WorkerHandle
	ch    workerChannels
	model capability.TextEmbeddingCapable
}

func (h *Handle) Core() *pool.WorkerHandle { return h.core }
func (h *Handle) RegistryKey() string      { return h.core.RegistryKey }

// Pool is a text-embedding-specialized pool.Pool.
type Pool = pool.Pool[*Handle]

// NewPool constructs an empty text-embedding pool.
func NewPool(cfg pool.PoolConfig, deps pool.PoolDeps) *Pool {
	return pool.NewPool[*Handle](cfg, deps)
}

// Loader constructs the loaded model a spawn call registers.
type Loader func(ctx context.Context) (capability.TextEmbeddingCapable, error)

// SpawnWorker loads a text-embedding model and registers a worker for it
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
			embed:      make(chan embedRequest, p.Config.EmbedQueueCapacity),
			batchEmbed: make(chan batchEmbedRequest, p.Config.BatchQueueCapacity),
		},
		model: model,
	}

	go runWorker(h, model, healthTx, healthRx)

	alloc.Commit()
	p.RegisterWorker(registryKey, h)
	return nil
}

func runWorker(h *Handle, model capability.TextEmbeddingCapable, healthTx <-chan pool.HealthPing, healthRx chan<- pool.HealthPong) {
	defer close(h.core.Exited)
	core := h.core

	for {
		select {
		case <-core.Shutdown:
			core.State.Store(pool.StateEvicting)
			return

		case <-healthTx:
			depth := len(h.ch.embed) + len(h.ch.batchEmbed)
			select {
			case healthRx <- pool.HealthPong{WorkerID: core.WorkerID, Timestamp: time.Now().Unix(), QueueDepth: depth}:
			default:
			}

		case req := <-h.ch.embed:
			core.State.Store(pool.StateProcessing)
			core.Touch()
			vec, err := model.Embed(context.Background(), req.text, req.task)
			if err != nil {
				req.reply <- pool.Chunk[[]float32]{Err: pool.NewWorkerError(err.Error())}
			} else {
				req.reply <- pool.Chunk[[]float32]{Value: vec}
			}
			close(req.reply)
			core.State.CompareAndSwap(pool.StateProcessing, pool.StateReady)
			core.Touch()

		case req := <-h.ch.batchEmbed:
			core.State.Store(pool.StateProcessing)
			core.Touch()
			vecs, err := model.BatchEmbed(context.Background(), req.texts, req.task)
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

// Embed is the public pool method for the embed request variant (spec.md
// §6.2/§4.7.2): request_timeout_secs bounds the whole call.
func Embed(ctx context.Context, p *Pool, registryKey, text string, task capability.EmbeddingTask) ([]float32, error) {
	start := time.Now()
	ctx, span := pool.StartSpan(ctx, p.Tracer, "pool.textembedding.embed", registryKey)

	worker, breaker, err := pool.Preflight[*Handle](p, registryKey)
	if err != nil {
		pool.EndSpan(span, 0, err)
		return nil, err
	}

	guard := pool.AcquirePendingRequestsGuard(&worker.Core().PendingReqs)
	worker.Core().Touch()

	reply := make(chan pool.Chunk[[]float32], 1)
	select {
	case worker.ch.embed <- embedRequest{text: text, task: task, reply: reply}:
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

// BatchEmbed is the public pool method for the batch_embed request variant.
func BatchEmbed(ctx context.Context, p *Pool, registryKey string, texts []string, task capability.EmbeddingTask) ([][]float32, error) {
	start := time.Now()
	ctx, span := pool.StartSpan(ctx, p.Tracer, "pool.textembedding.batch_embed", registryKey)

	worker, breaker, err := pool.Preflight[*Handle](p, registryKey)
	if err != nil {
		pool.EndSpan(span, 0, err)
		return nil, err
	}

	guard := pool.AcquirePendingRequestsGuard(&worker.Core().PendingReqs)
	worker.Core().Touch()

	reply := make(chan pool.Chunk[[][]float32], 1)
	select {
	case worker.ch.batchEmbed <- batchEmbedRequest{texts: texts, task: task, reply: reply}:
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

// anyWorker returns any registered worker for registryKey, for the metadata
// accessors below. Unlike pool.Preflight it does not consult the circuit
// breaker or liveness, since these calls dispatch no work and acquire no
// pending-request guard — they forward to a plain getter on the model
// (spec.md §6.1/SPEC_FULL §6), not a request variant.
func anyWorker(p *Pool, registryKey string) (*Handle, error) {
	ws := p.Workers(registryKey)
	if len(ws) == 0 {
		return nil, pool.NewNoWorkersError(registryKey)
	}
	return ws[0], nil
}

// EmbeddingDimension forwards to the model's embedding_dimension getter
// (spec.md §6.1). Not cached or recomputed by the pool.
func EmbeddingDimension(p *Pool, registryKey string) (int, error) {
	w, err := anyWorker(p, registryKey)
	if err != nil {
		return 0, err
	}
	return w.model.EmbeddingDimension(), nil
}

// SupportedDimensions forwards to the model's supported_dimensions getter.
func SupportedDimensions(p *Pool, registryKey string) ([]int, error) {
	w, err := anyWorker(p, registryKey)
	if err != nil {
		return nil, err
	}
	return w.model.SupportedDimensions(), nil
}

// RecommendedBatchSize forwards to the model's recommended_batch_size getter.
func RecommendedBatchSize(p *Pool, registryKey string) (int, error) {
	w, err := anyWorker(p, registryKey)
	if err != nil {
		return 0, err
	}
	return w.model.RecommendedBatchSize(), nil
}

// MaxBatchSize forwards to the model's max_batch_size getter.
func MaxBatchSize(p *Pool, registryKey string) (int, error) {
	w, err := anyWorker(p, registryKey)
	if err != nil {
		return 0, err
	}
	return w.model.MaxBatchSize(), nil
}

// ValidateInput forwards to the model's input validator, letting a caller
// check a text before spending a round trip through Embed/BatchEmbed.
func ValidateInput(p *Pool, registryKey, text string) error {
	w, err := anyWorker(p, registryKey)
	if err != nil {
		return err
	}
	return w.model.ValidateInput(text)
}
