// Command poolsmoke is a composition-root smoke test for the pool: it
// spawns one mock worker per capability, fires one request through each,
// and prints the pool health snapshot before shutting down cleanly.
// Grounded on the teacher's cmd/worker/main.go composition-root shape
// (config load → logger → collaborators → graceful shutdown), adapted
// from a long-running queue subscriber to a one-shot smoke run.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/paracore-ai/modelpool/capability"
	"github.com/paracore-ai/modelpool/capability/imageembedding"
	"github.com/paracore-ai/modelpool/capability/textembedding"
	"github.com/paracore-ai/modelpool/capability/texttoimage"
	"github.com/paracore-ai/modelpool/capability/texttotext"
	"github.com/paracore-ai/modelpool/capability/vision"
	"github.com/paracore-ai/modelpool/internal/mockmodel"
	"github.com/paracore-ai/modelpool/pool"
)

func main() {
	cfg, err := pool.LoadPoolConfig()
	if err != nil {
		log.Fatal("failed to load pool config:", err)
	}
	circuitCfg, err := pool.LoadCircuitBreakerConfig()
	if err != nil {
		log.Fatal("failed to load circuit breaker config:", err)
	}
	memCfg, err := pool.LoadMemoryGovernorConfig()
	if err != nil {
		log.Fatal("failed to load memory governor config:", err)
	}

	logger := pool.LoggerFromEnv()
	defer logger.Sync()
	logger.Info("starting pool smoke run")

	deps := pool.PoolDeps{
		Logger:               logger,
		MemoryGovernorConfig: memCfg,
		CircuitBreakerConfig: circuitCfg,
	}

	ctx := context.Background()
	mockCfg := mockmodel.Config{Logger: logger, SuccessRate: 1.0, LatencyMS: 10}

	t2t := texttotext.NewPool(cfg, deps)
	t2t.StartMaintenance()
	if err := texttotext.SpawnWorker(ctx, t2t, "mock/t2t-1", 256, func(context.Context) (capability.TextToTextCapable, error) {
		return mockmodel.NewTextToText(mockCfg), nil
	}); err != nil {
		logger.Fatal("spawn text-to-text worker", zap.Error(err))
	}

	embed := textembedding.NewPool(cfg, deps)
	embed.StartMaintenance()
	if err := textembedding.SpawnWorker(ctx, embed, "mock/embed-1", 128, func(context.Context) (capability.TextEmbeddingCapable, error) {
		return mockmodel.NewTextEmbedding(mockCfg), nil
	}); err != nil {
		logger.Fatal("spawn text-embedding worker", zap.Error(err))
	}

	vis := vision.NewPool(cfg, deps)
	vis.StartMaintenance()
	if err := vision.SpawnWorker(ctx, vis, "mock/vision-1", 512, func(context.Context) (capability.VisionCapable, error) {
		return mockmodel.NewVision(mockCfg), nil
	}); err != nil {
		logger.Fatal("spawn vision worker", zap.Error(err))
	}

	img := texttoimage.NewPool(cfg, deps)
	img.StartMaintenance()
	if err := texttoimage.SpawnWorker(ctx, img, "mock/image-1", 1024, func(context.Context) (capability.TextToImageCapable, error) {
		return mockmodel.NewTextToImage(mockCfg), nil
	}); err != nil {
		logger.Fatal("spawn text-to-image worker", zap.Error(err))
	}

	imgEmbed := imageembedding.NewPool(cfg, deps)
	imgEmbed.StartMaintenance()
	if err := imageembedding.SpawnWorker(ctx, imgEmbed, "mock/img-embed-1", 256, func(context.Context) (capability.ImageEmbeddingCapable, error) {
		return mockmodel.NewImageEmbedding(mockCfg), nil
	}); err != nil {
		logger.Fatal("spawn image-embedding worker", zap.Error(err))
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if chunks, err := texttotext.Prompt(reqCtx, t2t, "mock/t2t-1", "hello pool", capability.CompletionParams{}); err != nil {
		logger.Error("prompt failed", zap.Error(err))
	} else {
		for c := range chunks {
			if c.Err != nil {
				logger.Error("prompt chunk error", zap.Error(c.Err))
				break
			}
			fmt.Printf("text-to-text chunk: %+v\n", c.Value)
		}
	}

	if vec, err := textembedding.Embed(reqCtx, embed, "mock/embed-1", "hello pool", ""); err != nil {
		logger.Error("embed failed", zap.Error(err))
	} else {
		fmt.Printf("text-embedding dims: %d\n", len(vec))
	}

	if chunks, err := vision.DescribeImage(reqCtx, vis, "mock/vision-1", "/tmp/fake.png", "what is this?"); err != nil {
		logger.Error("describe failed", zap.Error(err))
	} else {
		for c := range chunks {
			if c.Err != nil {
				logger.Error("describe chunk error", zap.Error(c.Err))
				break
			}
			fmt.Printf("vision chunk: %q (done=%v)\n", c.Value.Text, c.Value.Done)
		}
	}

	if data, err := texttoimage.Generate(reqCtx, img, "mock/image-1", "a pool of workers", capability.ImageGenParams{}); err != nil {
		logger.Error("generate failed", zap.Error(err))
	} else {
		fmt.Printf("text-to-image bytes: %d\n", len(data))
	}

	if vec, err := imageembedding.EmbedImage(reqCtx, imgEmbed, "mock/img-embed-1", "/tmp/fake.png"); err != nil {
		logger.Error("embed image failed", zap.Error(err))
	} else {
		fmt.Printf("image-embedding dims: %d\n", len(vec))
	}

	fmt.Printf("text-to-text health: %+v\n", t2t.Health())

	if metricsText, err := t2t.Metrics.Render(); err != nil {
		logger.Error("render metrics", zap.Error(err))
	} else {
		fmt.Println(metricsText)
	}

	t2t.Shutdown()
	embed.Shutdown()
	vis.Shutdown()
	img.Shutdown()
	imgEmbed.Shutdown()
	logger.Info("pool smoke run complete")
}
