package textembedding_test

import (
	"context"
	"testing"
	"time"

	"github.com/paracore-ai/modelpool/capability"
	"github.com/paracore-ai/modelpool/capability/textembedding"
	"github.com/paracore-ai/modelpool/internal/mockmodel"
	"github.com/paracore-ai/modelpool/pool"
)

func newTestPool(t *testing.T) *textembedding.Pool {
	t.Helper()
	p := textembedding.NewPool(pool.DefaultPoolConfig(), pool.PoolDeps{MemoryGovernorConfig: pool.MemoryGovernorConfig{LimitMB: 1000}})
	p.StartMaintenance()
	t.Cleanup(p.Shutdown)
	return p
}

func spawnMock(t *testing.T, p *textembedding.Pool, registryKey string, cfg mockmodel.Config) {
	t.Helper()
	err := textembedding.SpawnWorker(context.Background(), p, registryKey, 64, func(context.Context) (capability.TextEmbeddingCapable, error) {
		return mockmodel.NewTextEmbedding(cfg), nil
	})
	if err != nil {
		t.Fatalf("SpawnWorker: %v", err)
	}
}

func TestEmbedReturnsVector(t *testing.T) {
	p := newTestPool(t)
	spawnMock(t, p, "mock/embed", mockmodel.Config{SuccessRate: 1.0, Dimension: 16})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	vec, err := textembedding.Embed(ctx, p, "mock/embed", "hello", capability.EmbeddingTask("query"))
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 16 {
		t.Errorf("len(vec) = %d, want 16", len(vec))
	}
}

func TestEmbedIsDeterministic(t *testing.T) {
	p := newTestPool(t)
	spawnMock(t, p, "mock/embed", mockmodel.Config{SuccessRate: 1.0, Dimension: 8})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	v1, err := textembedding.Embed(ctx, p, "mock/embed", "same text", capability.EmbeddingTask("query"))
	if err != nil {
		t.Fatal(err)
	}
	v2, err := textembedding.Embed(ctx, p, "mock/embed", "same text", capability.EmbeddingTask("query"))
	if err != nil {
		t.Fatal(err)
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("embedding for identical input differed at index %d: %v vs %v", i, v1, v2)
		}
	}
}

func TestEmbedInjectedFailure(t *testing.T) {
	p := newTestPool(t)
	spawnMock(t, p, "mock/embed", mockmodel.Config{SuccessRate: 0.0, Dimension: 8})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := textembedding.Embed(ctx, p, "mock/embed", "hello", capability.EmbeddingTask("query")); err == nil {
		t.Error("expected an error from an injected model failure")
	}
}

func TestBatchEmbedReturnsOneVectorPerInput(t *testing.T) {
	p := newTestPool(t)
	spawnMock(t, p, "mock/embed", mockmodel.Config{SuccessRate: 1.0, Dimension: 8})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	texts := []string{"a", "b", "c"}
	vecs, err := textembedding.BatchEmbed(ctx, p, "mock/embed", texts, capability.EmbeddingTask("query"))
	if err != nil {
		t.Fatalf("BatchEmbed: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("len(vecs) = %d, want %d", len(vecs), len(texts))
	}
}

func TestMetadataAccessorsForwardToModel(t *testing.T) {
	p := newTestPool(t)
	spawnMock(t, p, "mock/embed", mockmodel.Config{SuccessRate: 1.0, Dimension: 24})

	if dim, err := textembedding.EmbeddingDimension(p, "mock/embed"); err != nil || dim != 24 {
		t.Errorf("EmbeddingDimension() = (%d, %v), want (24, nil)", dim, err)
	}
	if dims, err := textembedding.SupportedDimensions(p, "mock/embed"); err != nil || len(dims) == 0 {
		t.Errorf("SupportedDimensions() = (%v, %v), want a non-empty slice", dims, err)
	}
	if got, err := textembedding.RecommendedBatchSize(p, "mock/embed"); err != nil || got <= 0 {
		t.Errorf("RecommendedBatchSize() = (%d, %v), want a positive size", got, err)
	}
	if got, err := textembedding.MaxBatchSize(p, "mock/embed"); err != nil || got <= 0 {
		t.Errorf("MaxBatchSize() = (%d, %v), want a positive size", got, err)
	}
	if err := textembedding.ValidateInput(p, "mock/embed", ""); err == nil {
		t.Error("ValidateInput(\"\") should reject an empty string per the mock's validator")
	}
	if err := textembedding.ValidateInput(p, "mock/embed", "hello"); err != nil {
		t.Errorf("ValidateInput(\"hello\") = %v, want nil", err)
	}
}

func TestMetadataAccessorsRejectUnknownModel(t *testing.T) {
	p := newTestPool(t)
	if _, err := textembedding.EmbeddingDimension(p, "mock/missing"); err == nil {
		t.Error("EmbeddingDimension on a registry_key with no workers should error")
	}
}
