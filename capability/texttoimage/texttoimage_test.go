package texttoimage_test

import (
	"context"
	"testing"
	"time"

	"github.com/paracore-ai/modelpool/capability"
	"github.com/paracore-ai/modelpool/capability/texttoimage"
	"github.com/paracore-ai/modelpool/internal/mockmodel"
	"github.com/paracore-ai/modelpool/pool"
)

func newTestPool(t *testing.T) *texttoimage.Pool {
	t.Helper()
	p := texttoimage.NewPool(pool.DefaultPoolConfig(), pool.PoolDeps{MemoryGovernorConfig: pool.MemoryGovernorConfig{LimitMB: 1000}})
	p.StartMaintenance()
	t.Cleanup(p.Shutdown)
	return p
}

func spawnMock(t *testing.T, p *texttoimage.Pool, registryKey string, cfg mockmodel.Config) {
	t.Helper()
	err := texttoimage.SpawnWorker(context.Background(), p, registryKey, 256, func(context.Context) (capability.TextToImageCapable, error) {
		return mockmodel.NewTextToImage(cfg), nil
	})
	if err != nil {
		t.Fatalf("SpawnWorker: %v", err)
	}
}

func TestGenerateReturnsBytes(t *testing.T) {
	p := newTestPool(t)
	spawnMock(t, p, "mock/image", mockmodel.Config{SuccessRate: 1.0})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := texttoimage.Generate(ctx, p, "mock/image", "a red barn", capability.ImageGenParams{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected non-empty image bytes")
	}
}

func TestGenerateInjectedFailure(t *testing.T) {
	p := newTestPool(t)
	spawnMock(t, p, "mock/image", mockmodel.Config{SuccessRate: 0.0})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := texttoimage.Generate(ctx, p, "mock/image", "a red barn", capability.ImageGenParams{}); err == nil {
		t.Error("expected an error from an injected model failure")
	}
}

func TestGenerateCircuitOpensAfterRepeatedFailures(t *testing.T) {
	p := newTestPool(t)
	spawnMock(t, p, "mock/flaky", mockmodel.Config{SuccessRate: 0.0})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	breaker := p.GetCircuitBreaker("mock/flaky")
	for breaker.State() == "closed" {
		if _, err := texttoimage.Generate(ctx, p, "mock/flaky", "x", capability.ImageGenParams{}); err == nil {
			t.Fatal("mock configured for SuccessRate 0 returned no error")
		}
	}

	_, err := texttoimage.Generate(ctx, p, "mock/flaky", "x", capability.ImageGenParams{})
	pe, ok := err.(*pool.PoolError)
	if !ok || pe.Kind != pool.ErrCircuitOpen {
		t.Fatalf("err = %v, want *pool.PoolError{Kind: ErrCircuitOpen} once the breaker opens", err)
	}
}
