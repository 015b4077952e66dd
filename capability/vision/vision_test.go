package vision_test

import (
	"context"
	"testing"
	"time"

	"github.com/paracore-ai/modelpool/capability"
	"github.com/paracore-ai/modelpool/capability/vision"
	"github.com/paracore-ai/modelpool/internal/mockmodel"
	"github.com/paracore-ai/modelpool/pool"
)

func newTestPool(t *testing.T) *vision.Pool {
	t.Helper()
	p := vision.NewPool(pool.DefaultPoolConfig(), pool.PoolDeps{MemoryGovernorConfig: pool.MemoryGovernorConfig{LimitMB: 1000}})
	p.StartMaintenance()
	t.Cleanup(p.Shutdown)
	return p
}

func spawnMock(t *testing.T, p *vision.Pool, registryKey string, cfg mockmodel.Config) {
	t.Helper()
	err := vision.SpawnWorker(context.Background(), p, registryKey, 128, func(context.Context) (capability.VisionCapable, error) {
		return mockmodel.NewVision(cfg), nil
	})
	if err != nil {
		t.Fatalf("SpawnWorker: %v", err)
	}
}

func TestDescribeImageStreamsToDone(t *testing.T) {
	p := newTestPool(t)
	spawnMock(t, p, "mock/vision", mockmodel.Config{SuccessRate: 1.0})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	chunks, err := vision.DescribeImage(ctx, p, "mock/vision", "/tmp/a.png", "what is it?")
	if err != nil {
		t.Fatalf("DescribeImage: %v", err)
	}

	sawDone := false
	for c := range chunks {
		if c.Err != nil {
			t.Fatalf("unexpected chunk error: %v", c.Err)
		}
		if c.Value.Done {
			sawDone = true
		}
	}
	if !sawDone {
		t.Error("expected a terminal Done chunk")
	}
}

func TestDescribeURLUsesURLPath(t *testing.T) {
	p := newTestPool(t)
	spawnMock(t, p, "mock/vision", mockmodel.Config{SuccessRate: 1.0})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	chunks, err := vision.DescribeURL(ctx, p, "mock/vision", "https://example.com/a.png", "describe")
	if err != nil {
		t.Fatalf("DescribeURL: %v", err)
	}
	for c := range chunks {
		if c.Err != nil {
			t.Fatalf("unexpected chunk error: %v", c.Err)
		}
	}
}

func TestDescribeImageInjectedFailure(t *testing.T) {
	p := newTestPool(t)
	spawnMock(t, p, "mock/vision", mockmodel.Config{SuccessRate: 0.0})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	chunks, err := vision.DescribeImage(ctx, p, "mock/vision", "/tmp/a.png", "what is it?")
	if err != nil {
		t.Fatalf("DescribeImage: %v", err)
	}
	sawErr := false
	for c := range chunks {
		if c.Err != nil {
			sawErr = true
		}
	}
	if !sawErr {
		t.Error("expected the injected model failure to surface as an Err chunk")
	}
}
