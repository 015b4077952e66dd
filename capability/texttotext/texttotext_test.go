package texttotext_test

import (
	"context"
	"testing"
	"time"

	"github.com/paracore-ai/modelpool/capability"
	"github.com/paracore-ai/modelpool/capability/texttotext"
	"github.com/paracore-ai/modelpool/internal/mockmodel"
	"github.com/paracore-ai/modelpool/pool"
)

func newTestPool(t *testing.T) *texttotext.Pool {
	t.Helper()
	cfg := pool.DefaultPoolConfig()
	p := texttotext.NewPool(cfg, pool.PoolDeps{MemoryGovernorConfig: pool.MemoryGovernorConfig{LimitMB: 1000}})
	p.StartMaintenance()
	t.Cleanup(p.Shutdown)
	return p
}

func spawnMock(t *testing.T, p *texttotext.Pool, registryKey string, cfg mockmodel.Config) {
	t.Helper()
	err := texttotext.SpawnWorker(context.Background(), p, registryKey, 64, func(context.Context) (capability.TextToTextCapable, error) {
		return mockmodel.NewTextToText(cfg), nil
	})
	if err != nil {
		t.Fatalf("SpawnWorker: %v", err)
	}
}

func TestPromptStreamsChunksToComplete(t *testing.T) {
	p := newTestPool(t)
	spawnMock(t, p, "mock/echo", mockmodel.Config{SuccessRate: 1.0})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	chunks, err := texttotext.Prompt(ctx, p, "mock/echo", "hi", capability.CompletionParams{})
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}

	sawComplete := false
	for c := range chunks {
		if c.Err != nil {
			t.Fatalf("unexpected chunk error: %v", c.Err)
		}
		if c.Value.Kind == capability.ChunkComplete {
			sawComplete = true
		}
	}
	if !sawComplete {
		t.Error("expected a terminal Complete chunk")
	}
}

func TestPromptSurfacesModelFailureAsErrorChunk(t *testing.T) {
	p := newTestPool(t)
	spawnMock(t, p, "mock/fail", mockmodel.Config{SuccessRate: 0.0})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	chunks, err := texttotext.Prompt(ctx, p, "mock/fail", "hi", capability.CompletionParams{})
	if err != nil {
		t.Fatalf("Prompt: %v", err)
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

func TestPromptUnknownRegistryKeyFails(t *testing.T) {
	p := newTestPool(t)
	_, err := texttotext.Prompt(context.Background(), p, "mock/nonexistent", "hi", capability.CompletionParams{})
	pe, ok := err.(*pool.PoolError)
	if !ok || pe.Kind != pool.ErrNoWorkers {
		t.Fatalf("err = %v, want *pool.PoolError{Kind: ErrNoWorkers}", err)
	}
}

func TestPromptCancellationStopsStream(t *testing.T) {
	p := newTestPool(t)
	spawnMock(t, p, "mock/echo", mockmodel.Config{SuccessRate: 1.0, LatencyMS: 50})

	ctx, cancel := context.WithCancel(context.Background())
	chunks, err := texttotext.Prompt(ctx, p, "mock/echo", "hi", capability.CompletionParams{})
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	cancel()

	// The channel must still be drained to completion (closed), never left
	// blocked forever, once the caller drops interest via cancellation.
	for range chunks {
	}
}
