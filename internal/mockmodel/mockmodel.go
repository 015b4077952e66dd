// Package mockmodel implements every capability trait (capability.go) with
// deterministic, configurable success/failure/latency behavior, in the
// shape of the teacher's internal/provider/mock/provider.go: outcomes are
// derived from a hash of the request so the same input always produces the
// same result, and failures are injected at a configured rate rather than
// genuinely random — useful for exercising the pool's circuit breaker and
// timeout paths in tests without a real model.
package mockmodel

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/paracore-ai/modelpool/capability"
)

// Config controls one mock model instance's injected behavior.
type Config struct {
	Logger       *zap.Logger
	SuccessRate  float64 // [0,1]; outcome hash below this fraction succeeds
	LatencyMS    int     // simulated per-call latency
	Dimension    int     // embedding_dimension for embedding mocks
}

func (c Config) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

// outcome hashes key and returns true for "success" at the configured rate,
// deterministically — the same key always resolves the same way, mirroring
// the teacher mock's determineOutcome.
func outcome(key string, successRate float64) bool {
	sum := md5.Sum([]byte(key))
	value := float64(binary.BigEndian.Uint32(sum[:4])) / float64(^uint32(0))
	return value < successRate
}

func simulateLatency(ms int) {
	if ms > 0 {
		time.Sleep(time.Duration(ms) * time.Millisecond)
	}
}

// TextToText is a mock capability.TextToTextCapable.
type TextToText struct{ cfg Config }

// NewTextToText constructs a mock text-completion model.
func NewTextToText(cfg Config) *TextToText { return &TextToText{cfg: cfg} }

// Prompt streams the prompt back word by word as Text chunks, terminated by
// a Complete chunk, unless the deterministic outcome for this prompt fails,
// in which case it streams a single Error chunk.
func (m *TextToText) Prompt(ctx context.Context, prompt string, params capability.CompletionParams) (<-chan capability.CompletionChunk, error) {
	out := make(chan capability.CompletionChunk, 4)
	go func() {
		defer close(out)
		simulateLatency(m.cfg.LatencyMS)

		if !outcome(prompt, m.cfg.SuccessRate) {
			m.cfg.logger().Debug("mock prompt: injected failure", zap.String("prompt", prompt))
			send(ctx, out, capability.CompletionChunk{Kind: capability.ChunkError, Err: "mock: injected failure"})
			return
		}

		text := fmt.Sprintf("echo: %s", prompt)
		if !send(ctx, out, capability.CompletionChunk{Kind: capability.ChunkText, Text: text}) {
			return
		}
		send(ctx, out, capability.CompletionChunk{Kind: capability.ChunkComplete, Text: text, FinishReason: "stop"})
	}()
	return out, nil
}

func send(ctx context.Context, out chan<- capability.CompletionChunk, c capability.CompletionChunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// TextEmbedding is a mock capability.TextEmbeddingCapable.
type TextEmbedding struct{ cfg Config }

// NewTextEmbedding constructs a mock text-embedding model.
func NewTextEmbedding(cfg Config) *TextEmbedding {
	if cfg.Dimension <= 0 {
		cfg.Dimension = 384
	}
	return &TextEmbedding{cfg: cfg}
}

func hashVector(key string, dim int) []float32 {
	sum := md5.Sum([]byte(key))
	vec := make([]float32, dim)
	for i := range vec {
		b := sum[i%len(sum)]
		vec[i] = float32(b)/255.0 - 0.5
	}
	return vec
}

func (m *TextEmbedding) Embed(ctx context.Context, text string, task capability.EmbeddingTask) ([]float32, error) {
	simulateLatency(m.cfg.LatencyMS)
	if !outcome(text, m.cfg.SuccessRate) {
		return nil, fmt.Errorf("mock: injected failure embedding %q", text)
	}
	return hashVector(string(task)+text, m.cfg.Dimension), nil
}

func (m *TextEmbedding) BatchEmbed(ctx context.Context, texts []string, task capability.EmbeddingTask) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t, task)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *TextEmbedding) EmbeddingDimension() int       { return m.cfg.Dimension }
func (m *TextEmbedding) SupportedDimensions() []int    { return []int{m.cfg.Dimension} }
func (m *TextEmbedding) RecommendedBatchSize() int     { return 32 }
func (m *TextEmbedding) MaxBatchSize() int             { return 256 }
func (m *TextEmbedding) ValidateInput(text string) error {
	if text == "" {
		return fmt.Errorf("mock: empty input text")
	}
	return nil
}

// Vision is a mock capability.VisionCapable.
type Vision struct{ cfg Config }

// NewVision constructs a mock vision-language model.
func NewVision(cfg Config) *Vision { return &Vision{cfg: cfg} }

func (m *Vision) describe(ctx context.Context, key, query string) (<-chan capability.StringChunk, error) {
	out := make(chan capability.StringChunk, 4)
	go func() {
		defer close(out)
		simulateLatency(m.cfg.LatencyMS)
		if !outcome(key+query, m.cfg.SuccessRate) {
			sendString(ctx, out, capability.StringChunk{Err: "mock: injected failure"})
			return
		}
		words := []string{"a", "mock", "description", "of", key}
		for _, w := range words {
			if !sendString(ctx, out, capability.StringChunk{Text: w + " "}) {
				return
			}
		}
		sendString(ctx, out, capability.StringChunk{Done: true})
	}()
	return out, nil
}

func sendString(ctx context.Context, out chan<- capability.StringChunk, c capability.StringChunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Vision) DescribeImage(ctx context.Context, path string, query string) (<-chan capability.StringChunk, error) {
	return m.describe(ctx, path, query)
}

func (m *Vision) DescribeURL(ctx context.Context, url string, query string) (<-chan capability.StringChunk, error) {
	return m.describe(ctx, url, query)
}

// TextToImage is a mock capability.TextToImageCapable.
type TextToImage struct{ cfg Config }

// NewTextToImage constructs a mock image-generation model.
func NewTextToImage(cfg Config) *TextToImage { return &TextToImage{cfg: cfg} }

func (m *TextToImage) Generate(ctx context.Context, prompt string, params capability.ImageGenParams) ([]byte, error) {
	simulateLatency(m.cfg.LatencyMS)
	if !outcome(prompt, m.cfg.SuccessRate) {
		return nil, fmt.Errorf("mock: injected failure generating %q", prompt)
	}
	sum := md5.Sum([]byte(prompt))
	return sum[:], nil
}

// ImageEmbedding is a mock capability.ImageEmbeddingCapable.
type ImageEmbedding struct{ cfg Config }

// NewImageEmbedding constructs a mock image-embedding model.
func NewImageEmbedding(cfg Config) *ImageEmbedding {
	if cfg.Dimension <= 0 {
		cfg.Dimension = 512
	}
	return &ImageEmbedding{cfg: cfg}
}

func (m *ImageEmbedding) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	simulateLatency(m.cfg.LatencyMS)
	if !outcome(path, m.cfg.SuccessRate) {
		return nil, fmt.Errorf("mock: injected failure embedding image %q", path)
	}
	return hashVector(path, m.cfg.Dimension), nil
}

func (m *ImageEmbedding) BatchEmbedImage(ctx context.Context, paths []string) ([][]float32, error) {
	out := make([][]float32, len(paths))
	for i, p := range paths {
		v, err := m.EmbedImage(ctx, p)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
