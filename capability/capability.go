// Package capability declares the model traits the pool invokes (spec.md
// §6.1) and the chunk types carried over a streaming capability's reply
// port. Concrete models — GGUF loaders, tokenizers, transformer forward
// passes — are explicitly out of scope (spec.md §1); this package only
// names the shape the pool calls through.
package capability

import "context"

// CompletionChunkKind tags a CompletionChunk's payload, mirroring the
// source's tagged CompletionChunk enum (spec.md §6.1).
type CompletionChunkKind int

const (
	ChunkText CompletionChunkKind = iota
	ChunkToolCallStart
	ChunkToolCall
	ChunkToolCallComplete
	ChunkComplete
	ChunkError
)

// Usage mirrors token accounting attached to a Complete chunk, when a model
// reports it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionChunk is one unit of a TextToTextCapable.Prompt lazy sequence.
// Exactly one of the payload fields is meaningful, selected by Kind — the
// idiomatic Go rendering of the source's closed chunk enum, since Go has no
// sum types.
type CompletionChunk struct {
	Kind CompletionChunkKind

	Text string // ChunkText, ChunkComplete

	ToolCallID     string // ChunkToolCallStart, ChunkToolCall, ChunkToolCallComplete
	ToolCallName   string
	PartialInput   string // ChunkToolCall
	Input          string // ChunkToolCallComplete

	FinishReason string // ChunkComplete, optional
	Usage        *Usage // ChunkComplete, optional

	Err string // ChunkError
}

// CompletionParams carries per-request sampling overrides for
// TextToTextCapable.Prompt. Zero values mean "use the model's default".
type CompletionParams struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
	Stop        []string
}

// TextToTextCapable is the trait a loaded text-completion model must
// satisfy (spec.md §6.1). Prompt returns a channel the worker loop forwards
// chunk-by-chunk through its reply port; the channel is closed after a
// ChunkComplete or ChunkError chunk, or if ctx is cancelled.
type TextToTextCapable interface {
	Prompt(ctx context.Context, prompt string, params CompletionParams) (<-chan CompletionChunk, error)
}

// EmbeddingTask optionally tells an embedding model which asymmetric
// encoding to use (e.g. "query" vs "document"), when the model distinguishes
// them.
type EmbeddingTask string

// TextEmbeddingCapable is the trait a loaded text-embedding model must
// satisfy (spec.md §6.1).
type TextEmbeddingCapable interface {
	Embed(ctx context.Context, text string, task EmbeddingTask) ([]float32, error)
	BatchEmbed(ctx context.Context, texts []string, task EmbeddingTask) ([][]float32, error)

	EmbeddingDimension() int
	SupportedDimensions() []int
	RecommendedBatchSize() int
	MaxBatchSize() int
	ValidateInput(text string) error
}

// StringChunk is one unit of a VisionCapable describe lazy sequence.
type StringChunk struct {
	Text string
	Err  string
	Done bool
}

// VisionCapable is the trait a loaded vision-language model must satisfy
// (spec.md §6.1).
type VisionCapable interface {
	DescribeImage(ctx context.Context, path string, query string) (<-chan StringChunk, error)
	DescribeURL(ctx context.Context, url string, query string) (<-chan StringChunk, error)
}

// ImageGenParams carries per-request overrides for TextToImageCapable.Generate.
type ImageGenParams struct {
	Width, Height int
	Steps         int
	Seed          int64
	NegativePrompt string
}

// TextToImageCapable is the trait a loaded image-generation model must
// satisfy (spec.md §6.1/§4.7.3).
type TextToImageCapable interface {
	Generate(ctx context.Context, prompt string, params ImageGenParams) ([]byte, error)
}

// ImageEmbeddingCapable is the trait a loaded image-embedding model must
// satisfy (spec.md §6.1).
type ImageEmbeddingCapable interface {
	EmbedImage(ctx context.Context, path string) ([]float32, error)
	BatchEmbedImage(ctx context.Context, paths []string) ([][]float32, error)
}
