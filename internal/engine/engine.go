// Package engine is the local inference seam. Content analysis, chapter
// embeddings and the local generation provider depend on Engine rather than
// on a concrete client.
package engine

import "context"

type Engine interface {
	// Chat returns the assistant reply. A non-nil jsonSchema requests
	// structured output; opts may be nil.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema, opts *Options) (string, error)
	Embed(ctx context.Context, model string, text string) ([]float32, error)
	IsRunning(ctx context.Context) bool
	ListModels(ctx context.Context) ([]string, error)
	HasModel(ctx context.Context, name string) bool
	// PullModel downloads a model; onProgress may be nil.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
