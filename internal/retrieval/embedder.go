package retrieval

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/bookforge/internal/engine"
)

// embedWorkers bounds concurrent embed calls against the local engine.
const embedWorkers = 4

var errEmptyEmbedding = errors.New("engine returned an empty embedding")

// Embedder turns chapter text into vectors with one embedding model.
type Embedder struct {
	engine engine.Engine
	model  string
}

func NewEmbedder(e engine.Engine, model string) *Embedder {
	return &Embedder{engine: e, model: model}
}

// Model is the embedding model name.
func (e *Embedder) Model() string { return e.model }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding with %s: %w", e.model, err)
	}
	if len(vec) == 0 {
		return nil, errEmptyEmbedding
	}
	return vec, nil
}

// EmbedBatch embeds texts concurrently, keeping input order. Every vector
// must have the same dimension. Empty input yields nil.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedWorkers)
	for i := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gctx, texts[i])
			if err != nil {
				return fmt.Errorf("chapter %d: %w", i, err)
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim := len(out[0])
	for i, v := range out {
		if len(v) != dim {
			return nil, fmt.Errorf("chapter %d: embedding dimension %d, want %d", i, len(v), dim)
		}
	}
	return out, nil
}
