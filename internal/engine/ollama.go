package engine

import (
	"context"

	"github.com/kalambet/bookforge/internal/ollama"
)

// OllamaEngine is the Engine backed by a local Ollama server.
type OllamaEngine struct {
	*ollama.Client
}

var _ Engine = (*OllamaEngine)(nil)

func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{Client: ollama.New(baseURL)}
}

// Chat converts the engine options and forwards to the client.
func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema, opts *Options) (string, error) {
	return e.Client.Chat(ctx, model, messages, jsonSchema, opts.toOllama())
}
