package engine

import "github.com/kalambet/bookforge/internal/ollama"

// The wire types are shared with the Ollama client; other backends convert
// at their boundary.
type (
	Message        = ollama.Message
	Schema         = ollama.Schema
	SchemaProperty = ollama.SchemaProperty
	PullProgress   = ollama.PullProgress
)

// Options tunes sampling for one chat call. MaxTokens of zero means the
// model default.
type Options struct {
	Temperature float64
	MaxTokens   int
}

func (o *Options) toOllama() *ollama.Options {
	if o == nil {
		return nil
	}
	t := o.Temperature
	return &ollama.Options{Temperature: &t, NumPredict: o.MaxTokens}
}
