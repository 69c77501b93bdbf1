package generation

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/bookforge/internal/engine"
	"github.com/kalambet/bookforge/internal/ollama"
)

// Local generates completions with a model served by the local engine.
type Local struct {
	engine  engine.Engine
	model   string
	timeout time.Duration
}

// NewLocal creates a Generator backed by e. Each call is bounded by timeout;
// zero leaves the deadline to the caller's context.
func NewLocal(e engine.Engine, model string, timeout time.Duration) *Local {
	return &Local{engine: e, model: model, timeout: timeout}
}

func (l *Local) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if l.model == "" {
		return "", &ConfigurationError{Msg: "no local chat model configured (ollama.chat_model)"}
	}
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	out, err := l.engine.Chat(ctx, l.model, []engine.Message{{Role: "user", Content: prompt}}, nil,
		&engine.Options{Temperature: opts.Temperature, MaxTokens: opts.MaxOutputTokens})
	if err != nil {
		var se *ollama.StatusError
		if errors.As(err, &se) {
			if se.Code >= 500 || se.Code == http.StatusTooManyRequests {
				return "", &TransientError{Op: "generate", Status: se.Code, Err: err}
			}
			if se.Code == http.StatusNotFound {
				return "", &ConfigurationError{Msg: "model " + l.model + " is not available locally (ollama pull " + l.model + ")"}
			}
			return "", err
		}
		return "", transportError("generate", err)
	}
	return strings.TrimSpace(out), nil
}
