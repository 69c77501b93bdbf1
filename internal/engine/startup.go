package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotRunning is returned by EnsureReady when the engine cannot be reached.
var ErrNotRunning = errors.New("ollama is not running, start it with: ollama serve")

// EnsureReady checks that the engine answers and that every named model is
// installed, pulling the missing ones. Empty names are skipped. Progress is
// written to w.
func EnsureReady(ctx context.Context, e Engine, chatModel, embedModel string, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return ErrNotRunning
	}
	for _, model := range uniqueModels(chatModel, embedModel) {
		if !e.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: pulling...\n", model)
			if err := e.PullModel(ctx, model, pullReporter(w)); err != nil {
				return fmt.Errorf("pulling model %s: %w", model, err)
			}
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}
	return nil
}

func uniqueModels(names ...string) []string {
	var out []string
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// pullReporter prints layer statuses as they arrive and download progress
// once per ten percent.
func pullReporter(w io.Writer) func(PullProgress) {
	step := -1
	return func(p PullProgress) {
		if p.Total <= 0 {
			fmt.Fprintf(w, "  %s\n", p.Status)
			return
		}
		pct := int(p.Completed * 100 / p.Total)
		if pct/10 == step {
			return
		}
		step = pct / 10
		fmt.Fprintf(w, "  %s %d%%\n", p.Status, pct)
	}
}
