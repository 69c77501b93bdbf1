package analysis

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/bookforge/internal/composer"
	"github.com/kalambet/bookforge/internal/engine"
)

const (
	defaultTimeout = 30 * time.Second
	wordsPerMinute = 200
)

// Chatter is the subset of engine.Engine the analyzer needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema, opts *engine.Options) (string, error)
}

// Report holds the model's reading of a text plus counts that are always
// computed locally.
type Report struct {
	Genre                string   `json:"genre,omitempty"`
	Tone                 string   `json:"tone,omitempty"`
	ReadingLevel         string   `json:"reading_level,omitempty"`
	Themes               []string `json:"themes,omitempty"`
	Suggestions          []string `json:"suggestions,omitempty"`
	WordCount            int      `json:"word_count"`
	CharacterCount       int      `json:"character_count"`
	EstimatedReadingTime float64  `json:"estimated_reading_time"`
	Error                string   `json:"error,omitempty"`
}

// Analyzer asks a local model for genre, tone, reading level, themes and
// improvement suggestions.
type Analyzer struct {
	client  Chatter
	model   string
	Timeout time.Duration
}

// New creates an Analyzer using the given chat client and model name.
func New(client Chatter, model string) *Analyzer {
	return &Analyzer{client: client, model: model, Timeout: defaultTimeout}
}

// Analyze never fails: on a model error the counts are still returned and the
// error is reported in Report.Error.
func (a *Analyzer) Analyze(ctx context.Context, content string) Report {
	rep := Counts(content)
	if strings.TrimSpace(content) == "" {
		return rep
	}
	if a == nil || a.client == nil || a.model == "" {
		rep.Error = "analysis model not configured"
		return rep
	}

	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	msgs := []engine.Message{{Role: "user", Content: composer.Analysis(content)}}
	raw, err := a.client.Chat(ctx, a.model, msgs, reportSchema(), &engine.Options{Temperature: 0.2})
	if err != nil {
		slog.Warn("content analysis failed", "error", err)
		rep.Error = "analysis error: " + err.Error()
		return rep
	}

	var out Report
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		slog.Warn("failed to unmarshal analysis from LLM response", "error", err, "response", raw)
		rep.Error = "could not analyze content"
		return rep
	}
	rep.Genre = out.Genre
	rep.Tone = out.Tone
	rep.ReadingLevel = out.ReadingLevel
	rep.Themes = limit(out.Themes, 3)
	rep.Suggestions = limit(out.Suggestions, 3)
	return rep
}

// Counts computes word, character and reading-time figures for content.
func Counts(content string) Report {
	words := len(strings.Fields(content))
	return Report{
		WordCount:            words,
		CharacterCount:       utf8.RuneCountInString(content),
		EstimatedReadingTime: math.Round(float64(words)/wordsPerMinute*10) / 10,
	}
}

func limit(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func reportSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"genre":         {Type: "string", Description: "Genre or type of the text"},
			"tone":          {Type: "string", Description: "Overall tone"},
			"reading_level": {Type: "string", Description: "Approximate reading level"},
			"themes":        {Type: "array", Description: "Key themes, at most 3"},
			"suggestions":   {Type: "array", Description: "Improvement suggestions, at most 3"},
		},
		Required: []string{"genre", "tone", "reading_level", "themes", "suggestions"},
	}
}
