package generation

import (
	"context"
	"strings"
	"unicode/utf8"
)

// MinContentChars is the shortest trimmed input the pipeline will send to a
// backend.
const MinContentChars = 10

// Options are the per-call generation parameters.
type Options struct {
	MaxOutputTokens int
	Temperature     float64
}

// Generator turns a prompt into a completion.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// Profiles holds the option sets for the two pipeline stages. The writer
// runs hot, the reviewer cold.
type Profiles struct {
	Writer   Options
	Reviewer Options
}

// DefaultProfiles returns the stock writer and reviewer options.
func DefaultProfiles() Profiles {
	return Profiles{
		Writer:   Options{MaxOutputTokens: 4096, Temperature: 0.8},
		Reviewer: Options{MaxOutputTokens: 4096, Temperature: 0.3},
	}
}

// ValidateContent rejects inputs too short to be worth a backend call.
func ValidateContent(content string) error {
	if utf8.RuneCountInString(strings.TrimSpace(content)) < MinContentChars {
		return ErrContentTooShort
	}
	return nil
}
