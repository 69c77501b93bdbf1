package generation

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrContentTooShort is returned before any backend call when the input is
// empty or shorter than MinContentChars.
var ErrContentTooShort = errors.New("content is too short to process")

// ConfigurationError reports missing or rejected credentials. Retrying will
// not help until the configuration changes.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Msg }

// TransientError reports a rate limit, quota, network or timeout failure.
// The same request may succeed if resubmitted later.
type TransientError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: temporary failure (HTTP %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: temporary failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Kind classifies an error returned by a Generator.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindTransient     Kind = "transient"
	KindContent       Kind = "content"
	KindUnknown       Kind = "unknown"
)

// Classify maps err onto the error taxonomy.
func Classify(err error) Kind {
	var ce *ConfigurationError
	var te *TransientError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ce):
		return KindConfiguration
	case errors.As(err, &te):
		return KindTransient
	case errors.Is(err, ErrContentTooShort):
		return KindContent
	}
	return KindUnknown
}

// transportError wraps network and deadline failures as transient.
func transportError(op string, err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &ne) {
		return &TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
