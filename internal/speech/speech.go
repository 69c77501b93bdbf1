// Package speech reads text aloud sentence by sentence in the background.
package speech

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

const stopWait = 2 * time.Second

// State is the lifecycle of a speech Task.
type State int

const (
	Idle State = iota
	Running
	CancelRequested
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case CancelRequested:
		return "cancel_requested"
	case Stopped:
		return "stopped"
	}
	return "idle"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Speaker utters one sentence, returning when done or when ctx is cancelled.
type Speaker interface {
	Speak(ctx context.Context, sentence string) error
}

// ErrNothingToSay is returned by Start when text has no sentences.
var ErrNothingToSay = errors.New("no text to speak")

// Task owns at most one background speech run. It is safe for concurrent use.
type Task struct {
	speaker Speaker
	logger  *slog.Logger

	mu     sync.Mutex
	state  State
	run    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTask creates an idle Task backed by sp.
func NewTask(sp Speaker) *Task {
	return &Task{speaker: sp, logger: slog.Default()}
}

// Start stops any active run and begins speaking text in a new goroutine.
func (t *Task) Start(text string) error {
	sentences := Sentences(text)
	if len(sentences) == 0 {
		return ErrNothingToSay
	}

	t.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	t.mu.Lock()
	t.run++
	run := t.run
	t.state = Running
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	go t.speak(ctx, run, done, sentences)
	return nil
}

func (t *Task) speak(ctx context.Context, run uint64, done chan struct{}, sentences []string) {
	defer close(done)

	cancelled := false
	for _, s := range sentences {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if err := t.speaker.Speak(ctx, s); err != nil {
			if ctx.Err() != nil {
				cancelled = true
				break
			}
			t.logger.Warn("speech failed", "error", err)
			break
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.run != run {
		return
	}
	if cancelled || t.state == CancelRequested {
		t.state = Stopped
	} else {
		t.state = Idle
	}
	t.cancel = nil
	t.done = nil
}

// Stop cancels the active run and waits up to two seconds for it to exit.
// It is idempotent and safe to call when nothing is running.
func (t *Task) Stop() {
	t.mu.Lock()
	if t.state != Running && t.state != CancelRequested {
		t.mu.Unlock()
		return
	}
	t.state = CancelRequested
	cancel, done, run := t.cancel, t.done, t.run
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(stopWait):
			t.logger.Warn("speech worker did not stop in time")
		}
	}

	t.mu.Lock()
	if t.run == run && t.state == CancelRequested {
		t.state = Stopped
	}
	t.mu.Unlock()
}

// IsRunning reports whether a run is speaking.
func (t *Task) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == Running
}

// State returns the current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

var sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]*`)

// Sentences splits text at sentence punctuation. Fragments without closing
// punctuation get a full stop.
func Sentences(text string) []string {
	var out []string
	for _, m := range sentenceRe.FindAllString(text, -1) {
		s := strings.Join(strings.Fields(m), " ")
		if strings.Trim(s, ".!? ") == "" {
			continue
		}
		if !strings.ContainsAny(s[len(s)-1:], ".!?") {
			s += "."
		}
		out = append(out, s)
	}
	return out
}
