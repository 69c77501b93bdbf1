package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kalambet/bookforge/internal/engine"
	"github.com/kalambet/bookforge/internal/ollama"
)

func TestValidateContent(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"", true},
		{"   \n\t ", true},
		{"short", true},
		{"  123456789  ", true},
		{"1234567890", false},
		{"A proper chapter opening.", false},
	}
	for _, tt := range tests {
		err := ValidateContent(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateContent(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrContentTooShort) {
			t.Errorf("ValidateContent(%q) = %v, want ErrContentTooShort", tt.in, err)
		}
	}
}

func TestDefaultProfiles(t *testing.T) {
	p := DefaultProfiles()
	if p.Writer.Temperature <= p.Reviewer.Temperature {
		t.Errorf("writer temperature %v should exceed reviewer %v", p.Writer.Temperature, p.Reviewer.Temperature)
	}
	if p.Writer.MaxOutputTokens != 4096 || p.Reviewer.MaxOutputTokens != 4096 {
		t.Errorf("max tokens = %d/%d", p.Writer.MaxOutputTokens, p.Reviewer.MaxOutputTokens)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, ""},
		{&ConfigurationError{Msg: "x"}, KindConfiguration},
		{fmt.Errorf("wrapped: %w", &TransientError{Op: "x", Err: errors.New("y")}), KindTransient},
		{fmt.Errorf("wrapped: %w", ErrContentTooShort), KindContent},
		{errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

type mockEngine struct {
	engine.Engine
	reply   string
	err     error
	gotOpts *engine.Options
	gotMsgs []engine.Message
}

func (m *mockEngine) Chat(_ context.Context, _ string, msgs []engine.Message, _ *engine.Schema, opts *engine.Options) (string, error) {
	m.gotMsgs = msgs
	m.gotOpts = opts
	return m.reply, m.err
}

func TestLocal_Generate(t *testing.T) {
	me := &mockEngine{reply: " local text \n"}
	out, err := NewLocal(me, "llama3.2", time.Minute).Generate(context.Background(), "prompt", Options{MaxOutputTokens: 100, Temperature: 0.3})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "local text" {
		t.Errorf("output = %q", out)
	}
	if me.gotOpts == nil || me.gotOpts.Temperature != 0.3 || me.gotOpts.MaxTokens != 100 {
		t.Errorf("opts = %+v", me.gotOpts)
	}
	if len(me.gotMsgs) != 1 || me.gotMsgs[0].Content != "prompt" {
		t.Errorf("messages = %+v", me.gotMsgs)
	}
}

func TestLocal_ErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"server error", &ollama.StatusError{Op: "chat", Code: 503}, KindTransient},
		{"missing model", &ollama.StatusError{Op: "chat", Code: 404}, KindConfiguration},
		{"bad request", &ollama.StatusError{Op: "chat", Code: 400}, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLocal(&mockEngine{err: tt.err}, "m", 0).Generate(context.Background(), "p", Options{})
			if got := Classify(err); got != tt.want {
				t.Errorf("Classify = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLocal_NoModel(t *testing.T) {
	_, err := NewLocal(&mockEngine{}, "", 0).Generate(context.Background(), "p", Options{})
	if Classify(err) != KindConfiguration {
		t.Errorf("err = %v, want configuration", err)
	}
}

func TestLocal_Timeout(t *testing.T) {
	// Ollama accepts the request and never answers. The server only sees a
	// client disconnect once the body is read, so release the handler
	// explicitly before Close.
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-done:
		}
	}))
	defer srv.Close()
	defer close(done)

	start := time.Now()
	_, err := NewLocal(engine.NewOllamaEngine(srv.URL), "mistral-nemo", 50*time.Millisecond).
		Generate(context.Background(), "rewrite this chapter", Options{})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if Classify(err) != KindTransient {
		t.Errorf("Classify(%v) = %q, want transient", err, Classify(err))
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Generate took %v, timeout not applied", elapsed)
	}
}

func TestLocal_DeadlinePassedToEngine(t *testing.T) {
	var deadline time.Time
	var ok bool
	me := &deadlineEngine{seen: func(ctx context.Context) { deadline, ok = ctx.Deadline() }}
	if _, err := NewLocal(me, "m", time.Minute).Generate(context.Background(), "p", Options{}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !ok || time.Until(deadline) > time.Minute {
		t.Errorf("engine saw deadline %v (set=%v), want within a minute", deadline, ok)
	}

	ok = false
	if _, err := NewLocal(me, "m", 0).Generate(context.Background(), "p", Options{}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if ok {
		t.Error("zero timeout should not add a deadline")
	}
}

type deadlineEngine struct {
	engine.Engine
	seen func(context.Context)
}

func (d *deadlineEngine) Chat(ctx context.Context, _ string, _ []engine.Message, _ *engine.Schema, _ *engine.Options) (string, error) {
	d.seen(ctx)
	return "ok", nil
}
