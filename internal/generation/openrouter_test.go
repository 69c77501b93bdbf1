package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func chatHandler(t *testing.T, content string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}
}

func newTestClient(url string) *OpenRouter {
	c := NewOpenRouterWithBaseURL("test-key", "google/gemini-2.5-flash", url)
	c.backoff = time.Millisecond
	return c
}

func TestGenerate_Success(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		chatHandler(t, "  Rewritten chapter.  ")(w, r)
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL).Generate(context.Background(), "rewrite this", Options{MaxOutputTokens: 512, Temperature: 0.8})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "Rewritten chapter." {
		t.Errorf("output = %q, want trimmed content", out)
	}
	if got.Model != "google/gemini-2.5-flash" {
		t.Errorf("model = %q", got.Model)
	}
	if got.MaxTokens != 512 || got.Temperature != 0.8 {
		t.Errorf("options = %d/%v, want 512/0.8", got.MaxTokens, got.Temperature)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "rewrite this" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestGenerate_AuthHeader(t *testing.T) {
	var auth, title string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		title = r.Header.Get("X-Title")
		chatHandler(t, "ok")(w, r)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).Generate(context.Background(), "p", Options{}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if auth != "Bearer test-key" {
		t.Errorf("Authorization = %q", auth)
	}
	if title != "bookforge" {
		t.Errorf("X-Title = %q", title)
	}
}

func TestGenerate_MissingKey(t *testing.T) {
	c := NewOpenRouterWithBaseURL("", "m", "http://127.0.0.1:0")
	_, err := c.Generate(context.Background(), "p", Options{})
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
}

func TestGenerate_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Generate(context.Background(), "p", Options{})
	if Classify(err) != KindConfiguration {
		t.Errorf("Classify(%v) = %q, want configuration", err, Classify(err))
	}
}

func TestGenerate_ServerErrorIsTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Generate(context.Background(), "p", Options{})
	if Classify(err) != KindTransient {
		t.Fatalf("err = %v, want transient", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (5xx is not retried)", calls.Load())
	}
}

func TestGenerate_RateLimitRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		chatHandler(t, "finally")(w, r)
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL).Generate(context.Background(), "p", Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "finally" {
		t.Errorf("output = %q", out)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestGenerate_RateLimitExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Generate(context.Background(), "p", Options{})
	var te *TransientError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TransientError", err)
	}
	if te.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", te.Status)
	}
	if calls.Load() != maxRetries {
		t.Errorf("calls = %d, want %d", calls.Load(), maxRetries)
	}
}

func TestGenerate_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.backoff = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Generate(ctx, "p", Options{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestGenerate_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Generate(context.Background(), "p", Options{})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
	if Classify(err) != KindUnknown {
		t.Errorf("Classify = %q, want unknown", Classify(err))
	}
}

func TestListModelsAndValidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"data":[{"id":"google/gemini-2.5-flash","name":"Gemini"},{"id":"other/model"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[0].Name != "Gemini" {
		t.Errorf("models = %+v", models)
	}
	if err := c.Validate(context.Background()); err != nil {
		t.Errorf("Validate: %v", err)
	}

	c.model = "missing/model"
	if Classify(c.Validate(context.Background())) != KindConfiguration {
		t.Error("Validate should reject an unknown model")
	}
}
