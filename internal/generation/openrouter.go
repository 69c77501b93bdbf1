package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultTimeout = 120 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// OpenRouter generates completions through the OpenRouter chat API.
type OpenRouter struct {
	apiKey     string
	model      string
	baseURL    string
	timeout    time.Duration
	backoff    time.Duration
	httpClient *http.Client
	referer    string
	title      string
}

// NewOpenRouter creates a client for model. timeout bounds each attempt;
// zero selects the default.
func NewOpenRouter(apiKey, model string, timeout time.Duration) *OpenRouter {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &OpenRouter{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		timeout:    timeout,
		backoff:    initialBackoff,
		httpClient: &http.Client{},
		referer:    "https://github.com/kalambet/bookforge",
		title:      "bookforge",
	}
}

// NewOpenRouterWithBaseURL points the client at a custom base URL (for testing).
func NewOpenRouterWithBaseURL(apiKey, model, baseURL string) *OpenRouter {
	c := NewOpenRouter(apiKey, model, 0)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate sends prompt as a single user message. HTTP 429 is retried with
// exponential backoff; other failures are classified and returned.
func (c *OpenRouter) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if c.apiKey == "" {
		return "", &ConfigurationError{Msg: "OpenRouter API key is not set (bookforge config set generation.openrouter_api_key <key>)"}
	}
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   opts.MaxOutputTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := range maxRetries {
		text, err := c.doChat(ctx, body)
		if err == nil {
			return text, nil
		}
		if !isRateLimit(err) {
			return "", err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return "", &TransientError{Op: "generate", Status: http.StatusTooManyRequests,
		Err: fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)}
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

func (c *OpenRouter) doChat(ctx context.Context, body []byte) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", transportError("generate", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &rateLimitError{status: resp.StatusCode}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &ConfigurationError{Msg: fmt.Sprintf("OpenRouter rejected the API key (HTTP %d)", resp.StatusCode)}
	case resp.StatusCode == http.StatusPaymentRequired:
		return "", &TransientError{Op: "generate", Status: resp.StatusCode, Err: errors.New("quota exhausted")}
	case resp.StatusCode >= 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &TransientError{Op: "generate", Status: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(msg)))}
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", transportError("decoding response", err)
	}
	if cr.Error != nil {
		return "", fmt.Errorf("openrouter: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return "", errors.New("openrouter: response contained no choices")
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}

// Model is an entry from the /models listing.
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type modelList struct {
	Data []Model `json:"data"`
}

// ListModels returns the models OpenRouter offers.
func (c *OpenRouter) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError("listing models", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var list modelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding models: %w", err)
	}
	if list.Data == nil {
		return []Model{}, nil
	}
	return list.Data, nil
}

// Validate checks that the API key is set and that the configured model is
// offered.
func (c *OpenRouter) Validate(ctx context.Context) error {
	if c.apiKey == "" {
		return &ConfigurationError{Msg: "OpenRouter API key is not set"}
	}
	models, err := c.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		if m.ID == c.model {
			return nil
		}
	}
	return &ConfigurationError{Msg: fmt.Sprintf("model %q is not offered by OpenRouter", c.model)}
}

func (c *OpenRouter) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)
}
