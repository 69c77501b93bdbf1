package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kalambet/bookforge/internal/config"
	"github.com/kalambet/bookforge/internal/learning"
	"github.com/kalambet/bookforge/internal/pipeline"
	"github.com/kalambet/bookforge/internal/retrieval"
)

type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	token, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return nil, fmt.Errorf("getting API token: %w", err)
	}

	// A process call spans the writer and reviewer stages.
	timeout := 2*cfg.Generation.Timeout + time.Minute

	return &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// apiError is the decoded {"error":{"message","type"}} envelope.
type apiError struct {
	Status  int
	Type    string
	Message string
}

func (e *apiError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Type, e.Message)
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is bookforge serve running? (%w)", err)
	}
	return resp, nil
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		var env struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
			return &apiError{Status: resp.StatusCode, Type: env.Error.Type, Message: env.Error.Message}
		}
		return &apiError{Status: resp.StatusCode, Message: string(body)}
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// call sends a request and decodes the JSON reply into v.
func (c *apiClient) call(ctx context.Context, method, path string, body, v any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	return decodeJSON(resp, v)
}

func (c *apiClient) Process(ctx context.Context, req pipeline.Request) (pipeline.Run, error) {
	var run pipeline.Run
	err := c.call(ctx, http.MethodPost, "/process", req, &run)
	return run, err
}

func (c *apiClient) GetRun(ctx context.Context, id string) (pipeline.Run, error) {
	var run pipeline.Run
	err := c.call(ctx, http.MethodGet, "/runs/"+url.PathEscape(id), nil, &run)
	return run, err
}

// Submit posts feedback for a run. It lets the review screen drive a run
// held by the server.
func (c *apiClient) Submit(ctx context.Context, runID string, fb pipeline.Feedback) (pipeline.Run, error) {
	var run pipeline.Run
	err := c.call(ctx, http.MethodPost, "/runs/"+url.PathEscape(runID)+"/feedback", fb, &run)
	return run, err
}

func (c *apiClient) Suggestions(ctx context.Context) (learning.Suggestion, error) {
	var sg learning.Suggestion
	err := c.call(ctx, http.MethodGet, "/suggestions", nil, &sg)
	return sg, err
}

func (c *apiClient) Stats(ctx context.Context) (learning.Stats, error) {
	var st learning.Stats
	err := c.call(ctx, http.MethodGet, "/stats", nil, &st)
	return st, err
}

func (c *apiClient) Instructions(ctx context.Context, agent string) (string, error) {
	var out struct {
		Instructions string `json:"instructions"`
	}
	err := c.call(ctx, http.MethodGet, "/instructions?agent="+url.QueryEscape(agent), nil, &out)
	return out.Instructions, err
}

func (c *apiClient) Reset(ctx context.Context) error {
	var out map[string]string
	return c.call(ctx, http.MethodPost, "/reset", nil, &out)
}

func (c *apiClient) Search(ctx context.Context, query string, n int) ([]retrieval.SearchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("n", strconv.Itoa(n))
	var results []retrieval.SearchResult
	err := c.call(ctx, http.MethodGet, "/chapters/search?"+q.Encode(), nil, &results)
	return results, err
}

// chapterInfo mirrors the chapter JSON served by the API.
type chapterInfo struct {
	ID         string    `json:"id"`
	VersionID  string    `json:"version_id"`
	RunID      string    `json:"run_id"`
	CreatedAt  time.Time `json:"created_at"`
	SourceURL  string    `json:"source_url"`
	Title      string    `json:"title"`
	Style      string    `json:"style"`
	FocusAreas []string  `json:"focus_areas"`
	Rating     string    `json:"rating"`
	SaveType   string    `json:"save_type"`
	FilePath   string    `json:"file_path"`
	WordCount  int       `json:"word_count"`
	Preview    string    `json:"preview"`
	Content    string    `json:"content"`
}

func (c *apiClient) ListChapters(ctx context.Context, limit int) ([]chapterInfo, error) {
	var chapters []chapterInfo
	err := c.call(ctx, http.MethodGet, fmt.Sprintf("/chapters?limit=%d", limit), nil, &chapters)
	return chapters, err
}

// ListIndexed lists chapters as the vector index holds them.
func (c *apiClient) ListIndexed(ctx context.Context, limit int) ([]chapterInfo, error) {
	var chapters []chapterInfo
	err := c.call(ctx, http.MethodGet, fmt.Sprintf("/chapters/indexed?limit=%d", limit), nil, &chapters)
	return chapters, err
}

func (c *apiClient) GetChapter(ctx context.Context, id string) (chapterInfo, error) {
	var ch chapterInfo
	err := c.call(ctx, http.MethodGet, "/chapters/"+url.PathEscape(id), nil, &ch)
	return ch, err
}

func (c *apiClient) DeleteChapter(ctx context.Context, id string) error {
	var out map[string]string
	return c.call(ctx, http.MethodDelete, "/chapters/"+url.PathEscape(id), nil, &out)
}

func (c *apiClient) ChapterStats(ctx context.Context) (retrieval.Stats, error) {
	var st retrieval.Stats
	err := c.call(ctx, http.MethodGet, "/chapters/stats", nil, &st)
	return st, err
}

func (c *apiClient) Reindex(ctx context.Context) (int, error) {
	var out struct {
		Reindexed int `json:"reindexed"`
	}
	err := c.call(ctx, http.MethodPost, "/chapters/reindex", nil, &out)
	return out.Reindexed, err
}
