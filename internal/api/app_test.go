package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/bookforge/internal/archive"
	"github.com/kalambet/bookforge/internal/generation"
	"github.com/kalambet/bookforge/internal/learning"
	"github.com/kalambet/bookforge/internal/pipeline"
	"github.com/kalambet/bookforge/internal/retrieval"
	"github.com/kalambet/bookforge/internal/speech"
	"github.com/kalambet/bookforge/internal/storage"
)

const testToken = "test-token-12345"

// --- mocks ---

type mockPipeline struct {
	mu       sync.Mutex
	lastReq  pipeline.Request
	lastFB   pipeline.Feedback
	runs     map[string]pipeline.Run
	procErr  error
	submitFn func(id string, fb pipeline.Feedback) (pipeline.Run, error)
}

func newMockPipeline() *mockPipeline {
	return &mockPipeline{runs: make(map[string]pipeline.Run)}
}

func (m *mockPipeline) Process(_ context.Context, req pipeline.Request) (pipeline.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastReq = req
	run := pipeline.Run{ID: "run-1", State: pipeline.AwaitingFeedback, SourceURL: req.URL, Style: req.Style, ReviewerOutput: "Reviewed text."}
	if m.procErr != nil {
		run.State = pipeline.Error
		run.Error = m.procErr.Error()
		return run, m.procErr
	}
	m.runs[run.ID] = run
	return run, nil
}

func (m *mockPipeline) Submit(_ context.Context, id string, fb pipeline.Feedback) (pipeline.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFB = fb
	if m.submitFn != nil {
		return m.submitFn(id, fb)
	}
	run, ok := m.runs[id]
	if !ok {
		return pipeline.Run{}, pipeline.ErrRunNotFound
	}
	if run.State != pipeline.AwaitingFeedback {
		return pipeline.Run{}, pipeline.ErrNotAwaitingFeedback
	}
	run.State = pipeline.Saved
	run.Rating = string(fb.Rating)
	m.runs[id] = run
	return run, nil
}

func (m *mockPipeline) Get(id string) (pipeline.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return pipeline.Run{}, pipeline.ErrRunNotFound
	}
	return run, nil
}

type mockIndex struct {
	mu       sync.Mutex
	results  []retrieval.SearchResult
	err      error
	lastN    int
	ids      map[string]bool
	chapters []retrieval.Chapter
}

func (m *mockIndex) Search(_ context.Context, _ string, n int) ([]retrieval.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastN = n
	return m.results, m.err
}

func (m *mockIndex) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ids[id] {
		return retrieval.ErrNotFound
	}
	delete(m.ids, id)
	return nil
}

func (m *mockIndex) Reindex(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	return len(m.ids), nil
}

func (m *mockIndex) GetAll(context.Context) ([]retrieval.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chapters, m.err
}

func (m *mockIndex) Stats(context.Context) (retrieval.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return retrieval.Stats{TotalCount: len(m.ids), Collection: retrieval.CollectionName}, nil
}

type mockSpeaker struct {
	mu      sync.Mutex
	text    string
	running bool
}

func (m *mockSpeaker) Start(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		return speech.ErrNothingToSay
	}
	m.text = text
	m.running = true
	return nil
}

func (m *mockSpeaker) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
}

func (m *mockSpeaker) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *mockSpeaker) State() speech.State {
	if m.IsRunning() {
		return speech.Running
	}
	return speech.Idle
}

// --- helpers ---

type testApp struct {
	handler  http.Handler
	pipeline *mockPipeline
	learner  *learning.Store
	index    *mockIndex
	store    *storage.Store
	speaker  *mockSpeaker
}

func setupAppHandler(t *testing.T) *testApp {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	learner, err := learning.Open(filepath.Join(t.TempDir(), learning.StateFileName))
	if err != nil {
		t.Fatalf("learning.Open: %v", err)
	}

	app := &testApp{
		pipeline: newMockPipeline(),
		learner:  learner,
		index:    &mockIndex{ids: map[string]bool{}},
		store:    store,
		speaker:  &mockSpeaker{},
	}
	app.handler = NewAppHandler(AppDeps{
		Pipeline: app.pipeline,
		Learner:  learner,
		Index:    app.index,
		Chapters: store,
		Speech:   app.speaker,
		Token:    testToken,
	})
	return app
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(app *testApp, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, req)
	return rr
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body.Error.Type
}

// --- tests ---

func TestHealth_NoAuth(t *testing.T) {
	app := setupAppHandler(t)
	rr := serve(app, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestAuth_Required(t *testing.T) {
	app := setupAppHandler(t)
	for _, token := range []string{"", "wrong"} {
		rr := serve(app, authReq(http.MethodGet, "/stats", "", token))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, rr.Code)
		}
		if got := errorType(t, rr); got != "authentication_error" {
			t.Errorf("token %q: error type = %q", token, got)
		}
	}
}

func TestProcess_OK(t *testing.T) {
	app := setupAppHandler(t)
	body := `{"url":"https://example.com/ch1","style":"poetic","focus_areas":["flow"],"analyze":true}`
	rr := serve(app, authReq(http.MethodPost, "/process", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var run pipeline.Run
	if err := json.NewDecoder(rr.Body).Decode(&run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run.ID != "run-1" || run.State != pipeline.AwaitingFeedback {
		t.Errorf("run = %+v", run)
	}
	req := app.pipeline.lastReq
	if req.URL != "https://example.com/ch1" || req.Style != "poetic" || !req.Analyze {
		t.Errorf("request = %+v", req)
	}
	if len(req.FocusAreas) != 1 || req.FocusAreas[0] != "flow" {
		t.Errorf("focus areas = %v", req.FocusAreas)
	}
}

func TestProcess_MissingSource(t *testing.T) {
	app := setupAppHandler(t)
	rr := serve(app, authReq(http.MethodPost, "/process", `{"style":"modern"}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestProcess_InvalidJSON(t *testing.T) {
	app := setupAppHandler(t)
	rr := serve(app, authReq(http.MethodPost, "/process", `{bad`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestProcess_ErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantType string
	}{
		{"content", generation.ErrContentTooShort, http.StatusUnprocessableEntity, "content_error"},
		{"configuration", &generation.ConfigurationError{Msg: "no api key"}, http.StatusServiceUnavailable, "configuration_error"},
		{"transient", &generation.TransientError{Op: "generate", Status: 429, Err: errors.New("rate limited")}, http.StatusBadGateway, "upstream_error"},
		{"other", errors.New("scrape failed"), http.StatusInternalServerError, "api_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := setupAppHandler(t)
			app.pipeline.procErr = tt.err
			rr := serve(app, authReq(http.MethodPost, "/process", `{"content":"some text"}`, testToken))
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if got := errorType(t, rr); got != tt.wantType {
				t.Errorf("error type = %q, want %q", got, tt.wantType)
			}
		})
	}
}

func TestGetRun(t *testing.T) {
	app := setupAppHandler(t)
	serve(app, authReq(http.MethodPost, "/process", `{"content":"text"}`, testToken))

	rr := serve(app, authReq(http.MethodGet, "/runs/run-1", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	rr = serve(app, authReq(http.MethodGet, "/runs/missing", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing run: status = %d, want 404", rr.Code)
	}
}

func TestFeedback(t *testing.T) {
	app := setupAppHandler(t)
	serve(app, authReq(http.MethodPost, "/process", `{"content":"text"}`, testToken))

	body := `{"rating":"good","notes":"nice","final_text":"Edited."}`
	rr := serve(app, authReq(http.MethodPost, "/runs/run-1/feedback", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	fb := app.pipeline.lastFB
	if fb.Rating != learning.Good || fb.Notes != "nice" || fb.FinalText != "Edited." {
		t.Errorf("feedback = %+v", fb)
	}

	// A second rating conflicts.
	rr = serve(app, authReq(http.MethodPost, "/runs/run-1/feedback", body, testToken))
	if rr.Code != http.StatusConflict {
		t.Errorf("second feedback: status = %d, want 409", rr.Code)
	}
}

func TestFeedback_Validation(t *testing.T) {
	app := setupAppHandler(t)
	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"bad rating", "/runs/run-1/feedback", `{"rating":"meh"}`, http.StatusBadRequest},
		{"bad save type", "/runs/run-1/feedback", `{"rating":"bad","save_type":"nope"}`, http.StatusBadRequest},
		{"unknown run", "/runs/nope/feedback", `{"rating":"bad"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(app, authReq(http.MethodPost, tt.path, tt.body, testToken))
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestFeedback_QuickSaveWithoutRating(t *testing.T) {
	app := setupAppHandler(t)
	serve(app, authReq(http.MethodPost, "/process", `{"content":"text"}`, testToken))

	rr := serve(app, authReq(http.MethodPost, "/runs/run-1/feedback", `{"save_type":"quick_save"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if fb := app.pipeline.lastFB; fb.Rating != "" || fb.SaveType != archive.SaveQuick {
		t.Errorf("feedback = %+v", fb)
	}
}

func TestSuggestionsAndStats(t *testing.T) {
	app := setupAppHandler(t)
	if err := app.learner.Update(learning.Good, "A calm sentence. Another one here.", "poetic", []string{"flow"}, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}

	rr := serve(app, authReq(http.MethodGet, "/suggestions", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("suggestions status = %d", rr.Code)
	}
	var sg learning.Suggestion
	if err := json.NewDecoder(rr.Body).Decode(&sg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sg.RecommendedStyle != "poetic" || sg.TotalFeedback != 1 {
		t.Errorf("suggestion = %+v", sg)
	}

	rr = serve(app, authReq(http.MethodGet, "/stats", "", testToken))
	var st learning.Stats
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if st.TotalFeedback != 1 || st.GoodFeedback != 1 || st.SuccessRate != 100 {
		t.Errorf("stats = %+v", st)
	}
}

func TestInstructions(t *testing.T) {
	app := setupAppHandler(t)

	rr := serve(app, authReq(http.MethodGet, "/instructions?agent=reviewer", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["agent"] != "reviewer" {
		t.Errorf("agent = %q", body["agent"])
	}
	if body["instructions"] != "" {
		t.Errorf("fresh state should have no instructions, got %q", body["instructions"])
	}

	rr = serve(app, authReq(http.MethodGet, "/instructions?agent=editor", "", testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid agent: status = %d, want 400", rr.Code)
	}
}

func TestReset(t *testing.T) {
	app := setupAppHandler(t)
	app.learner.Update(learning.Bad, "Some output text.", "modern", nil, nil)

	rr := serve(app, authReq(http.MethodPost, "/reset", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := app.learner.Stats().TotalFeedback; got != 0 {
		t.Errorf("total feedback after reset = %d", got)
	}
}

func saveChapter(t *testing.T, store *storage.Store, id string, at time.Time) {
	t.Helper()
	err := store.SaveChapter(storage.Chapter{
		ID:         id,
		VersionID:  "v" + id,
		CreatedAt:  at,
		Style:      "modern",
		FocusAreas: `["grammar","flow"]`,
		Content:    "Chapter content for " + id,
		SaveType:   string(archive.SaveComprehensive),
		FilePath:   "/tmp/" + id + ".txt",
		WordCount:  3,
	})
	if err != nil {
		t.Fatalf("SaveChapter: %v", err)
	}
}

func TestListChapters(t *testing.T) {
	app := setupAppHandler(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	saveChapter(t, app.store, "ch-old", base)
	saveChapter(t, app.store, "ch-new", base.Add(time.Hour))

	rr := serve(app, authReq(http.MethodGet, "/chapters?limit=10", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var chapters []chapterJSON
	if err := json.NewDecoder(rr.Body).Decode(&chapters); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(chapters) != 2 {
		t.Fatalf("got %d chapters, want 2", len(chapters))
	}
	if chapters[0].ID != "ch-new" {
		t.Errorf("first chapter = %s, want newest", chapters[0].ID)
	}
	if len(chapters[0].FocusAreas) != 2 || chapters[0].FocusAreas[1] != "flow" {
		t.Errorf("focus areas = %v", chapters[0].FocusAreas)
	}
}

func TestListChapters_Empty(t *testing.T) {
	app := setupAppHandler(t)
	rr := serve(app, authReq(http.MethodGet, "/chapters", "", testToken))
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("body = %s, want []", rr.Body.String())
	}
}

func TestSearchChapters(t *testing.T) {
	app := setupAppHandler(t)
	app.index.results = []retrieval.SearchResult{{ID: "chapter_a", SimilarityScore: 0.9}}

	rr := serve(app, authReq(http.MethodGet, "/chapters/search?q=storm&n=500", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if app.index.lastN != 100 {
		t.Errorf("n = %d, want clamp to 100", app.index.lastN)
	}
	var results []retrieval.SearchResult
	json.NewDecoder(rr.Body).Decode(&results)
	if len(results) != 1 || results[0].ID != "chapter_a" {
		t.Errorf("results = %+v", results)
	}

	rr = serve(app, authReq(http.MethodGet, "/chapters/search", "", testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing q: status = %d, want 400", rr.Code)
	}

	app.index.err = errors.New("embedder offline")
	rr = serve(app, authReq(http.MethodGet, "/chapters/search?q=storm", "", testToken))
	if rr.Code != http.StatusBadGateway {
		t.Errorf("search error: status = %d, want 502", rr.Code)
	}
}

func TestDeleteChapter(t *testing.T) {
	app := setupAppHandler(t)
	saveChapter(t, app.store, "ch-1", time.Now().UTC())
	app.index.ids["ch-1"] = true
	app.index.ids["ch-indexed-only"] = true

	for _, id := range []string{"ch-1", "ch-indexed-only"} {
		rr := serve(app, authReq(http.MethodDelete, "/chapters/"+id, "", testToken))
		if rr.Code != http.StatusOK {
			t.Errorf("delete %s: status = %d; body = %s", id, rr.Code, rr.Body.String())
		}
	}
	if _, err := app.store.GetChapter("ch-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("chapter still stored: %v", err)
	}
	if len(app.index.ids) != 0 {
		t.Errorf("index still has %v", app.index.ids)
	}

	rr := serve(app, authReq(http.MethodDelete, "/chapters/ch-1", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", rr.Code)
	}
}

func TestChapterStats(t *testing.T) {
	app := setupAppHandler(t)
	app.index.ids["a"] = true

	rr := serve(app, authReq(http.MethodGet, "/chapters/stats", "", testToken))
	var st retrieval.Stats
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.TotalCount != 1 || st.Collection != retrieval.CollectionName {
		t.Errorf("stats = %+v", st)
	}
}

func TestGetChapter(t *testing.T) {
	app := setupAppHandler(t)
	saveChapter(t, app.store, "ch-1", time.Now().UTC())

	rr := serve(app, authReq(http.MethodGet, "/chapters/ch-1", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var c chapterJSON
	if err := json.NewDecoder(rr.Body).Decode(&c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.Content != "Chapter content for ch-1" {
		t.Errorf("content = %q", c.Content)
	}

	rr = serve(app, authReq(http.MethodGet, "/chapters/missing", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing chapter: status = %d, want 404", rr.Code)
	}
}

func TestReindex(t *testing.T) {
	app := setupAppHandler(t)
	app.index.ids["a"] = true
	app.index.ids["b"] = true

	rr := serve(app, authReq(http.MethodPost, "/chapters/reindex", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var out map[string]int
	json.NewDecoder(rr.Body).Decode(&out)
	if out["reindexed"] != 2 {
		t.Errorf("reindexed = %d, want 2", out["reindexed"])
	}

	app.index.err = errors.New("embedder offline")
	rr = serve(app, authReq(http.MethodPost, "/chapters/reindex", "", testToken))
	if rr.Code != http.StatusBadGateway {
		t.Errorf("reindex error: status = %d, want 502", rr.Code)
	}
}

func TestChapterRoutes_NoIndex(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	h := NewAppHandler(AppDeps{Pipeline: newMockPipeline(), Chapters: store, Token: testToken})

	for _, path := range []string{"/chapters/search?q=x", "/chapters/stats", "/speech"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authReq(http.MethodGet, path, "", testToken))
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d, want 503", path, rr.Code)
		}
	}
}

func TestSpeech(t *testing.T) {
	app := setupAppHandler(t)

	rr := serve(app, authReq(http.MethodPost, "/speech", `{"text":"Hello there."}`, testToken))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("start: status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var status map[string]any
	json.NewDecoder(rr.Body).Decode(&status)
	if status["state"] != "running" || status["running"] != true {
		t.Errorf("status = %v", status)
	}

	rr = serve(app, authReq(http.MethodDelete, "/speech", "", testToken))
	status = nil
	json.NewDecoder(rr.Body).Decode(&status)
	if status["running"] != false {
		t.Errorf("after stop: %v", status)
	}

	rr = serve(app, authReq(http.MethodPost, "/speech", `{"text":"   "}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty text: status = %d, want 400", rr.Code)
	}
}

func TestIndexedChapters(t *testing.T) {
	app := setupAppHandler(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	app.index.chapters = []retrieval.Chapter{
		{
			ID:      "chapter_2026-03-01_10-00-00_ab12cd34",
			Content: "The storm broke over the harbour.",
			Metadata: map[string]any{
				"title":            "Storm",
				"processing_style": "literary",
				"focus_areas":      "grammar, flow",
				"rating":           "Good",
				"word_count":       float64(6),
			},
			CreatedAt: created,
		},
		{ID: "chapter_b", Content: "second"},
	}

	rr := serve(app, authReq(http.MethodGet, "/chapters/indexed?limit=1", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var got []chapterJSON
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d chapters, want limit 1", len(got))
	}
	c := got[0]
	if c.Title != "Storm" || c.Style != "literary" || c.Rating != "Good" || c.WordCount != 6 {
		t.Errorf("chapter = %+v", c)
	}
	if len(c.FocusAreas) != 2 || c.FocusAreas[1] != "flow" {
		t.Errorf("focus areas = %v", c.FocusAreas)
	}
	if !c.CreatedAt.Equal(created) {
		t.Errorf("created_at = %v", c.CreatedAt)
	}
}

func TestIndexedChapters_Errors(t *testing.T) {
	app := setupAppHandler(t)
	app.index.err = errors.New("database is locked")
	if rr := serve(app, authReq(http.MethodGet, "/chapters/indexed", "", testToken)); rr.Code != http.StatusBadGateway {
		t.Errorf("index error: status = %d, want 502", rr.Code)
	}
}
