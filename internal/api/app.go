package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/bookforge/internal/archive"
	"github.com/kalambet/bookforge/internal/learning"
	"github.com/kalambet/bookforge/internal/pipeline"
	"github.com/kalambet/bookforge/internal/retrieval"
	"github.com/kalambet/bookforge/internal/speech"
	"github.com/kalambet/bookforge/internal/storage"
)

// Pipeline runs chapters through the rewrite workflow.
type Pipeline interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Run, error)
	Submit(ctx context.Context, runID string, fb pipeline.Feedback) (pipeline.Run, error)
	Get(id string) (pipeline.Run, error)
}

// Learner is the feedback model as seen by the API.
type Learner interface {
	Suggestions() learning.Suggestion
	AdaptiveInstructions(agent learning.Agent) string
	Stats() learning.Stats
	Reset() error
}

// ChapterIndex is the semantic search collaborator.
type ChapterIndex interface {
	Search(ctx context.Context, query string, n int) ([]retrieval.SearchResult, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (retrieval.Stats, error)
	Reindex(ctx context.Context) (int, error)
	GetAll(ctx context.Context) ([]retrieval.Chapter, error)
}

// ChapterStore holds saved chapter records.
type ChapterStore interface {
	ListChapters(limit int) ([]storage.Chapter, error)
	GetChapter(id string) (storage.Chapter, error)
	DeleteChapter(id string) error
}

// Speaker controls read-aloud playback.
type Speaker interface {
	Start(text string) error
	Stop()
	IsRunning() bool
	State() speech.State
}

type AppDeps struct {
	Pipeline Pipeline
	Learner  Learner
	Index    ChapterIndex // optional; search routes answer 503 without it
	Chapters ChapterStore
	Speech   Speaker // optional
	Token    string
}

// NewAppHandler returns the bookforge REST API. Everything but /health
// requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/process", handleProcess(deps))
		r.Get("/runs/{id}", handleGetRun(deps))
		r.Post("/runs/{id}/feedback", handleFeedback(deps))

		r.Get("/suggestions", handleSuggestions(deps))
		r.Get("/instructions", handleInstructions(deps))
		r.Get("/stats", handleStats(deps))
		r.Post("/reset", handleReset(deps))

		r.Get("/chapters", handleListChapters(deps))
		r.Get("/chapters/search", handleSearchChapters(deps))
		r.Get("/chapters/stats", handleChapterStats(deps))
		r.Get("/chapters/indexed", handleIndexedChapters(deps))
		r.Post("/chapters/reindex", handleReindex(deps))
		r.Get("/chapters/{id}", handleGetChapter(deps))
		r.Delete("/chapters/{id}", handleDeleteChapter(deps))

		r.Get("/speech", handleSpeechState(deps))
		r.Post("/speech", handleSpeechStart(deps))
		r.Delete("/speech", handleSpeechStop(deps))
	})

	return r
}

type processRequest struct {
	URL        string   `json:"url"`
	Content    string   `json:"content"`
	Title      string   `json:"title"`
	Style      string   `json:"style"`
	FocusAreas []string `json:"focus_areas"`
	Analyze    bool     `json:"analyze"`
}

func handleProcess(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req processRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON: %v", err)
			return
		}
		if strings.TrimSpace(req.URL) == "" && strings.TrimSpace(req.Content) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url or content is required")
			return
		}

		run, err := deps.Pipeline.Process(r.Context(), pipeline.Request{
			URL:        req.URL,
			Content:    req.Content,
			Title:      req.Title,
			Style:      req.Style,
			FocusAreas: req.FocusAreas,
			Analyze:    req.Analyze,
		})
		if err != nil {
			code, errType := processStatus(err)
			httpError(w, code, errType, "run %s failed: %v", run.ID, err)
			return
		}
		writeJSON(w, run)
	}
}

func handleGetRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := deps.Pipeline.Get(chi.URLParam(r, "id"))
		if errors.Is(err, pipeline.ErrRunNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "run not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get run: %v", err)
			return
		}
		writeJSON(w, run)
	}
}

type feedbackRequest struct {
	Rating    string `json:"rating"`
	Notes     string `json:"notes"`
	FinalText string `json:"final_text"`
	SaveType  string `json:"save_type"`
}

func handleFeedback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req feedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON: %v", err)
			return
		}

		fb := pipeline.Feedback{Notes: req.Notes, FinalText: req.FinalText}
		if req.Rating != "" {
			rating, err := learning.ParseRating(req.Rating)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			fb.Rating = rating
		}
		switch archive.SaveType(req.SaveType) {
		case "", archive.SaveComprehensive, archive.SaveQuick:
			fb.SaveType = archive.SaveType(req.SaveType)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid save_type %q", req.SaveType)
			return
		}

		run, err := deps.Pipeline.Submit(r.Context(), chi.URLParam(r, "id"), fb)
		switch {
		case errors.Is(err, pipeline.ErrRunNotFound):
			httpError(w, http.StatusNotFound, "not_found", "run not found")
			return
		case errors.Is(err, pipeline.ErrNotAwaitingFeedback):
			httpError(w, http.StatusConflict, "invalid_request_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save feedback: %v", err)
			return
		}
		writeJSON(w, run)
	}
}

func handleSuggestions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Learner.Suggestions())
	}
}

func handleInstructions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("agent")
		if name == "" {
			name = string(learning.Writer)
		}
		agent, err := learning.ParseAgent(name)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, map[string]string{
			"agent":        string(agent),
			"instructions": deps.Learner.AdaptiveInstructions(agent),
		})
	}
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Learner.Stats())
	}
}

func handleReset(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Learner.Reset(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reset learning state: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "reset"})
	}
}

type chapterJSON struct {
	ID         string    `json:"id"`
	VersionID  string    `json:"version_id"`
	RunID      string    `json:"run_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	SourceURL  string    `json:"source_url,omitempty"`
	Title      string    `json:"title,omitempty"`
	Style      string    `json:"style"`
	FocusAreas []string  `json:"focus_areas"`
	Rating     string    `json:"rating,omitempty"`
	SaveType   string    `json:"save_type"`
	FilePath   string    `json:"file_path"`
	WordCount  int       `json:"word_count"`
	Preview    string    `json:"preview"`
	Content    string    `json:"content,omitempty"`
}

func toChapterJSON(c storage.Chapter) chapterJSON {
	var focus []string
	if c.FocusAreas != "" {
		_ = json.Unmarshal([]byte(c.FocusAreas), &focus)
	}
	if focus == nil {
		focus = []string{}
	}
	return chapterJSON{
		ID:         c.ID,
		VersionID:  c.VersionID,
		RunID:      c.RunID,
		CreatedAt:  c.CreatedAt,
		SourceURL:  c.SourceURL,
		Title:      c.Title,
		Style:      c.Style,
		FocusAreas: focus,
		Rating:     c.Rating,
		SaveType:   c.SaveType,
		FilePath:   c.FilePath,
		WordCount:  c.WordCount,
		Preview:    retrieval.Preview(c.Content, 200),
	}
}

func handleListChapters(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		if limit == 0 {
			limit = 20
		}
		chapters, err := deps.Chapters.ListChapters(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list chapters: %v", err)
			return
		}
		out := make([]chapterJSON, len(chapters))
		for i, c := range chapters {
			out[i] = toChapterJSON(c)
		}
		writeJSON(w, out)
	}
}

// handleIndexedChapters lists what the vector index holds, which can differ
// from the chapters table while index jobs are pending or after a failure.
func handleIndexedChapters(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Index == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "chapter index not available")
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)
		if limit == 0 {
			limit = 20
		}
		all, err := deps.Index.GetAll(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "upstream_error", "listing indexed chapters: %v", err)
			return
		}
		out := make([]chapterJSON, 0, min(limit, len(all)))
		for _, c := range all[:min(limit, len(all))] {
			out = append(out, indexedChapterJSON(c))
		}
		writeJSON(w, out)
	}
}

func indexedChapterJSON(c retrieval.Chapter) chapterJSON {
	str := func(k string) string {
		v, _ := c.Metadata[k].(string)
		return v
	}
	words, _ := c.Metadata["word_count"].(float64)
	focus := []string{}
	for _, f := range strings.Split(str("focus_areas"), ",") {
		if f = strings.TrimSpace(f); f != "" {
			focus = append(focus, f)
		}
	}
	return chapterJSON{
		ID:         c.ID,
		VersionID:  str("version_id"),
		RunID:      str("run_id"),
		CreatedAt:  c.CreatedAt,
		SourceURL:  str("source_url"),
		Title:      str("title"),
		Style:      str("processing_style"),
		FocusAreas: focus,
		Rating:     str("rating"),
		WordCount:  int(words),
		Preview:    retrieval.Preview(c.Content, 200),
	}
}

func handleSearchChapters(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Index == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "chapter index not available")
			return
		}
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		n := parseIntParam(r, "n", 5, 100)

		results, err := deps.Index.Search(r.Context(), q, n)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "search failed: %v", err)
			return
		}
		if results == nil {
			results = []retrieval.SearchResult{}
		}
		writeJSON(w, results)
	}
}

func handleChapterStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Index == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "chapter index not available")
			return
		}
		st, err := deps.Index.Stats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read index stats: %v", err)
			return
		}
		writeJSON(w, st)
	}
}

func handleGetChapter(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.Chapters.GetChapter(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "chapter not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get chapter: %v", err)
			return
		}
		out := toChapterJSON(c)
		out.Content = c.Content
		writeJSON(w, out)
	}
}

func handleReindex(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Index == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "chapter index not available")
			return
		}
		n, err := deps.Index.Reindex(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "reindex failed: %v", err)
			return
		}
		writeJSON(w, map[string]int{"reindexed": n})
	}
}

// handleDeleteChapter removes the chapter record and its index entry. A
// chapter that was never indexed is still deleted.
func handleDeleteChapter(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		found := false
		err := deps.Chapters.DeleteChapter(id)
		switch {
		case err == nil:
			found = true
		case !errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete chapter: %v", err)
			return
		}

		if deps.Index != nil {
			err := deps.Index.Delete(r.Context(), id)
			switch {
			case err == nil:
				found = true
			case !errors.Is(err, retrieval.ErrNotFound):
				httpError(w, http.StatusInternalServerError, "api_error", "failed to remove chapter from index: %v", err)
				return
			}
		}

		if !found {
			httpError(w, http.StatusNotFound, "not_found", "chapter not found")
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

type speechRequest struct {
	Text string `json:"text"`
}

func speechStatus(sp Speaker) map[string]any {
	return map[string]any{
		"state":   sp.State().String(),
		"running": sp.IsRunning(),
	}
}

func handleSpeechState(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Speech == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "speech not available")
			return
		}
		writeJSON(w, speechStatus(deps.Speech))
	}
}

func handleSpeechStart(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Speech == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "speech not available")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req speechRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON: %v", err)
			return
		}
		if err := deps.Speech.Start(req.Text); err != nil {
			if errors.Is(err, speech.ErrNothingToSay) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to start speech: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(speechStatus(deps.Speech))
	}
}

func handleSpeechStop(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Speech == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "speech not available")
			return
		}
		deps.Speech.Stop()
		writeJSON(w, speechStatus(deps.Speech))
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
