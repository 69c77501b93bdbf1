package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

const (
	// CollectionName identifies the chapter index in stats output.
	CollectionName = "book_chapters"

	maxResults   = 100
	previewChars = 200
	// maxEmbedChars bounds the text sent to the embedding model.
	maxEmbedChars = 8000
)

// TextEmbedder turns text into vectors. *Embedder implements it.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// SearchResult is one hit from Index.Search.
type SearchResult struct {
	ID              string         `json:"id"`
	ContentPreview  string         `json:"content_preview"`
	FullContent     string         `json:"full_content"`
	Metadata        map[string]any `json:"metadata"`
	SimilarityScore float64        `json:"similarity_score"`
}

// Chapter is an indexed chapter without its embedding.
type Chapter struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// Stats describes the index.
type Stats struct {
	TotalCount int    `json:"total_count"`
	Collection string `json:"collection"`
}

// Index is the semantic search collaborator over saved chapters.
type Index struct {
	embedder TextEmbedder
	store    VectorStore
}

// NewIndex creates an Index backed by the given embedder and store.
func NewIndex(embedder TextEmbedder, store VectorStore) *Index {
	return &Index{embedder: embedder, store: store}
}

// DocID builds the index id for a saved version.
func DocID(timestamp, versionID string) string {
	return fmt.Sprintf("chapter_%s_%s", timestamp, versionID)
}

// Add embeds content and upserts it under id. Re-adding an id replaces it.
func (x *Index) Add(ctx context.Context, id, content string, metadata map[string]any) error {
	if id == "" {
		return errors.New("chapter id is required")
	}
	vec, err := x.embedder.Embed(ctx, embedText(content))
	if err != nil {
		return err
	}
	return x.store.Upsert(ctx, []Record{{ID: id, Content: content, Metadata: metadata, Embedding: vec}})
}

// Search returns up to n chapters most similar to query. n is clamped to
// [1, 100].
func (x *Index) Search(ctx context.Context, query string, n int) ([]SearchResult, error) {
	n = max(1, min(n, maxResults))
	vec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	scored, err := x.store.Search(ctx, vec, n)
	if err != nil {
		return nil, err
	}
	results := make([]SearchResult, len(scored))
	for i, s := range scored {
		results[i] = SearchResult{
			ID:              s.ID,
			ContentPreview:  Preview(s.Content, previewChars),
			FullContent:     s.Content,
			Metadata:        s.Metadata,
			SimilarityScore: float64(s.Score),
		}
	}
	return results, nil
}

// GetAll returns every indexed chapter, newest first.
func (x *Index) GetAll(ctx context.Context) ([]Chapter, error) {
	records, err := x.store.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Chapter, len(records))
	for i, r := range records {
		out[i] = Chapter{ID: r.ID, Content: r.Content, Metadata: r.Metadata, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

// Delete removes a chapter from the index.
func (x *Index) Delete(ctx context.Context, id string) error {
	return x.store.Delete(ctx, id)
}

// Stats reports the number of indexed chapters.
func (x *Index) Stats(ctx context.Context) (Stats, error) {
	n, err := x.store.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{TotalCount: n, Collection: CollectionName}, nil
}

// Reindex re-embeds every chapter, for example after switching embedding
// models. It returns the number of chapters rewritten.
func (x *Index) Reindex(ctx context.Context) (int, error) {
	records, err := x.store.All(ctx)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = embedText(r.Content)
	}
	vecs, err := x.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}
	for i := range records {
		records[i].Embedding = vecs[i]
	}
	if err := x.store.Upsert(ctx, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Preview returns the first n runes of s, with "..." appended when s was cut.
func Preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func embedText(s string) string {
	if len(s) <= maxEmbedChars {
		return s
	}
	cut := maxEmbedChars
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
