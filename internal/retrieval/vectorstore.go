package retrieval

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a chapter id is not in the index.
var ErrNotFound = errors.New("chapter not found")

// VectorStore persists chapter embeddings and answers nearest-neighbour
// queries. SQLiteStore is the only implementation; the interface keeps the
// Index testable without a database.
type VectorStore interface {
	// Upsert inserts records, replacing any with the same ID.
	Upsert(ctx context.Context, records []Record) error

	// Search returns the topK records most similar to vector, best first.
	Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error)

	// Get returns one record by ID.
	Get(ctx context.Context, id string) (Record, error)

	// All returns every record, newest first.
	All(ctx context.Context) ([]Record, error)

	// Delete removes a record by ID. Missing IDs return ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}

// Record is one indexed chapter.
type Record struct {
	ID        string
	Content   string
	Metadata  map[string]any
	Embedding []float32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScoredRecord is a Record with a cosine similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
