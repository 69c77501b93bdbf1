package retrieval

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore keeps chapter vectors in the chapter_vectors table created by
// the storage migrations. Search is an exact cosine scan; a writer's library
// is small enough that no ANN index is needed.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const selectRecords = `SELECT id, content, metadata_json, embedding, created_at, updated_at FROM chapter_vectors`

const upsertRecord = `
	INSERT INTO chapter_vectors (id, content, metadata_json, embedding, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		content       = excluded.content,
		metadata_json = excluded.metadata_json,
		embedding     = excluded.embedding,
		updated_at    = excluded.updated_at`

func (s *SQLiteStore) Upsert(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, r := range records {
		meta := []byte("{}")
		if r.Metadata != nil {
			if meta, err = json.Marshal(r.Metadata); err != nil {
				return fmt.Errorf("encoding metadata for %s: %w", r.ID, err)
			}
		}
		created := cmp.Or(r.CreatedAt, now)
		if _, err := tx.ExecContext(ctx, upsertRecord, r.ID, r.Content, string(meta), packVector(r.Embedding),
			created.UTC().Format(time.RFC3339), now.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("upserting %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

type hit struct {
	id    string
	score float32
}

// Search scans ids and embeddings only, keeps the best topK, then loads the
// winning rows. Ties are broken by id so results are stable.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error) {
	query := unit(vector)
	if topK <= 0 || query == nil {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM chapter_vectors`)
	if err != nil {
		return nil, fmt.Errorf("scanning vectors: %w", err)
	}
	defer rows.Close()

	var (
		best []hit
		vec  []float32
	)
	better := func(a, b hit) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	}
	for rows.Next() {
		var (
			id   string
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning vectors: %w", err)
		}
		if vec, err = unpackVector(vec, blob); err != nil {
			return nil, fmt.Errorf("chapter %s: %w", id, err)
		}
		h := hit{id: id, score: cosine(query, vec)}
		i, _ := slices.BinarySearchFunc(best, h, better)
		if i >= topK {
			continue
		}
		best = slices.Insert(best, i, h)
		if len(best) > topK {
			best = best[:topK]
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanning vectors: %w", err)
	}
	if len(best) == 0 {
		return nil, nil
	}

	ids := make([]any, len(best))
	for i, h := range best {
		ids[i] = h.id
	}
	records, err := s.query(ctx, selectRecords+` WHERE id IN (`+placeholders(len(ids))+`)`, ids...)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	out := make([]ScoredRecord, 0, len(best))
	for _, h := range best {
		if r, ok := byID[h.id]; ok {
			out = append(out, ScoredRecord{Record: r, Score: h.score})
		}
	}
	return out, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, error) {
	records, err := s.query(ctx, selectRecords+` WHERE id = ?`, id)
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, ErrNotFound
	}
	return records[0], nil
}

func (s *SQLiteStore) All(ctx context.Context) ([]Record, error) {
	return s.query(ctx, selectRecords+` ORDER BY created_at DESC, id DESC`)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chapter_vectors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chapter_vectors`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		r                Record
		meta             string
		blob             []byte
		created, updated string
	)
	if err := rows.Scan(&r.ID, &r.Content, &meta, &blob, &created, &updated); err != nil {
		return Record{}, fmt.Errorf("scanning record: %w", err)
	}
	var err error
	if err = json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
		return Record{}, fmt.Errorf("chapter %s metadata: %w", r.ID, err)
	}
	if r.Embedding, err = unpackVector(nil, blob); err != nil {
		return Record{}, fmt.Errorf("chapter %s: %w", r.ID, err)
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339, created); err != nil {
		return Record{}, fmt.Errorf("chapter %s created_at: %w", r.ID, err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339, updated); err != nil {
		return Record{}, fmt.Errorf("chapter %s updated_at: %w", r.ID, err)
	}
	return r, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// packVector stores v as little-endian float32s.
func packVector(v []float32) []byte {
	b := make([]byte, 0, 4*len(v))
	for _, f := range v {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
	}
	return b
}

// unpackVector decodes b into dst, reusing its backing array.
func unpackVector(dst []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("corrupt embedding: %d bytes", len(b))
	}
	dst = slices.Grow(dst[:0], len(b)/4)
	for ; len(b) > 0; b = b[4:] {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
	return dst, nil
}

// unit returns v scaled to length one, or nil for a zero vector.
func unit(v []float32) []float32 {
	var sq float64
	for _, f := range v {
		sq += float64(f) * float64(f)
	}
	if sq == 0 {
		return nil
	}
	n := math.Sqrt(sq)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / n)
	}
	return out
}

// cosine returns the cosine similarity of a unit vector q and v. Vectors of
// different dimension score zero.
func cosine(q, v []float32) float32 {
	if len(q) != len(v) {
		return 0
	}
	var dot, sq float64
	for i := range q {
		dot += float64(q[i]) * float64(v[i])
		sq += float64(v[i]) * float64(v[i])
	}
	if sq == 0 {
		return 0
	}
	return float32(dot / math.Sqrt(sq))
}
