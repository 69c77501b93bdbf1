package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const runColumns = `id, created_at, updated_at, source_url, title, style, focus_areas, state,
	original, writer_output, reviewer_output, final_text, notes, rating, error`

// SaveRun inserts or replaces a run.
func (s *Store) SaveRun(r Run) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	if r.FocusAreas == "" {
		r.FocusAreas = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			updated_at = excluded.updated_at,
			source_url = excluded.source_url,
			title = excluded.title,
			style = excluded.style,
			focus_areas = excluded.focus_areas,
			state = excluded.state,
			original = excluded.original,
			writer_output = excluded.writer_output,
			reviewer_output = excluded.reviewer_output,
			final_text = excluded.final_text,
			notes = excluded.notes,
			rating = excluded.rating,
			error = excluded.error`,
		r.ID, r.CreatedAt.UTC().Format(time.RFC3339), r.UpdatedAt.UTC().Format(time.RFC3339),
		r.SourceURL, r.Title, r.Style, r.FocusAreas, r.State,
		r.Original, r.WriterOutput, r.ReviewerOutput, r.FinalText, r.Notes, r.Rating, r.Error,
	)
	return err
}

func (s *Store) GetRun(id string) (Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Run{}, ErrNotFound
	}
	return r, err
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var r Run
	var createdAt, updatedAt string
	err := row.Scan(&r.ID, &createdAt, &updatedAt, &r.SourceURL, &r.Title, &r.Style, &r.FocusAreas, &r.State,
		&r.Original, &r.WriterOutput, &r.ReviewerOutput, &r.FinalText, &r.Notes, &r.Rating, &r.Error)
	if err != nil {
		return Run{}, err
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Run{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Run{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return r, nil
}
