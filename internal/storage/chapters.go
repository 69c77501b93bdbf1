package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const chapterColumns = `id, version_id, run_id, created_at, source_url, title, style, focus_areas,
	content, notes, rating, save_type, file_path, word_count`

// SaveChapter records a saved final version. An existing id is replaced.
func (s *Store) SaveChapter(c Chapter) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.FocusAreas == "" {
		c.FocusAreas = "[]"
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO chapters (`+chapterColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.VersionID, c.RunID, c.CreatedAt.UTC().Format(time.RFC3339), c.SourceURL, c.Title,
		c.Style, c.FocusAreas, c.Content, c.Notes, c.Rating, c.SaveType, c.FilePath, c.WordCount,
	)
	return err
}

func (s *Store) GetChapter(id string) (Chapter, error) {
	c, err := scanChapter(s.db.QueryRow(`SELECT `+chapterColumns+` FROM chapters WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Chapter{}, ErrNotFound
	}
	return c, err
}

// ListChapters returns saved chapters, newest first.
func (s *Store) ListChapters(limit int) ([]Chapter, error) {
	rows, err := s.db.Query(`SELECT `+chapterColumns+` FROM chapters ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Chapter
	for rows.Next() {
		c, err := scanChapter(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

func (s *Store) DeleteChapter(id string) error {
	res, err := s.db.Exec(`DELETE FROM chapters WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanChapter(row rowScanner) (Chapter, error) {
	var c Chapter
	var createdAt string
	err := row.Scan(&c.ID, &c.VersionID, &c.RunID, &createdAt, &c.SourceURL, &c.Title, &c.Style, &c.FocusAreas,
		&c.Content, &c.Notes, &c.Rating, &c.SaveType, &c.FilePath, &c.WordCount)
	if err != nil {
		return Chapter{}, err
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Chapter{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return c, nil
}
