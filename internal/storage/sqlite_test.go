package storage

import (
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

// TestIndexesExist verifies that indexes are created by the migration.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_runs_created", "idx_runs_state", "idx_chapters_created", "idx_chapters_run", "idx_chapter_vectors_created", "idx_jobs_status_run_after"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

// TestChapterVectorsTableExists verifies that the chapter_vectors table is created by migration and supports round-trip.
func TestChapterVectorsTableExists(t *testing.T) {
	s := openTestStore(t)

	_, err := s.DB().Exec(`INSERT INTO chapter_vectors (id, content, metadata_json, embedding, created_at, updated_at)
		VALUES ('v1', 'hello world', '{"title":"t"}', X'00000000', '2025-01-01T00:00:00Z', '2025-01-01T00:00:00Z')`)
	if err != nil {
		t.Fatalf("INSERT into chapter_vectors: %v", err)
	}

	var id, content, meta string
	err = s.DB().QueryRow(`SELECT id, content, metadata_json FROM chapter_vectors WHERE id = 'v1'`).Scan(&id, &content, &meta)
	if err != nil {
		t.Fatalf("SELECT from chapter_vectors: %v", err)
	}
	if id != "v1" || content != "hello world" || meta != `{"title":"t"}` {
		t.Errorf("round-trip mismatch: got id=%q content=%q metadata=%q", id, content, meta)
	}
}

func TestSaveAndGetRun(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	want := Run{
		ID:         "run-001",
		CreatedAt:  now,
		SourceURL:  "https://example.com/ch1",
		Title:      "Chapter 1",
		Style:      "classic",
		FocusAreas: `["grammar","flow"]`,
		State:      "awaiting_feedback",
		Original:   "It was a dark night.",
	}
	if err := s.SaveRun(want); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := s.GetRun("run-001")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.SourceURL != want.SourceURL || got.Style != want.Style || got.FocusAreas != want.FocusAreas {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(now) || !got.UpdatedAt.Equal(now) {
		t.Errorf("timestamps = %v / %v, want %v", got.CreatedAt, got.UpdatedAt, now)
	}
}

func TestSaveRun_Upsert(t *testing.T) {
	s := openTestStore(t)

	created := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
	r := Run{ID: "run-up", CreatedAt: created, State: "scraping"}
	if err := s.SaveRun(r); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	r.State = "saved"
	r.Rating = "Good"
	r.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	if err := s.SaveRun(r); err != nil {
		t.Fatalf("SaveRun update: %v", err)
	}

	got, err := s.GetRun("run-up")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.State != "saved" || got.Rating != "Good" {
		t.Errorf("update not applied: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created_at changed on update: %v", got.CreatedAt)
	}
	if got.FocusAreas != "[]" {
		t.Errorf("focus_areas default = %q, want []", got.FocusAreas)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetRun("nonexistent"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListRuns(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		r := Run{ID: fmt.Sprintf("run-%d", i), CreatedAt: base.Add(time.Duration(i) * time.Minute), State: "saved"}
		if err := s.SaveRun(r); err != nil {
			t.Fatalf("SaveRun %d: %v", i, err)
		}
	}

	runs, err := s.ListRuns(3)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}
	if runs[0].ID != "run-4" || runs[2].ID != "run-2" {
		t.Errorf("unexpected order: %s, %s, %s", runs[0].ID, runs[1].ID, runs[2].ID)
	}
}

func TestSaveListDeleteChapters(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		c := Chapter{
			ID:        fmt.Sprintf("chapter_%d", i),
			VersionID: fmt.Sprintf("v%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			Content:   "content",
			WordCount: 1,
			SaveType:  "comprehensive_save",
		}
		if err := s.SaveChapter(c); err != nil {
			t.Fatalf("SaveChapter %d: %v", i, err)
		}
	}

	chapters, err := s.ListChapters(10)
	if err != nil {
		t.Fatalf("ListChapters: %v", err)
	}
	if len(chapters) != 3 || chapters[0].ID != "chapter_2" {
		t.Fatalf("unexpected chapters: %+v", chapters)
	}

	got, err := s.GetChapter("chapter_1")
	if err != nil {
		t.Fatalf("GetChapter: %v", err)
	}
	if got.VersionID != "v1" || got.SaveType != "comprehensive_save" || got.FocusAreas != "[]" {
		t.Errorf("round-trip mismatch: %+v", got)
	}

	if err := s.DeleteChapter("chapter_1"); err != nil {
		t.Fatalf("DeleteChapter: %v", err)
	}
	if err := s.DeleteChapter("chapter_1"); err != ErrNotFound {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetChapter("chapter_1"); err != ErrNotFound {
		t.Errorf("GetChapter after delete: expected ErrNotFound, got %v", err)
	}
}
