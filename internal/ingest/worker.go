package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kalambet/bookforge/internal/storage"
)

// JobStore abstracts the job queue and chapter lookups.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetChapter(id string) (storage.Chapter, error)
}

// Enqueuer adds jobs to the queue.
type Enqueuer interface {
	EnqueueJob(job storage.Job) error
}

// ChapterIndexer embeds and upserts a chapter into the search index.
type ChapterIndexer interface {
	Add(ctx context.Context, id, content string, metadata map[string]any) error
}

// Worker processes chapter_index jobs from the SQLite job queue.
type Worker struct {
	store   JobStore
	indexer ChapterIndexer
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, indexer ChapterIndexer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		indexer: indexer,
		poll:    pollInterval,
		logger:  slog.Default(),
	}
}

type indexPayload struct {
	ChapterID string `json:"chapter_id"`
}

// EnqueueChapter schedules chapterID for indexing.
func EnqueueChapter(q Enqueuer, chapterID string) error {
	payload, err := json.Marshal(indexPayload{ChapterID: chapterID})
	if err != nil {
		return err
	}
	return q.EnqueueJob(storage.Job{
		ID:          uuid.NewString(),
		Type:        storage.JobTypeChapterIndex,
		PayloadJSON: string(payload),
	})
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single chapter_index job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{storage.JobTypeChapterIndex})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload indexPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	ch, err := w.store.GetChapter(payload.ChapterID)
	if err != nil {
		return fmt.Errorf("loading chapter %s: %w", payload.ChapterID, err)
	}

	if err := w.indexer.Add(ctx, ch.ID, ch.Content, ChapterMetadata(ch)); err != nil {
		return fmt.Errorf("indexing chapter %s: %w", ch.ID, err)
	}
	w.logger.Debug("chapter indexed", "chapter_id", ch.ID, "words", ch.WordCount)
	return nil
}

// ChapterMetadata is the metadata stored alongside a chapter in the index.
func ChapterMetadata(ch storage.Chapter) map[string]any {
	var focus []string
	if ch.FocusAreas != "" {
		_ = json.Unmarshal([]byte(ch.FocusAreas), &focus)
	}
	title := ch.Title
	if title == "" {
		title = "Chapter " + ch.CreatedAt.Format("2006-01-02_15-04-05")
	}
	return map[string]any{
		"timestamp":        ch.CreatedAt.Format("2006-01-02_15-04-05"),
		"version_id":       ch.VersionID,
		"run_id":           ch.RunID,
		"source_url":       ch.SourceURL,
		"title":            title,
		"processing_style": ch.Style,
		"focus_areas":      strings.Join(focus, ", "),
		"feedback":         ch.Notes,
		"rating":           ch.Rating,
		"word_count":       ch.WordCount,
		"character_count":  utf8.RuneCountInString(ch.Content),
		"save_type":        ch.SaveType,
	}
}
