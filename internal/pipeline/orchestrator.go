// Package pipeline drives a chapter from source URL to a saved, rated final
// version: scrape, rewrite, review, then human feedback.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/bookforge/internal/analysis"
	"github.com/kalambet/bookforge/internal/archive"
	"github.com/kalambet/bookforge/internal/composer"
	"github.com/kalambet/bookforge/internal/generation"
	"github.com/kalambet/bookforge/internal/ingest"
	"github.com/kalambet/bookforge/internal/learning"
	"github.com/kalambet/bookforge/internal/retrieval"
	"github.com/kalambet/bookforge/internal/scraper"
	"github.com/kalambet/bookforge/internal/storage"
)

const (
	referenceCount = 3
	referenceChars = 1500
	referenceQuery = 1000
)

var (
	// ErrRunNotFound is returned for an unknown run id.
	ErrRunNotFound = errors.New("run not found")
	// ErrNotAwaitingFeedback is returned when feedback arrives for a run
	// that is not waiting for it.
	ErrNotAwaitingFeedback = errors.New("run is not awaiting feedback")
	// ErrNoSource is returned when a request has neither a URL nor content.
	ErrNoSource = errors.New("a url or content is required")
)

// Scraper fetches source text.
type Scraper interface {
	Scrape(ctx context.Context, url string) scraper.Result
}

// Learner is the adaptive feedback model.
type Learner interface {
	AdaptiveInstructions(agent learning.Agent) string
	Update(rating learning.Rating, output, style string, focusAreas []string, metadata map[string]any) error
}

// RunStore persists runs and saved chapters and accepts index jobs.
type RunStore interface {
	SaveRun(r storage.Run) error
	GetRun(id string) (storage.Run, error)
	SaveChapter(c storage.Chapter) error
	EnqueueJob(job storage.Job) error
}

// Archiver writes final versions to disk.
type Archiver interface {
	Save(v archive.Version, t archive.SaveType) (archive.Saved, error)
}

// ReferenceFinder finds earlier chapters similar to a text.
type ReferenceFinder interface {
	Search(ctx context.Context, query string, n int) ([]retrieval.SearchResult, error)
}

// Analyzer reports on the content of a source text.
type Analyzer interface {
	Analyze(ctx context.Context, content string) analysis.Report
}

// Deps are the collaborators of an Orchestrator. Scraper, Generator,
// Learner, Store and Archive are required; the rest are optional.
type Deps struct {
	Scraper    Scraper
	Generator  generation.Generator
	Learner    Learner
	Store      RunStore
	Archive    Archiver
	References ReferenceFinder
	Analyzer   Analyzer
	Composer   *composer.Composer
	Profiles   generation.Profiles
	StageDelay time.Duration
}

// Request starts a run. When Content is set the scrape stage is skipped.
type Request struct {
	URL        string   `json:"url,omitempty"`
	Content    string   `json:"content,omitempty"`
	Title      string   `json:"title,omitempty"`
	Style      string   `json:"style,omitempty"`
	FocusAreas []string `json:"focus_areas,omitempty"`
	Analyze    bool     `json:"analyze,omitempty"`
}

// Feedback closes a run. An empty Rating saves the version without teaching
// the learner.
type Feedback struct {
	Rating    learning.Rating  `json:"rating,omitempty"`
	Notes     string           `json:"notes,omitempty"`
	FinalText string           `json:"final_text,omitempty"`
	SaveType  archive.SaveType `json:"save_type,omitempty"`
}

// Orchestrator runs the scrape, write, review and feedback state machine.
// Each run moves forward only; failures end in Error and are not retried.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	mu   sync.Mutex
	runs map[string]*Run
	busy map[string]bool
}

// New creates an Orchestrator.
func New(d Deps) *Orchestrator {
	if d.Composer == nil {
		d.Composer = composer.New(0)
	}
	if d.Profiles == (generation.Profiles{}) {
		d.Profiles = generation.DefaultProfiles()
	}
	if d.StageDelay < 0 {
		d.StageDelay = 0
	}
	return &Orchestrator{
		deps:   d,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		runs:   make(map[string]*Run),
		busy:   make(map[string]bool),
	}
}

// Process runs a request through to AwaitingFeedback. On failure the
// returned Run is in the Error state and err describes the failing stage.
func (o *Orchestrator) Process(ctx context.Context, req Request) (Run, error) {
	start := time.Now()
	now := o.now()
	style := strings.TrimSpace(req.Style)
	if style == "" {
		style = learning.DefaultStyle
	}
	focus := req.FocusAreas
	if len(focus) == 0 {
		focus = composer.DefaultFocusAreas
	}

	run := &Run{
		ID:         o.newID(),
		State:      Idle,
		SourceURL:  strings.TrimSpace(req.URL),
		Title:      req.Title,
		Style:      style,
		FocusAreas: append([]string(nil), focus...),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	o.register(run)

	finish := func(err error) (Run, error) {
		o.set(run, func(r *Run) { r.ProcessingTime = math.Round(time.Since(start).Seconds()*100) / 100 })
		if err != nil {
			return o.fail(run, err)
		}
		return o.transition(run, AwaitingFeedback), nil
	}

	switch {
	case strings.TrimSpace(req.Content) != "":
		o.set(run, func(r *Run) {
			r.Original = req.Content
			if r.Title == "" {
				r.Title = "Pasted content"
			}
		})
		o.transition(run, Scraped)
	case run.SourceURL != "":
		o.transition(run, Scraping)
		res := o.deps.Scraper.Scrape(ctx, run.SourceURL)
		if !res.OK() {
			return finish(fmt.Errorf("scraping %s: %s", run.SourceURL, res.Error))
		}
		o.set(run, func(r *Run) {
			r.Original = res.Content
			if r.Title == "" {
				r.Title = res.Title
			}
		})
		o.transition(run, Scraped)
	default:
		return finish(ErrNoSource)
	}

	if err := generation.ValidateContent(run.Original); err != nil {
		return finish(err)
	}

	var g errgroup.Group
	var report *analysis.Report
	if req.Analyze && o.deps.Analyzer != nil {
		original := run.Original
		g.Go(func() error {
			rep := o.deps.Analyzer.Analyze(ctx, original)
			report = &rep
			return nil
		})
	}

	err := o.generate(ctx, run)
	g.Wait()
	if report != nil {
		o.set(run, func(r *Run) { r.Analysis = report })
	}
	return finish(err)
}

// generate runs the writer and reviewer stages.
func (o *Orchestrator) generate(ctx context.Context, run *Run) error {
	o.transition(run, Writing)
	prompt := o.deps.Composer.Writer(run.Original, run.Style,
		o.deps.Learner.AdaptiveInstructions(learning.Writer), o.references(ctx, run.Original))
	written, err := o.deps.Generator.Generate(ctx, prompt, o.deps.Profiles.Writer)
	if err != nil {
		return fmt.Errorf("writer stage: %w", err)
	}
	if err := generation.ValidateContent(written); err != nil {
		return fmt.Errorf("writer stage: %w", err)
	}
	o.set(run, func(r *Run) { r.WriterOutput = written })

	if err := sleep(ctx, o.deps.StageDelay); err != nil {
		return fmt.Errorf("waiting before review: %w", err)
	}

	o.transition(run, Reviewing)
	prompt = o.deps.Composer.Reviewer(written, run.FocusAreas,
		o.deps.Learner.AdaptiveInstructions(learning.Reviewer))
	reviewed, err := o.deps.Generator.Generate(ctx, prompt, o.deps.Profiles.Reviewer)
	if err != nil {
		return fmt.Errorf("reviewer stage: %w", err)
	}
	if err := generation.ValidateContent(reviewed); err != nil {
		return fmt.Errorf("reviewer stage: %w", err)
	}
	o.set(run, func(r *Run) { r.ReviewerOutput = reviewed })
	return nil
}

// references returns well-rated earlier chapters similar to text. Lookup
// failures only cost the writer its style examples.
func (o *Orchestrator) references(ctx context.Context, text string) []composer.Reference {
	if o.deps.References == nil {
		return nil
	}
	query := text
	if r := []rune(query); len(r) > referenceQuery {
		query = string(r[:referenceQuery])
	}
	hits, err := o.deps.References.Search(ctx, query, referenceCount*2)
	if err != nil {
		o.logger.Warn("style reference lookup failed", "error", err)
		return nil
	}
	var refs []composer.Reference
	for _, h := range hits {
		if rating, _ := h.Metadata["rating"].(string); rating != string(learning.Good) {
			continue
		}
		refs = append(refs, composer.Reference{
			ID:    h.ID,
			Text:  retrieval.Preview(h.FullContent, referenceChars),
			Score: float32(h.SimilarityScore),
		})
		if len(refs) == referenceCount {
			break
		}
	}
	return refs
}

// Submit applies human feedback to a run awaiting it: the final version is
// archived, the learner is updated when a rating is given, and the chapter
// is recorded and queued for indexing. The run ends Saved.
func (o *Orchestrator) Submit(ctx context.Context, runID string, fb Feedback) (Run, error) {
	if fb.Rating != "" && !fb.Rating.Valid() {
		return Run{}, fmt.Errorf("invalid rating %q", fb.Rating)
	}

	run, err := o.claim(runID)
	if err != nil {
		return Run{}, err
	}
	defer o.release(runID)

	final := strings.TrimSpace(fb.FinalText)
	if final == "" {
		final = run.ReviewerOutput
	}
	saveType := fb.SaveType
	if saveType == "" {
		saveType = archive.SaveComprehensive
		if fb.Rating == "" {
			saveType = archive.SaveQuick
		}
	}

	saved, err := o.deps.Archive.Save(archive.Version{
		SourceURL:    run.SourceURL,
		Style:        run.Style,
		FocusAreas:   run.FocusAreas,
		Notes:        fb.Notes,
		Original:     run.Original,
		WriterOutput: run.WriterOutput,
		FinalText:    final,
	}, saveType)
	if err != nil {
		return o.fail(run, fmt.Errorf("saving final version: %w", err))
	}

	o.set(run, func(r *Run) {
		r.FinalText = final
		r.Notes = fb.Notes
		r.Rating = string(fb.Rating)
		r.FilePath = saved.Path
	})

	if fb.Rating != "" {
		meta := map[string]any{
			"run_id":     run.ID,
			"source_url": run.SourceURL,
			"version_id": saved.VersionID,
			"edited":     final != run.ReviewerOutput,
		}
		if err := o.deps.Learner.Update(fb.Rating, final, run.Style, run.FocusAreas, meta); err != nil {
			var pe *learning.PersistenceError
			if !errors.As(err, &pe) {
				return o.fail(run, fmt.Errorf("recording feedback: %w", err))
			}
			o.warn(run, "learning state not persisted: "+pe.Err.Error())
		}
	}

	chapterID := retrieval.DocID(saved.Timestamp.Format("2006-01-02_15-04-05"), saved.VersionID)
	ch := storage.Chapter{
		ID:         chapterID,
		VersionID:  saved.VersionID,
		RunID:      run.ID,
		CreatedAt:  saved.Timestamp,
		SourceURL:  run.SourceURL,
		Title:      run.Title,
		Style:      run.Style,
		FocusAreas: focusJSON(run.FocusAreas),
		Content:    final,
		Notes:      fb.Notes,
		Rating:     run.Rating,
		SaveType:   string(saveType),
		FilePath:   saved.Path,
		WordCount:  len(strings.Fields(final)),
	}
	if err := o.deps.Store.SaveChapter(ch); err != nil {
		o.logger.Warn("chapter record not saved", "run_id", run.ID, "error", err)
		o.warn(run, "chapter record not saved: "+err.Error())
	} else {
		o.set(run, func(r *Run) { r.ChapterID = chapterID })
		if err := ingest.EnqueueChapter(o.deps.Store, chapterID); err != nil {
			o.logger.Warn("chapter index job not queued", "chapter_id", chapterID, "error", err)
			o.warn(run, "chapter not queued for search indexing")
		}
	}

	return o.transition(run, Saved), nil
}

// Get returns a run by id from memory or, failing that, from the store.
func (o *Orchestrator) Get(id string) (Run, error) {
	o.mu.Lock()
	if r, ok := o.runs[id]; ok {
		defer o.mu.Unlock()
		return r.clone(), nil
	}
	o.mu.Unlock()

	sr, err := o.deps.Store.GetRun(id)
	if errors.Is(err, storage.ErrNotFound) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("loading run %s: %w", id, err)
	}
	r := fromStorage(sr)
	return r, nil
}

// claim marks a run as being handled by Submit and returns it. Runs started in
// another process are loaded from the store.
func (o *Orchestrator) claim(id string) (*Run, error) {
	o.mu.Lock()
	r, ok := o.runs[id]
	o.mu.Unlock()
	if !ok {
		loaded, err := o.Get(id)
		if err != nil {
			return nil, err
		}
		r = &loaded
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.runs[id]; ok {
		r = existing
	} else {
		o.runs[id] = r
	}
	if r.State != AwaitingFeedback || o.busy[id] {
		return nil, fmt.Errorf("%w (state %s)", ErrNotAwaitingFeedback, r.State)
	}
	o.busy[id] = true
	return r, nil
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	delete(o.busy, id)
	o.mu.Unlock()
}

func (o *Orchestrator) register(r *Run) {
	o.mu.Lock()
	o.runs[r.ID] = r
	o.mu.Unlock()
	o.persist(r)
}

// transition moves r to s, persists it and returns a snapshot.
func (o *Orchestrator) transition(r *Run, s State) Run {
	o.mu.Lock()
	r.State = s
	r.UpdatedAt = o.now()
	snap := r.clone()
	o.mu.Unlock()

	o.logger.Debug("run transition", "run_id", r.ID, "state", s)
	o.persist(&snap)
	return snap
}

func (o *Orchestrator) fail(r *Run, err error) (Run, error) {
	o.mu.Lock()
	r.Error = err.Error()
	if kind := generation.Classify(err); kind != "" {
		r.ErrorKind = string(kind)
	}
	o.mu.Unlock()

	o.logger.Warn("run failed", "run_id", r.ID, "error", err)
	return o.transition(r, Error), err
}

// set applies fn to r under the registry lock.
func (o *Orchestrator) set(r *Run, fn func(*Run)) {
	o.mu.Lock()
	fn(r)
	o.mu.Unlock()
}

func (o *Orchestrator) warn(r *Run, msg string) {
	o.set(r, func(r *Run) { r.Warnings = append(r.Warnings, msg) })
}

func (o *Orchestrator) persist(r *Run) {
	if err := o.deps.Store.SaveRun(r.toStorage()); err != nil {
		o.logger.Warn("run not persisted", "run_id", r.ID, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
