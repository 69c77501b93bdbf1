package pipeline

import (
	"encoding/json"
	"time"

	"github.com/kalambet/bookforge/internal/analysis"
	"github.com/kalambet/bookforge/internal/storage"
)

// State is the lifecycle position of a Run.
type State string

const (
	Idle             State = "idle"
	Scraping         State = "scraping"
	Scraped          State = "scraped"
	Writing          State = "writing"
	Reviewing        State = "reviewing"
	AwaitingFeedback State = "awaiting_feedback"
	Saved            State = "saved"
	Error            State = "error"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == Saved || s == Error }

// Run is one pass of the pipeline over a single source.
type Run struct {
	ID             string           `json:"id"`
	State          State            `json:"state"`
	SourceURL      string           `json:"source_url,omitempty"`
	Title          string           `json:"title,omitempty"`
	Style          string           `json:"style"`
	FocusAreas     []string         `json:"focus_areas"`
	Original       string           `json:"original,omitempty"`
	WriterOutput   string           `json:"writer_output,omitempty"`
	ReviewerOutput string           `json:"reviewer_output,omitempty"`
	FinalText      string           `json:"final_text,omitempty"`
	Notes          string           `json:"notes,omitempty"`
	Rating         string           `json:"rating,omitempty"`
	Error          string           `json:"error,omitempty"`
	ErrorKind      string           `json:"error_kind,omitempty"`
	Analysis       *analysis.Report `json:"analysis,omitempty"`
	ChapterID      string           `json:"chapter_id,omitempty"`
	FilePath       string           `json:"file_path,omitempty"`
	Warnings       []string         `json:"warnings,omitempty"`
	ProcessingTime float64          `json:"processing_time"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (r *Run) clone() Run {
	c := *r
	c.FocusAreas = append([]string(nil), r.FocusAreas...)
	c.Warnings = append([]string(nil), r.Warnings...)
	if r.Analysis != nil {
		a := *r.Analysis
		c.Analysis = &a
	}
	return c
}

func focusJSON(areas []string) string {
	if areas == nil {
		areas = []string{}
	}
	b, _ := json.Marshal(areas)
	return string(b)
}

func (r *Run) toStorage() storage.Run {
	return storage.Run{
		ID:             r.ID,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		SourceURL:      r.SourceURL,
		Title:          r.Title,
		Style:          r.Style,
		FocusAreas:     focusJSON(r.FocusAreas),
		State:          string(r.State),
		Original:       r.Original,
		WriterOutput:   r.WriterOutput,
		ReviewerOutput: r.ReviewerOutput,
		FinalText:      r.FinalText,
		Notes:          r.Notes,
		Rating:         r.Rating,
		Error:          r.Error,
	}
}

func fromStorage(s storage.Run) Run {
	var focus []string
	_ = json.Unmarshal([]byte(s.FocusAreas), &focus)
	if focus == nil {
		focus = []string{}
	}
	return Run{
		ID:             s.ID,
		State:          State(s.State),
		SourceURL:      s.SourceURL,
		Title:          s.Title,
		Style:          s.Style,
		FocusAreas:     focus,
		Original:       s.Original,
		WriterOutput:   s.WriterOutput,
		ReviewerOutput: s.ReviewerOutput,
		FinalText:      s.FinalText,
		Notes:          s.Notes,
		Rating:         s.Rating,
		Error:          s.Error,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}
