package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Run is one pass of the pipeline over a single source.
type Run struct {
	ID             string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	SourceURL      string
	Title          string
	Style          string
	FocusAreas     string // JSON array stored as text
	State          string
	Original       string
	WriterOutput   string
	ReviewerOutput string
	FinalText      string
	Notes          string
	Rating         string
	Error          string
}

// Chapter is a saved final version.
type Chapter struct {
	ID         string
	VersionID  string
	RunID      string
	CreatedAt  time.Time
	SourceURL  string
	Title      string
	Style      string
	FocusAreas string // JSON array stored as text
	Content    string
	Notes      string
	Rating     string
	SaveType   string
	FilePath   string
	WordCount  int
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
