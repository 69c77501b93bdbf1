// Package archive writes approved chapter versions to disk as text files and
// JSON exports.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	FinalVersionsDir = "final_versions"
	ExportsDir       = "exports"

	fileTimeLayout   = "2006-01-02_15-04-05"
	exportTimeLayout = "20060102_150405"
	finalPrefix      = "final_chapter_"
)

// SaveType selects the layout of a final version file.
type SaveType string

const (
	SaveComprehensive SaveType = "comprehensive_save"
	SaveQuick         SaveType = "quick_save"
)

// Version is everything known about one processed chapter at save time.
type Version struct {
	SourceURL    string
	Style        string
	FocusAreas   []string
	Notes        string
	Original     string
	WriterOutput string
	FinalText    string
}

// Saved describes a written final version.
type Saved struct {
	VersionID string    `json:"version_id"`
	Timestamp time.Time `json:"timestamp"`
	FileName  string    `json:"file_name"`
	Path      string    `json:"path"`
	SaveType  SaveType  `json:"save_type"`
}

// Entry is a final version found on disk.
type Entry struct {
	FileName string    `json:"file_name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mod_time"`
}

// Writer stores final versions under <dataDir>/final_versions and exports
// under <dataDir>/exports.
type Writer struct {
	dataDir string
	now     func() time.Time
	newID   func() string
}

// NewWriter creates a Writer rooted at dataDir.
func NewWriter(dataDir string) *Writer {
	return &Writer{
		dataDir: dataDir,
		now:     time.Now,
		newID:   func() string { return uuid.NewString()[:8] },
	}
}

// Dir returns the final versions directory.
func (w *Writer) Dir() string { return filepath.Join(w.dataDir, FinalVersionsDir) }

// Save writes v as a final version file.
func (w *Writer) Save(v Version, t SaveType) (Saved, error) {
	if t == "" {
		t = SaveComprehensive
	}
	if t != SaveComprehensive && t != SaveQuick {
		return Saved{}, fmt.Errorf("unknown save type %q", t)
	}
	if err := os.MkdirAll(w.Dir(), 0o755); err != nil {
		return Saved{}, fmt.Errorf("creating %s: %w", w.Dir(), err)
	}

	ts := w.now()
	id := w.newID()
	stamp := ts.Format(fileTimeLayout)
	name := finalPrefix + stamp + "_" + id + ".txt"
	path := filepath.Join(w.Dir(), name)

	var body string
	if t == SaveQuick {
		body = quickLayout(stamp, id, v)
	} else {
		body = comprehensiveLayout(stamp, id, v)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return Saved{}, fmt.Errorf("writing %s: %w", name, err)
	}
	return Saved{VersionID: id, Timestamp: ts, FileName: name, Path: path, SaveType: t}, nil
}

func quickLayout(stamp, id string, v Version) string {
	var sb strings.Builder
	sb.WriteString("[FINAL VERSION]\n")
	fmt.Fprintf(&sb, "Timestamp: %s\n", stamp)
	fmt.Fprintf(&sb, "Version ID: %s\n", id)
	fmt.Fprintf(&sb, "Source URL: %s\n\n", v.SourceURL)
	sb.WriteString(v.FinalText)
	sb.WriteString("\n")
	return sb.String()
}

func comprehensiveLayout(stamp, id string, v Version) string {
	var sb strings.Builder
	sb.WriteString("[FINAL VERSION]\n")
	fmt.Fprintf(&sb, "Timestamp: %s\n", stamp)
	fmt.Fprintf(&sb, "Version ID: %s\n", id)
	fmt.Fprintf(&sb, "Source URL: %s\n", v.SourceURL)
	fmt.Fprintf(&sb, "Processing Style: %s\n", v.Style)
	fmt.Fprintf(&sb, "Focus Areas: %s\n\n", strings.Join(v.FocusAreas, ", "))
	sb.WriteString("[FEEDBACK & NOTES]\n")
	sb.WriteString(v.Notes)
	sb.WriteString("\n\n[FINAL CONTENT]\n")
	sb.WriteString(v.FinalText)
	sb.WriteString("\n\n[PROCESSING HISTORY]\n")
	fmt.Fprintf(&sb, "Original Length: %d words\n", len(strings.Fields(v.Original)))
	fmt.Fprintf(&sb, "Writer Output Length: %d words\n", len(strings.Fields(v.WriterOutput)))
	fmt.Fprintf(&sb, "Final Length: %d words\n", len(strings.Fields(v.FinalText)))
	return sb.String()
}

// Export is the JSON bundle of a processed chapter.
type Export struct {
	Metadata ExportMetadata `json:"metadata"`
	Content  ExportContent  `json:"content"`
	Feedback string         `json:"feedback"`
	Analysis any            `json:"analysis"`
}

type ExportMetadata struct {
	Timestamp       string   `json:"timestamp"`
	SourceURL       string   `json:"source_url"`
	ProcessingStyle string   `json:"processing_style"`
	FocusAreas      []string `json:"focus_areas"`
	VersionID       string   `json:"version_id"`
}

type ExportContent struct {
	Original      string `json:"original"`
	AIWritten     string `json:"ai_written"`
	FinalReviewed string `json:"final_reviewed"`
}

// Export writes v and its analysis to <dataDir>/exports and returns the path.
func (w *Writer) Export(v Version, analysis any) (string, error) {
	dir := filepath.Join(w.dataDir, ExportsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}

	ts := w.now()
	focus := v.FocusAreas
	if focus == nil {
		focus = []string{}
	}
	doc := Export{
		Metadata: ExportMetadata{
			Timestamp:       ts.Format(time.RFC3339),
			SourceURL:       v.SourceURL,
			ProcessingStyle: v.Style,
			FocusAreas:      focus,
			VersionID:       w.newID(),
		},
		Content: ExportContent{
			Original:      v.Original,
			AIWritten:     v.WriterOutput,
			FinalReviewed: v.FinalText,
		},
		Feedback: v.Notes,
		Analysis: analysis,
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding export: %w", err)
	}

	path := filepath.Join(dir, "chapter_data_"+ts.Format(exportTimeLayout)+".json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", fmt.Errorf("writing export: %w", err)
	}
	return path, nil
}

// Recent lists up to n final versions, newest first. n <= 0 lists all.
// A missing directory yields an empty list.
func (w *Writer) Recent(n int) ([]Entry, error) {
	ents, err := os.ReadDir(w.Dir())
	if os.IsNotExist(err) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", w.Dir(), err)
	}

	out := make([]Entry, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() || !strings.HasPrefix(e.Name(), finalPrefix) || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			FileName: e.Name(),
			Path:     filepath.Join(w.Dir(), e.Name()),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		})
	}
	// File names embed a sortable timestamp.
	sort.Slice(out, func(i, j int) bool { return out[i].FileName > out[j].FileName })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}
