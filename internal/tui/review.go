// Package tui is the interactive review screen shown after a chapter has
// been rewritten. The reviewer output is editable; the reader rates it,
// adds notes, or saves it unrated.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kalambet/bookforge/internal/learning"
	"github.com/kalambet/bookforge/internal/pipeline"
)

// Submitter closes a run with feedback. *pipeline.Orchestrator implements it.
type Submitter interface {
	Submit(ctx context.Context, runID string, fb pipeline.Feedback) (pipeline.Run, error)
}

// Speaker reads text aloud. *speech.Task implements it.
type Speaker interface {
	Start(text string) error
	Stop()
	IsRunning() bool
}

type focusField int

const (
	focusEditor focusField = iota
	focusNotes
)

// submittedMsg carries the outcome of a Submit call back into Update.
type submittedMsg struct {
	run pipeline.Run
	err error
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	metaStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	boxStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
	activeBoxStyle = boxStyle.BorderForeground(lipgloss.Color("#5B8DEF"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
	okStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B"))
)

const helpText = "ctrl+g good · ctrl+b bad · ctrl+s save unrated · ctrl+n notes/text · ctrl+p speak · esc quit"

// Review is the bubbletea model of the review screen.
type Review struct {
	ctx    context.Context
	run    pipeline.Run
	submit Submitter
	speech Speaker

	editor textarea.Model
	notes  textarea.Model
	focus  focusField

	width, height int
	saving        bool
	status        string
	err           error
	result        *pipeline.Run
}

// NewReview builds the review screen for a run awaiting feedback. speaker
// may be nil, in which case ctrl+p only reports that speech is unavailable.
func NewReview(ctx context.Context, run pipeline.Run, submitter Submitter, speaker Speaker) *Review {
	editor := textarea.New()
	editor.CharLimit = 0
	editor.MaxHeight = 0
	editor.ShowLineNumbers = false
	editor.SetValue(run.ReviewerOutput)
	editor.Focus()

	notes := textarea.New()
	notes.CharLimit = 0
	notes.ShowLineNumbers = false
	notes.Placeholder = "Notes saved with this version..."
	notes.SetHeight(3)

	r := &Review{
		ctx:    ctx,
		run:    run,
		submit: submitter,
		speech: speaker,
		editor: editor,
		notes:  notes,
	}
	r.resize(80, 24)
	return r
}

func (r *Review) Init() tea.Cmd {
	return textarea.Blink
}

func (r *Review) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		r.resize(msg.Width, msg.Height)
		return r, nil

	case submittedMsg:
		r.saving = false
		if msg.err != nil {
			r.err = msg.err
			r.status = ""
			return r, nil
		}
		r.result = &msg.run
		r.stopSpeech()
		return r, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			r.stopSpeech()
			return r, tea.Quit
		case "ctrl+g":
			return r, r.submitFeedback(learning.Good)
		case "ctrl+b":
			return r, r.submitFeedback(learning.Bad)
		case "ctrl+s":
			return r, r.submitFeedback("")
		case "ctrl+n":
			return r, r.toggleFocus()
		case "ctrl+p":
			r.toggleSpeech()
			return r, nil
		}
	}

	var cmd tea.Cmd
	if r.focus == focusNotes {
		r.notes, cmd = r.notes.Update(msg)
	} else {
		r.editor, cmd = r.editor.Update(msg)
	}
	return r, cmd
}

func (r *Review) View() string {
	var b strings.Builder

	title := r.run.Title
	if title == "" {
		title = "Untitled chapter"
	}
	b.WriteString(titleStyle.Render("bookforge · " + title))
	b.WriteString("\n")
	meta := fmt.Sprintf("run %s · style %s · focus %s", shortID(r.run.ID), r.run.Style, strings.Join(r.run.FocusAreas, ", "))
	b.WriteString(metaStyle.Render(meta))
	b.WriteString("\n\n")

	editorBox, notesBox := boxStyle, boxStyle
	if r.focus == focusNotes {
		notesBox = activeBoxStyle
	} else {
		editorBox = activeBoxStyle
	}
	b.WriteString(editorBox.Render(r.editor.View()))
	b.WriteString("\n")
	b.WriteString(notesBox.Render(r.notes.View()))
	b.WriteString("\n")

	switch {
	case r.err != nil:
		b.WriteString(errorStyle.Render("Error: " + r.err.Error()))
	case r.status != "":
		b.WriteString(okStyle.Render(r.status))
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(helpText))
	return b.String()
}

// Result returns the saved run once feedback has been accepted.
func (r *Review) Result() (pipeline.Run, bool) {
	if r.result == nil {
		return pipeline.Run{}, false
	}
	return *r.result, true
}

// FinalText is the current editor content.
func (r *Review) FinalText() string { return r.editor.Value() }

// Notes is the current notes content.
func (r *Review) Notes() string { return r.notes.Value() }

func (r *Review) submitFeedback(rating learning.Rating) tea.Cmd {
	if r.saving {
		return nil
	}
	r.saving = true
	r.err = nil
	if rating == "" {
		r.status = "Saving..."
	} else {
		r.status = fmt.Sprintf("Saving with rating %s...", rating)
	}

	ctx, runID, submit := r.ctx, r.run.ID, r.submit
	fb := pipeline.Feedback{
		Rating:    rating,
		Notes:     strings.TrimSpace(r.notes.Value()),
		FinalText: r.editor.Value(),
	}
	return func() tea.Msg {
		run, err := submit.Submit(ctx, runID, fb)
		return submittedMsg{run: run, err: err}
	}
}

func (r *Review) toggleFocus() tea.Cmd {
	if r.focus == focusEditor {
		r.focus = focusNotes
		r.editor.Blur()
		return r.notes.Focus()
	}
	r.focus = focusEditor
	r.notes.Blur()
	return r.editor.Focus()
}

func (r *Review) toggleSpeech() {
	if r.speech == nil {
		r.err = errors.New("speech is not available")
		return
	}
	if r.speech.IsRunning() {
		r.speech.Stop()
		r.status = "Speech stopped"
		return
	}
	if err := r.speech.Start(r.editor.Value()); err != nil {
		r.err = err
		return
	}
	r.err = nil
	r.status = "Speaking... (ctrl+p to stop)"
}

func (r *Review) stopSpeech() {
	if r.speech != nil && r.speech.IsRunning() {
		r.speech.Stop()
	}
}

func (r *Review) resize(width, height int) {
	r.width, r.height = width, height
	inner := max(20, width-4)
	r.editor.SetWidth(inner)
	r.notes.SetWidth(inner)
	// title, meta, blank, two box borders each, status, help
	r.editor.SetHeight(max(5, height-r.notes.Height()-10))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Run shows the review screen and blocks until the reader quits or the
// feedback is saved. saved is false when the reader quit without saving.
func Run(ctx context.Context, run pipeline.Run, submitter Submitter, speaker Speaker) (result pipeline.Run, saved bool, err error) {
	m := NewReview(ctx, run, submitter, speaker)
	final, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil {
		return pipeline.Run{}, false, fmt.Errorf("running review screen: %w", err)
	}
	result, saved = final.(*Review).Result()
	return result, saved, nil
}
