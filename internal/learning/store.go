package learning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	maxHistory            = 100
	maxSuccessfulPatterns = 50

	// goodWeight and badWeight are the signed contributions of one rating.
	goodWeight = 1.0
	badWeight  = -0.5
	// badDamping further scales Bad updates. Tunable.
	badDamping = 0.5

	// StateFileName is the learning state file inside the data directory.
	StateFileName = "learning_state.json"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// PersistenceError reports that the state file could not be written. The
// in-memory update it accompanies has already been applied.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting learning state to %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store owns the preference model and writes it through to a JSON file on
// every mutation.
type Store struct {
	path  string
	lock  *flock.Flock
	clock Clock

	mu    sync.RWMutex
	state State
}

// Open loads the state file at path, creating it if absent.
func Open(path string) (*Store, error) {
	return OpenWithClock(path, realClock{})
}

// OpenWithClock is Open with a custom clock (for testing).
func OpenWithClock(path string, clock Clock) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	s := &Store{
		path:  path,
		lock:  flock.New(path + ".lock"),
		clock: clock,
		state: emptyState(),
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the state file location.
func (s *Store) Path() string { return s.path }

// Load replaces in-memory state with the persisted snapshot merged over
// defaults. A missing file is created from the fresh state.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.state = emptyState()
		return s.persistLocked()
	}
	if err != nil {
		return fmt.Errorf("reading learning state: %w", err)
	}

	st := emptyState()
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parsing learning state %s: %w", s.path, err)
	}
	// Fields absent from an old snapshot keep their defaults; unmarshal
	// leaves explicit nulls as nil maps.
	if st.PatternWeights == nil {
		st.PatternWeights = Weights{}
	}
	if st.StylePreferences == nil {
		st.StylePreferences = Weights{}
	}
	if st.FocusAreaEffectiveness == nil {
		st.FocusAreaEffectiveness = Weights{}
	}
	if st.FeedbackHistory == nil {
		st.FeedbackHistory = []Record{}
	}
	if st.SuccessfulPatterns == nil {
		st.SuccessfulPatterns = []SuccessfulPattern{}
	}
	s.state = st
	return nil
}

// Update records a rating and reweights the model. It returns a
// *PersistenceError if the state file could not be written; the in-memory
// state is updated regardless.
func (s *Store) Update(rating Rating, output, style string, focusAreas []string, metadata map[string]any) error {
	if !rating.Valid() {
		return fmt.Errorf("invalid rating %q", rating)
	}
	if focusAreas == nil {
		focusAreas = []string{}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	patterns := Extract(output)
	now := s.clock.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := &s.state
	st.FeedbackHistory = append(st.FeedbackHistory, Record{
		Timestamp:       now,
		Rating:          rating,
		OutputHash:      Fingerprint(output),
		StylePreference: style,
		FocusAreas:      append([]string(nil), focusAreas...),
		TextPatterns:    patterns,
		WordCount:       len(strings.Fields(output)),
		Metadata:        metadata,
	})
	st.TotalFeedback++

	scale := goodWeight
	if rating == Good {
		st.GoodFeedbackCount++
	} else {
		scale = badWeight * badDamping
	}
	for name, v := range patterns {
		st.PatternWeights.add(name, scale*v)
	}
	st.StylePreferences.add(style, scale)
	for _, area := range focusAreas {
		st.FocusAreaEffectiveness.add(area, scale)
	}

	if rating == Good {
		st.SuccessfulPatterns = append(st.SuccessfulPatterns, SuccessfulPattern{
			Patterns:   patterns,
			Style:      style,
			FocusAreas: append([]string(nil), focusAreas...),
			Timestamp:  now,
		})
	}
	if n := len(st.SuccessfulPatterns); n > maxSuccessfulPatterns {
		st.SuccessfulPatterns = append([]SuccessfulPattern(nil), st.SuccessfulPatterns[n-maxSuccessfulPatterns:]...)
	}
	if n := len(st.FeedbackHistory); n > maxHistory {
		st.FeedbackHistory = append([]Record(nil), st.FeedbackHistory[n-maxHistory:]...)
	}

	if err := s.persistLocked(); err != nil {
		slog.Warn("learning state not persisted", "path", s.path, "error", err)
		return err
	}
	return nil
}

// Reset clears all learned state and persists the empty model.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = emptyState()
	return s.persistLocked()
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Suggestions derives a recommended configuration from the current state.
func (s *Store) Suggestions() Suggestion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Suggest(s.state)
}

// AdaptiveInstructions returns prompt instructions for agent, or "".
func (s *Store) AdaptiveInstructions(agent Agent) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Instructions(s.state, agent)
}

// Stats returns learning statistics for the current state.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ComputeStats(s.state)
}

// persistLocked rewrites the state file. Caller holds s.mu. The file lock
// keeps a CLI and a running server from interleaving writes.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	if err := s.lock.Lock(); err != nil {
		return &PersistenceError{Path: s.path, Err: fmt.Errorf("locking: %w", err)}
	}
	defer s.lock.Unlock()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return &PersistenceError{Path: s.path, Err: err}
	}
	return nil
}

// Fingerprint identifies an output for deduplication. Not a security hash.
func Fingerprint(output string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(output)))
	return hex.EncodeToString(sum[:8])
}
