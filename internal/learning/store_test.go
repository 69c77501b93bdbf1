package learning

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), StateFileName)
	s, err := OpenWithClock(path, &mockClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("OpenWithClock: %v", err)
	}
	return s
}

const sampleOutput = "The storm rolled in. Meanwhile, the ancient lighthouse stood firm."

func TestOpen_CreatesStateFile(t *testing.T) {
	s := openTestStore(t)

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("state file not created: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("state file is not JSON: %v", err)
	}
	for _, key := range []string{
		"feedback_history", "pattern_weights", "style_preferences",
		"focus_area_effectiveness", "successful_patterns", "total_feedback", "good_feedback_count",
	} {
		if _, ok := raw[key]; !ok {
			t.Errorf("state file missing field %q", key)
		}
	}
}

func TestUpdate_Good(t *testing.T) {
	s := openTestStore(t)
	if err := s.Update(Good, sampleOutput, "classic", []string{"grammar", "flow"}, map[string]any{"url": "u"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	st := s.Snapshot()
	if st.TotalFeedback != 1 || st.GoodFeedbackCount != 1 {
		t.Errorf("counters = %d/%d, want 1/1", st.GoodFeedbackCount, st.TotalFeedback)
	}
	if got := st.StylePreferences.Get("classic"); got != 1.0 {
		t.Errorf("style weight = %v, want 1.0", got)
	}
	if got := st.FocusAreaEffectiveness.Get("flow"); got != 1.0 {
		t.Errorf("focus weight = %v, want 1.0", got)
	}
	patterns := Extract(sampleOutput)
	for k, v := range patterns {
		if got := st.PatternWeights.Get(k); !approx(got, v) {
			t.Errorf("pattern %s = %v, want %v", k, got, v)
		}
	}
	if len(st.SuccessfulPatterns) != 1 {
		t.Errorf("successful patterns = %d, want 1", len(st.SuccessfulPatterns))
	}
	rec := st.FeedbackHistory[0]
	if rec.OutputHash != Fingerprint("  "+sampleOutput+"\n") {
		t.Errorf("fingerprint should ignore surrounding whitespace")
	}
	if rec.WordCount != 10 {
		t.Errorf("word count = %d, want 10", rec.WordCount)
	}
}

func TestUpdate_BadIsDamped(t *testing.T) {
	s := openTestStore(t)
	if err := s.Update(Bad, sampleOutput, "casual", []string{"clarity"}, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}
	st := s.Snapshot()
	if st.GoodFeedbackCount != 0 || st.TotalFeedback != 1 {
		t.Errorf("counters = %d/%d, want 0/1", st.GoodFeedbackCount, st.TotalFeedback)
	}
	if got := st.StylePreferences.Get("casual"); got != -0.25 {
		t.Errorf("style weight = %v, want -0.25", got)
	}
	if got := st.FocusAreaEffectiveness.Get("clarity"); got != -0.25 {
		t.Errorf("focus weight = %v, want -0.25", got)
	}
	for k, v := range Extract(sampleOutput) {
		if got := st.PatternWeights.Get(k); !approx(got, -0.25*v) {
			t.Errorf("pattern %s = %v, want %v", k, got, -0.25*v)
		}
	}
	if len(st.SuccessfulPatterns) != 0 {
		t.Errorf("bad rating must not record a successful pattern")
	}
}

func TestUpdate_InvalidRating(t *testing.T) {
	s := openTestStore(t)
	if err := s.Update(Rating("Meh"), sampleOutput, "modern", nil, nil); err == nil {
		t.Fatal("expected error for invalid rating")
	}
	if s.Snapshot().TotalFeedback != 0 {
		t.Error("invalid rating must not mutate state")
	}
}

func TestUpdate_CountersInvariant(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 20; i++ {
		r := Good
		if i%3 == 0 {
			r = Bad
		}
		if err := s.Update(r, sampleOutput, "modern", nil, nil); err != nil {
			t.Fatalf("Update %d: %v", i, err)
		}
		st := s.Snapshot()
		if st.GoodFeedbackCount > st.TotalFeedback {
			t.Fatalf("good %d > total %d", st.GoodFeedbackCount, st.TotalFeedback)
		}
		if st.TotalFeedback != i+1 {
			t.Fatalf("total = %d, want %d", st.TotalFeedback, i+1)
		}
	}
}

func TestUpdate_HistoryEviction(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 101; i++ {
		meta := map[string]any{"seq": i}
		if err := s.Update(Good, fmt.Sprintf("Output number %d.", i), "modern", nil, meta); err != nil {
			t.Fatalf("Update %d: %v", i, err)
		}
	}
	st := s.Snapshot()
	if len(st.FeedbackHistory) != maxHistory {
		t.Fatalf("history = %d, want %d", len(st.FeedbackHistory), maxHistory)
	}
	for i, rec := range st.FeedbackHistory {
		if want := Fingerprint(fmt.Sprintf("Output number %d.", i+1)); rec.OutputHash != want {
			t.Fatalf("record %d out of order", i)
		}
	}
	if len(st.SuccessfulPatterns) != maxSuccessfulPatterns {
		t.Errorf("successful patterns = %d, want %d", len(st.SuccessfulPatterns), maxSuccessfulPatterns)
	}
}

func TestUpdate_PersistsAndReloads(t *testing.T) {
	s := openTestStore(t)
	if err := s.Update(Good, sampleOutput, "literary", []string{"style"}, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}

	reopened, err := Open(s.Path())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	st := reopened.Snapshot()
	if st.TotalFeedback != 1 || st.StylePreferences.Get("literary") != 1.0 {
		t.Errorf("reloaded state = %+v", st)
	}
	if len(st.FeedbackHistory) != 1 || st.FeedbackHistory[0].Rating != Good {
		t.Errorf("reloaded history = %+v", st.FeedbackHistory)
	}
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFileName)
	old := `{"total_feedback": 4, "good_feedback_count": 3, "style_preferences": {"modern": 3}}`
	if err := os.WriteFile(path, []byte(old), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	st := s.Snapshot()
	if st.TotalFeedback != 4 || st.GoodFeedbackCount != 3 {
		t.Errorf("counters = %d/%d", st.GoodFeedbackCount, st.TotalFeedback)
	}
	if st.PatternWeights == nil || st.FocusAreaEffectiveness == nil || st.FeedbackHistory == nil {
		t.Error("missing fields should keep their defaults")
	}
	if err := s.Update(Good, sampleOutput, "modern", []string{"flow"}, nil); err != nil {
		t.Fatalf("Update after merge: %v", err)
	}
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFileName)
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestReset_Idempotent(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 3; i++ {
		if err := s.Update(Good, sampleOutput, "classic", []string{"grammar"}, nil); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	once, _ := os.ReadFile(s.Path())
	if err := s.Reset(); err != nil {
		t.Fatalf("second Reset: %v", err)
	}
	twice, _ := os.ReadFile(s.Path())
	if string(once) != string(twice) {
		t.Error("reset twice differs from reset once")
	}
	st := s.Snapshot()
	if st.TotalFeedback != 0 || len(st.StylePreferences) != 0 || len(st.FeedbackHistory) != 0 {
		t.Errorf("state not cleared: %+v", st)
	}
}

func TestUpdate_PersistenceErrorKeepsMemory(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, StateFileName))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// Point the store at a path whose parent does not exist.
	s.path = filepath.Join(dir, "missing", StateFileName)

	err = s.Update(Good, sampleOutput, "modern", nil, nil)
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PersistenceError, got %v", err)
	}
	if s.Snapshot().TotalFeedback != 1 {
		t.Error("in-memory state should survive a failed persist")
	}
}

func TestUpdate_Concurrent(t *testing.T) {
	s := openTestStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Update(Good, sampleOutput, "modern", []string{"flow"}, nil); err != nil {
				t.Errorf("Update: %v", err)
			}
		}()
	}
	wg.Wait()
	st := s.Snapshot()
	if st.TotalFeedback != 10 || st.StylePreferences.Get("modern") != 10 {
		t.Errorf("lost updates: total=%d modern=%v", st.TotalFeedback, st.StylePreferences.Get("modern"))
	}
}

func TestParseRating(t *testing.T) {
	tests := []struct {
		in   string
		want Rating
		err  bool
	}{
		{"good", Good, false},
		{"Good", Good, false},
		{" BAD ", Bad, false},
		{"meh", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRating(tt.in)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("ParseRating(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestSnapshot_EmptySlicesStayNonNil(t *testing.T) {
	s := openTestStore(t)
	st := s.Snapshot()
	if st.FeedbackHistory == nil || st.SuccessfulPatterns == nil {
		t.Fatalf("fresh snapshot has nil slices: %+v", st)
	}
	b, err := json.Marshal(st)
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{`"feedback_history":[]`, `"successful_patterns":[]`} {
		if !strings.Contains(string(b), field) {
			t.Errorf("encoded snapshot lacks %s: %s", field, b)
		}
	}
}

// mustRate records a rating of sampleOutput and fails the test on error.
func mustRate(t *testing.T, s *Store, r Rating, style string, focus ...string) {
	t.Helper()
	if err := s.Update(r, sampleOutput, style, focus, nil); err != nil {
		t.Fatalf("Update(%s, %s): %v", r, style, err)
	}
}
