package learning

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

// Rating is the binary human verdict on a generated output.
type Rating string

const (
	Good Rating = "Good"
	Bad  Rating = "Bad"
)

var validRatings = map[Rating]bool{
	Good: true,
	Bad:  true,
}

// Valid reports whether r is one of the known ratings.
func (r Rating) Valid() bool { return validRatings[r] }

// ParseRating accepts "good"/"bad" in any case.
func ParseRating(s string) (Rating, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "good", "g", "+":
		return Good, nil
	case "bad", "b", "-":
		return Bad, nil
	}
	return "", fmt.Errorf("invalid rating %q (want good or bad)", s)
}

// Agent selects which generation stage adaptive instructions are built for.
type Agent string

const (
	Writer   Agent = "writer"
	Reviewer Agent = "reviewer"
)

// ParseAgent validates an agent name.
func ParseAgent(s string) (Agent, error) {
	switch Agent(strings.ToLower(s)) {
	case Writer:
		return Writer, nil
	case Reviewer:
		return Reviewer, nil
	}
	return "", fmt.Errorf("invalid agent %q (want writer or reviewer)", s)
}

// Feature names a stylistic statistic computed by Extract.
type Feature string

const (
	AvgSentenceLength  Feature = "avg_sentence_length"
	SentenceVariety    Feature = "sentence_variety"
	DialogueDensity    Feature = "dialogue_density"
	DescriptiveDensity Feature = "descriptive_density"
	TransitionDensity  Feature = "transition_density"
	AvgParagraphLength Feature = "avg_paragraph_length"
	ComplexityScore    Feature = "complexity_score"
)

// Features lists every feature Extract produces, in output order.
var Features = []Feature{
	AvgSentenceLength,
	SentenceVariety,
	DialogueDensity,
	DescriptiveDensity,
	TransitionDensity,
	AvgParagraphLength,
	ComplexityScore,
}

// featureRule is the canned writing instruction a feature triggers once its
// learned weight passes threshold.
type featureRule struct {
	threshold   float64
	instruction string
}

// instructionFor returns the rule for features that have one.
func instructionFor(f Feature) (featureRule, bool) {
	switch f {
	case AvgSentenceLength:
		return featureRule{2, "Use varied sentence lengths with a preference for medium-length sentences."}, true
	case DialogueDensity:
		return featureRule{1, "Include natural dialogue when appropriate to enhance engagement."}, true
	case DescriptiveDensity:
		return featureRule{1, "Use rich, descriptive language to create vivid imagery."}, true
	case TransitionDensity:
		return featureRule{1, "Use smooth transitions between ideas and paragraphs."}, true
	case SentenceVariety, AvgParagraphLength, ComplexityScore:
		return featureRule{}, false
	}
	return featureRule{}, false
}

// Styles are the writing styles offered to the writer stage.
var Styles = []string{"modern", "classic", "contemporary", "literary", "casual"}

// FocusAreas are the review focus options offered to the reviewer stage.
var FocusAreas = []string{"grammar", "clarity", "flow", "consistency", "style", "engagement"}

// DefaultFocusAreas is recommended until some focus area earns positive weight.
var DefaultFocusAreas = []string{"grammar", "clarity", "flow"}

// DefaultStyle is recommended until some style earns positive weight.
const DefaultStyle = "modern"

// Weights is a signed accumulator. Missing keys read as zero.
type Weights map[string]float64

// Get returns the weight for key, or 0.
func (w Weights) Get(key string) float64 { return w[key] }

func (w Weights) add(key string, delta float64) { w[key] += delta }

// Ranked is a weight paired with its key.
type Ranked struct {
	Name   string
	Weight float64
}

// Ranked returns all entries ordered by weight descending, then name ascending.
func (w Weights) Ranked() []Ranked {
	out := make([]Ranked, 0, len(w))
	for k, v := range w {
		out = append(out, Ranked{Name: k, Weight: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Positive returns the strictly positive entries in ranked order.
func (w Weights) Positive() []Ranked {
	all := w.Ranked()
	out := all[:0]
	for _, r := range all {
		if r.Weight > 0 {
			out = append(out, r)
		}
	}
	return out
}

func (w Weights) clone() Weights {
	out := make(Weights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// Record is one rating event. Records are never mutated after creation.
type Record struct {
	Timestamp       time.Time          `json:"timestamp"`
	Rating          Rating             `json:"rating"`
	OutputHash      string             `json:"output_hash"`
	StylePreference string             `json:"style_preference"`
	FocusAreas      []string           `json:"focus_areas"`
	TextPatterns    map[string]float64 `json:"text_patterns"`
	WordCount       int                `json:"word_count"`
	Metadata        map[string]any     `json:"metadata"`
}

// SuccessfulPattern is the feature snapshot of a Good-rated output.
type SuccessfulPattern struct {
	Patterns   map[string]float64 `json:"patterns"`
	Style      string             `json:"style"`
	FocusAreas []string           `json:"focus_areas"`
	Timestamp  time.Time          `json:"timestamp"`
}

// State is the persisted preference model.
type State struct {
	FeedbackHistory        []Record            `json:"feedback_history"`
	PatternWeights         Weights             `json:"pattern_weights"`
	StylePreferences       Weights             `json:"style_preferences"`
	FocusAreaEffectiveness Weights             `json:"focus_area_effectiveness"`
	SuccessfulPatterns     []SuccessfulPattern `json:"successful_patterns"`
	TotalFeedback          int                 `json:"total_feedback"`
	GoodFeedbackCount      int                 `json:"good_feedback_count"`
}

func emptyState() State {
	return State{
		FeedbackHistory:        []Record{},
		PatternWeights:         Weights{},
		StylePreferences:       Weights{},
		FocusAreaEffectiveness: Weights{},
		SuccessfulPatterns:     []SuccessfulPattern{},
	}
}

func (s State) clone() State {
	out := s
	// slices.Clone keeps an empty slice non-nil, so it encodes as [].
	out.FeedbackHistory = slices.Clone(s.FeedbackHistory)
	out.SuccessfulPatterns = slices.Clone(s.SuccessfulPatterns)
	out.PatternWeights = s.PatternWeights.clone()
	out.StylePreferences = s.StylePreferences.clone()
	out.FocusAreaEffectiveness = s.FocusAreaEffectiveness.clone()
	return out
}

// Suggestion is the recommended configuration derived from State.
type Suggestion struct {
	RecommendedStyle      string   `json:"recommended_style"`
	RecommendedFocusAreas []string `json:"recommended_focus_areas"`
	ConfidenceScore       float64  `json:"confidence_score"`
	SuccessRate           float64  `json:"success_rate"`
	TotalFeedback         int      `json:"total_feedback"`
	LearningInsights      []string `json:"learning_insights"`
}

// Stats is a read-only projection of State.
type Stats struct {
	TotalFeedback      int                `json:"total_feedback"`
	GoodFeedback       int                `json:"good_feedback"`
	SuccessRate        float64            `json:"success_rate"`
	LearningPatterns   int                `json:"learning_patterns"`
	StyleDistribution  map[string]float64 `json:"style_distribution"`
	FocusEffectiveness map[string]float64 `json:"focus_effectiveness"`
	RecentImprovements []string           `json:"recent_improvements"`
}
