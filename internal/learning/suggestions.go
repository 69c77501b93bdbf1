package learning

import (
	"fmt"
	"strings"
)

const (
	// minEvidence is the feedback count below which no adaptation happens.
	minEvidence = 3
	// confidenceScale is the style weight at which confidence saturates. Tunable.
	confidenceScale = 5.0
	maxFocusAreas   = 3
	recentWindow    = 10
	minRecent       = 5

	highSuccessRate = 70.0
	lowSuccessRate  = 50.0
)

var writerFocusInstructions = []struct{ area, text string }{
	{"engagement", "Prioritize reader engagement and compelling narrative flow."},
	{"style", "Pay special attention to consistent and polished writing style."},
}

var reviewerFocusInstructions = []struct{ area, text string }{
	{"grammar", "Thoroughly review grammar and punctuation errors."},
	{"clarity", "Ensure exceptional clarity and readability."},
	{"flow", "Optimize paragraph and sentence flow for smooth reading."},
}

func successRate(good, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(100*good) / float64(total)
}

// Suggest computes the recommended configuration for st.
func Suggest(st State) Suggestion {
	sg := Suggestion{
		RecommendedStyle:      DefaultStyle,
		RecommendedFocusAreas: append([]string(nil), DefaultFocusAreas...),
		TotalFeedback:         st.TotalFeedback,
		LearningInsights:      []string{},
	}
	if st.TotalFeedback == 0 {
		return sg
	}
	sg.SuccessRate = successRate(st.GoodFeedbackCount, st.TotalFeedback)

	styles := st.StylePreferences.Ranked()
	if len(styles) > 0 && styles[0].Weight > 0 {
		sg.RecommendedStyle = styles[0].Name
		sg.ConfidenceScore = min(styles[0].Weight/confidenceScale, 1.0)
		sg.LearningInsights = append(sg.LearningInsights,
			fmt.Sprintf("'%s' style performs best (weight: %.1f)", styles[0].Name, styles[0].Weight))
	}

	if positive := st.FocusAreaEffectiveness.Positive(); len(positive) > 0 {
		sg.RecommendedFocusAreas = sg.RecommendedFocusAreas[:0]
		for _, r := range positive[:min(len(positive), maxFocusAreas)] {
			sg.RecommendedFocusAreas = append(sg.RecommendedFocusAreas, r.Name)
		}
	}

	var top []string
	focus := st.FocusAreaEffectiveness.Ranked()
	for _, r := range focus[:min(len(focus), maxFocusAreas)] {
		if r.Weight > 0 {
			top = append(top, fmt.Sprintf("%s (%.1f)", r.Name, r.Weight))
		}
	}
	if len(top) > 0 {
		sg.LearningInsights = append(sg.LearningInsights,
			"Most effective focus areas: "+strings.Join(top, ", "))
	}

	patterns := st.PatternWeights.Ranked()
	if len(patterns) > 0 && patterns[0].Weight > 0 {
		sg.LearningInsights = append(sg.LearningInsights,
			fmt.Sprintf("Successful pattern: %s (weight: %.1f)", patterns[0].Name, patterns[0].Weight))
	}
	return sg
}

// Instructions builds the bullet list of adaptive prompt instructions for
// agent. It returns "" until minEvidence ratings exist or when no rule fires.
func Instructions(st State, agent Agent) string {
	if st.TotalFeedback < minEvidence {
		return ""
	}
	var lines []string

	if styles := st.StylePreferences.Ranked(); len(styles) > 0 && styles[0].Weight > 0 {
		lines = append(lines, fmt.Sprintf("Focus on %s writing style as it has shown high user satisfaction.", styles[0].Name))
	}

	// Only the overall top pattern is considered, and only if it has a rule.
	if patterns := st.PatternWeights.Positive(); len(patterns) > 0 {
		top := patterns[0]
		if rule, ok := instructionFor(Feature(top.Name)); ok && top.Weight > rule.threshold {
			lines = append(lines, rule.instruction)
		}
	}

	if positive := st.FocusAreaEffectiveness.Positive(); len(positive) > 0 {
		top := make(map[string]bool, maxFocusAreas)
		for _, r := range positive[:min(len(positive), maxFocusAreas)] {
			top[r.Name] = true
		}
		table := writerFocusInstructions
		if agent == Reviewer {
			table = reviewerFocusInstructions
		}
		for _, fi := range table {
			if top[fi.area] {
				lines = append(lines, fi.text)
			}
		}
	}

	switch rate := successRate(st.GoodFeedbackCount, st.TotalFeedback); {
	case rate > highSuccessRate:
		lines = append(lines, "Continue with the current approach as it's achieving high user satisfaction.")
	case rate < lowSuccessRate:
		lines = append(lines, "Focus on fundamental quality improvements based on user feedback patterns.")
	}

	for i, l := range lines {
		lines[i] = "- " + l
	}
	return strings.Join(lines, "\n")
}

// ComputeStats projects st into learning statistics.
func ComputeStats(st State) Stats {
	stats := Stats{
		TotalFeedback:      st.TotalFeedback,
		GoodFeedback:       st.GoodFeedbackCount,
		SuccessRate:        successRate(st.GoodFeedbackCount, st.TotalFeedback),
		LearningPatterns:   len(st.SuccessfulPatterns),
		StyleDistribution:  st.StylePreferences.clone(),
		FocusEffectiveness: st.FocusAreaEffectiveness.clone(),
		RecentImprovements: []string{},
	}

	recent := st.FeedbackHistory
	if len(recent) > recentWindow {
		recent = recent[len(recent)-recentWindow:]
	}
	if len(recent) >= minRecent {
		good := 0
		for _, r := range recent {
			if r.Rating == Good {
				good++
			}
		}
		stats.RecentImprovements = []string{
			fmt.Sprintf("Recent success rate: %.1f%%", successRate(good, len(recent))),
			fmt.Sprintf("Learning from %d recent interactions", len(recent)),
		}
	}
	return stats
}
