package composer

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	defaultMaxContextTokens = 4000
	analysisChars           = 1000
)

// DefaultFocusAreas are used by the reviewer when none are chosen.
var DefaultFocusAreas = []string{"grammar", "clarity", "flow", "consistency"}

// Reference is an excerpt of an earlier, well-rated chapter offered to the
// writer as a style example.
type Reference struct {
	ID    string
	Text  string
	Score float32
}

// Composer assembles the writer, reviewer and analysis prompts. Writer prompts
// may be enriched with style references, bounded by MaxContextTokens.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected references.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Writer builds the rewrite prompt for content in the given style.
func (c *Composer) Writer(content, style, instructions string, refs []Reference) string {
	var sb strings.Builder
	sb.WriteString("You are a professional AI Writer specializing in book content enhancement.\n\n")
	fmt.Fprintf(&sb, "Task: Rewrite the following text in a more engaging, %s, and readable style while maintaining:\n", style)
	sb.WriteString("- All original meaning and key information\n")
	sb.WriteString("- Proper narrative flow and structure\n")
	sb.WriteString("- Character development and plot elements\n")
	sb.WriteString("- Historical or factual accuracy where applicable\n\n")
	sb.WriteString("Guidelines:\n")
	sb.WriteString("- Use vivid, descriptive language\n")
	sb.WriteString("- Improve sentence variety and rhythm\n")
	sb.WriteString("- Enhance dialogue naturalness\n")
	sb.WriteString("- Maintain the original tone and genre\n")
	sb.WriteString("- Keep the same approximate length\n")

	writeInstructions(&sb, instructions)

	if block := c.buildReferences(refs); block != "" {
		sb.WriteString("\n")
		sb.WriteString(block)
	}

	sb.WriteString("\nOriginal Content:\n")
	sb.WriteString(content)
	sb.WriteString("\n\nPlease provide the enhanced version:")
	return sb.String()
}

// Reviewer builds the editing prompt for the writer's output.
func (c *Composer) Reviewer(content string, focusAreas []string, instructions string) string {
	if len(focusAreas) == 0 {
		focusAreas = DefaultFocusAreas
	}

	var sb strings.Builder
	sb.WriteString("You are a professional AI Editor and Reviewer with expertise in book publishing.\n\n")
	fmt.Fprintf(&sb, "Task: Review and improve the following content, focusing on: %s\n\n", strings.Join(focusAreas, ", "))
	sb.WriteString("Specific improvements to make:\n")
	sb.WriteString("- Fix any grammar, spelling, or punctuation errors\n")
	sb.WriteString("- Improve sentence clarity and readability\n")
	sb.WriteString("- Enhance paragraph flow and transitions\n")
	sb.WriteString("- Ensure consistent tone and style\n")
	sb.WriteString("- Remove redundancies and improve conciseness\n")
	sb.WriteString("- Maintain the author's voice and intent\n")
	sb.WriteString("- Preserve all plot points and character development\n\n")
	sb.WriteString("Quality standards:\n")
	sb.WriteString("- Publication-ready prose\n")
	sb.WriteString("- Smooth narrative flow\n")
	sb.WriteString("- Professional editing quality\n")
	sb.WriteString("- Reader engagement optimization\n")

	writeInstructions(&sb, instructions)

	sb.WriteString("\nContent to Review:\n")
	sb.WriteString(content)
	sb.WriteString("\n\nPlease provide the polished, publication-ready version:")
	return sb.String()
}

// Analysis builds the content analysis prompt from the head of content.
func Analysis(content string) string {
	var sb strings.Builder
	sb.WriteString("Analyze the following text and provide a brief analysis:\n\n")
	sb.WriteString(truncateRunes(content, analysisChars))
	sb.WriteString("...\n\n")
	sb.WriteString("Provide:\n")
	sb.WriteString("1. Genre/Type\n")
	sb.WriteString("2. Tone\n")
	sb.WriteString("3. Reading Level\n")
	sb.WriteString("4. Key Themes (max 3)\n")
	sb.WriteString("5. Improvement Suggestions (max 3)\n\n")
	sb.WriteString("Format as JSON with keys: genre, tone, reading_level, themes, suggestions")
	return sb.String()
}

func writeInstructions(sb *strings.Builder, instructions string) {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return
	}
	sb.WriteString("\nAdaptive guidance from reader feedback:\n")
	sb.WriteString(instructions)
	sb.WriteString("\n")
}

// buildReferences renders the style reference block, dropping the
// lowest-scoring references first until the block fits the token budget.
func (c *Composer) buildReferences(refs []Reference) string {
	if len(refs) == 0 {
		return ""
	}

	sorted := make([]Reference, len(refs))
	copy(sorted, refs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	header := "Style references (excerpts readers rated highly; match their voice, not their content):\n"
	remaining := c.MaxContextTokens - EstimateTokens(header)

	var entries []string
	for _, r := range sorted {
		entry := formatReference(r)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		entries = append(entries, entry)
		remaining -= tokens
	}
	if len(entries) == 0 {
		return ""
	}
	return header + strings.Join(entries, "")
}

func formatReference(r Reference) string {
	return fmt.Sprintf("(Similarity: %.2f, Chapter: %s)\n%s\n\n", r.Score, r.ID, strings.TrimSpace(r.Text))
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
