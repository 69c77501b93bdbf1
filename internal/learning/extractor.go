package learning

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	sentenceSplit = regexp.MustCompile(`[.!?]+`)
	quotedSpan    = regexp.MustCompile(`"[^"]*"`)
)

var descriptiveWords = map[string]bool{
	"beautiful": true, "vivid": true, "mysterious": true, "elegant": true, "powerful": true,
	"gentle": true, "fierce": true, "ancient": true, "modern": true, "complex": true,
}

var transitionWords = map[string]bool{
	"however": true, "therefore": true, "meanwhile": true, "suddenly": true,
	"finally": true, "moreover": true, "consequently": true, "furthermore": true,
}

const longWordRunes = 8

// wordRuns splits text into maximal runs of letters, numbers and
// underscores in any script. RE2's \w and \b are ASCII only.
func wordRuns(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '_'
	})
}

// Extract computes stylistic features of text. Text without any sentence
// yields an empty map.
func Extract(text string) map[string]float64 {
	patterns := make(map[string]float64)

	var counts []float64
	for _, s := range sentenceSplit.Split(text, -1) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		counts = append(counts, float64(len(strings.Fields(s))))
	}
	if len(counts) == 0 {
		return patterns
	}
	sentences := float64(len(counts))
	words := float64(len(strings.Fields(text)))

	var descriptive, transitions, long int
	for _, w := range wordRuns(text) {
		if utf8.RuneCountInString(w) >= longWordRunes {
			long++
		}
		w = strings.ToLower(w)
		if descriptiveWords[w] {
			descriptive++
		}
		if transitionWords[w] {
			transitions++
		}
	}

	mean, std := meanStd(counts)
	patterns[string(AvgSentenceLength)] = mean
	patterns[string(SentenceVariety)] = std
	patterns[string(DialogueDensity)] = float64(len(quotedSpan.FindAllStringIndex(text, -1))) / sentences
	patterns[string(DescriptiveDensity)] = ratio(descriptive, words)
	patterns[string(TransitionDensity)] = float64(transitions) / sentences

	var paragraphs []float64
	for _, p := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		paragraphs = append(paragraphs, float64(len(strings.Fields(p))))
	}
	patterns[string(AvgParagraphLength)], _ = meanStd(paragraphs)
	patterns[string(ComplexityScore)] = ratio(long, words)

	return patterns
}

func ratio(n int, total float64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / total
}

// meanStd returns the mean and population standard deviation.
func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}
