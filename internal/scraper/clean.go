package scraper

import (
	"regexp"
	"strings"
)

var (
	spaceRunRe   = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	blankRunRe   = regexp.MustCompile(`\n{3,}`)
	navigationRe = []*regexp.Regexp{
		regexp.MustCompile(`^(home|menu|navigation|contents|index|search|login|register)$`),
		regexp.MustCompile(`^(next|previous|back|forward|chapter \d+)$`),
		regexp.MustCompile(`^(←|→|«|»)`),
		regexp.MustCompile(`^\d+$`),
		regexp.MustCompile(`^(edit|view|history|talk|discussion)$`),
	}
)

// CleanText normalises scraped text: line endings, inner whitespace, and
// navigation debris. Paragraph breaks survive as single blank lines.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff', '\u00ad':
			return -1
		}
		return r
	}, text)

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(spaceRunRe.ReplaceAllString(line, " "))
		if line != "" && isNavigationLine(line) {
			continue
		}
		kept = append(kept, line)
	}

	text = strings.Join(kept, "\n")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// isNavigationLine reports whether a trimmed line looks like menu or pager
// text rather than prose.
func isNavigationLine(line string) bool {
	lower := strings.ToLower(line)
	for _, re := range navigationRe {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}
