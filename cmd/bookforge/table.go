package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/kalambet/bookforge/internal/archive"
	"github.com/kalambet/bookforge/internal/learning"
	"github.com/kalambet/bookforge/internal/retrieval"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// weightRows sorts a weight map descending, ties by name.
func weightRows(m map[string]float64, format func(float64) string) [][]string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		if m[names[i]] != m[names[j]] {
			return m[names[i]] > m[names[j]]
		}
		return names[i] < names[j]
	})
	rows := make([][]string, len(names))
	for i, n := range names {
		rows[i] = []string{n, format(m[n])}
	}
	return rows
}

func renderStats(st learning.Stats) string {
	var b strings.Builder
	b.WriteString(renderTable(
		[]string{"Metric", "Value"},
		[][]string{
			{"Total feedback", fmt.Sprint(st.TotalFeedback)},
			{"Good feedback", fmt.Sprint(st.GoodFeedback)},
			{"Success rate", percent(st.SuccessRate)},
			{"Learning patterns", fmt.Sprint(st.LearningPatterns)},
		},
		[]columnAlignment{alignLeft, alignRight},
	))
	b.WriteString("\n")

	if len(st.StyleDistribution) > 0 {
		b.WriteString("\n")
		b.WriteString(renderTable([]string{"Style", "Weight"},
			weightRows(st.StyleDistribution, formatWeight),
			[]columnAlignment{alignLeft, alignRight}))
		b.WriteString("\n")
	}
	if len(st.FocusEffectiveness) > 0 {
		b.WriteString("\n")
		b.WriteString(renderTable([]string{"Focus area", "Weight"},
			weightRows(st.FocusEffectiveness, formatWeight),
			[]columnAlignment{alignLeft, alignRight}))
		b.WriteString("\n")
	}
	for _, s := range st.RecentImprovements {
		fmt.Fprintf(&b, "  • %s\n", s)
	}
	return b.String()
}

func renderSuggestions(sg learning.Suggestion) string {
	focus := strings.Join(sg.RecommendedFocusAreas, ", ")
	if focus == "" {
		focus = "-"
	}
	var b strings.Builder
	b.WriteString(renderTable(
		[]string{"Suggestion", "Value"},
		[][]string{
			{"Recommended style", sg.RecommendedStyle},
			{"Focus areas", focus},
			{"Confidence", fmt.Sprintf("%.2f", sg.ConfidenceScore)},
			{"Success rate", percent(sg.SuccessRate)},
			{"Total feedback", fmt.Sprint(sg.TotalFeedback)},
		},
		nil,
	))
	b.WriteString("\n")
	for _, s := range sg.LearningInsights {
		fmt.Fprintf(&b, "  • %s\n", s)
	}
	return b.String()
}

func renderChapters(chapters []chapterInfo) string {
	rows := make([][]string, len(chapters))
	for i, c := range chapters {
		title := c.Title
		if title == "" {
			title = c.SourceURL
		}
		rows[i] = []string{
			c.ID,
			c.CreatedAt.Local().Format("2006-01-02 15:04"),
			truncate(title, 40),
			c.Style,
			ratingLabel(c.Rating),
			fmt.Sprint(c.WordCount),
		}
	}
	return renderTable(
		[]string{"ID", "Saved", "Title", "Style", "Rating", "Words"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	)
}

func renderSearch(results []retrieval.SearchResult) string {
	rows := make([][]string, len(results))
	for i, r := range results {
		rows[i] = []string{
			fmt.Sprint(i + 1),
			fmt.Sprintf("%.3f", r.SimilarityScore),
			r.ID,
			truncate(oneLine(r.ContentPreview), 60),
		}
	}
	return renderTable(
		[]string{"#", "Score", "ID", "Preview"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft},
	)
}

func renderFiles(entries []archive.Entry) string {
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{
			e.FileName,
			e.ModTime.Local().Format("2006-01-02 15:04"),
			fmt.Sprintf("%.1f KB", float64(e.Size)/1024),
		}
	}
	return renderTable(
		[]string{"File", "Modified", "Size"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight},
	)
}

func formatWeight(v float64) string { return fmt.Sprintf("%.2f", v) }

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
