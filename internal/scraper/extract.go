package scraper

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// minContentChars is the length a candidate container's text must exceed.
const minContentChars = 100

var errNoContent = errors.New("unable to extract content from this URL")

var (
	siteSelectors = []struct {
		domain    string
		selectors []string
	}{
		{"wikisource.org", []string{"#mw-content-text", ".mw-parser-output"}},
		{"gutenberg.org", []string{"pre", ".chapter", "body"}},
		{"archive.org", []string{".textLayer", ".BookReader", ".book-text", "pre"}},
	}

	genericSelectors = []string{
		"article",
		"main",
		".content",
		"#content",
		".post-content",
		".entry-content",
		".chapter-content",
		".text-content",
		"body",
	}

	unwantedTags = map[atom.Atom]bool{
		atom.Script: true,
		atom.Style:  true,
		atom.Nav:    true,
		atom.Header: true,
		atom.Footer: true,
		atom.Aside:  true,
	}

	blockTags = map[atom.Atom]bool{
		atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
		atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
		atom.Pre: true, atom.Blockquote: true, atom.Section: true, atom.Article: true,
		atom.Table: true, atom.Ul: true, atom.Ol: true, atom.Dd: true, atom.Dt: true,
	}

	wikiChromeRe = regexp.MustCompile(`nav|header|footer`)
)

// extraction is the container chosen for a page.
type extraction struct {
	title string
	text  string
	node  *html.Node
}

// selectorsFor returns the selector chain for host: site-specific first,
// then the generic fallbacks.
func selectorsFor(host string) []string {
	host = strings.ToLower(host)
	var out []string
	for _, s := range siteSelectors {
		if strings.Contains(host, s.domain) {
			out = append(out, s.selectors...)
			break
		}
	}
	return append(out, genericSelectors...)
}

// extractContent finds the first container on the page with enough text.
func extractContent(doc *html.Node, host string) (extraction, error) {
	ex := extraction{title: pageTitle(doc)}

	stripNodes(doc, func(n *html.Node) bool {
		return unwantedTags[n.DataAtom]
	})
	if strings.Contains(strings.ToLower(host), "wikisource.org") {
		stripNodes(doc, func(n *html.Node) bool {
			return (n.DataAtom == atom.Div || n.DataAtom == atom.Span) && wikiChromeRe.MatchString(getAttr(n, "class"))
		})
	}

	for _, sel := range selectorsFor(host) {
		n := querySelector(doc, sel)
		if n == nil {
			continue
		}
		text := collectText(n)
		if utf8.RuneCountInString(strings.TrimSpace(text)) > minContentChars {
			ex.text = CleanText(text)
			ex.node = n
			return ex, nil
		}
	}
	return ex, errNoContent
}

// pageTitle returns the trimmed <title> text, or a placeholder.
func pageTitle(doc *html.Node) string {
	var find func(*html.Node) *html.Node
	find = func(n *html.Node) *html.Node {
		if n.Type == html.ElementNode && n.DataAtom == atom.Title {
			return n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if t := find(c); t != nil {
				return t
			}
		}
		return nil
	}
	if t := find(doc); t != nil {
		if s := strings.TrimSpace(collectText(t)); s != "" {
			return s
		}
	}
	return "No title found"
}

// stripNodes removes every element for which drop returns true.
func stripNodes(root *html.Node, drop func(*html.Node) bool) {
	var victims []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && drop(n) {
			victims = append(victims, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	for _, n := range victims {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
}

// collectText concatenates the text under n, breaking lines after block
// elements.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			return
		case html.CommentNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockTags[n.DataAtom] {
			sb.WriteByte('\n')
		}
	}
	walk(n)
	return sb.String()
}

func renderNode(n *html.Node) string {
	var sb strings.Builder
	html.Render(&sb, n)
	return sb.String()
}
