package scraper

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Extraction methods.
const (
	MethodArticle  = "article"
	MethodFallback = "dom_text"
)

// Extracted is the readable content of a page.
type Extracted struct {
	Title  string
	Text   string
	Method string
}

// noise is removed before any extraction.
const noise = "script, style, noscript, template, svg, iframe, form, button, select, input"

// chrome is removed by the fallback only; the article pass picks a content container instead.
const chrome = "nav, footer, header, aside, [role=navigation], [role=banner], [role=contentinfo], .cookie, .cookies, .subscribe, .share, .social, .comments"

var articleSelectors = []string{
	"[itemprop=articleBody]",
	"article",
	".article-body", ".article__body", ".article-content", ".article__text",
	".post-content", ".entry-content", ".story-body", ".news-text", ".text-content",
	"main",
	"#content", ".content",
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// Extractor turns HTML into article text. It is safe for concurrent use.
type Extractor struct {
	// MinChars is the least text the article pass must produce before the fallback runs.
	MinChars int
	// MaxChars truncates the extracted body.
	MaxChars int
}

func newConverter() *md.Converter {
	conv := md.NewConverter("", true, &md.Options{EscapeMode: "disabled"})
	conv.Remove("img", "picture", "figure", "video", "audio")
	conv.AddRules(md.Rule{
		Filter: []string{"a"},
		Replacement: func(content string, _ *goquery.Selection, _ *md.Options) *string {
			return md.String(content)
		},
	})
	return conv
}

// Extract finds the title and body text of page. The article pass locates the
// element holding the densest run of paragraphs below the headline and renders
// it as text; when that yields fewer than MinChars characters, the fallback
// strips page chrome and concatenates all remaining text.
func (e Extractor) Extract(page []byte) (Extracted, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return Extracted{}, fmt.Errorf("parse html: %w", err)
	}
	doc.Find(noise).Remove()

	title := pageTitle(doc)

	if text := e.truncate(articleText(doc, title)); utf8.RuneCountInString(text) >= e.MinChars && text != "" {
		return Extracted{Title: title, Text: text, Method: MethodArticle}, nil
	}

	doc.Find(chrome).Remove()
	text := e.truncate(normalizeBlock(doc.Find("body").Text()))
	return Extracted{Title: title, Text: text, Method: MethodFallback}, nil
}

func pageTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return collapse(og)
	}
	if h1 := collapse(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return collapse(doc.Find("title").First().Text())
}

func articleText(doc *goquery.Document, title string) string {
	container := bestContainer(doc)
	if container == nil {
		return ""
	}

	// Drop the headline itself so the body starts below the title boundary.
	container.Find("h1").Each(func(_ int, s *goquery.Selection) {
		if collapse(s.Text()) == title {
			s.Remove()
		}
	})

	text := newConverter().Convert(container)
	return normalizeBlock(text)
}

// bestContainer scores known article wrappers first, then falls back to the
// parent element with the most paragraph text.
func bestContainer(doc *goquery.Document) *goquery.Selection {
	var best *goquery.Selection
	bestScore := 0
	for _, sel := range articleSelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if score := paragraphScore(s); score > bestScore {
				best, bestScore = s, score
			}
		})
		if best != nil && bestScore >= 500 {
			return best
		}
	}

	scores := map[*html.Node]int{}
	var order []*goquery.Selection
	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		parent := p.Parent()
		if parent.Length() == 0 {
			return
		}
		node := parent.Get(0)
		if _, seen := scores[node]; !seen {
			order = append(order, parent)
		}
		scores[node] += utf8.RuneCountInString(strings.TrimSpace(p.Text()))
	})
	for _, sel := range order {
		if score := scores[sel.Get(0)]; score > bestScore {
			best, bestScore = sel, score
		}
	}
	return best
}

func paragraphScore(s *goquery.Selection) int {
	score := 0
	s.Find("p").Each(func(_ int, p *goquery.Selection) {
		score += utf8.RuneCountInString(strings.TrimSpace(p.Text()))
	})
	return score
}

func (e Extractor) truncate(s string) string {
	if e.MaxChars <= 0 || utf8.RuneCountInString(s) <= e.MaxChars {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:e.MaxChars]))
}

// normalizeBlock trims every line and keeps at most one blank line between paragraphs.
func normalizeBlock(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(l), " ")
	}
	return strings.TrimSpace(blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
