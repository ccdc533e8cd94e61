// Package extract converts fetched HTML into crawler pages: title, metadata,
// classified links and markdown content.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/usyd/webcrawler-rag/internal/crawler"
)

var (
	blankRuns = regexp.MustCompile(`\n{3,}`)

	stripSelectors = "script, style, noscript, iframe, svg, template"

	metaKeys = map[string]struct{}{
		"description": {},
		"keywords":    {},
		"author":      {},
		"robots":      {},
	}
)

// HTML extracts pages using goquery and html-to-markdown.
type HTML struct {
	converter *md.Converter
}

// New returns an HTML extractor.
func New() *HTML {
	return &HTML{converter: md.NewConverter("", true, nil)}
}

// Extract implements crawler.Extractor.
func (h *HTML) Extract(pageURL string, body []byte) (crawler.Page, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Page{}, fmt.Errorf("parse html: %w", err)
	}

	page := crawler.Page{
		URL:      pageURL,
		Title:    title(doc),
		Metadata: metadata(doc),
		Links:    links(doc, base),
	}

	content, err := h.content(doc, base)
	if err != nil {
		return crawler.Page{}, err
	}
	page.Content = content
	return page, nil
}

func title(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

func metadata(doc *goquery.Document) map[string]string {
	out := make(map[string]string)
	doc.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		content, ok := sel.Attr("content")
		if !ok {
			return
		}
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		name := strings.ToLower(strings.TrimSpace(sel.AttrOr("name", "")))
		if _, wanted := metaKeys[name]; wanted {
			out[name] = content
			return
		}
		prop := strings.ToLower(strings.TrimSpace(sel.AttrOr("property", "")))
		if strings.HasPrefix(prop, "og:") || strings.HasPrefix(name, "twitter:") {
			key := prop
			if key == "" {
				key = name
			}
			out[key] = content
		}
	})
	if lang := strings.TrimSpace(doc.Find("html").AttrOr("lang", "")); lang != "" {
		out["language"] = lang
	}
	return out
}

func links(doc *goquery.Document, base *url.URL) crawler.Links {
	result := crawler.Links{Internal: []crawler.Link{}, External: []crawler.Link{}}
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		abs, ok := crawler.Resolve(base, href)
		if !ok {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		link := crawler.Link{Href: abs, Text: strings.Join(strings.Fields(sel.Text()), " ")}
		if crawler.SameHost(abs, base.String()) {
			result.Internal = append(result.Internal, link)
		} else {
			result.External = append(result.External, link)
		}
	})
	return result
}

func (h *HTML) content(doc *goquery.Document, base *url.URL) (string, error) {
	doc.Find(stripSelectors).Remove()
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		ref, err := url.Parse(strings.TrimSpace(sel.AttrOr("href", "")))
		if err != nil {
			return
		}
		sel.SetAttr("href", base.ResolveReference(ref).String())
	})
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	html, err := goquery.OuterHtml(root)
	if err != nil {
		return "", fmt.Errorf("render body: %w", err)
	}
	markdown, err := h.converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return Clean(markdown), nil
}

// Clean trims trailing spaces on each line and collapses runs of blank lines.
func Clean(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}
