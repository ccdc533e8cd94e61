package documents

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/ledongthuc/pdf"
	"gopkg.in/yaml.v3"

	"github.com/usyd/webcrawler-rag/internal/extract"
)

// Supported upload formats, named by extension without the dot.
const (
	FormatPDF      = "pdf"
	FormatDOCX     = "docx"
	FormatMarkdown = "md"
)

// ErrNoText is returned when a file yields no extractable text.
var ErrNoText = errors.New("no text could be extracted")

var (
	spaceRuns  = regexp.MustCompile(` {2,}`)
	lineEnding = strings.NewReplacer("\r\n", "\n", "\r", "\n")
)

// Extracted is the text and metadata pulled from one file.
type Extracted struct {
	Title    string
	Content  string
	Metadata map[string]string
}

// Extract dispatches on format.
func Extract(format string, data []byte) (Extracted, error) {
	var (
		out Extracted
		err error
	)
	switch format {
	case FormatPDF:
		out, err = extractPDF(data)
	case FormatDOCX:
		out, err = extractDOCX(data)
	case FormatMarkdown:
		out, err = extractMarkdown(data)
	default:
		return Extracted{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return Extracted{}, err
	}
	out.Content = cleanText(out.Content)
	if out.Content == "" {
		return Extracted{}, fmt.Errorf("%s: %w", format, ErrNoText)
	}
	out.Metadata["content_length"] = strconv.Itoa(len(out.Content))
	return out, nil
}

func extractPDF(data []byte) (out Extracted, err error) {
	// The pdf reader panics on some malformed streams.
	defer func() {
		if r := recover(); r != nil {
			out, err = Extracted{}, fmt.Errorf("read pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Extracted{}, fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return Extracted{}, fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return Extracted{}, fmt.Errorf("read pdf text: %w", err)
	}
	meta := map[string]string{
		"source_type": "pdf_document",
		"page_count":  strconv.Itoa(reader.NumPage()),
	}
	info := reader.Trailer().Key("Info")
	for key, field := range map[string]string{"title": "Title", "author": "Author", "subject": "Subject"} {
		if v := strings.TrimSpace(info.Key(field).Text()); v != "" {
			meta[key] = v
		}
	}
	return Extracted{Title: meta["title"], Content: buf.String(), Metadata: meta}, nil
}

func extractDOCX(data []byte) (Extracted, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Extracted{}, fmt.Errorf("open docx: %w", err)
	}
	body, err := parseZipXML(archive, "word/document.xml")
	if err != nil {
		return Extracted{}, err
	}
	if body == nil {
		return Extracted{}, fmt.Errorf("%w: missing word/document.xml", ErrContentMismatch)
	}

	var (
		text       strings.Builder
		paragraphs int
	)
	walk(body, func(n *xmlquery.Node) bool {
		if n.Data != "p" {
			return true
		}
		if line := paragraphText(n); strings.TrimSpace(line) != "" {
			text.WriteString(line)
			text.WriteByte('\n')
			paragraphs++
		}
		return false
	})

	meta := map[string]string{
		"source_type":     "word_document",
		"paragraph_count": strconv.Itoa(paragraphs),
	}
	core, err := parseZipXML(archive, "docProps/core.xml")
	if err != nil {
		return Extracted{}, err
	}
	if core != nil {
		walk(core, func(n *xmlquery.Node) bool {
			switch n.Data {
			case "title", "subject", "creator":
				if v := strings.TrimSpace(n.InnerText()); v != "" {
					key := n.Data
					if key == "creator" {
						key = "author"
					}
					meta[key] = v
				}
				return false
			}
			return true
		})
	}
	return Extracted{Title: meta["title"], Content: text.String(), Metadata: meta}, nil
}

// parseZipXML returns nil without error when name is absent.
func parseZipXML(archive *zip.Reader, name string) (*xmlquery.Node, error) {
	for _, f := range archive.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		doc, err := xmlquery.Parse(rc)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		return doc, nil
	}
	return nil, nil
}

// walk visits element nodes depth first. fn returns false to skip children.
func walk(n *xmlquery.Node, fn func(*xmlquery.Node) bool) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && !fn(c) {
			continue
		}
		walk(c, fn)
	}
}

func paragraphText(p *xmlquery.Node) string {
	var b strings.Builder
	walk(p, func(n *xmlquery.Node) bool {
		switch n.Data {
		case "t":
			b.WriteString(n.InnerText())
			return false
		case "tab":
			b.WriteByte('\t')
		case "br", "cr":
			b.WriteByte('\n')
		}
		return true
	})
	return b.String()
}

func extractMarkdown(data []byte) (Extracted, error) {
	content := lineEnding.Replace(string(data))
	meta := map[string]string{
		"source_type":     "markdown_document",
		"original_format": "markdown",
	}
	front, body, ok := splitFrontmatter(content)
	if ok {
		var fields map[string]any
		if err := yaml.Unmarshal([]byte(front), &fields); err != nil {
			return Extracted{}, fmt.Errorf("parse frontmatter: %w", err)
		}
		for k, v := range fields {
			if _, taken := meta[k]; taken || v == nil {
				continue
			}
			meta[k] = strings.TrimSpace(fmt.Sprint(v))
		}
		content = body
	}
	return Extracted{Title: meta["title"], Content: content, Metadata: meta}, nil
}

// splitFrontmatter separates a leading "---" delimited YAML block.
func splitFrontmatter(content string) (string, string, bool) {
	if !strings.HasPrefix(content, "---\n") {
		return "", content, false
	}
	rest := content[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", content, false
	}
	body := rest[end+len("\n---"):]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}
	return rest[:end], body, true
}

func cleanText(text string) string {
	text = lineEnding.Replace(text)
	return extract.Clean(spaceRuns.ReplaceAllString(text, " "))
}
