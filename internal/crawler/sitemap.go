package crawler

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
)

// ErrEmptySitemap is returned when a sitemap lists no page URLs.
var ErrEmptySitemap = errors.New("sitemap contains no urls")

// locExpr matches <url><loc> pairs both inside the sitemaps.org namespace and
// in bare urlsets.
const locExpr = "//*[local-name()='url']/*[local-name()='loc']"

// ParseSitemap extracts page locations from a sitemap document in document
// order, skipping blanks. A sitemap without any location is ErrEmptySitemap.
func ParseSitemap(body []byte) ([]string, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse sitemap: %w", err)
	}
	nodes, err := xmlquery.QueryAll(doc, locExpr)
	if err != nil {
		return nil, fmt.Errorf("query sitemap: %w", err)
	}
	urls := make([]string, 0, len(nodes))
	for _, node := range nodes {
		loc := strings.TrimSpace(node.InnerText())
		if loc == "" {
			continue
		}
		urls = append(urls, loc)
	}
	if len(urls) == 0 {
		return nil, ErrEmptySitemap
	}
	return urls, nil
}
