// Package detector decides when a plain HTTP response should be re-rendered in a
// headless browser.
package detector

import (
	"bytes"
	"net/http"

	"github.com/usyd/webcrawler-rag/internal/crawler"
)

// DefaultBodyThreshold is the body size below which script density is checked.
const DefaultBodyThreshold = 2048

var defaultMarkers = []string{
	`id="__next"`,
	`id="__nuxt"`,
	`id="root"`,
	`id="app"`,
	`data-reactroot`,
	`ng-version=`,
	`<noscript>you need to enable javascript`,
}

// Heuristic promotes empty bodies, small script-dominated pages and SPA shells.
type Heuristic struct {
	BodyThreshold int
	markers       [][]byte
}

// NewHeuristic creates a detector. Extra markers are matched case-insensitively
// alongside the built-in SPA markers.
func NewHeuristic(threshold int, extraMarkers ...string) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultBodyThreshold
	}
	h := &Heuristic{BodyThreshold: threshold}
	for _, m := range append(append([]string(nil), defaultMarkers...), extraMarkers...) {
		if m == "" {
			continue
		}
		h.markers = append(h.markers, bytes.ToLower([]byte(m)))
	}
	return h
}

// ShouldPromote implements crawler.HeadlessDetector.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	lower := bytes.ToLower(resp.Body)
	if len(lower) < h.BodyThreshold && scriptShare(lower) >= 25 {
		return true
	}
	for _, marker := range h.markers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// scriptShare returns the percentage of body bytes inside <script> elements.
// Unclosed tags count to the end of the document.
func scriptShare(lower []byte) int {
	total := len(lower)
	if total == 0 {
		return 0
	}
	open, end := []byte("<script"), []byte("</script>")
	covered := 0
	for pos := 0; pos < total; {
		idx := bytes.Index(lower[pos:], open)
		if idx < 0 {
			break
		}
		start := pos + idx
		stop := total
		if rel := bytes.Index(lower[start:], end); rel >= 0 {
			stop = start + rel + len(end)
		}
		covered += stop - start
		pos = stop
	}
	return covered * 100 / total
}
