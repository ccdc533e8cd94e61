package crawler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ScrapeType selects the crawl strategy for a job.
type ScrapeType string

// Supported scrape types.
const (
	ScrapeSingle  ScrapeType = "single"
	ScrapeDeep    ScrapeType = "deep"
	ScrapeSitemap ScrapeType = "sitemap"
)

// ErrUnknownScrapeType is returned for scrape types outside single/deep/sitemap.
var ErrUnknownScrapeType = errors.New("unknown scraping type")

// ParseScrapeType validates a user supplied scrape type. Empty input means single.
func ParseScrapeType(raw string) (ScrapeType, error) {
	switch t := ScrapeType(strings.ToLower(strings.TrimSpace(raw))); t {
	case "":
		return ScrapeSingle, nil
	case ScrapeSingle, ScrapeDeep, ScrapeSitemap:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownScrapeType, raw)
	}
}

// JobStatus represents the lifecycle state of a scraping job.
type JobStatus string

// Job status values persisted in scraping_jobs.status.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ScrapeConfig captures the per-job knobs a client may send with a scrape request.
type ScrapeConfig struct {
	MaxDepth      int   `json:"max_depth,omitempty"`
	MaxPages      int   `json:"max_pages,omitempty"`
	RespectRobots *bool `json:"respect_robots,omitempty"`
	Headless      *bool `json:"headless,omitempty"`
}

// Link is a hyperlink discovered on a page.
type Link struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// Links groups discovered links by whether they share the page host.
type Links struct {
	Internal []Link `json:"internal"`
	External []Link `json:"external"`
}

// Page is the extracted form of one fetched document.
type Page struct {
	URL          string            `json:"url"`
	Title        string            `json:"title"`
	Content      string            `json:"content"`
	Links        Links             `json:"links"`
	Metadata     map[string]string `json:"metadata"`
	Depth        int               `json:"depth"`
	StatusCode   int               `json:"status_code,omitempty"`
	UsedHeadless bool              `json:"used_headless,omitempty"`
}

// Result is the persisted output of a scraping job (scraped_data.json).
type Result struct {
	Success         bool              `json:"success"`
	SourceType      string            `json:"source_type,omitempty"`
	URL             string            `json:"url,omitempty"`
	RootURL         string            `json:"root_url,omitempty"`
	SitemapURL      string            `json:"sitemap_url,omitempty"`
	Title           string            `json:"title,omitempty"`
	Content         string            `json:"content,omitempty"`
	Links           *Links            `json:"links,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	PagesScraped    int               `json:"pages_scraped"`
	MaxDepthReached int               `json:"max_depth_reached,omitempty"`
	TotalURLsFound  int               `json:"total_urls_found,omitempty"`
	Results         []Page            `json:"results,omitempty"`
}

// Source types recorded on results and index documents.
const (
	SourceWeb       = "web_scraped"
	SourceDocuments = "documents"
)

// Pages flattens a result into page form. Single-page results carry their
// content at the top level instead of in Results.
func (r Result) Pages() []Page {
	if len(r.Results) > 0 {
		return r.Results
	}
	if strings.TrimSpace(r.Content) == "" {
		return nil
	}
	page := Page{
		URL:      r.URL,
		Title:    r.Title,
		Content:  r.Content,
		Metadata: r.Metadata,
	}
	if r.Links != nil {
		page.Links = *r.Links
	}
	return []Page{page}
}

// Summary is the body-free view of a result stored alongside the job row.
func (r Result) Summary() map[string]any {
	summary := map[string]any{
		"success":       r.Success,
		"pages_scraped": r.PagesScraped,
	}
	for key, value := range map[string]string{
		"url":         r.URL,
		"root_url":    r.RootURL,
		"sitemap_url": r.SitemapURL,
		"title":       r.Title,
		"source_type": r.SourceType,
	} {
		if value != "" {
			summary[key] = value
		}
	}
	if r.MaxDepthReached > 0 {
		summary["max_depth_reached"] = r.MaxDepthReached
	}
	if r.TotalURLsFound > 0 {
		summary["total_urls_found"] = r.TotalURLsFound
	}
	return summary
}

// RobotsStatus reports how robots.txt evaluation concluded for a fetch.
type RobotsStatus string

// Robots statuses surfaced on fetch responses.
const (
	RobotsStatusUnknown       RobotsStatus = ""
	RobotsStatusIndeterminate RobotsStatus = "indeterminate"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID                 string
	URL                   string
	Depth                 int
	UseHeadless           bool
	Headers               http.Header
	RespectRobots         bool
	RespectRobotsProvided bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
	RobotsStatus RobotsStatus
	RobotsReason string
}

// ResultPath is the blob path of a job's serialized Result.
func ResultPath(jobID string) string {
	return "raw/" + jobID + "/scraped_data.json"
}

// DecodeResult parses a serialized Result.
func DecodeResult(data []byte) (Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return Result{}, fmt.Errorf("decode scraped data: %w", err)
	}
	return r, nil
}
