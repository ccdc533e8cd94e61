package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Defaults applied when a job config leaves limits unset.
const (
	DefaultDeepMaxDepth    = 3
	DefaultDeepMaxPages    = 50
	DefaultSitemapMaxPages = 100
	DefaultSitemapTimeout  = 30 * time.Second
)

// ScraperConfig holds service-wide scraping behavior.
type ScraperConfig struct {
	DeepMaxDepth    int
	DeepMaxPages    int
	SitemapMaxPages int
	SitemapTimeout  time.Duration
	RespectRobots   bool
	HeadlessEnabled bool
	BlockedDomains  []string
	MaxAttempts     int
}

// ErrBlockedHost is returned for URLs on the configured blocklist.
var ErrBlockedHost = errors.New("host is blocked")

// PageEvent is reported to the progress callback after every fetch attempt.
type PageEvent struct {
	URL        string
	StatusCode int
	Bytes      int
	Duration   time.Duration
	Done       int
	Expected   int
	Err        error
}

// ProgressFunc receives page level progress while a job runs.
type ProgressFunc func(PageEvent)

// Scraper runs single, deep and sitemap crawls over a Fetcher.
type Scraper struct {
	plain     Fetcher
	headless  Fetcher
	detector  HeadlessDetector
	policy    Policy
	extractor Extractor
	retry     RetryPolicy
	blocked   *hostBlocklist
	cfg       ScraperConfig
	logger    *zap.Logger
}

// NewScraper wires a Scraper. headless, detector and policy may be nil.
func NewScraper(
	plain Fetcher,
	headless Fetcher,
	detector HeadlessDetector,
	policy Policy,
	extractor Extractor,
	cfg ScraperConfig,
	logger *zap.Logger,
) *Scraper {
	if cfg.DeepMaxDepth <= 0 {
		cfg.DeepMaxDepth = DefaultDeepMaxDepth
	}
	if cfg.DeepMaxPages <= 0 {
		cfg.DeepMaxPages = DefaultDeepMaxPages
	}
	if cfg.SitemapMaxPages <= 0 {
		cfg.SitemapMaxPages = DefaultSitemapMaxPages
	}
	if cfg.SitemapTimeout <= 0 {
		cfg.SitemapTimeout = DefaultSitemapTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		plain:     plain,
		headless:  headless,
		detector:  detector,
		policy:    policy,
		extractor: extractor,
		retry:     NewJitteredBackoff(cfg.MaxAttempts),
		blocked:   newHostBlocklist(cfg.BlockedDomains),
		cfg:       cfg,
		logger:    logger,
	}
}

// Scrape dispatches to the strategy named by kind.
func (s *Scraper) Scrape(
	ctx context.Context,
	jobID string,
	kind ScrapeType,
	rawURL string,
	cfg ScrapeConfig,
	onPage ProgressFunc,
) (Result, error) {
	if s.plain == nil || s.extractor == nil {
		return Result{}, errors.New("scraper is missing a fetcher or extractor")
	}
	if onPage == nil {
		onPage = func(PageEvent) {}
	}
	if cfg.Headless != nil && *cfg.Headless && s.headless == nil {
		s.logger.Warn("headless rendering requested but disabled, using plain fetches",
			zap.String("job_id", jobID),
			zap.String("url", rawURL),
		)
	}
	switch kind {
	case ScrapeSingle:
		return s.scrapeSingle(ctx, jobID, rawURL, cfg, onPage)
	case ScrapeDeep:
		maxDepth := valueOr(cfg.MaxDepth, s.cfg.DeepMaxDepth)
		maxPages := valueOr(cfg.MaxPages, s.cfg.DeepMaxPages)
		return s.scrapeDeep(ctx, jobID, rawURL, maxDepth, maxPages, cfg, onPage)
	case ScrapeSitemap:
		maxPages := valueOr(cfg.MaxPages, s.cfg.SitemapMaxPages)
		return s.scrapeSitemap(ctx, jobID, rawURL, maxPages, cfg, onPage)
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownScrapeType, kind)
	}
}

func (s *Scraper) scrapeSingle(
	ctx context.Context,
	jobID, rawURL string,
	cfg ScrapeConfig,
	onPage ProgressFunc,
) (Result, error) {
	page, resp, err := s.fetchPage(ctx, jobID, rawURL, 0, cfg)
	onPage(PageEvent{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Bytes:      len(resp.Body),
		Duration:   resp.Duration,
		Done:       1,
		Expected:   1,
		Err:        err,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to scrape page: %w", err)
	}
	links := page.Links
	return Result{
		Success:      true,
		SourceType:   SourceWeb,
		URL:          rawURL,
		Title:        page.Title,
		Content:      page.Content,
		Links:        &links,
		Metadata:     page.Metadata,
		PagesScraped: 1,
	}, nil
}

type frontier struct {
	url   string
	depth int
}

func (s *Scraper) scrapeDeep(
	ctx context.Context,
	jobID, rootURL string,
	maxDepth, maxPages int,
	cfg ScrapeConfig,
	onPage ProgressFunc,
) (Result, error) {
	visited := make(map[string]struct{})
	queue := []frontier{{url: rootURL, depth: 0}}
	var results []Page
	deepest := 0

	for len(queue) > 0 && len(visited) < maxPages {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("deep crawl interrupted: %w", err)
		}
		next := queue[0]
		queue = queue[1:]
		if _, seen := visited[next.url]; seen || next.depth > maxDepth {
			continue
		}
		visited[next.url] = struct{}{}

		page, resp, err := s.fetchPage(ctx, jobID, next.url, next.depth, cfg)
		onPage(PageEvent{
			URL:        next.url,
			StatusCode: resp.StatusCode,
			Bytes:      len(resp.Body),
			Duration:   resp.Duration,
			Done:       len(visited),
			Expected:   maxPages,
			Err:        err,
		})
		if err != nil {
			s.logger.Warn("deep crawl page failed",
				zap.String("job_id", jobID),
				zap.String("url", next.url),
				zap.Error(err),
			)
			continue
		}
		results = append(results, page)
		if next.depth > deepest {
			deepest = next.depth
		}

		if next.depth >= maxDepth {
			continue
		}
		for _, link := range page.Links.Internal {
			if !SameHost(link.Href, rootURL) {
				continue
			}
			if _, seen := visited[link.Href]; seen {
				continue
			}
			queue = append(queue, frontier{url: link.Href, depth: next.depth + 1})
		}
	}

	return Result{
		Success:         true,
		SourceType:      SourceWeb,
		RootURL:         rootURL,
		PagesScraped:    len(results),
		MaxDepthReached: deepest,
		Results:         results,
	}, nil
}

func (s *Scraper) scrapeSitemap(
	ctx context.Context,
	jobID, sitemapURL string,
	maxPages int,
	cfg ScrapeConfig,
	onPage ProgressFunc,
) (Result, error) {
	urls, err := s.loadSitemap(ctx, jobID, sitemapURL, cfg)
	if err != nil {
		return Result{}, err
	}
	if len(urls) > maxPages {
		urls = urls[:maxPages]
	}

	results := make([]Page, 0, len(urls))
	for i, pageURL := range urls {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("sitemap crawl interrupted: %w", err)
		}
		page, resp, err := s.fetchPage(ctx, jobID, pageURL, 0, cfg)
		onPage(PageEvent{
			URL:        pageURL,
			StatusCode: resp.StatusCode,
			Bytes:      len(resp.Body),
			Duration:   resp.Duration,
			Done:       i + 1,
			Expected:   len(urls),
			Err:        err,
		})
		if err != nil {
			s.logger.Warn("sitemap page failed",
				zap.String("job_id", jobID),
				zap.String("url", pageURL),
				zap.Error(err),
			)
			continue
		}
		results = append(results, page)
	}

	return Result{
		Success:        true,
		SourceType:     SourceWeb,
		SitemapURL:     sitemapURL,
		TotalURLsFound: len(urls),
		PagesScraped:   len(results),
		Results:        results,
	}, nil
}

func (s *Scraper) loadSitemap(ctx context.Context, jobID, sitemapURL string, cfg ScrapeConfig) ([]string, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.SitemapTimeout)
	defer cancel()

	resp, err := s.fetchWithRetry(fetchCtx, s.plain, s.request(jobID, sitemapURL, 0, cfg))
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch sitemap: unexpected status %d", resp.StatusCode)
	}
	urls, err := ParseSitemap(resp.Body)
	if err != nil {
		return nil, err
	}
	s.logger.Info("sitemap loaded",
		zap.String("job_id", jobID),
		zap.String("url", sitemapURL),
		zap.Int("urls", len(urls)),
	)
	return urls, nil
}

func (s *Scraper) fetchPage(
	ctx context.Context,
	jobID, pageURL string,
	depth int,
	cfg ScrapeConfig,
) (Page, FetchResponse, error) {
	if s.blocked.blockedURL(pageURL) {
		return Page{}, FetchResponse{}, fmt.Errorf("%w: %s", ErrBlockedHost, pageURL)
	}
	resp, err := s.fetchWithRetry(ctx, s.plain, s.request(jobID, pageURL, depth, cfg))
	if err != nil {
		return Page{}, FetchResponse{}, fmt.Errorf("fetch page: %w", err)
	}
	if resp.StatusCode >= 400 {
		return Page{}, resp, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	resp = s.maybePromote(ctx, jobID, pageURL, depth, cfg, resp)

	page, err := s.extractor.Extract(resp.URL, resp.Body)
	if err != nil {
		return Page{}, resp, fmt.Errorf("extract page: %w", err)
	}
	page.URL = pageURL
	page.Depth = depth
	page.StatusCode = resp.StatusCode
	page.UsedHeadless = resp.UsedHeadless
	return page, resp, nil
}

// fetchWithRetry waits on the politeness policy before every attempt.
func (s *Scraper) fetchWithRetry(ctx context.Context, fetcher Fetcher, req FetchRequest) (FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		if s.policy != nil {
			if err := s.policy.Wait(ctx, req.URL); err != nil {
				return FetchResponse{}, err
			}
		}
		resp, err := fetcher.Fetch(ctx, req)
		if !s.retry.ShouldRetry(resp, err, attempt) {
			return resp, err
		}
		delay := s.retry.Backoff(attempt)
		s.logger.Debug("retrying fetch",
			zap.String("job_id", req.JobID),
			zap.String("url", req.URL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
		)
		if err := sleepCtx(ctx, delay); err != nil {
			return FetchResponse{}, err
		}
	}
}

func (s *Scraper) maybePromote(
	ctx context.Context,
	jobID, pageURL string,
	depth int,
	cfg ScrapeConfig,
	resp FetchResponse,
) FetchResponse {
	allowed := s.cfg.HeadlessEnabled
	if cfg.Headless != nil {
		allowed = *cfg.Headless
	}
	if !allowed || s.headless == nil || s.detector == nil || !s.detector.ShouldPromote(resp) {
		return resp
	}
	req := s.request(jobID, pageURL, depth, cfg)
	req.UseHeadless = true
	rendered, err := s.fetchWithRetry(ctx, s.headless, req)
	if err != nil {
		s.logger.Warn("headless promotion failed",
			zap.String("job_id", jobID),
			zap.String("url", pageURL),
			zap.Error(err),
		)
		return resp
	}
	rendered.UsedHeadless = true
	s.logger.Debug("headless promotion applied", zap.String("job_id", jobID), zap.String("url", pageURL))
	return rendered
}

func (s *Scraper) request(jobID, pageURL string, depth int, cfg ScrapeConfig) FetchRequest {
	req := FetchRequest{
		JobID:         jobID,
		URL:           pageURL,
		Depth:         depth,
		RespectRobots: s.cfg.RespectRobots,
	}
	if cfg.RespectRobots != nil {
		req.RespectRobots = *cfg.RespectRobots
		req.RespectRobotsProvided = true
	}
	return req
}

func valueOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
