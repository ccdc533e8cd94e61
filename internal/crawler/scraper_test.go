package crawler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]FetchResponse
	errs      map[string]error
	calls     []FetchRequest
}

func (f *fakeFetcher) Fetch(_ context.Context, req FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if err, ok := f.errs[req.URL]; ok {
		return FetchResponse{}, err
	}
	resp, ok := f.responses[req.URL]
	if !ok {
		return FetchResponse{URL: req.URL, StatusCode: 404}, nil
	}
	if resp.URL == "" {
		resp.URL = req.URL
	}
	return resp, nil
}

func (f *fakeFetcher) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.URL)
	}
	return out
}

// fakeExtractor serves prepared pages keyed by URL.
type fakeExtractor struct {
	pages map[string]Page
}

func (e fakeExtractor) Extract(pageURL string, _ []byte) (Page, error) {
	page, ok := e.pages[pageURL]
	if !ok {
		return Page{URL: pageURL, Content: "content of " + pageURL}, nil
	}
	return page, nil
}

// recordingPolicy remembers every URL it was asked to wait on.
type recordingPolicy struct {
	mu   sync.Mutex
	urls []string
}

func (p *recordingPolicy) Wait(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.urls = append(p.urls, url)
	return nil
}

func (p *recordingPolicy) waited() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.urls...)
}

type alwaysPromote struct{}

func (alwaysPromote) ShouldPromote(FetchResponse) bool { return true }

func okResp(body string) FetchResponse {
	return FetchResponse{StatusCode: 200, Body: []byte(body)}
}

func internal(urls ...string) Links {
	links := Links{}
	for _, u := range urls {
		links.Internal = append(links.Internal, Link{Href: u})
	}
	return links
}

func TestScrapeSingle(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{responses: map[string]FetchResponse{"https://a.test/": okResp("<html/>")}}
	extractor := fakeExtractor{pages: map[string]Page{
		"https://a.test/": {
			Title:    "Home",
			Content:  "# Home",
			Links:    internal("https://a.test/x"),
			Metadata: map[string]string{"description": "d"},
		},
	}}
	s := NewScraper(fetcher, nil, nil, nil, extractor, ScraperConfig{}, nil)

	var events []PageEvent
	res, err := s.Scrape(context.Background(), "job", ScrapeSingle, "https://a.test/", ScrapeConfig{}, func(e PageEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "https://a.test/", res.URL)
	require.Equal(t, "Home", res.Title)
	require.Equal(t, "# Home", res.Content)
	require.Equal(t, 1, res.PagesScraped)
	require.NotNil(t, res.Links)
	require.Len(t, res.Links.Internal, 1)
	require.Len(t, events, 1)
	require.Equal(t, 1, events[0].Done)
	require.Len(t, res.Pages(), 1)
}

func TestScrapeSingleFailure(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{responses: map[string]FetchResponse{}}
	s := NewScraper(fetcher, nil, nil, nil, fakeExtractor{}, ScraperConfig{}, nil)

	_, err := s.Scrape(context.Background(), "job", ScrapeSingle, "https://a.test/missing", ScrapeConfig{}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}

func TestScrapeDeepBFS(t *testing.T) {
	t.Parallel()

	root := "https://a.test/"
	fetcher := &fakeFetcher{responses: map[string]FetchResponse{
		root:                  okResp("root"),
		"https://a.test/one":  okResp("one"),
		"https://a.test/two":  okResp("two"),
		"https://a.test/deep": okResp("deep"),
	}, errs: map[string]error{"https://a.test/broken": errors.New("connection reset")}}
	extractor := fakeExtractor{pages: map[string]Page{
		root: {Content: "root", Links: Links{
			Internal: []Link{{Href: "https://a.test/one"}, {Href: "https://a.test/two"}, {Href: "https://a.test/broken"}, {Href: "https://other.test/x"}},
		}},
		"https://a.test/one":  {Content: "one", Links: internal(root, "https://a.test/deep")},
		"https://a.test/two":  {Content: "two", Links: internal("https://a.test/one")},
		"https://a.test/deep": {Content: "deep", Links: internal("https://a.test/deeper")},
	}}
	s := NewScraper(fetcher, nil, nil, nil, extractor, ScraperConfig{}, nil)

	res, err := s.Scrape(context.Background(), "job", ScrapeDeep, root, ScrapeConfig{MaxDepth: 2, MaxPages: 10}, nil)
	require.NoError(t, err)
	require.Equal(t, root, res.RootURL)
	require.Equal(t, 4, res.PagesScraped)
	require.Equal(t, 2, res.MaxDepthReached)

	got := make([]string, 0, len(res.Results))
	for _, p := range res.Results {
		got = append(got, p.URL)
	}
	require.Equal(t, []string{root, "https://a.test/one", "https://a.test/two", "https://a.test/deep"}, got)
	require.NotContains(t, fetcher.urls(), "https://other.test/x")
	require.NotContains(t, fetcher.urls(), "https://a.test/deeper")
}

func TestScrapeDeepMaxPages(t *testing.T) {
	t.Parallel()

	root := "https://a.test/"
	fetcher := &fakeFetcher{responses: map[string]FetchResponse{
		root:               okResp("root"),
		"https://a.test/1": okResp("1"),
		"https://a.test/2": okResp("2"),
		"https://a.test/3": okResp("3"),
	}}
	extractor := fakeExtractor{pages: map[string]Page{
		root: {Content: "root", Links: internal("https://a.test/1", "https://a.test/2", "https://a.test/3")},
	}}
	s := NewScraper(fetcher, nil, nil, nil, extractor, ScraperConfig{}, nil)

	var last PageEvent
	res, err := s.Scrape(context.Background(), "job", ScrapeDeep, root, ScrapeConfig{MaxPages: 2}, func(e PageEvent) { last = e })
	require.NoError(t, err)
	require.Equal(t, 2, res.PagesScraped)
	require.Equal(t, 2, last.Done)
	require.Equal(t, 2, last.Expected)
}

func TestScrapeSitemap(t *testing.T) {
	t.Parallel()

	sitemap := `<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
<url><loc>https://a.test/1</loc></url>
<url><loc>https://a.test/2</loc></url>
<url><loc>https://a.test/3</loc></url>
</urlset>`
	fetcher := &fakeFetcher{responses: map[string]FetchResponse{
		"https://a.test/sitemap.xml": okResp(sitemap),
		"https://a.test/1":           okResp("1"),
		"https://a.test/3":           okResp("3"),
	}}
	s := NewScraper(fetcher, nil, nil, nil, fakeExtractor{}, ScraperConfig{}, nil)

	res, err := s.Scrape(context.Background(), "job", ScrapeSitemap, "https://a.test/sitemap.xml", ScrapeConfig{MaxPages: 2}, nil)
	require.NoError(t, err)
	require.Equal(t, "https://a.test/sitemap.xml", res.SitemapURL)
	require.Equal(t, 2, res.TotalURLsFound)
	require.Equal(t, 1, res.PagesScraped)
	require.Equal(t, "https://a.test/1", res.Results[0].URL)
}

func TestScrapeSitemapBadStatus(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{responses: map[string]FetchResponse{}}
	s := NewScraper(fetcher, nil, nil, nil, fakeExtractor{}, ScraperConfig{}, nil)

	_, err := s.Scrape(context.Background(), "job", ScrapeSitemap, "https://a.test/sitemap.xml", ScrapeConfig{}, nil)
	require.Error(t, err)
}

func TestScrapeUnknownType(t *testing.T) {
	t.Parallel()

	s := NewScraper(&fakeFetcher{}, nil, nil, nil, fakeExtractor{}, ScraperConfig{}, nil)
	_, err := s.Scrape(context.Background(), "job", ScrapeType("crawl-all"), "https://a.test/", ScrapeConfig{}, nil)
	require.ErrorIs(t, err, ErrUnknownScrapeType)
}

func TestScrapeHeadlessPromotion(t *testing.T) {
	t.Parallel()

	plain := &fakeFetcher{responses: map[string]FetchResponse{"https://a.test/": okResp("<div id=root></div>")}}
	headless := &fakeFetcher{responses: map[string]FetchResponse{"https://a.test/": okResp("<p>rendered</p>")}}
	enabled := true

	s := NewScraper(plain, headless, alwaysPromote{}, nil, fakeExtractor{}, ScraperConfig{}, nil)
	_, err := s.Scrape(context.Background(), "job", ScrapeSingle, "https://a.test/", ScrapeConfig{}, nil)
	require.NoError(t, err)
	require.Empty(t, headless.urls(), "headless disabled by default")

	_, err = s.Scrape(context.Background(), "job", ScrapeSingle, "https://a.test/", ScrapeConfig{Headless: &enabled}, nil)
	require.NoError(t, err)
	require.Len(t, headless.calls, 1)
	require.True(t, headless.calls[0].UseHeadless)
}

func TestScrapeBlockedHost(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{responses: map[string]FetchResponse{"https://ads.a.test/": okResp("x")}}
	s := NewScraper(fetcher, nil, nil, nil, fakeExtractor{}, ScraperConfig{BlockedDomains: []string{"*.a.test"}}, nil)

	_, err := s.Scrape(context.Background(), "job", ScrapeSingle, "https://ads.a.test/", ScrapeConfig{}, nil)
	require.ErrorIs(t, err, ErrBlockedHost)
	require.Empty(t, fetcher.urls())
}

func TestScrapeRespectRobotsOverride(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{responses: map[string]FetchResponse{"https://a.test/": okResp("x")}}
	s := NewScraper(fetcher, nil, nil, nil, fakeExtractor{}, ScraperConfig{RespectRobots: true}, nil)
	off := false

	_, err := s.Scrape(context.Background(), "job", ScrapeSingle, "https://a.test/", ScrapeConfig{RespectRobots: &off}, nil)
	require.NoError(t, err)
	require.False(t, fetcher.calls[0].RespectRobots)
	require.True(t, fetcher.calls[0].RespectRobotsProvided)
}

func TestScrapeSitemapWaitsOnPolicy(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{responses: map[string]FetchResponse{
		"https://a.test/sitemap.xml": okResp(`<urlset><url><loc>https://a.test/1</loc></url></urlset>`),
		"https://a.test/1":           okResp("1"),
	}}
	policy := &recordingPolicy{}
	s := NewScraper(fetcher, nil, nil, policy, fakeExtractor{}, ScraperConfig{}, nil)

	_, err := s.Scrape(context.Background(), "job", ScrapeSitemap, "https://a.test/sitemap.xml", ScrapeConfig{}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.test/sitemap.xml", "https://a.test/1"}, policy.waited())
}

func TestScrapeSitemapEmpty(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{responses: map[string]FetchResponse{
		"https://a.test/sitemap.xml": okResp(`<urlset></urlset>`),
	}}
	s := NewScraper(fetcher, nil, nil, nil, fakeExtractor{}, ScraperConfig{}, nil)

	_, err := s.Scrape(context.Background(), "job", ScrapeSitemap, "https://a.test/sitemap.xml", ScrapeConfig{}, nil)
	require.ErrorIs(t, err, ErrEmptySitemap)
	require.Equal(t, []string{"https://a.test/sitemap.xml"}, fetcher.urls())
}

func TestScrapeHeadlessPromotionWaitsOnPolicy(t *testing.T) {
	t.Parallel()

	plain := &fakeFetcher{responses: map[string]FetchResponse{"https://a.test/": okResp("<div id=root></div>")}}
	headless := &fakeFetcher{responses: map[string]FetchResponse{"https://a.test/": okResp("<p>rendered</p>")}}
	policy := &recordingPolicy{}
	enabled := true

	s := NewScraper(plain, headless, alwaysPromote{}, policy, fakeExtractor{}, ScraperConfig{}, nil)
	_, err := s.Scrape(context.Background(), "job", ScrapeSingle, "https://a.test/", ScrapeConfig{Headless: &enabled}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.test/", "https://a.test/"}, policy.waited())
}

func TestScrapeWarnsWhenHeadlessUnavailable(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	fetcher := &fakeFetcher{responses: map[string]FetchResponse{"https://a.test/": okResp("x")}}
	enabled := true

	s := NewScraper(fetcher, nil, alwaysPromote{}, nil, fakeExtractor{}, ScraperConfig{}, zap.New(core))
	_, err := s.Scrape(context.Background(), "job-9", ScrapeSingle, "https://a.test/", ScrapeConfig{Headless: &enabled}, nil)
	require.NoError(t, err)
	require.Len(t, fetcher.calls, 1)
	require.False(t, fetcher.calls[0].UseHeadless)

	entries := logs.FilterMessage("headless rendering requested but disabled, using plain fetches").All()
	require.Len(t, entries, 1)
	require.Equal(t, "job-9", entries[0].ContextMap()["job_id"])
}
