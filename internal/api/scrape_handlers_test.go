package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/usyd/webcrawler-rag/internal/crawler"
	"github.com/usyd/webcrawler-rag/internal/store"
)

func TestStartScrapeValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	cases := map[string]struct {
		body string
		want string
	}{
		"bad json":    {`{"url":`, "invalid JSON body"},
		"missing url": {`{"type":"deep"}`, "URL is required"},
		"bad type":    {`{"url":"https://uni.example","type":"crawl"}`, "unknown scraping type: crawl"},
		"bad scheme":  {`{"url":"ftp://uni.example"}`, "invalid url: scheme must be http or https"},
		"negative":    {`{"url":"https://uni.example","config":{"max_pages":-1}}`, "max_depth and max_pages must not be negative"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/scrape/start", tc.body, true)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, tc.want, decodeBody(t, rec)["error"])
		})
	}
	require.Zero(t, f.queue.Len())
}

func TestStartScrapeQueuesJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/scrape/start",
		`{"url":"https://uni.example/handbook","type":"deep","config":{"max_depth":2,"max_pages":20}}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "started", body["status"])
	jobID, _ := body["job_id"].(string)
	require.NotEmpty(t, jobID)

	job, err := f.jobs.GetJob(context.Background(), jobID, f.user.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusPending, job.Status)
	require.Equal(t, crawler.ScrapeDeep, job.Type)
	require.Equal(t, 20, job.Config.MaxPages)
	require.Equal(t, "https://uni.example/handbook", job.URL)

	task, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, crawler.Task{
		Kind:      crawler.TaskScrape,
		ID:        jobID,
		UserID:    f.user.ID,
		Attempt:   1,
		Submitted: f.clock.Now().Unix(),
	}, task)

	rec = f.do(t, http.MethodGet, "/api/scrape/status/"+jobID, "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody(t, rec)
	require.Equal(t, "pending", status["status"])
	require.Equal(t, "Job queued", status["message"])
}

func seedJob(t *testing.T, f *fixture, id string, userID int64) {
	t.Helper()
	ctx := context.Background()
	now := f.clock.Now()
	require.NoError(t, f.jobs.CreateJob(ctx, store.ScrapingJob{
		ID:        id,
		UserID:    userID,
		URL:       "https://uni.example",
		Type:      crawler.ScrapeSingle,
		Status:    crawler.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}))
	summary := map[string]any{"pages_scraped": 1}
	require.NoError(t, f.jobs.Complete(ctx, id, crawler.JobStatusCompleted, 100,
		"Scraping completed successfully", summary, now))
	require.NoError(t, f.jobs.RecordPage(ctx, store.ScrapedPage{
		JobID: id, URL: "https://uni.example", Title: "Home", StatusCode: 200, ScrapedAt: now,
	}))
	for _, site := range []string{"uni.example", "cdn.example", "docs.example"} {
		require.NoError(t, f.jobs.UpsertSiteStats(ctx, id, site, 1, 512, "2xx", now))
	}
	_, err := f.blobs.PutObject(ctx, crawler.ResultPath(id), "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
}

func TestScrapeJobReads(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	seedJob(t, f, "job-1", f.user.ID)
	seedJob(t, f, "job-other", f.user.ID+1)

	rec := f.do(t, http.MethodGet, "/api/scrape/status/job-1", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "completed", body["status"])
	require.EqualValues(t, 100, body["progress"])
	require.EqualValues(t, 1, body["result_summary"].(map[string]any)["pages_scraped"])

	rec = f.do(t, http.MethodGet, "/api/scrape/status/job-other", "", true)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"error":"Job not found"}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/scrape/jobs", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody(t, rec)["jobs"], 1)

	rec = f.do(t, http.MethodGet, "/api/scrape/jobs/job-1/pages", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	pages := decodeBody(t, rec)["pages"].([]any)
	require.Len(t, pages, 1)
	require.Equal(t, "Home", pages[0].(map[string]any)["title"])

	rec = f.do(t, http.MethodGet, "/api/scrape/jobs/job-1/sites?limit=2&offset=1", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody(t, rec)["sites"], 2)

	rec = f.do(t, http.MethodGet, "/api/scrape/jobs/job-1/sites?offset=10", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"sites":[]}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/scrape/jobs/job-1/sites?limit=abc", "", true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteScrapeJobRemovesResult(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	seedJob(t, f, "job-1", f.user.ID)
	require.NotEmpty(t, f.blobs.Paths("raw/job-1"))

	rec := f.do(t, http.MethodDelete, "/api/scrape/jobs/job-1", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"success":true}`, rec.Body.String())
	require.Empty(t, f.blobs.Paths("raw/job-1"))
	require.Equal(t, []string{fmt.Sprintf("job-1:%d", f.user.ID)}, f.vectorDBs.deletedFor)

	rec = f.do(t, http.MethodDelete, "/api/scrape/jobs/job-1", "", true)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Len(t, f.vectorDBs.deletedFor, 1)
}

func TestDeleteScrapeJobKeepsJobWhenDependentsFail(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	seedJob(t, f, "job-1", f.user.ID)
	f.vectorDBs.err = errors.New("search service unavailable")

	rec := f.do(t, http.MethodDelete, "/api/scrape/jobs/job-1", "", true)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "Failed to delete job vector databases", decodeBody(t, rec)["error"])

	_, err := f.jobs.GetJob(context.Background(), "job-1", f.user.ID)
	require.NoError(t, err)
	require.NotEmpty(t, f.blobs.Paths("raw/job-1"))
}

func TestDeleteScrapeJobOfOtherUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	seedJob(t, f, "job-1", f.user.ID+1)

	rec := f.do(t, http.MethodDelete, "/api/scrape/jobs/job-1", "", true)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Empty(t, f.vectorDBs.deletedFor)
}

func TestParseLimitOffset(t *testing.T) {
	t.Parallel()

	cases := []struct {
		query   string
		limit   int
		offset  int
		wantErr bool
	}{
		{query: "", limit: 100, offset: 0},
		{query: "limit=5&offset=3", limit: 5, offset: 3},
		{query: "limit=5000", limit: 1000, offset: 0},
		{query: "limit=0", wantErr: true},
		{query: "offset=-1", wantErr: true},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/sites?"+tc.query, nil)
		limit, offset, err := parseLimitOffset(req, defaultSitesLimit, maxSitesLimit)
		if tc.wantErr {
			require.Error(t, err, tc.query)
			continue
		}
		require.NoError(t, err, tc.query)
		require.Equal(t, tc.limit, limit)
		require.Equal(t, tc.offset, offset)
	}
}

func TestPage(t *testing.T) {
	t.Parallel()

	items := []int{1, 2, 3, 4}
	require.Equal(t, []int{2, 3}, page(items, 2, 1))
	require.Equal(t, []int{4}, page(items, 10, 3))
	require.Nil(t, page(items, 2, 4))
}

func TestStartScrapeCarriesTraceContext(t *testing.T) {
	t.Parallel()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	f := newFixture(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodPost, "/api/scrape/start", strings.NewReader(`{"url":"https://uni.example"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	task, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Contains(t, task.Trace["traceparent"], traceID)
}
