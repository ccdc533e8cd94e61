package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/usyd/webcrawler-rag/internal/crawler"
	"github.com/usyd/webcrawler-rag/internal/metrics"
	"github.com/usyd/webcrawler-rag/internal/progress"
	"github.com/usyd/webcrawler-rag/internal/store"
)

// Scraper runs one crawl.
type Scraper interface {
	Scrape(
		ctx context.Context,
		jobID string,
		kind crawler.ScrapeType,
		rawURL string,
		cfg crawler.ScrapeConfig,
		onPage crawler.ProgressFunc,
	) (crawler.Result, error)
}

// Job progress messages.
const (
	msgScrapeStarting  = "Starting scraping process"
	msgScrapeCompleted = "Scraping completed successfully"
)

// ScrapeHandler executes scrape tasks end to end.
type ScrapeHandler struct {
	jobs     store.JobRepository
	scraper  Scraper
	blobs    crawler.BlobStore
	progress progress.Emitter
	hasher   crawler.Hasher
	clock    crawler.Clock
	events   announcer
	logger   *zap.Logger
}

// NewScrapeHandler constructs a ScrapeHandler.
func NewScrapeHandler(
	jobs store.JobRepository,
	scraper Scraper,
	blobs crawler.BlobStore,
	emitter progress.Emitter,
	publisher crawler.Publisher,
	hasher crawler.Hasher,
	clock crawler.Clock,
	logger *zap.Logger,
) *ScrapeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.EmitterFunc(func(progress.Event) {})
	}
	return &ScrapeHandler{
		jobs:     jobs,
		scraper:  scraper,
		blobs:    blobs,
		progress: emitter,
		hasher:   hasher,
		clock:    clock,
		events:   announcer{publisher: publisher, logger: logger},
		logger:   logger,
	}
}

// Handle implements Handler.
func (h *ScrapeHandler) Handle(ctx context.Context, task crawler.Task) error {
	job, err := h.jobs.GetJobByID(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status.Terminal() {
		h.logger.Info("skipping finished job", zap.String("job_id", job.ID), zap.String("status", string(job.Status)))
		return nil
	}
	if err := h.jobs.UpdateStatus(ctx, job.ID, crawler.JobStatusRunning, 0, msgScrapeStarting); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	metrics.ObserveJob(string(crawler.JobStatusRunning))

	start := h.clock.Now()
	h.progress.Emit(progress.Event{JobID: job.ID, TS: start, Stage: progress.StageJobStart, URL: job.URL})

	result, err := h.scraper.Scrape(ctx, job.ID, job.Type, job.URL, job.Config, h.pageObserver(job.ID))
	var digest string
	if err == nil {
		digest, err = h.persist(ctx, job, result)
	}
	if err != nil {
		h.fail(ctx, job, start, err)
		return err
	}

	summary := result.Summary()
	summary["scraped_data_sha256"] = digest
	now := h.clock.Now()
	if err := h.jobs.Complete(ctx, job.ID, crawler.JobStatusCompleted, 100, msgScrapeCompleted, summary, now); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	metrics.ObserveJob(string(crawler.JobStatusCompleted))
	h.progress.Emit(progress.Event{JobID: job.ID, TS: now, Stage: progress.StageJobDone, Dur: now.Sub(start)})
	h.events.publish(ctx, TopicScrapeCompleted, map[string]any{
		"job_id":        job.ID,
		"user_id":       job.UserID,
		"url":           job.URL,
		"scraping_type": job.Type,
		"pages_scraped": result.PagesScraped,
	})
	h.logger.Info("scrape completed",
		zap.String("job_id", job.ID),
		zap.Int("pages", result.PagesScraped),
		zap.Duration("dur", now.Sub(start)),
	)
	return nil
}

func (h *ScrapeHandler) persist(ctx context.Context, job store.ScrapingJob, result crawler.Result) (string, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode scraped data: %w", err)
	}
	digest := ""
	if h.hasher != nil {
		if digest, err = h.hasher.Hash(data); err != nil {
			return "", fmt.Errorf("hash scraped data: %w", err)
		}
	}
	if _, err := h.blobs.PutObject(ctx, crawler.ResultPath(job.ID), "application/json", bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("store scraped data: %w", err)
	}
	at := h.clock.Now()
	for _, page := range result.Pages() {
		if err := h.jobs.RecordPage(ctx, store.ScrapedPage{
			JobID:         job.ID,
			URL:           page.URL,
			Title:         page.Title,
			Depth:         page.Depth,
			StatusCode:    page.StatusCode,
			ContentLength: len(page.Content),
			UsedHeadless:  page.UsedHeadless,
			ScrapedAt:     at,
		}); err != nil {
			return "", fmt.Errorf("record page: %w", err)
		}
	}
	return digest, nil
}

func (h *ScrapeHandler) fail(ctx context.Context, job store.ScrapingJob, start time.Time, cause error) {
	writeCtx, cancel := detached(ctx)
	defer cancel()

	now := h.clock.Now()
	msg := "Scraping failed: " + errorMessage(cause)
	if err := h.jobs.Complete(writeCtx, job.ID, crawler.JobStatusFailed, 0, msg, nil, now); err != nil {
		h.logger.Error("mark job failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	metrics.ObserveJob(string(crawler.JobStatusFailed))
	h.progress.Emit(progress.Event{
		JobID: job.ID,
		TS:    now,
		Stage: progress.StageJobError,
		Dur:   now.Sub(start),
		Note:  cause.Error(),
	})
	h.events.publish(writeCtx, TopicScrapeFailed, map[string]any{
		"job_id":  job.ID,
		"user_id": job.UserID,
		"url":     job.URL,
		"error":   cause.Error(),
	})
}

func (h *ScrapeHandler) pageObserver(jobID string) crawler.ProgressFunc {
	return func(evt crawler.PageEvent) {
		stage := progress.StagePageDone
		status := strconv.Itoa(evt.StatusCode)
		note := ""
		if evt.Err != nil {
			stage = progress.StagePageError
			note = evt.Err.Error()
			if evt.StatusCode == 0 {
				status = "error"
			}
		}
		metrics.ObservePage(evt.URL, status, evt.Bytes)
		h.progress.Emit(progress.Event{
			JobID:      jobID,
			TS:         h.clock.Now(),
			Stage:      stage,
			Site:       metrics.SanitizeSite(evt.URL),
			URL:        evt.URL,
			StatusCode: evt.StatusCode,
			Bytes:      int64(evt.Bytes),
			Done:       evt.Done,
			Expected:   evt.Expected,
			Dur:        evt.Duration,
			Note:       note,
		})
	}
}
