package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/usyd/webcrawler-rag/internal/progress"
	"github.com/usyd/webcrawler-rag/internal/store"
)

// ProgressStore is the slice of store.JobRepository the sink writes to.
type ProgressStore interface {
	UpdateProgress(ctx context.Context, id string, progress int, message string) error
	UpsertSiteStats(
		ctx context.Context,
		jobID, site string,
		deltaVisits, deltaBytes int64,
		statusClass string,
		at time.Time,
	) error
}

// StoreSink writes job progress and per-site counters. Each batch produces at
// most one progress update per job and one stats upsert per (job, site, class).
type StoreSink struct {
	repo   ProgressStore
	logger *zap.Logger
}

// NewStoreSink wraps repo.
func NewStoreSink(repo ProgressStore, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume implements progress.Sink.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	latest := make(map[string]progress.Event)
	order := make([]string, 0)
	stats := make(map[statsKey]*statsDelta)
	statsOrder := make([]statsKey, 0)

	for _, evt := range batch {
		if evt.Stage != progress.StagePageDone && evt.Stage != progress.StagePageError {
			continue
		}
		if evt.Stage == progress.StagePageDone {
			prev, seen := latest[evt.JobID]
			if !seen {
				order = append(order, evt.JobID)
			}
			if !seen || evt.Done >= prev.Done {
				latest[evt.JobID] = evt
			}
		}
		key := statsKey{jobID: evt.JobID, site: evt.Site, statusClass: store.StatusClass(evt.StatusCode)}
		delta, ok := stats[key]
		if !ok {
			delta = &statsDelta{}
			stats[key] = delta
			statsOrder = append(statsOrder, key)
		}
		delta.visits++
		delta.bytes += evt.Bytes
		if evt.TS.After(delta.at) {
			delta.at = evt.TS
		}
	}

	for _, jobID := range order {
		evt := latest[jobID]
		msg := fmt.Sprintf("Scraped %d pages", evt.Done)
		if err := s.repo.UpdateProgress(ctx, jobID, evt.Percent(), msg); err != nil {
			return fmt.Errorf("update job progress: %w", err)
		}
	}
	for _, key := range statsOrder {
		delta := stats[key]
		if err := s.repo.UpsertSiteStats(ctx, key.jobID, key.site, delta.visits, delta.bytes,
			key.statusClass, delta.at); err != nil {
			return fmt.Errorf("upsert site stats: %w", err)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	jobID       string
	site        string
	statusClass string
}

type statsDelta struct {
	visits int64
	bytes  int64
	at     time.Time
}
