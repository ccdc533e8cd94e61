package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/usyd/webcrawler-rag/internal/progress"
)

func TestStoreSinkCollapsesBatch(t *testing.T) {
	t.Parallel()

	repo := &fakeProgressStore{}
	sink := NewStoreSink(repo, nil)
	now := time.Now()

	batch := []progress.Event{
		{JobID: "job-1", Stage: progress.StageJobStart, TS: now},
		{JobID: "job-1", Stage: progress.StagePageDone, Site: "example.com", StatusCode: 200,
			Bytes: 100, Done: 1, Expected: 4, TS: now.Add(time.Second)},
		{JobID: "job-1", Stage: progress.StagePageDone, Site: "example.com", StatusCode: 200,
			Bytes: 50, Done: 2, Expected: 4, TS: now.Add(2 * time.Second)},
		{JobID: "job-1", Stage: progress.StagePageError, Site: "example.com", StatusCode: 404,
			TS: now.Add(3 * time.Second)},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []progressCall{{jobID: "job-1", progress: 50, message: "Scraped 2 pages"}}, repo.progress)
	require.Len(t, repo.stats, 2)
	require.Equal(t, siteCall{jobID: "job-1", site: "example.com", visits: 2, bytes: 150, class: "2xx",
		at: now.Add(2 * time.Second)}, repo.stats[0])
	require.Equal(t, "4xx", repo.stats[1].class)
}

func TestStoreSinkSurfacesErrors(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(&fakeProgressStore{err: errors.New("db down")}, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-1", Stage: progress.StagePageDone, Site: "example.com", StatusCode: 200, Done: 1, Expected: 2, TS: time.Now()},
	})
	require.ErrorContains(t, err, "db down")
}

func TestStoreSinkIgnoresJobStages(t *testing.T) {
	t.Parallel()

	repo := &fakeProgressStore{}
	sink := NewStoreSink(repo, nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-1", Stage: progress.StageJobDone, TS: time.Now()},
	}))
	require.Empty(t, repo.progress)
	require.Empty(t, repo.stats)
}

type progressCall struct {
	jobID    string
	progress int
	message  string
}

type siteCall struct {
	jobID  string
	site   string
	visits int64
	bytes  int64
	class  string
	at     time.Time
}

type fakeProgressStore struct {
	err      error
	progress []progressCall
	stats    []siteCall
}

func (f *fakeProgressStore) UpdateProgress(_ context.Context, id string, progress int, message string) error {
	if f.err != nil {
		return f.err
	}
	f.progress = append(f.progress, progressCall{jobID: id, progress: progress, message: message})
	return nil
}

func (f *fakeProgressStore) UpsertSiteStats(
	_ context.Context,
	jobID, site string,
	deltaVisits, deltaBytes int64,
	statusClass string,
	at time.Time,
) error {
	if f.err != nil {
		return f.err
	}
	f.stats = append(f.stats, siteCall{jobID: jobID, site: site, visits: deltaVisits, bytes: deltaBytes, class: statusClass, at: at})
	return nil
}
