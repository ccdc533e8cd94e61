package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/usyd/webcrawler-rag/internal/crawler"
)

func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	var started atomic.Int32
	runner := runnerFunc(func(ctx context.Context) {
		started.Add(1)
		<-ctx.Done()
	})
	d := New(&stubQueue{}, runner, runner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return started.Load() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}

func TestDispatcherEnqueueWrapsErrors(t *testing.T) {
	t.Parallel()

	q := &stubQueue{err: errors.New("full")}
	err := New(q).Enqueue(context.Background(), crawler.Task{Kind: crawler.TaskIndex, ID: "db-1"})
	require.ErrorContains(t, err, "enqueue index task: full")

	q.err = nil
	require.NoError(t, New(q).Enqueue(context.Background(), crawler.Task{Kind: crawler.TaskScrape, ID: "job-1"}))
	require.Equal(t, "job-1", q.last.ID)
}

type runnerFunc func(ctx context.Context)

func (f runnerFunc) Run(ctx context.Context) { f(ctx) }

type stubQueue struct {
	err  error
	last crawler.Task
}

func (q *stubQueue) Enqueue(_ context.Context, task crawler.Task) error {
	if q.err != nil {
		return q.err
	}
	q.last = task
	return nil
}

func (q *stubQueue) Dequeue(ctx context.Context) (crawler.Task, error) {
	<-ctx.Done()
	return crawler.Task{}, ctx.Err()
}
