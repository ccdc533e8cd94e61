// Package dispatcher fans queued tasks out to a pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/usyd/webcrawler-rag/internal/crawler"
)

// Runner is a worker loop that returns when ctx ends.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher owns the queue and its workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []Runner
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers ...Runner) *Dispatcher {
	return &Dispatcher{queue: queue, workers: workers}
}

// Run starts every worker and blocks until ctx is done and they have returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue submits a task. It satisfies the services' task submitter.
func (d *Dispatcher) Enqueue(ctx context.Context, task crawler.Task) error {
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueue %s task: %w", task.Kind, err)
	}
	return nil
}
