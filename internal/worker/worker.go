// Package worker runs queued tasks: scrapes, index builds and document jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/usyd/webcrawler-rag/internal/crawler"
	"github.com/usyd/webcrawler-rag/internal/metrics"
	"github.com/usyd/webcrawler-rag/internal/telemetry"
)

var tracer = otel.Tracer("github.com/usyd/webcrawler-rag/internal/worker")

// DefaultJobTimeout bounds a single task.
const DefaultJobTimeout = 30 * time.Minute

const dequeueBackoff = 100 * time.Millisecond

// Handler runs one task kind.
type Handler interface {
	Handle(ctx context.Context, task crawler.Task) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task crawler.Task) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, task crawler.Task) error {
	return f(ctx, task)
}

// Config controls Worker behavior. Aborter, when set, records the failure of
// tasks that error, panic or have no handler.
type Config struct {
	JobTimeout time.Duration
	Aborter    Aborter
}

// Worker pulls tasks off the queue and routes them by kind.
type Worker struct {
	id       int
	queue    crawler.Queue
	handlers map[crawler.TaskKind]Handler
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(id int, queue crawler.Queue, handlers map[crawler.TaskKind]Handler, cfg Config, logger *zap.Logger) *Worker {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:       id,
		queue:    queue,
		handlers: handlers,
		cfg:      cfg,
		logger:   logger.With(zap.Int("worker", id)),
	}
}

// Run consumes tasks until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueBackoff):
			}
			continue
		}
		w.process(ctx, task)
	}
}

func (w *Worker) process(ctx context.Context, task crawler.Task) {
	logger := w.logger.With(zap.String("kind", string(task.Kind)), zap.String("task_id", task.ID))
	handler, ok := w.handlers[task.Kind]
	if !ok {
		logger.Error("no handler for task kind")
		w.abort(ctx, task, "no handler for task kind "+string(task.Kind), logger)
		return
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	taskCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()
	taskCtx, span := tracer.Start(telemetry.Extract(taskCtx, task.Trace), "task."+string(task.Kind), trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.Int64("task.user_id", task.UserID),
		attribute.Int("task.attempt", task.Attempt),
	))
	defer span.End()
	if sc := span.SpanContext(); sc.IsValid() {
		logger = logger.With(zap.String("trace_id", sc.TraceID().String()))
	}

	start := time.Now()
	logger.Debug("task started")
	if err := w.safeHandle(taskCtx, handler, task); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorMessage(err))
		logger.Error("task failed", zap.Duration("dur", time.Since(start)), zap.Error(err))
		w.abort(taskCtx, task, errorMessage(err), logger)
		return
	}
	logger.Info("task finished", zap.Duration("dur", time.Since(start)))
}

func (w *Worker) abort(ctx context.Context, task crawler.Task, message string, logger *zap.Logger) {
	if w.cfg.Aborter == nil {
		return
	}
	abortCtx, cancel := detached(ctx)
	defer cancel()
	if err := w.cfg.Aborter.Abort(abortCtx, task, message); err != nil {
		logger.Error("record task failure", zap.Error(err))
	}
}

func (w *Worker) safeHandle(ctx context.Context, handler Handler, task crawler.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return handler.Handle(ctx, task)
}

// detached keeps ctx values but drops its deadline, so terminal state can be
// written after a task times out.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}

func errorMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "job timed out"
	}
	return err.Error()
}
