// Package dispatcher runs queued crawl jobs on a fixed pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/racing-crawler/internal/crawler"
)

// ErrQueueClosed is returned by a Queue after Close.
var ErrQueueClosed = errors.New("queue closed")

// Job asks for one crawl of one site.
type Job struct {
	RunID     string
	Site      string
	Params    crawler.Params
	Submitted time.Time
}

// Queue buffers jobs between the API and the workers.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
}

// Runner executes one job to completion.
type Runner interface {
	RunJob(ctx context.Context, job Job) error
}

// Dispatcher fans queued jobs out to workers.
type Dispatcher struct {
	queue   Queue
	runner  Runner
	workers int
	logger  *zap.Logger
}

// New creates a Dispatcher with the given number of workers (at least one).
func New(queue Queue, runner Runner, workers int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{queue: queue, runner: runner, workers: workers, logger: logger}
}

// Run starts all workers and blocks until ctx ends or the queue closes.
// Cancelling ctx also cancels the jobs in progress.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range d.workers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.work(ctx, d.logger.With(zap.Int("worker", id)))
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context, logger *zap.Logger) {
	for {
		job, err := d.queue.Dequeue(ctx)
		switch {
		case ctx.Err() != nil, errors.Is(err, ErrQueueClosed):
			return
		case err != nil:
			logger.Warn("dequeue failed", zap.Error(err))
			continue
		}
		logger.Info("job started",
			zap.String("run_id", job.RunID),
			zap.String("site", job.Site),
			zap.Duration("queued", time.Since(job.Submitted)))
		if err := d.runner.RunJob(ctx, job); err != nil {
			logger.Error("job failed", zap.String("run_id", job.RunID), zap.Error(err))
		}
	}
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, job Job) error {
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
