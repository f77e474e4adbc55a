package pagination

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// BatchConfig holds batch runner configuration.
type BatchConfig struct {
	// MaxConcurrency is the maximum number of engines run in parallel.
	// Engines sharing one API bucket should keep this at 1.
	MaxConcurrency int
}

// DefaultBatchConfig returns the default batch configuration.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{MaxConcurrency: 1}
}

// Job is one named pagination run.
type Job struct {
	Name   string
	Engine *Engine
}

// Handler consumes the pages of one job.
type Handler func(ctx context.Context, job Job, pages iter.Seq2[Page, error]) error

// BatchRunner runs independent pagination engines with a worker pool.
type BatchRunner struct {
	config BatchConfig
	logger zerolog.Logger
}

// NewBatchRunner creates a new batch runner.
func NewBatchRunner(config BatchConfig, logger zerolog.Logger) *BatchRunner {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}
	return &BatchRunner{config: config, logger: logger}
}

// Run hands every job to handle and waits for all of them. The returned
// slice holds each job's error at the job's index; the combined error is
// non-nil if any job failed. Jobs not started before ctx is cancelled
// report the context error.
func (br *BatchRunner) Run(ctx context.Context, jobs []Job, handle Handler) ([]error, error) {
	start := time.Now()
	errs := make([]error, len(jobs))

	workers := br.config.MaxConcurrency
	if workers > len(jobs) {
		workers = len(jobs)
	}

	br.logger.Info().
		Int("jobs", len(jobs)).
		Int("workers", workers).
		Msg("Starting batch run")

	queue := make(chan int, len(jobs))
	for i := range jobs {
		queue <- i
	}
	close(queue)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go br.worker(ctx, w, jobs, queue, handle, errs, &wg)
	}
	wg.Wait()

	var result *multierror.Error
	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			result = multierror.Append(result, fmt.Errorf("job %q: %w", jobs[i].Name, err))
		}
	}

	br.logger.Info().
		Int("jobs", len(jobs)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Batch run complete")

	return errs, result.ErrorOrNil()
}

// worker processes jobs from the queue. Each index is written by exactly one
// worker.
func (br *BatchRunner) worker(ctx context.Context, workerID int, jobs []Job, queue <-chan int, handle Handler, errs []error, wg *sync.WaitGroup) {
	defer wg.Done()
	processed := 0

	for i := range queue {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}

		job := jobs[i]
		br.logger.Debug().
			Int("worker_id", workerID).
			Str("job", job.Name).
			Msg("Job started")

		if err := handle(ctx, job, job.Engine.Pages(ctx)); err != nil {
			br.logger.Warn().
				Err(err).
				Int("worker_id", workerID).
				Str("job", job.Name).
				Msg("Job failed")
			errs[i] = err
		}
		processed++
	}

	if processed > 0 {
		br.logger.Debug().
			Int("worker_id", workerID).
			Int("jobs_processed", processed).
			Msg("Worker completed")
	}
}
