package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/harvester/pkg/aggregate"
	"github.com/Sternrassler/harvester/pkg/descriptor"
	"github.com/Sternrassler/harvester/pkg/errorlog"
	"github.com/Sternrassler/harvester/pkg/logging"
	"github.com/Sternrassler/harvester/pkg/pagination"
)

// Harvester runs descriptors through the shared transport, throttle and
// error log.
type Harvester struct {
	Executor    pagination.Executor
	Delayer     pagination.Delayer
	Sink        errorlog.Sink
	Pagination  pagination.Config
	Concurrency int
	Clock       clock.Clock
	Logger      zerolog.Logger
}

// Target is one named descriptor to harvest.
type Target struct {
	Name       string
	Descriptor descriptor.Descriptor

	// PlainObjects accepts object responses without a userErrors field, as
	// returned by singular REST resources.
	PlainObjects bool
}

// RunSummary describes one aggregated run.
type RunSummary struct {
	Name    string           `json:"name"`
	RunID   string           `json:"run_id"`
	Status  aggregate.Status `json:"status"`
	Pages   int              `json:"pages"`
	Skipped int              `json:"skipped"`
	Items   int              `json:"items"`
	Errors  int              `json:"errors"`
	Error   string           `json:"error,omitempty"`
}

// Report is what a command writes to its output.
type Report struct {
	Status aggregate.Status    `json:"status"`
	Runs   []RunSummary        `json:"runs"`
	Items  []descriptor.Record `json:"items"`
}

func (h *Harvester) engine(desc descriptor.Descriptor) *pagination.Engine {
	return pagination.New(desc, h.Executor, h.Delayer, h.Pagination, logging.Component(h.Logger, "pagination"))
}

func (h *Harvester) aggregator(plainObjects bool) *aggregate.Aggregator {
	var opts []aggregate.Option
	if h.Clock != nil {
		opts = append(opts, aggregate.WithClock(h.Clock))
	}
	if plainObjects {
		opts = append(opts, aggregate.RequireUserErrors(false))
	}
	return aggregate.New(h.Sink, logging.Component(h.Logger, "aggregate"), opts...)
}

// Harvest runs every target as its own run, Concurrency at a time, and
// merges the results in target order.
func (h *Harvester) Harvest(ctx context.Context, targets []Target) (*Report, error) {
	jobs := make([]pagination.Job, len(targets))
	index := make(map[*pagination.Engine]int, len(targets))
	for i, t := range targets {
		engine := h.engine(t.Descriptor)
		jobs[i] = pagination.Job{Name: t.Name, Engine: engine}
		index[engine] = i
	}

	results := make([]*aggregate.Result, len(targets))
	runner := pagination.NewBatchRunner(pagination.BatchConfig{MaxConcurrency: h.Concurrency},
		logging.Component(h.Logger, "batch"))
	errs, err := runner.Run(ctx, jobs, func(ctx context.Context, job pagination.Job, pages iter.Seq2[pagination.Page, error]) error {
		i := index[job.Engine]
		res, err := h.aggregator(targets[i].PlainObjects).Aggregate(ctx, pages)
		results[i] = res
		return err
	})

	report := &Report{Status: aggregate.StatusComplete, Items: []descriptor.Record{}}
	for i, t := range targets {
		report.add(t.Name, results[i], errs[i])
	}
	return report, report.err(err)
}

// Chain runs the targets one after another as a single run. It stops at the
// first target that fails. Plain objects are accepted only if every target
// accepts them.
func (h *Harvester) Chain(ctx context.Context, name string, targets []Target) (*Report, error) {
	streams := make([]iter.Seq2[pagination.Page, error], 0, len(targets))
	plainObjects := len(targets) > 0
	for _, t := range targets {
		streams = append(streams, h.engine(t.Descriptor).Pages(ctx))
		plainObjects = plainObjects && t.PlainObjects
	}

	res, err := h.aggregator(plainObjects).Aggregate(ctx, aggregate.Concat(streams...))

	report := &Report{Status: aggregate.StatusComplete, Items: []descriptor.Record{}}
	report.add(name, res, err)
	return report, report.err(err)
}

func (r *Report) add(name string, res *aggregate.Result, err error) {
	summary := RunSummary{Name: name, Status: aggregate.StatusFailed}
	if res != nil {
		summary.RunID = res.RunID
		summary.Status = res.Status
		summary.Pages = res.Pages
		summary.Skipped = res.Skipped
		summary.Items = len(res.Items)
		summary.Errors = len(res.Errors)
		r.Items = append(r.Items, res.Items...)
	}
	if err != nil {
		summary.Status = aggregate.StatusFailed
		summary.Error = err.Error()
	}
	r.Runs = append(r.Runs, summary)

	switch {
	case summary.Status == aggregate.StatusFailed:
		r.Status = aggregate.StatusFailed
	case summary.Status == aggregate.StatusCompletedWithErrors && r.Status == aggregate.StatusComplete:
		r.Status = aggregate.StatusCompletedWithErrors
	}
}

func (r *Report) err(runErr error) error {
	if runErr != nil {
		return runErr
	}
	if r.Status == aggregate.StatusCompletedWithErrors {
		return ErrCompletedWithErrors
	}
	return nil
}

// finish writes the report and a one-line summary per run, then passes err
// through.
func (d *Dependencies) finish(report *Report, err error) error {
	if report == nil {
		return err
	}

	for _, run := range report.Runs {
		fmt.Fprintf(d.Stderr, "%s: %s (%d pages, %d skipped, %d items, %d application errors)\n",
			run.Name, run.Status, run.Pages, run.Skipped, run.Items, run.Errors)
	}

	if writeErr := d.writeReport(report); writeErr != nil {
		if err != nil {
			return fmt.Errorf("%w; write output: %v", err, writeErr)
		}
		return fmt.Errorf("write output: %w", writeErr)
	}
	return err
}

func (d *Dependencies) writeReport(report *Report) error {
	if d.Output == "" {
		return encodeReport(d.Stdout, report)
	}

	if dir := filepath.Dir(d.Output); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(d.Output)
	if err != nil {
		return err
	}
	if err := encodeReport(f, report); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func encodeReport(w io.Writer, report *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
