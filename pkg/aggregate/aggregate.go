// Package aggregate folds a stream of pages into a single harvest result,
// separating API-reported application errors from the collected records.
package aggregate

import (
	"context"
	"fmt"
	"iter"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/harvester/pkg/descriptor"
	"github.com/Sternrassler/harvester/pkg/errorlog"
	"github.com/Sternrassler/harvester/pkg/pagination"
)

// UserErrorsField is the mutation payload field holding application errors.
const UserErrorsField = "userErrors"

// Prometheus metrics for aggregation.
var (
	harvestRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_runs_total",
		Help: "Total number of harvest runs by final status",
	}, []string{"status"})

	harvestItemsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_items_total",
		Help: "Total number of records collected",
	})

	harvestUserErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_user_errors_total",
		Help: "Total number of records that carried application errors",
	})
)

// Status is the outcome of a run.
type Status string

const (
	// StatusComplete means every page was fetched and kept and no application
	// errors were reported.
	StatusComplete Status = "complete"

	// StatusCompletedWithErrors means the run reached its last page but at
	// least one page was skipped or one record carried application errors.
	StatusCompletedWithErrors Status = "completed_with_errors"

	// StatusFailed means the run stopped early.
	StatusFailed Status = "failed"
)

// Result is the outcome of one harvest.
type Result struct {
	RunID   string
	Items   []descriptor.Record
	Errors  []errorlog.Entry
	Pages   int
	Skipped int
	Status  Status
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// RequireUserErrors controls whether an object batch without a userErrors
// field is a protocol violation. Enabled by default.
func RequireUserErrors(required bool) Option {
	return func(a *Aggregator) {
		a.requireUserErrors = required
	}
}

// WithRunID fixes the run ID instead of generating one.
func WithRunID(id string) Option {
	return func(a *Aggregator) {
		a.runID = id
	}
}

// WithClock sets the clock used to timestamp error log entries.
func WithClock(clk clock.Clock) Option {
	return func(a *Aggregator) {
		if clk != nil {
			a.clock = clk
		}
	}
}

// Aggregator collects records and application errors from a page stream.
type Aggregator struct {
	sink              errorlog.Sink
	logger            zerolog.Logger
	clock             clock.Clock
	runID             string
	requireUserErrors bool
}

// New creates an aggregator writing application errors to sink. A nil sink
// discards them.
func New(sink errorlog.Sink, logger zerolog.Logger, opts ...Option) *Aggregator {
	if sink == nil {
		sink = errorlog.Discard
	}
	a := &Aggregator{
		sink:              sink,
		logger:            logger,
		clock:             clock.New(),
		requireUserErrors: true,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate consumes pages until the stream ends or fails. Application
// errors are persisted once, after the stream ends. On a stream error the
// partial result is returned with Status set to StatusFailed.
func (a *Aggregator) Aggregate(ctx context.Context, pages iter.Seq2[pagination.Page, error]) (*Result, error) {
	runID := a.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	res := &Result{RunID: runID}
	logger := a.logger.With().Str("run_id", runID).Logger()

	var streamErr error
	for page, err := range pages {
		if err != nil {
			streamErr = err
			break
		}
		res.Pages++
		a.addPage(res, page, logger)
	}

	harvestItemsTotal.Add(float64(len(res.Items)))
	harvestUserErrorsTotal.Add(float64(len(res.Errors)))

	var result *multierror.Error
	if streamErr != nil {
		res.Status = StatusFailed
		result = multierror.Append(result, streamErr)
	} else if len(res.Errors) > 0 || res.Skipped > 0 {
		res.Status = StatusCompletedWithErrors
	} else {
		res.Status = StatusComplete
	}

	if len(res.Errors) > 0 {
		if err := a.sink.Append(ctx, res.Errors); err != nil {
			logger.Error().
				Err(err).
				Int("entries", len(res.Errors)).
				Msg("Failed to persist error log")
			result = multierror.Append(result, fmt.Errorf("persist error log: %w", err))
		}
	}

	harvestRunsTotal.WithLabelValues(string(res.Status)).Inc()

	logEvent := logger.Info()
	if res.Status == StatusFailed {
		logEvent = logger.Error().Err(streamErr)
	} else if res.Status == StatusCompletedWithErrors {
		logEvent = logger.Warn()
	}
	logEvent.
		Str("status", string(res.Status)).
		Int("pages", res.Pages).
		Int("skipped", res.Skipped).
		Int("items", len(res.Items)).
		Int("errors", len(res.Errors)).
		Msg("Harvest finished")

	if err := result.ErrorOrNil(); err != nil {
		if result.Len() == 1 {
			return res, result.Errors[0]
		}
		return res, err
	}
	return res, nil
}

func (a *Aggregator) addPage(res *Result, page pagination.Page, logger zerolog.Logger) {
	if page.Skipped {
		res.Skipped++
		return
	}

	if page.Batch.IsList() {
		res.Items = append(res.Items, page.Batch.Items...)
		return
	}

	obj := page.Batch.Object
	raw, present := obj[UserErrorsField]
	if !present {
		if a.requireUserErrors {
			logger.Warn().
				Int("page", page.Number).
				Str("url", page.URL).
				Msg("Response object has no userErrors field, skipping page")
			res.Skipped++
			return
		}
		res.Items = append(res.Items, obj)
		return
	}

	var userErrors []any
	switch v := raw.(type) {
	case nil:
	case []any:
		userErrors = v
	default:
		logger.Warn().
			Int("page", page.Number).
			Str("url", page.URL).
			Msg("Response userErrors is not a list, skipping page")
		res.Skipped++
		return
	}

	if len(userErrors) > 0 {
		logger.Warn().
			Int("page", page.Number).
			Interface("user_errors", userErrors).
			Msg("API reported user errors")
		res.Errors = append(res.Errors, errorlog.Entry{
			RunID:      res.RunID,
			Page:       page.Number,
			RecordedAt: a.clock.Now().UTC(),
			UserErrors: userErrors,
			Record:     obj,
		})
	}
	res.Items = append(res.Items, obj)
}

// Concat chains page streams into one, stopping at the first error. Page
// numbers, including the page of a *pagination.PageError, are renumbered to
// stay increasing across the chain.
func Concat(streams ...iter.Seq2[pagination.Page, error]) iter.Seq2[pagination.Page, error] {
	return func(yield func(pagination.Page, error) bool) {
		offset := 0
		for _, stream := range streams {
			last := 0
			for page, err := range stream {
				if err != nil {
					page.Number += offset
					yield(page, renumber(err, offset))
					return
				}
				last = page.Number
				page.Number += offset
				if !yield(page, nil) {
					return
				}
			}
			offset += last
		}
	}
}

func renumber(err error, offset int) error {
	pageErr, ok := err.(*pagination.PageError)
	if !ok || offset == 0 {
		return err
	}
	shifted := *pageErr
	shifted.Page += offset
	return &shifted
}
