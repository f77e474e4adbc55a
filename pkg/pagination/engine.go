package pagination

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/harvester/pkg/descriptor"
	"github.com/Sternrassler/harvester/pkg/transport"
)

// DefaultMaxPages bounds a single run.
const DefaultMaxPages = 10000

var (
	// ErrPageLimit is returned when more pages remain after MaxPages pages.
	ErrPageLimit = errors.New("page limit reached")

	// ErrPaginationStalled is returned when a continuation repeats the
	// previous request.
	ErrPaginationStalled = errors.New("pagination stalled: continuation repeats previous request")

	// ErrEngineConsumed is returned when Pages is iterated more than once.
	ErrEngineConsumed = errors.New("pagination engine already consumed")
)

// Prometheus metrics for pagination.
var (
	harvestPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_pages_total",
		Help: "Total number of pages fetched by pagination style and outcome",
	}, []string{"style", "outcome"})

	harvestPaginationRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvest_pagination_run_duration_seconds",
		Help:    "Duration of complete pagination runs by style",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"style"})
)

// Page outcomes used as metric labels.
const (
	outcomeOK      = "ok"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

// Executor executes one logical request, including retries.
type Executor interface {
	Execute(ctx context.Context, req transport.Request) (*transport.Response, error)
}

// Delayer paces requests and pauses between pages.
type Delayer interface {
	// Admit is called before every request.
	Admit(ctx context.Context) error
	// Delay is called after a page that has a successor.
	Delay(ctx context.Context, resp *transport.Response) error
}

type nopDelayer struct{}

func (nopDelayer) Admit(context.Context) error                      { return nil }
func (nopDelayer) Delay(context.Context, *transport.Response) error { return nil }

// NopDelayer never waits.
var NopDelayer Delayer = nopDelayer{}

// Config holds pagination limits.
type Config struct {
	// MaxPages is the maximum number of pages per run. Zero means unlimited.
	MaxPages int
}

// DefaultConfig returns the default pagination configuration.
func DefaultConfig() Config {
	return Config{MaxPages: DefaultMaxPages}
}

// Page is one fetched page. A page whose items could not be extracted has
// Skipped set and carries the extraction error in Err.
type Page struct {
	Number  int
	URL     string
	Batch   descriptor.Batch
	Skipped bool
	Err     error
}

// PageError is a fatal error that ended a run at the given page.
type PageError struct {
	Page int
	URL  string
	Err  error
}

// Error implements the error interface.
func (e *PageError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("page %d: %v", e.Page, e.Err)
	}
	return fmt.Sprintf("page %d (%s): %v", e.Page, e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *PageError) Unwrap() error {
	return e.Err
}

// Engine walks a paginated API one page at a time.
type Engine struct {
	desc     descriptor.Descriptor
	executor Executor
	delayer  Delayer
	config   Config
	logger   zerolog.Logger
	consumed atomic.Bool
}

// New creates a pagination engine. A nil delayer never waits.
func New(desc descriptor.Descriptor, executor Executor, delayer Delayer, cfg Config, logger zerolog.Logger) *Engine {
	if delayer == nil {
		delayer = NopDelayer
	}
	if cfg.MaxPages < 0 {
		cfg.MaxPages = 0
	}
	return &Engine{
		desc:     desc,
		executor: executor,
		delayer:  delayer,
		config:   cfg,
		logger:   logger,
	}
}

// Pages returns a single-use iterator over the pages of the run. Pages are
// fetched lazily; the next request is only sent once the consumer asks for
// it. A non-nil error is always the last value yielded.
func (e *Engine) Pages(ctx context.Context) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		if !e.consumed.CompareAndSwap(false, true) {
			yield(Page{}, ErrEngineConsumed)
			return
		}
		e.run(ctx, yield)
	}
}

func (e *Engine) run(ctx context.Context, yield func(Page, error) bool) {
	style := string(e.desc.Style())
	start := time.Now()
	defer func() {
		harvestPaginationRunDuration.WithLabelValues(style).Observe(time.Since(start).Seconds())
	}()

	fail := func(number int, url string, err error) {
		harvestPagesTotal.WithLabelValues(style, outcomeFailed).Inc()
		e.logger.Error().
			Err(err).
			Int("page", number).
			Str("url", url).
			Msg("Pagination failed")
		yield(Page{Number: number, URL: url}, &PageError{Page: number, URL: url, Err: err})
	}

	var (
		prev    *transport.Response
		lastKey string
	)

	for number := 1; ; number++ {
		if err := ctx.Err(); err != nil {
			fail(number, "", err)
			return
		}

		req, err := descriptor.Request(e.desc, prev)
		if err != nil {
			fail(number, e.desc.URL(prev), fmt.Errorf("build request: %w", err))
			return
		}

		key := req.URL + "\x00" + req.Payload
		if prev != nil && key == lastKey {
			fail(number, req.URL, ErrPaginationStalled)
			return
		}
		lastKey = key

		if err := e.delayer.Admit(ctx); err != nil {
			fail(number, req.URL, err)
			return
		}

		e.logger.Debug().
			Int("page", number).
			Str("method", req.Method).
			Str("url", req.URL).
			Msg("Fetching page")

		resp, err := e.executor.Execute(ctx, req)
		if err != nil {
			fail(number, req.URL, err)
			return
		}

		page := Page{Number: number, URL: req.URL}
		batch, err := e.desc.ExtractItems(resp)
		if err != nil {
			e.logger.Warn().
				Err(err).
				Int("page", number).
				Str("url", req.URL).
				Msg("Skipping malformed page")
			page.Skipped = true
			page.Err = err
			harvestPagesTotal.WithLabelValues(style, outcomeSkipped).Inc()
		} else {
			page.Batch = batch
			harvestPagesTotal.WithLabelValues(style, outcomeOK).Inc()
		}

		if !yield(page, nil) {
			return
		}

		if !e.desc.HasNext(resp) {
			e.logger.Info().
				Int("pages", number).
				Dur("duration", time.Since(start)).
				Msg("Pagination complete")
			return
		}

		if e.config.MaxPages > 0 && number >= e.config.MaxPages {
			fail(number+1, "", fmt.Errorf("%w (%d pages)", ErrPageLimit, e.config.MaxPages))
			return
		}

		if err := e.delayer.Delay(ctx, resp); err != nil {
			fail(number+1, "", err)
			return
		}
		prev = resp
	}
}
