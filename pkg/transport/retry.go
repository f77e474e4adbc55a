package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	harvestRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	harvestRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvest_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
	}, []string{"error_class"})

	harvestRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// Sleeper blocks for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

// ClockSleeper returns a Sleeper driven by clk.
func ClockSleeper(clk clock.Clock) Sleeper {
	return func(ctx context.Context, d time.Duration) error {
		if d <= 0 {
			return ctx.Err()
		}
		timer := clk.Timer(d)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
}

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxRetries is the maximum number of attempts (including the initial request).
	MaxRetries int

	// InitialWait is the wait after the first failed attempt.
	InitialWait time.Duration

	// Multiplier is applied to the wait after each failed attempt.
	Multiplier float64

	// MaxWait caps a single wait. Zero means no cap.
	MaxWait time.Duration
}

// DefaultRetryConfig returns the default retry configuration:
// 5 attempts, waiting 1s, 2s, 4s, 8s between them.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  5,
		InitialWait: 1 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryOption customizes a Retrying transport.
type RetryOption func(*Retrying)

// WithSleeper replaces the Sleeper used between attempts.
func WithSleeper(sleep Sleeper) RetryOption {
	return func(r *Retrying) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithClock drives the waits between attempts with clk.
func WithClock(clk clock.Clock) RetryOption {
	return func(r *Retrying) {
		r.sleep = ClockSleeper(clk)
	}
}

// Retrying executes one logical request, retrying every non-200 outcome
// with exponential backoff.
type Retrying struct {
	sender Sender
	config RetryConfig
	sleep  Sleeper
	logger zerolog.Logger
}

// NewRetrying creates a retrying transport on top of sender.
// Zero fields in cfg fall back to DefaultRetryConfig.
func NewRetrying(sender Sender, cfg RetryConfig, logger zerolog.Logger, opts ...RetryOption) *Retrying {
	defaults := DefaultRetryConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.InitialWait <= 0 {
		cfg.InitialWait = defaults.InitialWait
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = defaults.Multiplier
	}

	r := &Retrying{
		sender: sender,
		config: cfg,
		sleep:  ClockSleeper(clock.New()),
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective retry configuration.
func (r *Retrying) Config() RetryConfig {
	return r.config
}

// Execute sends req until it gets a 200 response or the attempts are exhausted.
// Exhaustion returns a *TransportError; cancellation during a wait returns an
// error wrapping ErrContextCancelled.
func (r *Retrying) Execute(ctx context.Context, req Request) (*Response, error) {
	wait := r.config.InitialWait

	var (
		lastWait   time.Duration
		totalWait  time.Duration
		lastStatus int
		lastErr    error
		errClass   ErrorClass
	)

	for attempt := 1; attempt <= r.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}

		resp, err := r.sender.Send(ctx, req)
		switch {
		case err != nil:
			lastStatus = 0
			lastErr = err
			errClass = ErrorClassNetwork
		case resp == nil:
			lastStatus = 0
			lastErr = ErrNoResponse
			errClass = ErrorClassNetwork
		case resp.StatusCode == http.StatusOK:
			if attempt > 1 {
				r.logger.Info().
					Str("url", req.URL).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return resp, nil
		default:
			lastStatus = resp.StatusCode
			errClass = classifyStatus(resp.StatusCode)
			lastErr = &StatusError{StatusCode: resp.StatusCode, Class: errClass}
		}

		r.logger.Warn().
			Err(lastErr).
			Str("url", req.URL).
			Str("method", req.Method).
			Int("status", lastStatus).
			Int("attempt", attempt).
			Str("error_class", string(errClass)).
			Msg("Request attempt failed")

		// No wait after the final attempt
		if attempt >= r.config.MaxRetries {
			break
		}

		harvestRetriesTotal.WithLabelValues(string(errClass)).Inc()
		harvestRetryBackoffSeconds.WithLabelValues(string(errClass)).Observe(wait.Seconds())

		r.logger.Debug().
			Str("url", req.URL).
			Dur("wait", wait).
			Msg("Delaying next request")

		if err := r.sleep(ctx, wait); err != nil {
			r.logger.Warn().
				Str("url", req.URL).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return nil, fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}
		lastWait = wait
		totalWait += wait

		wait = time.Duration(float64(wait) * r.config.Multiplier)
		if r.config.MaxWait > 0 && wait > r.config.MaxWait {
			wait = r.config.MaxWait
		}
	}

	harvestRetryExhaustedTotal.WithLabelValues(string(errClass)).Inc()

	tErr := &TransportError{
		URL:        req.URL,
		StatusCode: lastStatus,
		Attempts:   r.config.MaxRetries,
		LastWait:   lastWait,
		TotalWait:  totalWait,
		Class:      errClass,
		Err:        lastErr,
	}
	r.logger.Error().
		Str("url", req.URL).
		Int("attempts", tErr.Attempts).
		Int("status", lastStatus).
		Dur("last_wait", lastWait).
		Msg("Retry attempts exhausted")

	return nil, tErr
}
