package throttle

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Sternrassler/harvester/pkg/transport"
)

// Wait reasons used as metric labels.
const (
	ReasonCost     = "cost"
	ReasonFallback = "fallback"
	ReasonPacing   = "pacing"
)

// Prometheus metrics for throttling.
var (
	harvestThrottleCurrentlyAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_throttle_currently_available",
		Help: "Cost points currently available in the server-side bucket",
	})

	harvestThrottleWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_throttle_waits_total",
		Help: "Total number of throttle waits by reason",
	}, []string{"reason"})

	harvestThrottleWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvest_throttle_wait_seconds",
		Help:    "Duration of throttle waits in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40},
	})
)

// Option customizes a Controller.
type Option func(*Controller)

// WithSleeper replaces the Sleeper used for throttle waits.
func WithSleeper(sleep transport.Sleeper) Option {
	return func(c *Controller) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithClock drives throttle waits with clk.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) {
		c.sleep = transport.ClockSleeper(clk)
	}
}

// Controller decides how long to pause between pages and paces requests.
type Controller struct {
	config  Config
	sleep   transport.Sleeper
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewController creates a throttle controller.
// Zero fields in cfg fall back to DefaultConfig.
func NewController(cfg Config, logger zerolog.Logger, opts ...Option) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		config: cfg,
		sleep:  transport.ClockSleeper(clock.New()),
		logger: logger,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	return c.config
}

// Admit blocks until the next request may be sent. It is a no-op when
// request pacing is disabled.
func (c *Controller) Admit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	r := c.limiter.Reserve()
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}

	harvestThrottleWaitsTotal.WithLabelValues(ReasonPacing).Inc()
	if err := c.sleep(ctx, delay); err != nil {
		r.Cancel()
		return fmt.Errorf("request pacing interrupted: %w", err)
	}
	return nil
}

// Delay pauses according to the throttle status reported in resp. A
// response without cost data waits the fixed fallback delay.
func (c *Controller) Delay(ctx context.Context, resp *transport.Response) error {
	reason, wait := ReasonFallback, c.config.FallbackDelay

	status, ok := ParseStatus(resp)
	if ok {
		harvestThrottleCurrentlyAvailable.Set(status.CurrentlyAvailable)
		reason, wait = ReasonCost, status.WaitTime(c.config)

		logEvent := c.logger.Debug()
		if wait > 0 {
			logEvent = c.logger.Info()
		}
		logEvent.
			Float64("currently_available", status.CurrentlyAvailable).
			Float64("actual_query_cost", status.ActualQueryCost).
			Float64("maximum_available", status.MaximumAvailable).
			Float64("restore_rate", status.RestoreRate).
			Dur("wait", wait).
			Msg("Throttle status")
	} else {
		c.logger.Debug().
			Dur("wait", wait).
			Msg("No cost data in response, using fallback delay")
	}

	if wait <= 0 {
		return nil
	}

	harvestThrottleWaitsTotal.WithLabelValues(reason).Inc()
	harvestThrottleWaitSeconds.Observe(wait.Seconds())

	if err := c.sleep(ctx, wait); err != nil {
		return fmt.Errorf("throttle wait interrupted: %w", err)
	}
	return nil
}
