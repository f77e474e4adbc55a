// Package throttle implements cost-based leaky-bucket throttling.
// It reads the extensions.cost block that GraphQL APIs attach to every
// response and pauses the caller until enough cost points have leaked back.
package throttle

import (
	"math"
	"time"

	"github.com/Sternrassler/harvester/pkg/transport"
)

// Defaults for the leaky bucket.
const (
	// DefaultMaxCostPoints is the bucket size.
	DefaultMaxCostPoints = 1000

	// DefaultLeakRate is the number of points restored per second.
	DefaultLeakRate = 50

	// DefaultFallbackDelay is used when a response carries no cost data.
	DefaultFallbackDelay = 1 * time.Second
)

// Config holds the process-wide throttle parameters.
type Config struct {
	// MaxCostPoints is the capacity of the server-side bucket.
	MaxCostPoints float64

	// LeakRate is the number of points the bucket regains per second.
	LeakRate float64

	// FallbackDelay is waited between pages when cost data is absent.
	FallbackDelay time.Duration

	// RequestsPerSecond paces outgoing requests. Zero disables pacing.
	RequestsPerSecond float64
}

// DefaultConfig returns the default throttle configuration.
func DefaultConfig() Config {
	return Config{
		MaxCostPoints: DefaultMaxCostPoints,
		LeakRate:      DefaultLeakRate,
		FallbackDelay: DefaultFallbackDelay,
	}
}

// withDefaults replaces unusable fields with their defaults.
func (c Config) withDefaults() Config {
	if c.MaxCostPoints <= 0 {
		c.MaxCostPoints = DefaultMaxCostPoints
	}
	if c.LeakRate <= 0 {
		c.LeakRate = DefaultLeakRate
	}
	if c.FallbackDelay <= 0 {
		c.FallbackDelay = DefaultFallbackDelay
	}
	if c.RequestsPerSecond < 0 {
		c.RequestsPerSecond = 0
	}
	return c
}

// Status is the throttle state reported with a single response.
type Status struct {
	// RequestedQueryCost is the server's estimate before execution.
	RequestedQueryCost float64 `json:"requested_query_cost"`

	// ActualQueryCost is what the query actually cost.
	ActualQueryCost float64 `json:"actual_query_cost"`

	// CurrentlyAvailable is the number of points left in the bucket.
	CurrentlyAvailable float64 `json:"currently_available"`

	// MaximumAvailable and RestoreRate are informational; zero when absent.
	MaximumAvailable float64 `json:"maximum_available"`
	RestoreRate      float64 `json:"restore_rate"`
}

// ParseStatus extracts the throttle status from resp. The boolean is false
// when the body carries no usable extensions.cost block.
func ParseStatus(resp *transport.Response) (Status, bool) {
	if resp == nil {
		return Status{}, false
	}
	doc, err := resp.JSON()
	if err != nil {
		return Status{}, false
	}

	extensions, ok := doc["extensions"].(map[string]any)
	if !ok {
		return Status{}, false
	}
	cost, ok := extensions["cost"].(map[string]any)
	if !ok {
		return Status{}, false
	}
	throttleStatus, ok := cost["throttleStatus"].(map[string]any)
	if !ok {
		return Status{}, false
	}

	actual, ok := number(cost["actualQueryCost"])
	if !ok {
		return Status{}, false
	}
	available, ok := number(throttleStatus["currentlyAvailable"])
	if !ok {
		return Status{}, false
	}

	s := Status{
		ActualQueryCost:    actual,
		CurrentlyAvailable: available,
	}
	s.RequestedQueryCost, _ = number(cost["requestedQueryCost"])
	s.MaximumAvailable, _ = number(throttleStatus["maximumAvailable"])
	s.RestoreRate, _ = number(throttleStatus["restoreRate"])
	return s, true
}

// NeedsThrottling returns true if the bucket cannot cover another query of
// the same cost.
func (s Status) NeedsThrottling() bool {
	return s.CurrentlyAvailable < s.ActualQueryCost
}

// WaitTime returns how long to wait before the next request: the whole
// seconds needed to refill the bucket from CurrentlyAvailable to
// MaxCostPoints at LeakRate. Returns 0 if no throttling is needed.
func (s Status) WaitTime(cfg Config) time.Duration {
	if !s.NeedsThrottling() {
		return 0
	}
	cfg = cfg.withDefaults()

	deficit := cfg.MaxCostPoints - s.CurrentlyAvailable
	if deficit <= 0 {
		return 0
	}
	seconds := math.Ceil(deficit / cfg.LeakRate)
	return time.Duration(seconds) * time.Second
}

func number(v any) (float64, bool) {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
