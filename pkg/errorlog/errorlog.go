// Package errorlog persists application-level errors reported by the API
// (GraphQL userErrors) so a partially failed harvest can be inspected and
// replayed later.
package errorlog

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for error log writes.
var (
	harvestErrorLogEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_error_log_entries_total",
		Help: "Total number of error log entries written by sink",
	}, []string{"sink"})

	harvestErrorLogWriteErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_error_log_write_errors_total",
		Help: "Total number of failed error log writes by sink",
	}, []string{"sink"})
)

// Entry is one application error together with the record that carried it.
type Entry struct {
	RunID      string         `json:"run_id"`
	Page       int            `json:"page"`
	RecordedAt time.Time      `json:"recorded_at"`
	UserErrors []any          `json:"user_errors"`
	Record     map[string]any `json:"record"`
}

// Sink stores error log entries. Appending never rewrites earlier entries.
type Sink interface {
	Append(ctx context.Context, entries []Entry) error
}

// MultiSink appends to every sink and reports all failures.
type MultiSink []Sink

// Append implements Sink.
func (m MultiSink) Append(ctx context.Context, entries []Entry) error {
	var result *multierror.Error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Append(ctx, entries); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Discard drops every entry.
var Discard Sink = discard{}

type discard struct{}

func (discard) Append(context.Context, []Entry) error { return nil }

// ErrNoEntries is returned by readers when the log holds nothing.
var ErrNoEntries = errors.New("error log is empty")
