package descriptor

import (
	"github.com/rs/zerolog"
)

type options struct {
	filter       string
	filterSet    bool
	objectKey    string
	escapeQuotes bool
	logger       zerolog.Logger
}

func defaultOptions() options {
	return options{logger: zerolog.Nop()}
}

// Option configures a descriptor.
type Option func(*options)

// WithFilter supplies the query filter fragment substituted for the payload
// placeholder, e.g. `first: 50, query: "tag:sale"`. An empty fragment is a
// valid, explicit "no filter".
func WithFilter(fragment string) Option {
	return func(o *options) {
		o.filter = fragment
		o.filterSet = true
	}
}

// WithObjectKey names the top-level object to read instead of requiring the
// response to carry exactly one.
func WithObjectKey(key string) Option {
	return func(o *options) {
		o.objectKey = key
	}
}

// WithEscapedQuotes quotes cursors as \"...\" for query text embedded in a
// JSON string.
func WithEscapedQuotes() Option {
	return func(o *options) {
		o.escapeQuotes = true
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
