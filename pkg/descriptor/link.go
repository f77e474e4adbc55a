package descriptor

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-multierror"
	"github.com/peterhellberg/link"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/harvester/pkg/transport"
)

// LinkPaged describes a REST collection paginated with Link headers.
type LinkPaged struct {
	url       string
	base      *url.URL
	headers   map[string]string
	objectKey string
	logger    zerolog.Logger
}

var _ Descriptor = (*LinkPaged)(nil)

// NewLinkPaged creates a link-paged descriptor starting at endpoint.
func NewLinkPaged(endpoint string, headers map[string]string, opts ...Option) (*LinkPaged, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	var result *multierror.Error
	if err := validateEndpoint(endpoint); err != nil {
		result = multierror.Append(result, err)
	}
	if o.filterSet {
		result = multierror.Append(result, errors.New("link-paged requests take no payload filter"))
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	base, _ := url.Parse(endpoint)
	return &LinkPaged{
		url:       endpoint,
		base:      base,
		headers:   copyHeaders(headers),
		objectKey: o.objectKey,
		logger:    o.logger,
	}, nil
}

// Style implements Descriptor.
func (l *LinkPaged) Style() Style {
	return StyleLinkPaged
}

// Method implements Descriptor.
func (l *LinkPaged) Method() string {
	return http.MethodGet
}

// URL implements Descriptor. It follows the rel="next" link of prev and
// falls back to the original URL.
func (l *LinkPaged) URL(prev *transport.Response) string {
	if next, ok := l.nextLink(prev); ok {
		return next
	}
	return l.url
}

// Payload implements Descriptor. GET requests carry no body.
func (l *LinkPaged) Payload(prev *transport.Response) (string, error) {
	return "", nil
}

// Headers implements Descriptor.
func (l *LinkPaged) Headers(prev *transport.Response) map[string]string {
	return copyHeaders(l.headers)
}

// ExtractItems implements Descriptor. It returns the list stored under the
// single top-level key of the body.
func (l *LinkPaged) ExtractItems(resp *transport.Response) (Batch, error) {
	if resp == nil {
		return Batch{}, malformed("response", "empty")
	}

	doc, err := resp.JSON()
	if err != nil {
		return Batch{}, &MalformedResponseError{Field: "body", Reason: "invalid JSON", Err: err}
	}

	key, value, err := objectData(doc, l.objectKey, "body")
	if err != nil {
		return Batch{}, err
	}

	switch v := value.(type) {
	case []any:
		items, err := toRecords(v, key)
		if err != nil {
			return Batch{}, err
		}
		return Batch{Items: items}, nil
	case map[string]any:
		return Batch{Object: v}, nil
	default:
		return Batch{}, malformed(key, "neither a list nor an object")
	}
}

// HasNext implements Descriptor.
func (l *LinkPaged) HasNext(resp *transport.Response) bool {
	_, ok := l.nextLink(resp)
	return ok
}

// Cursor implements Descriptor. The continuation token is the next URL.
func (l *LinkPaged) Cursor(resp *transport.Response) (string, error) {
	next, _ := l.nextLink(resp)
	return next, nil
}

func (l *LinkPaged) nextLink(resp *transport.Response) (string, bool) {
	if resp == nil {
		return "", false
	}

	next, ok := link.ParseHeader(resp.Header)["next"]
	if !ok || next == nil || next.URI == "" {
		return "", false
	}

	ref, err := url.Parse(next.URI)
	if err != nil {
		l.logger.Warn().Err(err).Str("link", next.URI).Msg("Ignoring unparsable next link")
		return "", false
	}
	return l.base.ResolveReference(ref).String(), true
}
