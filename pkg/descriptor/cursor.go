package descriptor

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/harvester/pkg/transport"
)

// Placeholder marks where the filter and continuation clause go in a
// CursorPaged payload template.
const Placeholder = "{filter}"

// CursorPaged describes a GraphQL connection paginated with edge cursors.
type CursorPaged struct {
	url          string
	headers      map[string]string
	template     string
	filter       string
	objectKey    string
	escapeQuotes bool
	logger       zerolog.Logger
}

var _ Descriptor = (*CursorPaged)(nil)

// NewCursorPaged creates a cursor-paged descriptor. The template is sent as
// the request body; if it contains Placeholder, WithFilter must be supplied.
func NewCursorPaged(endpoint string, headers map[string]string, template string, opts ...Option) (*CursorPaged, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	var result *multierror.Error
	if err := validateEndpoint(endpoint); err != nil {
		result = multierror.Append(result, err)
	}
	if template == "" {
		result = multierror.Append(result, errors.New("payload template is required"))
	}

	placeholders := strings.Count(template, Placeholder)
	switch {
	case placeholders > 1:
		result = multierror.Append(result, fmt.Errorf("payload template declares %d %s placeholders, want at most 1", placeholders, Placeholder))
	case placeholders == 1 && !o.filterSet:
		result = multierror.Append(result, fmt.Errorf("payload template declares a %s placeholder but no filter was supplied", Placeholder))
	case placeholders == 0 && o.filterSet:
		result = multierror.Append(result, fmt.Errorf("a filter was supplied but the payload template has no %s placeholder", Placeholder))
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	return &CursorPaged{
		url:          endpoint,
		headers:      copyHeaders(headers),
		template:     template,
		filter:       o.filter,
		objectKey:    o.objectKey,
		escapeQuotes: o.escapeQuotes,
		logger:       o.logger,
	}, nil
}

// Style implements Descriptor.
func (c *CursorPaged) Style() Style {
	return StyleCursorPaged
}

// Method implements Descriptor.
func (c *CursorPaged) Method() string {
	return http.MethodPost
}

// URL implements Descriptor. The endpoint never changes.
func (c *CursorPaged) URL(prev *transport.Response) string {
	return c.url
}

// Headers implements Descriptor.
func (c *CursorPaged) Headers(prev *transport.Response) map[string]string {
	return copyHeaders(c.headers)
}

// Payload implements Descriptor. Without a previous response the placeholder
// becomes "(<filter>)"; afterwards it becomes `(<filter>, after: "<cursor>")`
// using the cursor of prev.
func (c *CursorPaged) Payload(prev *transport.Response) (string, error) {
	if !strings.Contains(c.template, Placeholder) {
		return c.template, nil
	}

	parts := make([]string, 0, 2)
	if c.filter != "" {
		parts = append(parts, c.filter)
	}
	if prev != nil {
		cursor, err := c.Cursor(prev)
		if err != nil {
			return "", err
		}
		if cursor != "" {
			parts = append(parts, "after: "+c.quote(cursor))
		}
	}

	clause := ""
	if len(parts) > 0 {
		clause = "(" + strings.Join(parts, ", ") + ")"
	}
	return strings.Replace(c.template, Placeholder, clause, 1), nil
}

// ExtractItems implements Descriptor. It returns the edges of the connection
// if present, otherwise the object itself.
func (c *CursorPaged) ExtractItems(resp *transport.Response) (Batch, error) {
	key, obj, err := c.object(resp)
	if err != nil {
		return Batch{}, err
	}

	edges, ok := obj["edges"]
	if !ok {
		return Batch{Object: obj}, nil
	}

	path := "data." + key + ".edges"
	list, ok := edges.([]any)
	if !ok {
		return Batch{}, malformed(path, "not a list")
	}
	items, err := toRecords(list, path)
	if err != nil {
		return Batch{}, err
	}
	return Batch{Items: items}, nil
}

// HasNext implements Descriptor. A missing pageInfo.hasNextPage means there
// is no next page.
func (c *CursorPaged) HasNext(resp *transport.Response) bool {
	key, obj, err := c.object(resp)
	if err != nil {
		c.logger.Debug().Err(err).Msg("No next page, response has no object data")
		return false
	}

	pageInfo, ok := obj["pageInfo"].(map[string]any)
	if !ok {
		c.logger.Debug().Str("object", key).Msg("No next page, pageInfo missing in response")
		return false
	}
	hasNext, ok := pageInfo["hasNextPage"].(bool)
	if !ok {
		c.logger.Debug().Str("object", key).Msg("No next page, hasNextPage missing in response")
		return false
	}
	return hasNext
}

// Cursor implements Descriptor. It returns the last edge's cursor when
// hasNextPage is true and "" otherwise.
func (c *CursorPaged) Cursor(resp *transport.Response) (string, error) {
	if !c.HasNext(resp) {
		return "", nil
	}

	key, obj, err := c.object(resp)
	if err != nil {
		return "", err
	}

	path := "data." + key + ".edges"
	edges, _ := obj["edges"].([]any)
	if len(edges) == 0 {
		return "", malformed(path, "hasNextPage is true but no edges were returned")
	}

	last, ok := edges[len(edges)-1].(map[string]any)
	if !ok {
		return "", malformed(fmt.Sprintf("%s[%d]", path, len(edges)-1), "not an object")
	}
	cursor, ok := last["cursor"].(string)
	if !ok || cursor == "" {
		return "", malformed(fmt.Sprintf("%s[%d].cursor", path, len(edges)-1), "missing; select cursor next to node in the query")
	}
	return cursor, nil
}

// object returns the name and content of the object under data.
func (c *CursorPaged) object(resp *transport.Response) (string, map[string]any, error) {
	if resp == nil {
		return "", nil, malformed("response", "empty")
	}

	doc, err := resp.JSON()
	if err != nil {
		return "", nil, &MalformedResponseError{Field: "body", Reason: "invalid JSON", Err: err}
	}

	data, ok := doc["data"].(map[string]any)
	if !ok {
		if gqlErrors, present := doc["errors"]; present {
			return "", nil, malformed("data", fmt.Sprintf("missing, server reported errors: %v", gqlErrors))
		}
		return "", nil, malformed("data", "missing or not an object")
	}

	key, value, err := objectData(data, c.objectKey, "data")
	if err != nil {
		return "", nil, err
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return "", nil, malformed("data."+key, "not an object")
	}
	return key, obj, nil
}

func (c *CursorPaged) quote(cursor string) string {
	if c.escapeQuotes {
		return `\"` + cursor + `\"`
	}
	return `"` + cursor + `"`
}

func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse url %q: %w", endpoint, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url %q is not absolute", endpoint)
	}
	return nil
}
