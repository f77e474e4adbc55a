// Package descriptor describes how to build consecutive requests against a
// paginated API and how to read items and continuation tokens back out of the
// responses.
//
// Two styles are supported:
//   - CursorPaged: GraphQL connections paginated with pageInfo.hasNextPage and
//     edge cursors, sent as POST.
//   - LinkPaged: REST collections paginated with RFC 5988 Link headers, sent as GET.
package descriptor

import (
	"fmt"
	"sort"

	"github.com/Sternrassler/harvester/pkg/transport"
)

// Style identifies the pagination style of a descriptor.
type Style string

const (
	// StyleCursorPaged paginates with GraphQL cursors.
	StyleCursorPaged Style = "cursor_paged"

	// StyleLinkPaged paginates with Link response headers.
	StyleLinkPaged Style = "link_paged"
)

// Record is a single JSON object returned by the API.
type Record = map[string]any

// Batch is one page worth of extracted data: either a list of records or a
// single object (typical of mutation responses).
type Batch struct {
	Items  []Record
	Object Record
}

// IsList reports whether the batch holds a list of records.
func (b Batch) IsList() bool {
	return b.Object == nil
}

// Len returns the number of records in the batch.
func (b Batch) Len() int {
	if b.IsList() {
		return len(b.Items)
	}
	return 1
}

// Descriptor produces consecutive requests and interprets their responses.
// A nil previous response means the first request of a run.
type Descriptor interface {
	Style() Style
	Method() string
	URL(prev *transport.Response) string
	Payload(prev *transport.Response) (string, error)
	Headers(prev *transport.Response) map[string]string
	ExtractItems(resp *transport.Response) (Batch, error)
	HasNext(resp *transport.Response) bool
	Cursor(resp *transport.Response) (string, error)
}

// Request assembles the transport request for the page following prev.
func Request(d Descriptor, prev *transport.Response) (transport.Request, error) {
	payload, err := d.Payload(prev)
	if err != nil {
		return transport.Request{}, err
	}
	return transport.Request{
		Method:  d.Method(),
		URL:     d.URL(prev),
		Payload: payload,
		Headers: d.Headers(prev),
	}, nil
}

// objectData returns the object stored under the single top-level key of doc.
// When key is non-empty it is used instead of guessing.
func objectData(doc map[string]any, key, path string) (string, any, error) {
	if key != "" {
		value, ok := doc[key]
		if !ok {
			return "", nil, malformed(path+"."+key, "key missing")
		}
		return key, value, nil
	}

	switch len(doc) {
	case 0:
		return "", nil, malformed(path, "no object key")
	case 1:
		for k, v := range doc {
			return k, v, nil
		}
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "", nil, malformed(path, fmt.Sprintf("ambiguous object keys %v", keys))
}

// toRecords converts a decoded JSON list into records.
func toRecords(list []any, path string) ([]Record, error) {
	records := make([]Record, 0, len(list))
	for i, item := range list {
		record, ok := item.(map[string]any)
		if !ok {
			return nil, malformed(fmt.Sprintf("%s[%d]", path, i), "not an object")
		}
		records = append(records, record)
	}
	return records, nil
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
