package shopify

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/harvester/pkg/descriptor"
)

// Query templates. Every template is a JSON document whose query string
// holds the descriptor placeholder; quotes inside the filter are escaped.
const (
	productsTemplate = `{"query":"{ products ` + descriptor.Placeholder +
		` { edges { cursor node { id handle title tags } } pageInfo { hasNextPage } } }"}`

	ordersTemplate = `{"query":"{ orders ` + descriptor.Placeholder +
		` { edges { cursor node { id name createdAt sourceName displayFinancialStatus` +
		` totalPriceSet { shopMoney { amount currencyCode } } } } pageInfo { hasNextPage } } }"}`

	productUpdateMutation = `mutation($input: ProductInput!) { productUpdate(input: $input) {` +
		` product { id metafields(first: 100) { edges { node { id namespace key value } } } }` +
		` userErrors { field message } } }`
)

// DefaultPageSize is the number of records requested per page.
const DefaultPageSize = 50

// ProductsByTag lists products carrying tag, pageSize per page. An empty tag
// lists every product.
func (s Store) ProductsByTag(tag string, pageSize int, opts ...descriptor.Option) (*descriptor.CursorPaged, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	filter := fmt.Sprintf("first: %d", pageSize)
	if tag != "" {
		filter += ", query: " + embed(graphqlString("tag:"+tag))
	}

	opts = append([]descriptor.Option{
		descriptor.WithFilter(filter),
		descriptor.WithEscapedQuotes(),
	}, opts...)
	return descriptor.NewCursorPaged(s.GraphQLURL(), s.Headers(), productsTemplate, opts...)
}

// OrdersBetween lists orders created within [from, to] through the given
// sales channel, newest first. An empty source matches every channel.
func (s Store) OrdersBetween(from, to time.Time, source string, pageSize int, opts ...descriptor.Option) (*descriptor.CursorPaged, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: order window ends %s before it starts %s",
			descriptor.ErrConfiguration, to.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	search := fmt.Sprintf("created_at:>=%s AND created_at:<=%s", from.Format(time.DateOnly), to.Format(time.DateOnly))
	if source != "" {
		search += " AND source_name:" + source
	}
	filter := fmt.Sprintf("query: %s, sortKey: CREATED_AT, reverse: true, first: %d",
		embed(graphqlString(search)), pageSize)

	opts = append([]descriptor.Option{
		descriptor.WithFilter(filter),
		descriptor.WithEscapedQuotes(),
	}, opts...)
	return descriptor.NewCursorPaged(s.GraphQLURL(), s.Headers(), ordersTemplate, opts...)
}

// Metafield is one metafield value to set on a product.
type Metafield struct {
	ProductID string
	Namespace string
	Key       string
	Value     string
	ValueType string
}

// DefaultValueType is used when a Metafield has no ValueType.
const DefaultValueType = "STRING"

// Validate reports missing fields.
func (m Metafield) Validate() error {
	var missing []string
	if m.ProductID == "" {
		missing = append(missing, "product id")
	}
	if m.Namespace == "" {
		missing = append(missing, "namespace")
	}
	if m.Key == "" {
		missing = append(missing, "key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("metafield is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// UpdateProductMetafield sets one metafield on a product. The response
// carries userErrors for values the API rejects.
func (s Store) UpdateProductMetafield(m Metafield, opts ...descriptor.Option) (*descriptor.CursorPaged, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", descriptor.ErrConfiguration, err)
	}
	valueType := m.ValueType
	if valueType == "" {
		valueType = DefaultValueType
	}

	body := map[string]any{
		"query": productUpdateMutation,
		"variables": map[string]any{
			"input": map[string]any{
				"id": m.ProductID,
				"metafields": []map[string]any{{
					"namespace": m.Namespace,
					"key":       m.Key,
					"value":     m.Value,
					"valueType": valueType,
				}},
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal metafield mutation: %w", err)
	}

	// A literal placeholder can only occur inside a JSON string here.
	escaped := strings.ReplaceAll(string(payload), descriptor.Placeholder, `\u007bfilter}`)

	opts = append([]descriptor.Option{descriptor.WithObjectKey("productUpdate")}, opts...)
	return descriptor.NewCursorPaged(s.GraphQLURL(), s.Headers(), escaped, opts...)
}

// REST lists a REST resource, following Link headers.
func (s Store) REST(resource string, query url.Values, opts ...descriptor.Option) (*descriptor.LinkPaged, error) {
	if strings.Trim(strings.TrimSpace(resource), "/") == "" {
		return nil, fmt.Errorf("%w: %w", descriptor.ErrConfiguration, errors.New("rest resource is required"))
	}
	headers := s.Headers()
	delete(headers, "Content-Type")
	return descriptor.NewLinkPaged(s.RESTURL(resource, query), headers, opts...)
}
