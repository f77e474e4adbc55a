package testutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Edge is one GraphQL connection edge.
type Edge struct {
	Cursor string
	Node   map[string]any
}

// Cost is the throttle metadata reported under extensions.cost.
type Cost struct {
	RequestedQueryCost float64
	ActualQueryCost    float64
	CurrentlyAvailable float64
	MaximumAvailable   float64
	RestoreRate        float64
}

// Edges builds edges whose cursors are the given strings and whose nodes
// carry an id derived from the cursor.
func Edges(cursors ...string) []Edge {
	edges := make([]Edge, 0, len(cursors))
	for _, c := range cursors {
		edges = append(edges, Edge{
			Cursor: c,
			Node:   map[string]any{"id": "gid://shopify/Product/" + c},
		})
	}
	return edges
}

// GraphQLConnection renders a GraphQL connection page under data.<key>.
// A nil cost omits the extensions block.
func GraphQLConnection(key string, edges []Edge, hasNext bool, cost *Cost) string {
	rendered := make([]map[string]any, 0, len(edges))
	for _, e := range edges {
		rendered = append(rendered, map[string]any{"cursor": e.Cursor, "node": e.Node})
	}

	doc := map[string]any{
		"data": map[string]any{
			key: map[string]any{
				"edges":    rendered,
				"pageInfo": map[string]any{"hasNextPage": hasNext},
			},
		},
	}
	if cost != nil {
		doc["extensions"] = costExtension(*cost)
	}
	return mustJSON(doc)
}

// GraphQLMutation renders a mutation response under data.<key> with the
// given userErrors. A nil userErrors omits the field entirely.
func GraphQLMutation(key string, payload map[string]any, userErrors []map[string]any) string {
	obj := map[string]any{}
	for k, v := range payload {
		obj[k] = v
	}
	if userErrors != nil {
		obj["userErrors"] = userErrors
	}
	return mustJSON(map[string]any{"data": map[string]any{key: obj}})
}

// RESTCollection renders a REST body holding records under key.
func RESTCollection(key string, records ...map[string]any) string {
	if records == nil {
		records = []map[string]any{}
	}
	return mustJSON(map[string]any{key: records})
}

// NextLink renders a Link header value with a single rel="next" entry.
func NextLink(url string) string {
	return fmt.Sprintf(`<%s>; rel="next"`, url)
}

// Links renders a Link header value from rel -> url pairs.
func Links(pairs ...string) string {
	parts := make([]string, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, fmt.Sprintf(`<%s>; rel="%s"`, pairs[i+1], pairs[i]))
	}
	return strings.Join(parts, ", ")
}

func costExtension(c Cost) map[string]any {
	return map[string]any{
		"cost": map[string]any{
			"requestedQueryCost": c.RequestedQueryCost,
			"actualQueryCost":    c.ActualQueryCost,
			"throttleStatus": map[string]any{
				"maximumAvailable":   c.MaximumAvailable,
				"currentlyAvailable": c.CurrentlyAvailable,
				"restoreRate":        c.RestoreRate,
			},
		},
	}
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal payload: %v", err))
	}
	return string(data)
}
