// Package shopify provides ready-made request descriptors for the Shopify
// Admin API: store endpoints, authentication headers and the queries and
// mutations the harvester ships with.
package shopify

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// DefaultAPIVersion is used when a Store has no APIVersion.
const DefaultAPIVersion = "2024-01"

// AccessTokenHeader carries the Admin API access token.
const AccessTokenHeader = "X-Shopify-Access-Token"

// Store identifies a shop and the credentials used to reach it.
type Store struct {
	// Name is the myshopify.com subdomain.
	Name string

	// APIVersion is the Admin API version, e.g. "2024-01".
	APIVersion string

	// AccessToken is the Admin API access token.
	AccessToken string

	// BaseURL replaces https://<Name>.myshopify.com when set.
	BaseURL string
}

// Base returns the shop origin without trailing slash.
func (s Store) Base() string {
	if s.BaseURL != "" {
		return strings.TrimRight(s.BaseURL, "/")
	}
	return fmt.Sprintf("https://%s.myshopify.com", s.Name)
}

func (s Store) version() string {
	if s.APIVersion == "" {
		return DefaultAPIVersion
	}
	return s.APIVersion
}

// GraphQLURL returns the Admin GraphQL endpoint.
func (s Store) GraphQLURL() string {
	return fmt.Sprintf("%s/admin/api/%s/graphql.json", s.Base(), s.version())
}

// RESTURL returns the Admin REST endpoint for resource, e.g. "orders" or
// "shopify_payments/balance/transactions".
func (s Store) RESTURL(resource string, query url.Values) string {
	u := fmt.Sprintf("%s/admin/api/%s/%s.json", s.Base(), s.version(), strings.Trim(resource, "/"))
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Headers returns the headers every Admin API request needs.
func (s Store) Headers() map[string]string {
	return map[string]string{
		AccessTokenHeader: s.AccessToken,
		"Content-Type":    "application/json",
	}
}

// graphqlString quotes s as a GraphQL string literal.
func graphqlString(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

// embed escapes s for use inside a JSON string.
func embed(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return s
	}
	return string(b[1 : len(b)-1])
}
