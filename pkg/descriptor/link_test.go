package descriptor_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/harvester/internal/testutil"
	"github.com/Sternrassler/harvester/pkg/descriptor"
	"github.com/Sternrassler/harvester/pkg/transport"
)

const ordersURL = "https://demo.myshopify.com/admin/api/2024-01/orders.json?limit=2&status=any"

func linkResponse(body, linkHeader string) *transport.Response {
	header := http.Header{}
	if linkHeader != "" {
		header.Set("Link", linkHeader)
	}
	return transport.NewResponse(http.StatusOK, []byte(body), header)
}

func TestNewLinkPaged_Validation(t *testing.T) {
	t.Parallel()

	_, err := descriptor.NewLinkPaged(ordersURL, nil)
	require.NoError(t, err)

	_, err = descriptor.NewLinkPaged("orders.json", nil)
	assert.ErrorIs(t, err, descriptor.ErrConfiguration)

	_, err = descriptor.NewLinkPaged(ordersURL, nil, descriptor.WithFilter("first: 10"))
	require.ErrorIs(t, err, descriptor.ErrConfiguration)
	assert.Contains(t, err.Error(), "take no payload filter")
}

func TestLinkPaged_Request(t *testing.T) {
	t.Parallel()

	d, err := descriptor.NewLinkPaged(ordersURL, map[string]string{"X-Shopify-Access-Token": "secret"})
	require.NoError(t, err)

	assert.Equal(t, descriptor.StyleLinkPaged, d.Style())

	first, err := descriptor.Request(d, nil)
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, first.Method)
	assert.Equal(t, ordersURL, first.URL)
	assert.Empty(t, first.Payload)
	assert.Equal(t, "secret", first.Headers["X-Shopify-Access-Token"])

	nextURL := "https://demo.myshopify.com/admin/api/2024-01/orders.json?limit=2&page_info=abc"
	prev := linkResponse(testutil.RESTCollection("orders", map[string]any{"id": 1}), testutil.NextLink(nextURL))

	second, err := descriptor.Request(d, prev)
	require.NoError(t, err)
	assert.Equal(t, nextURL, second.URL)
}

func TestLinkPaged_NextLink(t *testing.T) {
	t.Parallel()

	d, err := descriptor.NewLinkPaged(ordersURL, nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		wantNext bool
		wantURL  string
	}{
		{
			name:     "next only",
			header:   testutil.NextLink("https://demo.myshopify.com/orders.json?page_info=n1"),
			wantNext: true,
			wantURL:  "https://demo.myshopify.com/orders.json?page_info=n1",
		},
		{
			name: "previous and next",
			header: testutil.Links(
				"previous", "https://demo.myshopify.com/orders.json?page_info=p1",
				"next", "https://demo.myshopify.com/orders.json?page_info=n2",
			),
			wantNext: true,
			wantURL:  "https://demo.myshopify.com/orders.json?page_info=n2",
		},
		{
			name:     "previous only",
			header:   testutil.Links("previous", "https://demo.myshopify.com/orders.json?page_info=p1"),
			wantNext: false,
		},
		{
			name:     "no header",
			wantNext: false,
		},
		{
			name:     "relative next resolved against endpoint",
			header:   testutil.NextLink("/admin/api/2024-01/orders.json?page_info=rel"),
			wantNext: true,
			wantURL:  "https://demo.myshopify.com/admin/api/2024-01/orders.json?page_info=rel",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := linkResponse(`{"orders":[]}`, tt.header)

			assert.Equal(t, tt.wantNext, d.HasNext(resp))

			cursor, err := d.Cursor(resp)
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, cursor)

			if tt.wantNext {
				assert.Equal(t, tt.wantURL, d.URL(resp))
			} else {
				assert.Equal(t, ordersURL, d.URL(resp))
			}
		})
	}
}

func TestLinkPaged_ExtractItems(t *testing.T) {
	t.Parallel()

	d, err := descriptor.NewLinkPaged(ordersURL, nil)
	require.NoError(t, err)

	t.Run("list under single key", func(t *testing.T) {
		batch, err := d.ExtractItems(linkResponse(testutil.RESTCollection("orders",
			map[string]any{"id": 1}, map[string]any{"id": 2}), ""))
		require.NoError(t, err)
		require.Len(t, batch.Items, 2)
		assert.EqualValues(t, 1, batch.Items[0]["id"])
	})

	t.Run("empty list", func(t *testing.T) {
		batch, err := d.ExtractItems(linkResponse(testutil.RESTCollection("orders"), ""))
		require.NoError(t, err)
		assert.True(t, batch.IsList())
		assert.Zero(t, batch.Len())
	})

	t.Run("single object", func(t *testing.T) {
		batch, err := d.ExtractItems(linkResponse(`{"shop":{"name":"demo"}}`, ""))
		require.NoError(t, err)
		assert.False(t, batch.IsList())
		assert.Equal(t, "demo", batch.Object["name"])
	})

	t.Run("scalar value", func(t *testing.T) {
		_, err := d.ExtractItems(linkResponse(`{"count":3}`, ""))
		assert.ErrorIs(t, err, descriptor.ErrMalformedResponse)
	})

	t.Run("ambiguous keys", func(t *testing.T) {
		_, err := d.ExtractItems(linkResponse(`{"orders":[],"meta":{}}`, ""))
		require.ErrorIs(t, err, descriptor.ErrMalformedResponse)
		assert.Contains(t, err.Error(), "[meta orders]")
	})

	t.Run("object key picks the collection", func(t *testing.T) {
		keyed, err := descriptor.NewLinkPaged(ordersURL, nil, descriptor.WithObjectKey("orders"))
		require.NoError(t, err)
		batch, err := keyed.ExtractItems(linkResponse(`{"orders":[{"id":7}],"meta":{}}`, ""))
		require.NoError(t, err)
		assert.Len(t, batch.Items, 1)
	})
}
