package pagination_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/harvester/internal/testutil"
	"github.com/Sternrassler/harvester/pkg/descriptor"
	"github.com/Sternrassler/harvester/pkg/pagination"
	"github.com/Sternrassler/harvester/pkg/transport"
)

const graphqlPath = "/admin/api/2024-01/graphql.json"

const productsTemplate = `{ products {filter} { edges { cursor node { id } } pageInfo { hasNextPage } } }`

type recordingDelayer struct {
	mu     sync.Mutex
	admits int
	delays []*transport.Response
	err    error
}

func (d *recordingDelayer) Admit(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.admits++
	return nil
}

func (d *recordingDelayer) Delay(ctx context.Context, resp *transport.Response) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delays = append(d.delays, resp)
	return d.err
}

func (d *recordingDelayer) Delays() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delays)
}

func newExecutor(maxRetries int) *transport.Retrying {
	return transport.NewRetrying(
		transport.NewHTTPSender(nil, "harvester-test"),
		transport.RetryConfig{MaxRetries: maxRetries},
		zerolog.Nop(),
		transport.WithSleeper(func(ctx context.Context, d time.Duration) error { return nil }),
	)
}

func newCursorEngine(t *testing.T, mock *testutil.MockAPI, delayer pagination.Delayer, cfg pagination.Config) *pagination.Engine {
	t.Helper()
	desc, err := descriptor.NewCursorPaged(mock.URL()+graphqlPath, map[string]string{"Content-Type": "application/graphql"},
		productsTemplate, descriptor.WithFilter("first: 2"))
	require.NoError(t, err)
	return pagination.New(desc, newExecutor(3), delayer, cfg, zerolog.Nop())
}

func collect(t *testing.T, engine *pagination.Engine) ([]pagination.Page, error) {
	t.Helper()
	var pages []pagination.Page
	for page, err := range engine.Pages(context.Background()) {
		if err != nil {
			return pages, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func TestEngine_SinglePage(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.Script(graphqlPath,
		testutil.NewOKResponse(testutil.GraphQLConnection("products", testutil.Edges("a", "b"), false, nil)))

	delayer := &recordingDelayer{}
	pages, err := collect(t, newCursorEngine(t, mock, delayer, pagination.DefaultConfig()))

	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].Number)
	assert.Len(t, pages[0].Batch.Items, 2)
	assert.False(t, pages[0].Skipped)
	assert.Equal(t, 1, delayer.admits)
	assert.Zero(t, delayer.Delays(), "no throttle delay after the last page")
	assert.Equal(t, 1, mock.RequestCount())
}

func TestEngine_CursorChaining(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.Script(graphqlPath,
		testutil.NewOKResponse(testutil.GraphQLConnection("products", testutil.Edges("c1", "c2"), true, nil)),
		testutil.NewOKResponse(testutil.GraphQLConnection("products", testutil.Edges("c3", "c4"), true, nil)),
		testutil.NewOKResponse(testutil.GraphQLConnection("products", testutil.Edges("c5"), false, nil)),
	)

	delayer := &recordingDelayer{}
	pages, err := collect(t, newCursorEngine(t, mock, delayer, pagination.DefaultConfig()))
	require.NoError(t, err)

	require.Len(t, pages, 3)
	total := 0
	for i, page := range pages {
		assert.Equal(t, i+1, page.Number)
		total += page.Batch.Len()
	}
	assert.Equal(t, 5, total)
	assert.Equal(t, 2, delayer.Delays())
	assert.Equal(t, 3, delayer.admits)

	requests := mock.Requests()
	require.Len(t, requests, 3)
	assert.Contains(t, requests[0].Body, "(first: 2)")
	assert.NotContains(t, requests[0].Body, "after:")
	assert.Contains(t, requests[1].Body, `(first: 2, after: "c2")`)
	assert.Contains(t, requests[2].Body, `(first: 2, after: "c4")`)
	for _, req := range requests {
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "application/graphql", req.Header.Get("Content-Type"))
	}
}

func TestEngine_TransportFailure(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.Script(graphqlPath,
		testutil.NewOKResponse(testutil.GraphQLConnection("products", testutil.Edges("c1"), true, nil)),
		testutil.NewServerErrorResponse(),
	)

	pages, err := collect(t, newCursorEngine(t, mock, nil, pagination.DefaultConfig()))

	require.Len(t, pages, 1)
	require.Error(t, err)

	var pageErr *pagination.PageError
	require.ErrorAs(t, err, &pageErr)
	assert.Equal(t, 2, pageErr.Page)

	var tErr *transport.TransportError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, 3, tErr.Attempts)
	assert.Equal(t, http.StatusInternalServerError, tErr.StatusCode)
	assert.ErrorIs(t, err, transport.ErrRetryExhausted)

	assert.Equal(t, 4, mock.RequestCount(), "one successful page plus three attempts")
}

func TestEngine_PageLimit(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.Script(graphqlPath,
		testutil.NewOKResponse(testutil.GraphQLConnection("products", testutil.Edges("c1"), true, nil)),
		testutil.NewOKResponse(testutil.GraphQLConnection("products", testutil.Edges("c2"), true, nil)),
		testutil.NewOKResponse(testutil.GraphQLConnection("products", testutil.Edges("c3"), true, nil)),
	)

	delayer := &recordingDelayer{}
	pages, err := collect(t, newCursorEngine(t, mock, delayer, pagination.Config{MaxPages: 2}))

	assert.Len(t, pages, 2)
	assert.ErrorIs(t, err, pagination.ErrPageLimit)
	assert.Equal(t, 2, mock.RequestCount())
	assert.Equal(t, 1, delayer.Delays())
}

func TestEngine_PageLimitNotHitOnLastPage(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.Script(graphqlPath,
		testutil.NewOKResponse(testutil.GraphQLConnection("products", testutil.Edges("c1"), true, nil)),
		testutil.NewOKResponse(testutil.GraphQLConnection("products", testutil.Edges("c2"), false, nil)),
	)

	pages, err := collect(t, newCursorEngine(t, mock, nil, pagination.Config{MaxPages: 2}))
	require.NoError(t, err)
	assert.Len(t, pages, 2)
}

func TestEngine_Stalled(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	// The last scripted response repeats, so the cursor never advances.
	mock.Script(graphqlPath,
		testutil.NewOKResponse(testutil.GraphQLConnection("products", testutil.Edges("c1"), true, nil)))

	pages, err := collect(t, newCursorEngine(t, mock, nil, pagination.DefaultConfig()))

	assert.Len(t, pages, 2)
	assert.ErrorIs(t, err, pagination.ErrPaginationStalled)
	assert.Equal(t, 2, mock.RequestCount())
}

func TestEngine_MalformedPageSkipped(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	base := mock.URL() + "/admin/api/2024-01/orders.json"
	mock.SetHandler("/admin/api/2024-01/orders.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("page_info") {
		case "":
			w.Header().Set("Link", testutil.NextLink(base+"?page_info=p2"))
			w.Write([]byte(testutil.RESTCollection("orders", map[string]any{"id": 1})))
		case "p2":
			w.Header().Set("Link", testutil.NextLink(base+"?page_info=p3"))
			w.Write([]byte(`{"count":3}`))
		default:
			w.Write([]byte(testutil.RESTCollection("orders", map[string]any{"id": 2}, map[string]any{"id": 3})))
		}
	})

	desc, err := descriptor.NewLinkPaged(base, nil)
	require.NoError(t, err)

	pages, err := collect(t, pagination.New(desc, newExecutor(3), nil, pagination.DefaultConfig(), zerolog.Nop()))
	require.NoError(t, err)

	require.Len(t, pages, 3)
	assert.False(t, pages[0].Skipped)
	assert.True(t, pages[1].Skipped)
	assert.ErrorIs(t, pages[1].Err, descriptor.ErrMalformedResponse)
	assert.False(t, pages[2].Skipped)
	assert.Len(t, pages[2].Batch.Items, 2)
}

func TestEngine_LinkPagination(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	path := "/admin/api/2024-01/products.json"
	base := mock.URL() + path
	mock.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page_info") == "" {
			w.Header().Set("Link", testutil.Links(
				"next", base+"?limit=1&page_info=abc",
			))
			w.Write([]byte(testutil.RESTCollection("products", map[string]any{"id": 1})))
			return
		}
		w.Header().Set("Link", testutil.Links("previous", base+"?limit=1&page_info=back"))
		w.Write([]byte(testutil.RESTCollection("products", map[string]any{"id": 2})))
	})

	desc, err := descriptor.NewLinkPaged(base+"?limit=1", map[string]string{"X-Shopify-Access-Token": "token"})
	require.NoError(t, err)

	delayer := &recordingDelayer{}
	pages, err := collect(t, pagination.New(desc, newExecutor(3), delayer, pagination.DefaultConfig(), zerolog.Nop()))
	require.NoError(t, err)

	require.Len(t, pages, 2)
	assert.Equal(t, base+"?limit=1&page_info=abc", pages[1].URL)
	assert.Equal(t, 1, delayer.Delays())

	requests := mock.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, "limit=1", requests[0].RawQuery)
	assert.Equal(t, "limit=1&page_info=abc", requests[1].RawQuery)
	for _, req := range requests {
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "token", req.Header.Get("X-Shopify-Access-Token"))
		assert.Empty(t, req.Body)
	}
}

func TestEngine_CursorFailureStops(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	// hasNextPage is true but no edges carry a cursor.
	mock.Script(graphqlPath,
		testutil.NewOKResponse(testutil.GraphQLConnection("products", nil, true, nil)))

	pages, err := collect(t, newCursorEngine(t, mock, nil, pagination.DefaultConfig()))

	require.Len(t, pages, 1)
	assert.Empty(t, pages[0].Batch.Items)
	assert.ErrorIs(t, err, descriptor.ErrMalformedResponse)
	var pageErr *pagination.PageError
	require.ErrorAs(t, err, &pageErr)
	assert.Equal(t, 2, pageErr.Page)
	assert.Equal(t, 1, mock.RequestCount())
}

func TestEngine_DelayError(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.Script(graphqlPath,
		testutil.NewOKResponse(testutil.GraphQLConnection("products", testutil.Edges("c1"), true, nil)))

	delayer := &recordingDelayer{err: context.Canceled}
	pages, err := collect(t, newCursorEngine(t, mock, delayer, pagination.DefaultConfig()))

	assert.Len(t, pages, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_ConsumerStopsEarly(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.Script(graphqlPath,
		testutil.NewOKResponse(testutil.GraphQLConnection("products", testutil.Edges("c1"), true, nil)),
		testutil.NewOKResponse(testutil.GraphQLConnection("products", testutil.Edges("c2"), false, nil)),
	)

	engine := newCursorEngine(t, mock, nil, pagination.DefaultConfig())
	for page, err := range engine.Pages(context.Background()) {
		require.NoError(t, err)
		assert.Equal(t, 1, page.Number)
		break
	}
	assert.Equal(t, 1, mock.RequestCount())
}

func TestEngine_SingleUse(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.Script(graphqlPath,
		testutil.NewOKResponse(testutil.GraphQLConnection("products", testutil.Edges("a"), false, nil)))

	engine := newCursorEngine(t, mock, nil, pagination.DefaultConfig())
	_, err := collect(t, engine)
	require.NoError(t, err)

	_, err = collect(t, engine)
	assert.ErrorIs(t, err, pagination.ErrEngineConsumed)
	assert.Equal(t, 1, mock.RequestCount())
}

func TestEngine_ContextCancelled(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := newCursorEngine(t, mock, nil, pagination.DefaultConfig())
	var gotErr error
	for _, err := range engine.Pages(ctx) {
		gotErr = err
	}
	assert.True(t, errors.Is(gotErr, context.Canceled))
	assert.Zero(t, mock.RequestCount())
}

func TestPageError(t *testing.T) {
	err := &pagination.PageError{Page: 3, URL: "https://example.com/x", Err: pagination.ErrPageLimit}
	assert.Equal(t, "page 3 (https://example.com/x): page limit reached", err.Error())
	assert.ErrorIs(t, err, pagination.ErrPageLimit)

	err = &pagination.PageError{Page: 1, Err: context.Canceled}
	assert.Equal(t, "page 1: context canceled", err.Error())
}
