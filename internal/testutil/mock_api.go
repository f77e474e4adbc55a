// Package testutil provides testing utilities for the harvester.
package testutil

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock API response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is a request received by the mock API.
type RecordedRequest struct {
	Method   string
	Path     string
	RawQuery string
	Body     string
	Header   http.Header
}

// MockAPI is a configurable mock API server for testing. Responses can be
// scripted per path; the last scripted response repeats.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	scripts  map[string][]MockResponse
	served   map[string]int
	requests []RecordedRequest
}

// NewMockAPI creates a new mock API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers: make(map[string]http.HandlerFunc),
		scripts:  make(map[string][]MockResponse),
		served:   make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mock.mu.Lock()
		mock.requests = append(mock.requests, RecordedRequest{
			Method:   r.Method,
			Path:     r.URL.Path,
			RawQuery: r.URL.RawQuery,
			Body:     string(body),
			Header:   r.Header.Clone(),
		})
		handler, hasHandler := mock.handlers[r.URL.Path]
		resp, hasScript := mock.next(r.URL.Path)
		mock.mu.Unlock()

		switch {
		case hasHandler:
			r.Body = io.NopCloser(bytes.NewReader(body))
			handler(w, r)
		case hasScript:
			writeResponse(w, resp)
		default:
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"errors":"Not Found"}`))
		}
	}))

	return mock
}

// next pops the next scripted response for path. Caller holds mu.
func (m *MockAPI) next(path string) (MockResponse, bool) {
	script := m.scripts[path]
	if len(script) == 0 {
		return MockResponse{}, false
	}
	i := m.served[path]
	m.served[path]++
	if i >= len(script) {
		i = len(script) - 1
	}
	return script[i], true
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears scripts, handlers and recorded requests.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = make(map[string]http.HandlerFunc)
	m.scripts = make(map[string][]MockResponse)
	m.served = make(map[string]int)
	m.requests = nil
}

// SetHandler sets a custom handler for a specific path. The handler can read
// the request body.
func (m *MockAPI) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// Script configures the responses returned for path, in order.
func (m *MockAPI) Script(path string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[path] = append([]MockResponse(nil), responses...)
	m.served[path] = 0
}

// Requests returns a copy of all recorded requests.
func (m *MockAPI) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// RequestCount returns the number of requests made to the server.
func (m *MockAPI) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// NewOKResponse creates a 200 OK JSON response.
func NewOKResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
	}
}

// NewLinkResponse creates a 200 OK response carrying a rel="next" Link header.
// An empty next URL omits the header.
func NewLinkResponse(body, next string) MockResponse {
	resp := NewOKResponse(body)
	if next != "" {
		resp.Headers = map[string]string{"Link": NextLink(next)}
	}
	return resp
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"errors":"Internal Server Error"}`,
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"errors":"Exceeded 2 calls per second for api client. Reduce request rates to resume uninterrupted service."}`,
		Headers: map[string]string{
			"Retry-After": "2.0",
		},
	}
}
