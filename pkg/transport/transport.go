// Package transport provides the request/response envelope used by the
// harvesting engine, the Sender boundary to the network, and a retrying
// transport with exponential backoff.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for raw request execution.
var (
	harvestRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_requests_total",
		Help: "Total API requests by method and status",
	}, []string{"method", "status"})

	harvestRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvest_request_duration_seconds",
		Help:    "API request duration in seconds by method",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})
)

// Request describes a single HTTP request issued by the engine.
type Request struct {
	Method  string
	URL     string
	Payload string
	Headers map[string]string
}

// Response is the envelope of a received HTTP response.
// It must not be modified once received.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header

	decodeOnce sync.Once
	decoded    map[string]any
	decodeErr  error
}

// NewResponse creates a response envelope.
func NewResponse(statusCode int, body []byte, header http.Header) *Response {
	if header == nil {
		header = http.Header{}
	}
	return &Response{
		StatusCode: statusCode,
		Body:       body,
		Header:     header,
	}
}

// JSON decodes the body as a JSON object. The result is decoded once and
// shared between callers; callers must treat it as read-only.
func (r *Response) JSON() (map[string]any, error) {
	r.decodeOnce.Do(func() {
		var doc map[string]any
		if err := json.Unmarshal(r.Body, &doc); err != nil {
			r.decodeErr = fmt.Errorf("decode response body: %w", err)
			return
		}
		if doc == nil {
			r.decodeErr = fmt.Errorf("decode response body: not a JSON object")
			return
		}
		r.decoded = doc
	})
	return r.decoded, r.decodeErr
}

// Sender sends one HTTP request and returns the raw response.
// Implementations must not retry; retries are handled by Retrying.
type Sender interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, req Request) (*Response, error)

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// HTTPSender is the default Sender backed by net/http.
type HTTPSender struct {
	client    *http.Client
	userAgent string
}

// NewHTTPSender creates a sender. A nil client gets a 30 second timeout.
func NewHTTPSender(client *http.Client, userAgent string) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSender{client: client, userAgent: userAgent}
}

// Send performs the request and buffers the full body.
func (s *HTTPSender) Send(ctx context.Context, req Request) (*Response, error) {
	startTime := time.Now()
	defer func() {
		harvestRequestDuration.WithLabelValues(req.Method).Observe(time.Since(startTime).Seconds())
	}()

	var body io.Reader
	if req.Payload != "" {
		body = strings.NewReader(req.Payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if s.userAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", s.userAgent)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		harvestRequestsTotal.WithLabelValues(req.Method, "network_error").Inc()
		return nil, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		harvestRequestsTotal.WithLabelValues(req.Method, "read_error").Inc()
		return nil, fmt.Errorf("read response body: %w", err)
	}

	harvestRequestsTotal.WithLabelValues(req.Method, fmt.Sprintf("%d", resp.StatusCode)).Inc()
	return NewResponse(resp.StatusCode, buf.Bytes(), resp.Header.Clone()), nil
}
