// Package httputil holds the HTTP plumbing shared by the classifier
// client and the monitor endpoints.
package httputil

import (
	"io"
	"net/http"
	"strings"
	"sync"
)

// HTTPClient is the request surface the classifier uploader needs.
// *http.Client satisfies it directly.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewStandardClient returns c as an HTTPClient, or http.DefaultClient
// when c is nil.
func NewStandardClient(c *http.Client) HTTPClient {
	if c == nil {
		return http.DefaultClient
	}
	return c
}

// MockHTTPClient records requests and replays queued responses for
// tests.
type MockHTTPClient struct {
	mu        sync.Mutex
	requests  []*http.Request
	responses []mockResponse
	next      int
}

type mockResponse struct {
	status int
	body   string
	err    error
}

func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues one response; returns the mock for chaining.
func (m *MockHTTPClient) AddResponse(status int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{status: status, body: body})
	return m
}

// AddErrorResponse queues a transport error.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{err: err})
	return m
}

// Do records the request and returns the next queued response. Past
// the end of the queue it returns an empty 200.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	resp := mockResponse{status: http.StatusOK}
	if m.next < len(m.responses) {
		resp = m.responses[m.next]
		m.next++
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return &http.Response{
		StatusCode: resp.status,
		Body:       io.NopCloser(strings.NewReader(resp.body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// GetRequest returns the nth recorded request, or nil when out of
// range.
func (m *MockHTTPClient) GetRequest(n int) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.requests) {
		return nil
	}
	return m.requests[n]
}

// RequestCount returns how many requests Do has seen.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
