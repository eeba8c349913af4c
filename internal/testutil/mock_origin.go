// Package testutil provides test doubles for the campus origin.
package testutil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// ErrNetwork is returned by MockOrigin.Do while the origin is unreachable.
var ErrNetwork = errors.New("network unreachable")

// MockResponse defines the behavior of one mock origin route.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockOrigin is a configurable campus origin server. Its Do method acts as
// the worker's fetcher and can simulate going offline.
type MockOrigin struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	counts   map[string]int
	failing  map[string]bool
	offline  bool
	total    int
}

// NewMockOrigin starts a mock origin.
func NewMockOrigin() *MockOrigin {
	m := &MockOrigin{
		handlers: make(map[string]http.HandlerFunc),
		counts:   make(map[string]int),
		failing:  make(map[string]bool),
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.total++
		m.counts[r.URL.Path]++
		handler, exists := m.handlers[r.URL.Path]
		m.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		http.NotFound(w, r)
	}))

	return m
}

// URL returns the origin base URL.
func (m *MockOrigin) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockOrigin) Close() {
	m.server.Close()
}

// Do performs req against the mock server, or fails with ErrNetwork while
// offline or when req's path is marked failing.
func (m *MockOrigin) Do(req *http.Request) (*http.Response, error) {
	m.mu.RLock()
	down := m.offline || m.failing[req.URL.Path]
	m.mu.RUnlock()
	if down {
		return nil, ErrNetwork
	}
	return m.server.Client().Do(req)
}

// SetOffline toggles reachability of the whole origin.
func (m *MockOrigin) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// FailPath makes requests for path fail with ErrNetwork.
func (m *MockOrigin) FailPath(path string, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[path] = fail
}

// SetHandler sets a custom handler for a path.
func (m *MockOrigin) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockOrigin) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		status := resp.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetJSON configures a 200 JSON response for a path.
func (m *MockOrigin) SetJSON(path, body string) {
	m.SetResponse(path, JSONResponse(body))
}

// SetHTML configures a 200 HTML response for a path.
func (m *MockOrigin) SetHTML(path, body string) {
	m.SetResponse(path, MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "text/html; charset=utf-8"},
	})
}

// RequestCount returns the number of requests the server received for path.
func (m *MockOrigin) RequestCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[path]
}

// TotalRequests returns the number of requests the server received.
func (m *MockOrigin) TotalRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

// Reset clears the request counters.
func (m *MockOrigin) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = 0
	m.counts = make(map[string]int)
}

// JSONResponse creates a 200 response with a JSON body.
func JSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// ServerErrorResponse creates a 500 response with a JSON error body.
func ServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// FetcherFunc adapts a function to the fetcher interfaces.
type FetcherFunc func(*http.Request) (*http.Response, error)

// Do calls f(req).
func (f FetcherFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}
