package cache

import (
	"net/http"
	"time"
)

// Entry represents a stored response.
type Entry struct {
	// StatusCode is the HTTP status code of the stored response
	StatusCode int `json:"status_code"`

	// Headers are the response headers
	Headers http.Header `json:"headers"`

	// Data is the response body
	Data []byte `json:"data"`

	// CachedAt is when the response was written to the store
	CachedAt time.Time `json:"cached_at"`
}

// Size returns the number of body bytes held by the entry.
func (e *Entry) Size() int64 {
	if e == nil {
		return 0
	}
	return int64(len(e.Data))
}

// Clone returns a deep copy so callers can mutate headers or body freely.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	data := make([]byte, len(e.Data))
	copy(data, e.Data)
	return &Entry{
		StatusCode: e.StatusCode,
		Headers:    e.Headers.Clone(),
		Data:       data,
		CachedAt:   e.CachedAt,
	}
}
