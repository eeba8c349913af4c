package cache

import (
	"net/http"
	"testing"
	"time"
)

func TestEntry_Size(t *testing.T) {
	tests := []struct {
		name  string
		entry *Entry
		want  int64
	}{
		{
			name:  "nil entry",
			entry: nil,
			want:  0,
		},
		{
			name:  "empty body",
			entry: &Entry{StatusCode: 200},
			want:  0,
		},
		{
			name:  "body bytes only",
			entry: &Entry{Data: []byte("hello"), Headers: http.Header{"X-Long-Header": []string{"ignored"}}},
			want:  5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.Size(); got != tt.want {
				t.Errorf("Size() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEntry_Clone(t *testing.T) {
	orig := &Entry{
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": []string{"text/css"}},
		Data:       []byte("body{}"),
		CachedAt:   time.Now(),
	}

	clone := orig.Clone()
	clone.Data[0] = 'X'
	clone.Headers.Set("Content-Type", "text/plain")

	if string(orig.Data) != "body{}" {
		t.Errorf("original body mutated: %q", orig.Data)
	}
	if orig.Headers.Get("Content-Type") != "text/css" {
		t.Errorf("original headers mutated: %v", orig.Headers)
	}
	if clone.StatusCode != orig.StatusCode || !clone.CachedAt.Equal(orig.CachedAt) {
		t.Error("clone lost scalar fields")
	}

	var nilEntry *Entry
	if nilEntry.Clone() != nil {
		t.Error("Clone() of nil entry should be nil")
	}
}
