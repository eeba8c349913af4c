package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_IsStale(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	env := Envelope{Data: json.RawMessage(`{}`), Timestamp: base.UnixMilli()}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "just written", now: base, want: false},
		{name: "half an hour", now: base.Add(30 * time.Minute), want: false},
		{name: "exactly one hour is fresh", now: base.Add(3_600_000 * time.Millisecond), want: false},
		{name: "one millisecond past the hour", now: base.Add(3_600_001 * time.Millisecond), want: true},
		{name: "two hours", now: base.Add(2 * time.Hour), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := env.IsStale(tt.now, StaleThreshold); got != tt.want {
				t.Errorf("IsStale() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnvelope_WireShape(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_123)

	fetched, err := NewEnvelope(json.RawMessage(`{"x":1}`), "https://campus.example/api/schedule", now).ToEntry()
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"x":1},"timestamp":1700000000123,"url":"https://campus.example/api/schedule"}`, string(fetched.Data))
	assert.Equal(t, "application/json", fetched.Headers.Get("Content-Type"))

	manual, err := NewManualEnvelope(json.RawMessage(`[1,2]`), now).ToEntry()
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[1,2],"timestamp":1700000000123,"manual":true}`, string(manual.Data))
}

func TestDecodeEnvelope_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		entry *Entry
	}{
		{name: "nil entry", entry: nil},
		{name: "not json", entry: &Entry{Data: []byte("<html>")}},
		{name: "missing timestamp", entry: &Entry{Data: []byte(`{"data":1}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEnvelope(tt.entry)
			if !errors.Is(err, ErrInvalidEntry) {
				t.Errorf("DecodeEnvelope() error = %v, want ErrInvalidEntry", err)
			}
		})
	}
}

func TestWriteEnvelope_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStorage().Open(ctx, "campus-data-v1")
	require.NoError(t, err)

	payload := json.RawMessage(`{"courses":[{"code":"MAT101","room":"B-204"}]}`)
	written, err := WriteEnvelope(ctx, store, "/api/schedule", NewManualEnvelope(payload, time.Now()))
	require.NoError(t, err)

	got, err := ReadEnvelope(ctx, store, "/api/schedule")
	require.NoError(t, err)
	assert.Equal(t, string(payload), string(got.Data))
	assert.Equal(t, written.Timestamp, got.Timestamp)
	assert.True(t, got.Manual)
}

func TestWriteEnvelope_MonotonicTimestamps(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStorage().Open(ctx, "campus-data-v1")
	require.NoError(t, err)

	frozen := time.UnixMilli(1_700_000_000_000)
	var last int64
	for i := 0; i < 5; i++ {
		env, err := WriteEnvelope(ctx, store, "/api/grades", NewEnvelope(json.RawMessage(`{}`), "", frozen))
		require.NoError(t, err)
		assert.Greater(t, env.Timestamp, last, "write %d did not advance timestamp", i)
		last = env.Timestamp
	}

	// An older clock never moves the stored timestamp backwards.
	env, err := WriteEnvelope(ctx, store, "/api/grades", NewEnvelope(json.RawMessage(`{}`), "", frozen.Add(-time.Hour)))
	require.NoError(t, err)
	assert.Greater(t, env.Timestamp, last)
}

func TestReadEnvelope_Miss(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStorage().Open(ctx, "campus-data-v1")
	require.NoError(t, err)

	_, err = ReadEnvelope(ctx, store, "/api/nothing")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
