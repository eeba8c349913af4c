package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// StaleThreshold is the default age after which a data envelope is stale.
const StaleThreshold = time.Hour

// Envelope wraps a data payload with freshness metadata.
// It is the body of every entry in the data store.
type Envelope struct {
	// Data is the raw JSON payload, kept verbatim
	Data json.RawMessage `json:"data"`

	// Timestamp is when the payload was stored, in Unix milliseconds
	Timestamp int64 `json:"timestamp"`

	// URL is the origin URL the payload was fetched from (network writes only)
	URL string `json:"url,omitempty"`

	// Manual marks envelopes written explicitly rather than by a fetch
	Manual bool `json:"manual,omitempty"`
}

// NewEnvelope wraps a payload fetched from url.
func NewEnvelope(data json.RawMessage, url string, now time.Time) Envelope {
	return Envelope{Data: data, Timestamp: now.UnixMilli(), URL: url}
}

// NewManualEnvelope wraps a payload supplied by a caller.
func NewManualEnvelope(data json.RawMessage, now time.Time) Envelope {
	return Envelope{Data: data, Timestamp: now.UnixMilli(), Manual: true}
}

// IsStale reports whether the envelope is older than threshold at now.
// The comparison is strict: an age equal to threshold is fresh.
func (e Envelope) IsStale(now time.Time, threshold time.Duration) bool {
	return now.UnixMilli()-e.Timestamp > threshold.Milliseconds()
}

// CachedAt returns the envelope timestamp as a time.
func (e Envelope) CachedAt() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// ToEntry serialises the envelope into a storable entry.
func (e Envelope) ToEntry() (*Entry, error) {
	if len(e.Data) == 0 {
		e.Data = json.RawMessage("null")
	}
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return &Entry{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		Data:       body,
		CachedAt:   e.CachedAt(),
	}, nil
}

// DecodeEnvelope parses a data-store entry back into its envelope.
func DecodeEnvelope(entry *Entry) (Envelope, error) {
	if entry == nil {
		return Envelope{}, fmt.Errorf("%w: nil entry", ErrInvalidEntry)
	}
	var env Envelope
	if err := json.Unmarshal(entry.Data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if env.Timestamp <= 0 {
		return Envelope{}, fmt.Errorf("%w: missing timestamp", ErrInvalidEntry)
	}
	return env, nil
}

// ReadEnvelope loads and decodes the envelope stored under key.
// Returns ErrCacheMiss if the key is absent.
func ReadEnvelope(ctx context.Context, store Store, key string) (Envelope, error) {
	entry, err := store.Match(ctx, key)
	if err != nil {
		return Envelope{}, err
	}
	return DecodeEnvelope(entry)
}

// WriteEnvelope stores env under key and returns what was written.
//
// Timestamps are kept strictly increasing per key: when the stored envelope
// is as new as env, env's timestamp is moved one millisecond past it.
func WriteEnvelope(ctx context.Context, store Store, key string, env Envelope) (Envelope, error) {
	prev, err := ReadEnvelope(ctx, store, key)
	switch {
	case err == nil:
		if prev.Timestamp >= env.Timestamp {
			env.Timestamp = prev.Timestamp + 1
		}
	case errors.Is(err, ErrCacheMiss), errors.Is(err, ErrInvalidEntry):
		// nothing to order against
	default:
		return Envelope{}, fmt.Errorf("read previous envelope: %w", err)
	}

	entry, err := env.ToEntry()
	if err != nil {
		return Envelope{}, err
	}
	if err := store.Put(ctx, key, entry); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
