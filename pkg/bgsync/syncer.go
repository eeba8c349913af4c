// Package bgsync replays cached data requests once connectivity returns.
package bgsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/campus-offline/pkg/cache"
	"github.com/Sternrassler/campus-offline/pkg/logging"
)

// DefaultTag is the sync tag registered by clients on reconnect.
const DefaultTag = "background-sync"

var syncKeysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "campus_sync_keys_total",
	Help: "Data keys refreshed by background sync, by result",
}, []string{"result"}) // "ok", "error"

// Fetcher performs origin requests.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Outcome is the result of refreshing a single data key.
type Outcome struct {
	Key string

	// URL is the address the key was refetched from
	URL string

	// Timestamp of the written envelope, zero on failure
	Timestamp int64

	Err error
}

// OK reports whether the key was refreshed.
func (o Outcome) OK() bool { return o.Err == nil }

// Failed returns the outcomes that carry an error.
func Failed(outcomes []Outcome) []Outcome {
	var failed []Outcome
	for _, o := range outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Config holds syncer settings.
type Config struct {
	// Origin is the base URL keys without a recorded URL are fetched from.
	Origin string

	// KeyTimeout bounds each refetch (default: 10s).
	KeyTimeout time.Duration

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Syncer refreshes every entry of one data store.
type Syncer struct {
	storage cache.Storage
	store   string
	fetcher Fetcher
	cfg     Config
	logger  zerolog.Logger
}

// NewSyncer creates a syncer for the named data store.
func NewSyncer(storage cache.Storage, dataStore string, fetcher Fetcher, cfg Config) *Syncer {
	if fetcher == nil {
		fetcher = http.DefaultClient
	}
	if cfg.KeyTimeout <= 0 {
		cfg.KeyTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Origin = strings.TrimRight(cfg.Origin, "/")
	return &Syncer{
		storage: storage,
		store:   dataStore,
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logging.NewLogger("bgsync"),
	}
}

// Run refetches every key in the data store, one at a time in key order,
// and overwrites each successful one with a manual envelope. A failing key
// does not stop the others. The returned error is set only when the store
// cannot be listed.
func (s *Syncer) Run(ctx context.Context) ([]Outcome, error) {
	store, err := s.storage.Open(ctx, s.store)
	if err != nil {
		return nil, fmt.Errorf("open data store: %w", err)
	}
	keys, err := store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list data keys: %w", err)
	}

	start := time.Now()
	outcomes := make([]Outcome, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, Outcome{Key: key, Err: err})
			continue
		}

		o := s.syncKey(ctx, store, key)
		if o.Err != nil {
			syncKeysTotal.WithLabelValues("error").Inc()
			s.logger.Warn().Err(o.Err).Str("key", key).Str("url", o.URL).Msg("Background sync failed for key")
		} else {
			syncKeysTotal.WithLabelValues("ok").Inc()
		}
		outcomes = append(outcomes, o)
	}

	s.logger.Info().
		Int("keys", len(keys)).
		Int("failed", len(Failed(outcomes))).
		Dur("duration", time.Since(start)).
		Msg("Background sync complete")
	return outcomes, nil
}

func (s *Syncer) syncKey(ctx context.Context, store cache.Store, key string) Outcome {
	o := Outcome{Key: key, URL: s.resolve(ctx, store, key)}

	body, err := s.fetch(ctx, o.URL)
	if err != nil {
		o.Err = err
		return o
	}

	env, err := cache.WriteEnvelope(ctx, store, key, cache.NewManualEnvelope(body, s.cfg.Now()))
	if err != nil {
		o.Err = fmt.Errorf("store: %w", err)
		return o
	}
	o.Timestamp = env.Timestamp
	return o
}

// resolve returns the URL a key was originally fetched from, falling back to
// the key against the origin.
func (s *Syncer) resolve(ctx context.Context, store cache.Store, key string) string {
	env, err := cache.ReadEnvelope(ctx, store, key)
	if err == nil && env.URL != "" {
		return env.URL
	}
	if err != nil && !errors.Is(err, cache.ErrInvalidEntry) {
		s.logger.Debug().Err(err).Str("key", key).Msg("Could not read envelope")
	}
	return s.cfg.Origin + key
}

func (s *Syncer) fetch(ctx context.Context, url string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.KeyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.fetcher.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if !json.Valid(body) {
		return nil, errors.New("fetch: response is not JSON")
	}
	return json.RawMessage(body), nil
}
