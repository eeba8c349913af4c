// Package strategy implements the caching strategies the worker applies to
// intercepted requests.
package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/campus-offline/pkg/cache"
	"github.com/Sternrassler/campus-offline/pkg/classify"
	"github.com/Sternrassler/campus-offline/pkg/logging"
)

// Name identifies a strategy.
type Name string

const (
	StrategyCacheFirst          Name = "cache-first"
	StrategyNetworkFirst        Name = "network-first"
	StrategyNetworkFirstDefault Name = "network-first-default"
	StrategyNetworkOnly         Name = "network-only"
)

// Store roles used as metric labels.
const (
	roleStatic = "static"
	roleData   = "data"
)

// DefaultDataTimeout bounds a data API fetch before falling back to the cache.
const DefaultDataTimeout = 3 * time.Second

// Fetcher performs origin requests. *http.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds strategy settings.
type Config struct {
	// DataTimeout bounds data API fetches, body included (default: 3s).
	DataTimeout time.Duration

	// StaleThreshold is the envelope age after which cached data is stale
	// (default: 1h).
	StaleThreshold time.Duration

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// DefaultConfig returns the default strategy configuration.
func DefaultConfig() Config {
	return Config{
		DataTimeout:    DefaultDataTimeout,
		StaleThreshold: cache.StaleThreshold,
		Now:            time.Now,
	}
}

// Executor runs the strategies against one pair of stores.
type Executor struct {
	storage cache.Storage
	names   cache.StoreNames
	fetcher Fetcher
	cfg     Config
	logger  zerolog.Logger
}

// NewExecutor creates an executor. Stores are opened on every call, so a
// cleared storage is recreated on the next request.
func NewExecutor(storage cache.Storage, names cache.StoreNames, fetcher Fetcher, cfg Config) *Executor {
	if storage == nil {
		panic("strategy: storage cannot be nil")
	}
	if fetcher == nil {
		fetcher = http.DefaultClient
	}
	if cfg.DataTimeout <= 0 {
		cfg.DataTimeout = DefaultDataTimeout
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = cache.StaleThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Executor{
		storage: storage,
		names:   names,
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logging.NewLogger("strategy"),
	}
}

// Names returns the store names the executor writes to.
func (e *Executor) Names() cache.StoreNames {
	return e.names
}

// Now returns the current time of the executor clock.
func (e *Executor) Now() time.Time {
	return e.cfg.Now()
}

// Execute dispatches req to the strategy for label. It always returns a
// response.
func (e *Executor) Execute(label classify.Label, req *http.Request) *http.Response {
	switch label {
	case classify.StaticAsset:
		return e.CacheFirst(req)
	case classify.DataAPI:
		return e.NetworkFirst(req)
	case classify.PageNavigation:
		return e.NetworkFirstDefault(req)
	default:
		return e.Passthrough(req)
	}
}

// CacheFirst serves req from the static store, fetching and storing it on a
// miss. Only 200 responses are stored.
func (e *Executor) CacheFirst(req *http.Request) *http.Response {
	ctx := req.Context()
	key := cache.RequestKey(req.Method, req.URL)
	store := e.open(ctx, e.names.Static)

	if resp := e.matchStatic(ctx, store, key, req); resp != nil {
		resp.Header.Set(HeaderStrategy, string(StrategyCacheFirst))
		strategyResponsesTotal.WithLabelValues(string(StrategyCacheFirst), sourceCache).Inc()
		return resp
	}

	resp, err := e.fetch(req, classify.StaticAsset)
	if err == nil && resp.StatusCode == http.StatusOK {
		err = e.putStatic(ctx, store, key, resp)
	}
	if err != nil {
		e.logger.Debug().Err(err).Str("key", key).Msg("Static asset unavailable")
		strategyResponsesTotal.WithLabelValues(string(StrategyCacheFirst), sourceOffline).Inc()
		return staticOfflineResponse(req)
	}

	strategyResponsesTotal.WithLabelValues(string(StrategyCacheFirst), sourceNetwork).Inc()
	return resp
}

// NetworkFirst fetches req within the data timeout and stores 200 JSON
// payloads as envelopes. On a network failure or timeout the cached envelope
// is served with its freshness, or a 503 JSON body when nothing is cached.
// Non-200 origin responses are returned as they are and never stored.
func (e *Executor) NetworkFirst(req *http.Request) *http.Response {
	ctx := req.Context()
	key := cache.DataKey(req.URL)

	resp, err := e.fetchData(req)
	if err == nil {
		if resp.StatusCode == http.StatusOK {
			e.putData(ctx, key, req.URL.String(), resp)
		}
		strategyResponsesTotal.WithLabelValues(string(StrategyNetworkFirst), sourceNetwork).Inc()
		return resp
	}

	e.logger.Debug().Err(err).Str("key", key).Msg("Data fetch failed, using cache")
	return e.dataFallback(req, key)
}

// NetworkFirstDefault fetches a page, storing 200 responses in the static
// store. Offline it falls back to the cached page, then to the cached app
// shell, then to the embedded offline page.
func (e *Executor) NetworkFirstDefault(req *http.Request) *http.Response {
	ctx := req.Context()
	key := cache.RequestKey(req.Method, req.URL)
	store := e.open(ctx, e.names.Static)

	resp, err := e.fetch(req, classify.PageNavigation)
	if err == nil && resp.StatusCode == http.StatusOK {
		err = e.putStatic(ctx, store, key, resp)
	}
	if err == nil {
		strategyResponsesTotal.WithLabelValues(string(StrategyNetworkFirstDefault), sourceNetwork).Inc()
		return resp
	}

	e.logger.Debug().Err(err).Str("key", key).Msg("Navigation failed, using cache")

	for _, k := range []string{key, cache.RootKey()} {
		if cached := e.matchStatic(ctx, store, k, req); cached != nil {
			cached.Header.Set(HeaderStrategy, string(StrategyNetworkFirstDefault))
			strategyResponsesTotal.WithLabelValues(string(StrategyNetworkFirstDefault), sourceCache).Inc()
			return cached
		}
	}

	strategyResponsesTotal.WithLabelValues(string(StrategyNetworkFirstDefault), sourceOffline).Inc()
	return navigationOfflineResponse(req)
}

// Passthrough forwards req untouched. A failed fetch becomes a 502.
func (e *Executor) Passthrough(req *http.Request) *http.Response {
	resp, err := e.fetch(req, classify.Unhandled)
	if err != nil {
		e.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Passthrough request failed")
		strategyResponsesTotal.WithLabelValues(string(StrategyNetworkOnly), sourceOffline).Inc()
		return badGatewayResponse(req)
	}
	strategyResponsesTotal.WithLabelValues(string(StrategyNetworkOnly), sourceNetwork).Inc()
	return resp
}

func (e *Executor) fetch(req *http.Request, label classify.Label) (*http.Response, error) {
	start := time.Now()
	resp, err := e.fetcher.Do(req)
	fetchDuration.WithLabelValues(string(label)).Observe(time.Since(start).Seconds())
	return resp, err
}

// fetchData fetches a data request and reads the whole body before the
// timeout expires. The returned response holds an in-memory body.
func (e *Executor) fetchData(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(req.Context(), e.cfg.DataTimeout)
	defer cancel()

	resp, err := e.fetch(req.WithContext(ctx), classify.DataAPI)
	if err != nil {
		return nil, err
	}
	if _, err := cache.ResponseToEntry(resp); err != nil {
		return nil, err
	}
	resp.Request = req
	return resp, nil
}

func (e *Executor) dataFallback(req *http.Request, key string) *http.Response {
	ctx := req.Context()
	now := e.cfg.Now()

	store := e.open(ctx, e.names.Data)
	if store != nil {
		env, err := cache.ReadEnvelope(ctx, store, key)
		switch {
		case err == nil:
			cache.CacheHits.WithLabelValues(roleData).Inc()
			status := CacheFresh
			if env.IsStale(now, e.cfg.StaleThreshold) {
				status = CacheStale
			}
			strategyResponsesTotal.WithLabelValues(string(StrategyNetworkFirst), sourceCache).Inc()
			return cachedDataResponse(req, env, status)
		case errors.Is(err, cache.ErrCacheMiss):
			cache.CacheMisses.WithLabelValues(roleData).Inc()
		case errors.Is(err, cache.ErrInvalidEntry):
			cache.CacheMisses.WithLabelValues(roleData).Inc()
			e.logger.Warn().Err(err).Str("key", key).Msg("Ignoring invalid data entry")
		default:
			e.logger.Warn().Err(err).Str("key", key).Msg("Data store read failed")
		}
	}

	strategyResponsesTotal.WithLabelValues(string(StrategyNetworkFirst), sourceOffline).Inc()
	return dataOfflineResponse(req, now)
}

// open returns the named store, or nil when the storage is unusable.
func (e *Executor) open(ctx context.Context, name string) cache.Store {
	store, err := e.storage.Open(ctx, name)
	if err != nil {
		e.logger.Warn().Err(err).Str("cache", name).Msg("Failed to open cache")
		return nil
	}
	return store
}

// matchStatic returns the cached response for key, or nil.
func (e *Executor) matchStatic(ctx context.Context, store cache.Store, key string, req *http.Request) *http.Response {
	if store == nil {
		return nil
	}
	entry, err := store.Match(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			cache.CacheMisses.WithLabelValues(roleStatic).Inc()
		} else {
			e.logger.Warn().Err(err).Str("key", key).Msg("Static store read failed")
		}
		return nil
	}
	cache.CacheHits.WithLabelValues(roleStatic).Inc()
	return cache.EntryToResponse(entry, req)
}

// putStatic stores a copy of resp. A storage failure is logged and ignored;
// only an unreadable body is returned as an error.
func (e *Executor) putStatic(ctx context.Context, store cache.Store, key string, resp *http.Response) error {
	entry, err := cache.ResponseToEntry(resp)
	if err != nil {
		return err
	}
	if store == nil {
		return nil
	}
	entry.CachedAt = e.cfg.Now()
	if err := store.Put(ctx, key, entry); err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache response")
	}
	return nil
}

// putData stores the body of a successful data response as an envelope.
// Bodies that are not JSON are served but not stored.
func (e *Executor) putData(ctx context.Context, key, url string, resp *http.Response) {
	entry, err := cache.ResponseToEntry(resp)
	if err != nil {
		return
	}
	if !json.Valid(entry.Data) {
		e.logger.Debug().Str("key", key).Msg("Not caching non-JSON data response")
		return
	}
	store := e.open(ctx, e.names.Data)
	if store == nil {
		return
	}
	env := cache.NewEnvelope(json.RawMessage(entry.Data), url, e.cfg.Now())
	if _, err := cache.WriteEnvelope(ctx, store, key, env); err != nil {
		e.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache data")
	}
}
