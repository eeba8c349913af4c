package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Sternrassler/campus-offline/pkg/connectivity"
	"github.com/Sternrassler/campus-offline/pkg/strategy"
)

// ErrNoData is returned when the worker has neither network nor a cached copy.
var ErrNoData = errors.New("offline and no cached data")

// Result is one load of a data resource.
type Result[T any] struct {
	Value T

	// FromCache is set when the value came from the worker's data store
	FromCache bool

	// Stale is set when the cached value is older than the stale threshold
	Stale bool

	CachedAt time.Time
}

// FetchFunc loads a data resource.
type FetchFunc[T any] func(ctx context.Context) (Result[T], error)

// Doer performs HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetchJSON returns a FetchFunc that GETs url through the worker and decodes
// the JSON body, reading freshness from the worker's cache headers.
func FetchJSON[T any](doer Doer, url string) FetchFunc[T] {
	return func(ctx context.Context) (Result[T], error) {
		var res Result[T]

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return res, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := doer.Do(req)
		if err != nil {
			return res, fmt.Errorf("fetch %s: %w", url, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return res, fmt.Errorf("read %s: %w", url, err)
		}

		status := resp.Header.Get(strategy.HeaderCacheStatus)
		if status == strategy.CacheMiss {
			return res, ErrNoData
		}
		if resp.StatusCode != http.StatusOK {
			return res, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
		}
		if err := json.Unmarshal(body, &res.Value); err != nil {
			return res, fmt.Errorf("decode %s: %w", url, err)
		}

		res.FromCache = status == strategy.CacheFresh || status == strategy.CacheStale
		res.Stale = status == strategy.CacheStale
		if date := resp.Header.Get(strategy.HeaderCacheDate); date != "" {
			if t, err := time.Parse(time.RFC3339Nano, date); err == nil {
				res.CachedAt = t
			}
		}
		return res, nil
	}
}

// Data keeps the last good value of a resource and reloads it when the
// connection returns while the value came from the cache.
type Data[T any] struct {
	fetch       FetchFunc[T]
	unsubscribe func()

	mu      sync.Mutex
	result  Result[T]
	loaded  bool
	err     error
	loading bool
}

// NewData creates a loader. With a monitor, a cached value is refetched on
// reconnect.
func NewData[T any](monitor *connectivity.Monitor, fetch FetchFunc[T]) *Data[T] {
	d := &Data[T]{fetch: fetch}
	if monitor != nil {
		d.unsubscribe = monitor.Subscribe(func(online bool) {
			if online && d.needsRefresh() {
				go d.Load(context.Background())
			}
		})
	}
	return d
}

// Load fetches the resource. On failure the previous value is kept and
// marked as cached; the error is returned either way.
func (d *Data[T]) Load(ctx context.Context) (Result[T], error) {
	d.mu.Lock()
	d.loading = true
	d.mu.Unlock()

	res, err := d.fetch(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.loading = false
	d.err = err
	if err != nil {
		if d.loaded {
			d.result.FromCache = true
		}
		return d.result, err
	}
	d.result = res
	d.loaded = true
	return d.result, nil
}

// Current returns the last value, whether one was ever loaded and the error
// of the last load.
func (d *Data[T]) Current() (Result[T], bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.result, d.loaded, d.err
}

// Loading reports whether a load is in flight.
func (d *Data[T]) Loading() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loading
}

func (d *Data[T]) needsRefresh() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.loading && (!d.loaded || d.result.FromCache || d.err != nil)
}

// Close stops watching connectivity.
func (d *Data[T]) Close() {
	if d.unsubscribe != nil {
		d.unsubscribe()
	}
}
