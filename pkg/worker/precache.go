package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/campus-offline/pkg/cache"
)

// precached is one fetched app shell entry awaiting storage.
type precached struct {
	key   string
	entry *cache.Entry
}

// precache fetches every URL in the manifest with bounded concurrency and
// stores them in the static store only if all succeed.
func (w *Worker) precache(ctx context.Context, store cache.Store) error {
	urls := w.cfg.Precache
	if len(urls) == 0 {
		return nil
	}

	start := time.Now()
	results := make([]precached, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.PrecacheConcurrency)
	for i, raw := range urls {
		g.Go(func() error {
			req, err := w.precacheRequest(gctx, raw)
			if err != nil {
				return &InstallError{Version: w.cfg.Version, URL: raw, Err: err}
			}

			var entry *cache.Entry
			err = retryWithBackoff(gctx, w.cfg.Retry, w.logger, func() error {
				entry, err = w.fetchEntry(req)
				return err
			})
			if err != nil {
				return &InstallError{Version: w.cfg.Version, URL: raw, Err: err}
			}

			results[i] = precached{key: cache.RequestKey(http.MethodGet, req.URL), entry: entry}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, r := range results {
		if err := store.Put(ctx, r.key, r.entry); err != nil {
			return &InstallError{Version: w.cfg.Version, Err: fmt.Errorf("store %s: %w", r.key, err)}
		}
	}

	w.logger.Info().
		Int("entries", len(results)).
		Dur("duration", time.Since(start)).
		Msg("Precache complete")
	return nil
}

func (w *Worker) precacheRequest(ctx context.Context, raw string) (*http.Request, error) {
	ref, err := w.origin.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range w.cfg.PrecacheHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

func (w *Worker) fetchEntry(req *http.Request) (*cache.Entry, error) {
	resp, err := w.fetcher.Do(req.Clone(req.Context()))
	if err != nil {
		return nil, err
	}
	entry, err := cache.ResponseToEntry(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{StatusCode: resp.StatusCode}
	}
	entry.CachedAt = time.Now()
	return entry, nil
}
