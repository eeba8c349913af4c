package strategy

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/campus-offline/pkg/cache"
)

// Response headers set by the worker.
const (
	// HeaderCacheStatus is "fresh", "stale" or "miss" on data responses
	// served without the network.
	HeaderCacheStatus = "X-Cache-Status"

	// HeaderCacheDate is the ISO 8601 time a cached payload was stored.
	HeaderCacheDate = "X-Cache-Date"

	// HeaderStrategy names the strategy that produced a non-network response.
	HeaderStrategy = "X-Worker-Strategy"
)

// Cache status values.
const (
	CacheFresh = "fresh"
	CacheStale = "stale"
	CacheMiss  = "miss"
)

// isoMillis matches JavaScript's Date.toISOString output.
const isoMillis = "2006-01-02T15:04:05.000Z"

// OfflineMarker is a fixed text of the offline page.
const OfflineMarker = "Sin Conexión"

//go:embed offline.html
var offlinePage []byte

// OfflinePage returns a copy of the embedded offline document.
func OfflinePage() []byte {
	return append([]byte(nil), offlinePage...)
}

// dataOfflineBody is the JSON body of a data request with no network and no
// cached copy.
type dataOfflineBody struct {
	Error     string `json:"error"`
	Offline   bool   `json:"offline"`
	Timestamp int64  `json:"timestamp"`
}

func newResponse(req *http.Request, status int, contentType string, body []byte) *http.Response {
	h := make(http.Header)
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// staticOfflineResponse answers a static asset that is neither cached nor
// reachable.
func staticOfflineResponse(req *http.Request) *http.Response {
	resp := newResponse(req, http.StatusServiceUnavailable, "text/plain", []byte("Offline"))
	resp.Header.Set(HeaderStrategy, string(StrategyCacheFirst))
	return resp
}

// dataOfflineResponse answers a data request with nothing cached.
func dataOfflineResponse(req *http.Request, now time.Time) *http.Response {
	body, _ := json.Marshal(dataOfflineBody{
		Error:     "Sin conexión y sin datos en caché",
		Offline:   true,
		Timestamp: now.UnixMilli(),
	})
	resp := newResponse(req, http.StatusServiceUnavailable, "application/json", body)
	resp.Header.Set(HeaderCacheStatus, CacheMiss)
	resp.Header.Set(HeaderStrategy, string(StrategyNetworkFirst))
	return resp
}

// cachedDataResponse re-serves the payload of a cached envelope.
func cachedDataResponse(req *http.Request, env cache.Envelope, status string) *http.Response {
	data := []byte(env.Data)
	if len(data) == 0 {
		data = []byte("null")
	}
	resp := newResponse(req, http.StatusOK, "application/json", data)
	resp.Header.Set(HeaderCacheStatus, status)
	resp.Header.Set(HeaderCacheDate, env.CachedAt().Format(isoMillis))
	resp.Header.Set(HeaderStrategy, string(StrategyNetworkFirst))
	return resp
}

// navigationOfflineResponse serves the embedded offline page.
func navigationOfflineResponse(req *http.Request) *http.Response {
	resp := newResponse(req, http.StatusServiceUnavailable, "text/html; charset=utf-8", OfflinePage())
	resp.Header.Set(HeaderStrategy, string(StrategyNetworkFirstDefault))
	return resp
}

// badGatewayResponse answers a passthrough request the origin did not serve.
func badGatewayResponse(req *http.Request) *http.Response {
	resp := newResponse(req, http.StatusBadGateway, "text/plain; charset=utf-8", []byte("bad gateway\n"))
	resp.Header.Set(HeaderStrategy, string(StrategyNetworkOnly))
	return resp
}
