package worker

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/campus-offline/internal/testutil"
	"github.com/Sternrassler/campus-offline/pkg/cache"
	"github.com/Sternrassler/campus-offline/pkg/message"
	"github.com/Sternrassler/campus-offline/pkg/strategy"
)

func testConfig(origin *testutil.MockOrigin) Config {
	cfg := DefaultConfig()
	cfg.Origin = origin.URL()
	cfg.Precache = []string{"/", "/manifest.json"}
	cfg.Retry = RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffMultiplier: 2}
	return cfg
}

func newOrigin(t *testing.T) *testutil.MockOrigin {
	t.Helper()
	origin := testutil.NewMockOrigin()
	t.Cleanup(origin.Close)
	origin.SetHTML("/", "<html>shell</html>")
	origin.SetJSON("/manifest.json", `{"name":"Campus"}`)
	return origin
}

func newInstalled(t *testing.T, cfg Config, storage cache.Storage, origin *testutil.MockOrigin) *Worker {
	t.Helper()
	w, err := New(cfg, storage, origin)
	require.NoError(t, err)
	require.NoError(t, w.Install(context.Background()))
	return w
}

func send(t *testing.T, w *Worker, cmd message.Command) message.Reply {
	t.Helper()
	port := message.NewPort()
	w.HandleMessage(context.Background(), message.Envelope{Command: cmd, Port: port})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := port.Wait(ctx)
	require.NoError(t, err)
	return reply
}

func TestState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateInstalling, StateInstalled, true},
		{StateInstalling, StateActivated, false},
		{StateInstalled, StateActivating, true},
		{StateActivating, StateActivated, true},
		{StateActivated, StateRedundant, true},
		{StateActivated, StateInstalling, false},
		{StateRedundant, StateActivated, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestNew_InvalidOrigin(t *testing.T) {
	for _, origin := range []string{"", "campus.example", "ftp://campus.example", "https://campus.example/app", "https://campus.example/app/"} {
		cfg := DefaultConfig()
		cfg.Origin = origin
		_, err := New(cfg, cache.NewMemoryStorage(), nil)
		assert.Error(t, err, origin)
	}
}

func TestNew_OriginRoot(t *testing.T) {
	for _, origin := range []string{"https://campus.example", "https://campus.example/"} {
		cfg := DefaultConfig()
		cfg.Origin = origin
		w, err := New(cfg, cache.NewMemoryStorage(), nil)
		require.NoError(t, err, origin)

		out := outboundRequest(w.origin, httptest.NewRequest(http.MethodGet, "/api/grades?term=2", nil))
		assert.Equal(t, "https://campus.example/api/grades?term=2", out.URL.String())

		req, err := w.precacheRequest(context.Background(), "/")
		require.NoError(t, err)
		assert.Equal(t, cache.RootKey(), cache.RequestKey(http.MethodGet, req.URL))
	}
}

func TestInstall_Precache(t *testing.T) {
	origin := newOrigin(t)
	var cookie atomic.Value
	origin.SetHandler("/", func(w http.ResponseWriter, r *http.Request) {
		cookie.Store(r.Header.Get("Cookie"))
		w.Write([]byte("<html>shell</html>"))
	})

	cfg := testConfig(origin)
	cfg.PrecacheHeaders = http.Header{"Cookie": []string{"session=abc"}}
	storage := cache.NewMemoryStorage()

	var states []State
	w, err := New(cfg, storage, origin)
	require.NoError(t, err)
	w.OnStateChange(func(s State) { states = append(states, s) })

	require.NoError(t, w.Install(context.Background()))
	assert.Equal(t, StateInstalled, w.State())
	assert.Equal(t, []State{StateInstalled}, states)
	assert.Equal(t, "session=abc", cookie.Load())

	store, err := storage.Open(context.Background(), "campus-static-v1")
	require.NoError(t, err)
	keys, err := store.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"GET /", "GET /manifest.json"}, keys)

	has, err := storage.Has(context.Background(), "campus-data-v1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestInstall_FailureIsAllOrNothing(t *testing.T) {
	origin := newOrigin(t)
	cfg := testConfig(origin)
	cfg.Precache = []string{"/", "/missing.css"}
	storage := cache.NewMemoryStorage()

	w, err := New(cfg, storage, origin)
	require.NoError(t, err)
	err = w.Install(context.Background())

	var ie *InstallError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 1, ie.Version)
	assert.Equal(t, "/missing.css", ie.URL)
	assert.Equal(t, StateRedundant, w.State())
	assert.Equal(t, 1, origin.RequestCount("/missing.css"), "client errors are not retried")

	store, err := storage.Open(context.Background(), "campus-static-v1")
	require.NoError(t, err)
	keys, err := store.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)

	assert.ErrorIs(t, w.Install(context.Background()), ErrInvalidTransition)
}

func TestInstall_RetriesServerErrors(t *testing.T) {
	origin := newOrigin(t)
	var calls atomic.Int32
	origin.SetHandler("/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	})

	w := newInstalled(t, testConfig(origin), cache.NewMemoryStorage(), origin)
	assert.Equal(t, StateInstalled, w.State())
	assert.Equal(t, int32(2), calls.Load())
}

func TestInstall_RetryExhausted(t *testing.T) {
	origin := newOrigin(t)
	origin.FailPath("/manifest.json", true)

	w, err := New(testConfig(origin), cache.NewMemoryStorage(), origin)
	require.NoError(t, err)
	err = w.Install(context.Background())
	assert.ErrorIs(t, err, ErrRetryExhausted)
}

func TestActivate_EvictsOldCaches(t *testing.T) {
	origin := newOrigin(t)
	storage := cache.NewMemoryStorage()
	ctx := context.Background()
	for _, name := range []string{"campus-static-v1", "campus-data-v1", "legacy-cache"} {
		_, err := storage.Open(ctx, name)
		require.NoError(t, err)
	}

	cfg := testConfig(origin)
	cfg.Version = 2
	w := newInstalled(t, cfg, storage, origin)
	require.NoError(t, w.Activate(ctx))
	assert.Equal(t, StateActivated, w.State())

	names, err := storage.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"campus-data-v2", "campus-static-v2"}, names)

	assert.ErrorIs(t, w.Activate(ctx), ErrInvalidTransition)
}

func TestHandleMessage_ClearCacheIsIdempotent(t *testing.T) {
	origin := newOrigin(t)
	storage := cache.NewMemoryStorage()
	w := newInstalled(t, testConfig(origin), storage, origin)

	for i := 0; i < 2; i++ {
		reply := send(t, w, message.ClearCache{})
		require.NoError(t, reply.Err)
		assert.Equal(t, message.AckReply{Success: true}, reply.Payload)

		names, err := storage.Names(context.Background())
		require.NoError(t, err)
		assert.Empty(t, names)
	}
}

func TestHandleMessage_CacheDataRoundTrip(t *testing.T) {
	origin := newOrigin(t)
	cfg := testConfig(origin)
	now := time.UnixMilli(1_700_000_000_000)
	cfg.Strategy.Now = func() time.Time { return now }
	w := newInstalled(t, cfg, cache.NewMemoryStorage(), origin)
	require.NoError(t, w.Activate(context.Background()))

	payload := json.RawMessage(`{"courses":[{"id":"MAT-101","credits":6}]}`)
	reply := send(t, w, message.CacheData{Key: "/api/courses", Data: payload})
	require.NoError(t, reply.Err)
	assert.Equal(t, message.AckReply{Success: true}, reply.Payload)

	origin.SetOffline(true)
	req := httptest.NewRequest(http.MethodGet, "/api/courses", nil)
	resp := w.Fetch(req)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(payload), string(body))
	assert.Equal(t, strategy.CacheFresh, resp.Header.Get(strategy.HeaderCacheStatus))
}

func TestHandleMessage_GetCacheSize(t *testing.T) {
	origin := newOrigin(t)
	storage := cache.NewMemoryStorage()
	w := newInstalled(t, testConfig(origin), storage, origin)

	reply := send(t, w, message.GetCacheSize{})
	require.NoError(t, reply.Err)
	want := int64(len("<html>shell</html>") + len(`{"name":"Campus"}`))
	assert.Equal(t, message.SizeReply{Size: want}, reply.Payload)
}

func TestHandleMessage_SyncNow(t *testing.T) {
	origin := newOrigin(t)
	origin.SetJSON("/api/grades", `{"avg":8.5}`)
	w := newInstalled(t, testConfig(origin), cache.NewMemoryStorage(), origin)

	send(t, w, message.CacheData{Key: "/api/grades", Data: json.RawMessage(`{}`)})
	send(t, w, message.CacheData{Key: "/api/gone", Data: json.RawMessage(`{}`)})

	reply := send(t, w, message.SyncNow{})
	require.NoError(t, reply.Err)
	sr, ok := reply.Payload.(message.SyncReply)
	require.True(t, ok)
	assert.False(t, sr.Success)
	require.Len(t, sr.Outcomes, 2)
	assert.Equal(t, "/api/gone", sr.Outcomes[0].Key)
	assert.False(t, sr.Outcomes[0].OK)
	assert.Equal(t, "/api/grades", sr.Outcomes[1].Key)
	assert.True(t, sr.Outcomes[1].OK)
}

func TestHandleMessage_NilCommand(t *testing.T) {
	origin := newOrigin(t)
	w := newInstalled(t, testConfig(origin), cache.NewMemoryStorage(), origin)

	port := message.NewPort()
	w.HandleMessage(context.Background(), message.Envelope{Port: port})
	reply, err := port.Wait(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, reply.Err, message.ErrUnknownCommand)
}

func TestHandleSync(t *testing.T) {
	origin := newOrigin(t)
	origin.SetJSON("/api/grades", `{"avg":9}`)
	w := newInstalled(t, testConfig(origin), cache.NewMemoryStorage(), origin)
	send(t, w, message.CacheData{Key: "/api/grades", Data: json.RawMessage(`{}`)})

	assert.NoError(t, w.HandleSync(context.Background(), "other-tag"))
	assert.Zero(t, origin.RequestCount("/api/grades"))

	require.NoError(t, w.HandleSync(context.Background(), "background-sync"))
	assert.Equal(t, 1, origin.RequestCount("/api/grades"))

	origin.SetOffline(true)
	err := w.HandleSync(context.Background(), "background-sync")
	assert.True(t, errors.Is(err, testutil.ErrNetwork))
}

func TestFetch_CompressingOriginIsCachedDecoded(t *testing.T) {
	origin := newOrigin(t)
	const schedule = `{"slots":[{"course":"MAT-101","room":"A2"}]}`
	origin.SetHandler("/api/schedule", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			w.Write([]byte(schedule))
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte(schedule))
		gz.Close()
	})

	w := newInstalled(t, testConfig(origin), cache.NewMemoryStorage(), origin)
	require.NoError(t, w.Activate(context.Background()))

	get := func() (*http.Response, string) {
		req := httptest.NewRequest(http.MethodGet, "/api/schedule", nil)
		req.Header.Set("Accept-Encoding", "gzip, deflate, br")
		resp := w.Fetch(req)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp, string(body)
	}

	resp, body := get()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Content-Encoding"))
	assert.JSONEq(t, schedule, body)

	origin.SetOffline(true)
	resp, body = get()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, strategy.CacheFresh, resp.Header.Get(strategy.HeaderCacheStatus))
	assert.JSONEq(t, schedule, body)
}
