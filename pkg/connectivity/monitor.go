// Package connectivity tracks whether the origin is reachable and fans out
// online and offline events.
package connectivity

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/campus-offline/pkg/logging"
)

// Prober checks reachability once.
type Prober interface {
	Probe(ctx context.Context) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) bool

// Probe calls f(ctx).
func (f ProberFunc) Probe(ctx context.Context) bool { return f(ctx) }

// HTTPProber probes an URL with HEAD. Any response below 500 counts as
// online.
type HTTPProber struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

// NewHTTPProber creates a prober for base joined with path.
func NewHTTPProber(base, path string) *HTTPProber {
	return &HTTPProber{
		URL:     strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/"),
		Client:  http.DefaultClient,
		Timeout: 3 * time.Second,
	}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) bool {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Monitor holds the current connectivity and notifies subscribers on each
// change.
type Monitor struct {
	prober   Prober
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	online bool
	known  bool
	next   int
	subs   map[int]func(bool)
}

// NewMonitor creates a monitor. It reports online until the first probe or
// Set says otherwise.
func NewMonitor(prober Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		logger:   logging.NewLogger("connectivity"),
		online:   true,
		subs:     make(map[int]func(bool)),
	}
}

// Online reports the last observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers fn for state changes. The returned function
// unsubscribes.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := m.next
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Set records an observation and notifies subscribers if it changed.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	changed := !m.known || m.online != online
	first := !m.known
	m.online = online
	m.known = true
	var subs []func(bool)
	if changed && !(first && online) {
		for _, fn := range m.subs {
			subs = append(subs, fn)
		}
	}
	m.mu.Unlock()

	if len(subs) == 0 {
		return
	}
	m.logger.Info().Bool("online", online).Msg("Connectivity changed")
	for _, fn := range subs {
		fn(online)
	}
}

// Check probes once and records the result.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.prober == nil {
		return m.Online()
	}
	online := m.prober.Probe(ctx)
	m.Set(online)
	return online
}

// Run probes at the configured interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
