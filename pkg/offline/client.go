// Package offline is the page-side view of the offline worker: it mirrors
// connectivity and registration state, talks to the worker over the
// message protocol and triggers background sync on reconnect.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/campus-offline/pkg/bgsync"
	"github.com/Sternrassler/campus-offline/pkg/connectivity"
	"github.com/Sternrassler/campus-offline/pkg/logging"
	"github.com/Sternrassler/campus-offline/pkg/message"
	"github.com/Sternrassler/campus-offline/pkg/worker"
)

var (
	// ErrWorkerUnavailable is returned when no worker controls the page.
	ErrWorkerUnavailable = errors.New("service worker not available")

	// ErrRPCTimeout is returned when the worker does not reply in time.
	ErrRPCTimeout = errors.New("worker did not reply in time")

	// ErrSyncIncomplete is returned by ForceSync when a key failed to refresh.
	ErrSyncIncomplete = errors.New("sync incomplete")
)

// DefaultRPCTimeout bounds every request to the worker.
const DefaultRPCTimeout = 5 * time.Second

// Host is the worker registration the client talks to. *worker.Container
// satisfies it.
type Host interface {
	Register(ctx context.Context, version int) (*worker.Worker, error)
	Controller() *worker.Worker
	Waiting() *worker.Worker
	OnStateChange(fn func(worker.StateEvent)) func()
	PostMessage(ctx context.Context, env message.Envelope) error
}

// State is the offline status exposed to the page.
type State struct {
	IsOnline         bool
	IsOfflineCapable bool
	CacheSize        int64
	LastSync         time.Time

	// Registration is the worker registered by Start. It is never cleared.
	Registration *worker.Worker
}

// Config holds client settings.
type Config struct {
	// Version is the worker version registered by Start.
	Version int

	// SyncTag is registered on reconnect (default: bgsync.DefaultTag).
	SyncTag string

	// RPCTimeout bounds each worker request (default: 5s).
	RPCTimeout time.Duration

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Client mirrors the offline state for one page.
type Client struct {
	host    Host
	monitor *connectivity.Monitor
	syncer  *bgsync.Manager
	cfg     Config
	logger  zerolog.Logger

	mu          sync.Mutex
	state       State
	unsubscribe []func()

	updateAvailable listeners
}

// New creates a client. A nil host yields a client that is not offline
// capable; a nil or unsupported sync manager disables reconnect sync.
func New(host Host, monitor *connectivity.Monitor, syncer *bgsync.Manager, cfg Config) *Client {
	if cfg.SyncTag == "" {
		cfg.SyncTag = bgsync.DefaultTag
	}
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = DefaultRPCTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if monitor == nil {
		monitor = connectivity.NewMonitor(nil, 0)
	}
	return &Client{
		host:    host,
		monitor: monitor,
		syncer:  syncer,
		cfg:     cfg,
		logger:  logging.NewLogger("offline"),
	}
}

// Start initialises the state, registers the worker and subscribes to
// worker and connectivity events. A registration failure is returned and
// leaves the client usable without a worker.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	c.state.IsOnline = c.monitor.Online()
	c.state.IsOfflineCapable = c.host != nil
	c.mu.Unlock()

	c.track(c.monitor.Subscribe(func(online bool) {
		if online {
			c.handleOnline(context.WithoutCancel(ctx))
			return
		}
		c.setOnline(false)
	}))

	if c.host == nil {
		return nil
	}

	c.track(c.host.OnStateChange(func(e worker.StateEvent) {
		if e.State != worker.StateInstalled {
			return
		}
		if controller := c.host.Controller(); controller != nil && controller != e.Worker {
			c.logger.Info().Int("version", e.Worker.Version()).Msg("Update available")
			c.updateAvailable.emit()
		}
	}))

	w, err := c.host.Register(ctx, c.cfg.Version)
	if err != nil {
		c.logger.Error().Err(err).Int("version", c.cfg.Version).Msg("Worker registration failed")
		return fmt.Errorf("register worker: %w", err)
	}

	c.mu.Lock()
	c.state.Registration = w
	c.mu.Unlock()

	if _, err := c.GetCacheSize(ctx); err != nil {
		c.logger.Debug().Err(err).Msg("Initial cache size unavailable")
	}
	return nil
}

// Stop removes every subscription made by Start.
func (c *Client) Stop() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
}

func (c *Client) track(unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribe = append(c.unsubscribe, unsubscribe)
}

// State returns a copy of the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnUpdateAvailable subscribes fn to newly installed worker versions.
func (c *Client) OnUpdateAvailable(fn func()) func() {
	return c.updateAvailable.add(fn)
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.IsOnline = online
}

func (c *Client) handleOnline(ctx context.Context) {
	c.setOnline(true)
	if !c.syncer.Supported() {
		return
	}
	if err := c.syncTag(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Reconnect sync failed")
	}
}

// syncTag registers the sync tag and fires it. LastSync moves only when
// every pending tag synced.
func (c *Client) syncTag(ctx context.Context) error {
	if err := c.syncer.Register(c.cfg.SyncTag); err != nil {
		return err
	}
	if err := c.syncer.Fire(ctx); err != nil {
		return err
	}
	c.markSynced()
	return nil
}

func (c *Client) markSynced() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.LastSync = c.cfg.Now()
}

// Send posts cmd to the controlling worker and waits for its reply.
func (c *Client) Send(ctx context.Context, cmd message.Command) (any, error) {
	if c.host == nil || c.host.Controller() == nil {
		return nil, ErrWorkerUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
	defer cancel()

	port := message.NewPort()
	if err := c.host.PostMessage(ctx, message.Envelope{Command: cmd, Port: port}); err != nil {
		if errors.Is(err, worker.ErrNoController) {
			return nil, ErrWorkerUnavailable
		}
		return nil, err
	}

	reply, err := port.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s", ErrRPCTimeout, cmd.Type())
	}
	if err != nil {
		return nil, err
	}
	return reply.Payload, reply.Err
}

// ClearCache deletes every cache.
func (c *Client) ClearCache(ctx context.Context) error {
	if _, err := c.Send(ctx, message.ClearCache{}); err != nil {
		return err
	}
	c.mu.Lock()
	c.state.CacheSize = 0
	c.mu.Unlock()
	return nil
}

// ForceSync refreshes cached data now. It goes through background sync when
// available and asks the worker directly otherwise.
func (c *Client) ForceSync(ctx context.Context) error {
	if c.syncer.Supported() {
		return c.syncTag(ctx)
	}
	payload, err := c.Send(ctx, message.SyncNow{})
	if err != nil {
		return err
	}
	if reply, ok := payload.(message.SyncReply); ok && !reply.Success {
		return ErrSyncIncomplete
	}
	c.markSynced()
	return nil
}

// CacheData stores data under key in the worker's data store.
func (c *Client) CacheData(ctx context.Context, key string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}
	_, err = c.Send(ctx, message.CacheData{Key: key, Data: raw})
	return err
}

// GetCacheSize returns the summed size of every cache in bytes.
func (c *Client) GetCacheSize(ctx context.Context) (int64, error) {
	payload, err := c.Send(ctx, message.GetCacheSize{})
	if err != nil {
		return 0, err
	}
	reply, ok := payload.(message.SizeReply)
	if !ok {
		return 0, fmt.Errorf("unexpected reply %T", payload)
	}
	c.mu.Lock()
	c.state.CacheSize = reply.Size
	c.mu.Unlock()
	return reply.Size, nil
}

// UpdateServiceWorker tells the waiting worker to activate. It is a no-op
// when nothing is waiting.
func (c *Client) UpdateServiceWorker(ctx context.Context) error {
	if c.host == nil {
		return ErrWorkerUnavailable
	}
	waiting := c.host.Waiting()
	if waiting == nil {
		return nil
	}
	waiting.PostMessage(ctx, message.Envelope{Command: message.SkipWaiting{}})
	return nil
}

// listeners is a set of argument-less callbacks.
type listeners struct {
	mu   sync.Mutex
	next int
	fns  map[int]func()
}

func (l *listeners) add(fn func()) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func())
	}
	l.next++
	id := l.next
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

func (l *listeners) emit() {
	l.mu.Lock()
	fns := make([]func(), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
