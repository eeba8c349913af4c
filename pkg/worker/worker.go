// Package worker implements the offline worker: a versioned lifecycle,
// request interception and the message protocol, hosted by a Container
// that plays the role of the service worker registration.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/campus-offline/pkg/bgsync"
	"github.com/Sternrassler/campus-offline/pkg/cache"
	"github.com/Sternrassler/campus-offline/pkg/classify"
	"github.com/Sternrassler/campus-offline/pkg/logging"
	"github.com/Sternrassler/campus-offline/pkg/message"
	"github.com/Sternrassler/campus-offline/pkg/strategy"
)

// Fetcher performs origin requests. *http.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the settings of one worker version.
type Config struct {
	// App prefixes the cache names (default: "campus").
	App string

	// Version tags the cache names. Bumping it evicts older caches on
	// activation.
	Version int

	// Origin is the base URL of the upstream app.
	Origin string

	// Precache lists the app shell URLs stored on install.
	Precache []string

	// PrecacheHeaders are copied onto every precache request, for
	// credentials such as cookies.
	PrecacheHeaders http.Header

	// PrecacheConcurrency bounds parallel precache fetches (default: 4).
	PrecacheConcurrency int

	// Retry is the precache retry policy.
	Retry RetryConfig

	// SkipWaiting activates an installed worker without waiting for the
	// current one to retire (default: true).
	SkipWaiting bool

	// SyncTag is the background sync tag the worker answers
	// (default: bgsync.DefaultTag).
	SyncTag string

	Classify classify.Config
	Strategy strategy.Config
	Sync     bgsync.Config
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	return Config{
		App:                 "campus",
		Version:             1,
		Precache:            []string{"/", "/index.html", "/manifest.json"},
		PrecacheConcurrency: 4,
		Retry:               DefaultRetryConfig(),
		SkipWaiting:         true,
		SyncTag:             bgsync.DefaultTag,
		Classify:            classify.DefaultConfig(),
		Strategy:            strategy.DefaultConfig(),
	}
}

// Worker is one installed version of the offline worker.
type Worker struct {
	cfg        Config
	names      cache.StoreNames
	origin     *url.URL
	storage    cache.Storage
	fetcher    Fetcher
	classifier *classify.Classifier
	exec       *strategy.Executor
	syncer     *bgsync.Syncer
	logger     zerolog.Logger

	mu          sync.Mutex
	state       State
	skipWaiting bool
	onSkip      func(*Worker)

	stateChange listeners[State]
}

// New creates a worker in the installing state.
func New(cfg Config, storage cache.Storage, fetcher Fetcher) (*Worker, error) {
	if storage == nil {
		return nil, errors.New("storage cannot be nil")
	}
	if fetcher == nil {
		fetcher = http.DefaultClient
	}
	if cfg.App == "" {
		cfg.App = "campus"
	}
	if cfg.PrecacheConcurrency <= 0 {
		cfg.PrecacheConcurrency = 4
	}
	if cfg.SyncTag == "" {
		cfg.SyncTag = bgsync.DefaultTag
	}

	origin, err := parseOrigin(cfg.Origin)
	if err != nil {
		return nil, err
	}
	if cfg.Classify.Scope == nil {
		cfg.Classify.Scope = origin
	}
	classifier, err := classify.New(cfg.Classify)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	if cfg.Sync.Origin == "" {
		cfg.Sync.Origin = origin.String()
	}
	if cfg.Sync.Now == nil {
		cfg.Sync.Now = cfg.Strategy.Now
	}

	names := cache.NewStoreNames(cfg.App, cfg.Version)
	return &Worker{
		cfg:         cfg,
		names:       names,
		origin:      origin,
		storage:     storage,
		fetcher:     fetcher,
		classifier:  classifier,
		exec:        strategy.NewExecutor(storage, names, fetcher, cfg.Strategy),
		syncer:      bgsync.NewSyncer(storage, names.Data, fetcher, cfg.Sync),
		logger:      logging.NewLogger("worker").With().Int("version", cfg.Version).Logger(),
		state:       StateInstalling,
		skipWaiting: cfg.SkipWaiting,
	}, nil
}

func parseOrigin(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("origin cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("origin %q must be an absolute http(s) URL", raw)
	}
	// Cache keys, the app shell key and precache URLs are all origin
	// relative, so the worker only serves an origin at its root.
	if strings.Trim(u.Path, "/") != "" {
		return nil, fmt.Errorf("origin %q must not have a path", raw)
	}
	u.Path = ""
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// Version returns the worker version.
func (w *Worker) Version() int { return w.cfg.Version }

// Names returns the worker's cache names.
func (w *Worker) Names() cache.StoreNames { return w.names }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// OnStateChange subscribes fn to state changes. The returned function
// unsubscribes.
func (w *Worker) OnStateChange(fn func(State)) func() {
	return w.stateChange.add(fn)
}

func (w *Worker) transition(to State) error {
	w.mu.Lock()
	from := w.state
	if err := checkTransition(from, to); err != nil {
		w.mu.Unlock()
		return err
	}
	w.state = to
	w.mu.Unlock()

	stateTransitionsTotal.WithLabelValues(string(to)).Inc()
	w.logger.Info().Str("from", string(from)).Str("to", string(to)).Msg("Worker state changed")
	w.stateChange.emit(to)
	return nil
}

// Install opens the current caches and precaches the app shell. Any failure
// makes the worker redundant and is returned as an *InstallError.
func (w *Worker) Install(ctx context.Context) error {
	if st := w.State(); st != StateInstalling {
		return fmt.Errorf("%w: install from %s", ErrInvalidTransition, st)
	}

	err := w.install(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("Install failed")
		_ = w.transition(StateRedundant)
		var ie *InstallError
		if !errors.As(err, &ie) {
			err = &InstallError{Version: w.cfg.Version, Err: err}
		}
		return err
	}
	return w.transition(StateInstalled)
}

func (w *Worker) install(ctx context.Context) error {
	static, err := w.storage.Open(ctx, w.names.Static)
	if err != nil {
		return fmt.Errorf("open %s: %w", w.names.Static, err)
	}
	if _, err := w.storage.Open(ctx, w.names.Data); err != nil {
		return fmt.Errorf("open %s: %w", w.names.Data, err)
	}
	return w.precache(ctx, static)
}

// Activate deletes every cache that does not belong to this version. A
// cache that cannot be deleted is logged and skipped.
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.transition(StateActivating); err != nil {
		return err
	}

	names, err := w.storage.Names(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Failed to list caches for eviction")
	}
	for _, name := range names {
		if w.names.Current(name) {
			continue
		}
		if _, err := w.storage.Delete(ctx, name); err != nil {
			w.logger.Warn().Err(err).Str("cache", name).Msg("Failed to delete old cache")
			continue
		}
		w.logger.Info().Str("cache", name).Msg("Deleted old cache")
	}

	return w.transition(StateActivated)
}

// retire marks the worker redundant.
func (w *Worker) retire() {
	if w.State() == StateRedundant {
		return
	}
	_ = w.transition(StateRedundant)
}

// SkipWaiting asks for activation as soon as the worker is installed.
func (w *Worker) SkipWaiting() {
	w.mu.Lock()
	w.skipWaiting = true
	onSkip := w.onSkip
	w.mu.Unlock()

	if onSkip != nil {
		onSkip(w)
	}
}

func (w *Worker) skipWaitingRequested() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.skipWaiting
}

// Fetch intercepts r and returns the response of the strategy its
// classification selects.
func (w *Worker) Fetch(r *http.Request) *http.Response {
	label := w.classifier.Classify(r)
	out := outboundRequest(w.origin, r)
	w.logger.Debug().
		Str("label", string(label)).
		Str("method", r.Method).
		Str("url", out.URL.String()).
		Msg("Intercepted request")
	return w.exec.Execute(label, out)
}

// ServeHTTP implements http.Handler.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	writeResponse(rw, w.Fetch(r))
}

// PostMessage delivers env asynchronously, like postMessage.
func (w *Worker) PostMessage(ctx context.Context, env message.Envelope) {
	go w.HandleMessage(context.WithoutCancel(ctx), env)
}

// HandleMessage executes a command and sends the reply on env.Port.
func (w *Worker) HandleMessage(ctx context.Context, env message.Envelope) {
	if env.Command == nil {
		env.Port.Send(message.Reply{Err: message.ErrUnknownCommand})
		return
	}
	logger := w.logger.With().Str("command", string(env.Command.Type())).Logger()

	var reply message.Reply
	switch cmd := env.Command.(type) {
	case message.SkipWaiting:
		w.SkipWaiting()
		rpcTotal.WithLabelValues(string(cmd.Type()), "ok").Inc()
		return
	case message.GetCacheSize:
		size, err := cache.TotalSize(ctx, w.storage)
		reply = message.Reply{Payload: message.SizeReply{Size: size}, Err: err}
	case message.ClearCache:
		n, err := cache.DeleteAll(ctx, w.storage)
		logger.Info().Int("deleted", n).Msg("Cleared caches")
		reply = message.Reply{Payload: message.AckReply{Success: err == nil}, Err: err}
	case message.CacheData:
		err := w.cacheData(ctx, cmd)
		reply = message.Reply{Payload: message.AckReply{Success: err == nil}, Err: err}
	case message.SyncNow:
		outcomes, err := w.syncer.Run(ctx)
		reply = message.Reply{Payload: syncReply(outcomes), Err: err}
	default:
		reply = message.Reply{Err: fmt.Errorf("%w: %s", message.ErrUnknownCommand, env.Command.Type())}
	}

	result := "ok"
	if reply.Err != nil {
		result = "error"
		logger.Warn().Err(reply.Err).Msg("Message handling failed")
	}
	rpcTotal.WithLabelValues(string(env.Command.Type()), result).Inc()
	env.Port.Send(reply)
}

func (w *Worker) cacheData(ctx context.Context, cmd message.CacheData) error {
	store, err := w.storage.Open(ctx, w.names.Data)
	if err != nil {
		return fmt.Errorf("open %s: %w", w.names.Data, err)
	}
	now := w.exec.Now()
	if _, err := cache.WriteEnvelope(ctx, store, cmd.Key, cache.NewManualEnvelope(cmd.Data, now)); err != nil {
		return fmt.Errorf("cache %s: %w", cmd.Key, err)
	}
	return nil
}

func syncReply(outcomes []bgsync.Outcome) message.SyncReply {
	reply := message.SyncReply{Success: true, Outcomes: make([]message.SyncOutcome, 0, len(outcomes))}
	for _, o := range outcomes {
		so := message.SyncOutcome{Key: o.Key, OK: o.OK(), Timestamp: o.Timestamp}
		if o.Err != nil {
			so.Error = o.Err.Error()
			reply.Success = false
		}
		reply.Outcomes = append(reply.Outcomes, so)
	}
	return reply
}

// HandleSync answers a background sync event. Events for other tags are
// ignored. An error is returned when any key failed so the tag is retried.
func (w *Worker) HandleSync(ctx context.Context, tag string) error {
	if tag != w.cfg.SyncTag {
		w.logger.Debug().Str("tag", tag).Msg("Ignoring sync event")
		return nil
	}
	outcomes, err := w.syncer.Run(ctx)
	if err != nil {
		return err
	}
	if failed := bgsync.Failed(outcomes); len(failed) > 0 {
		return fmt.Errorf("%d of %d keys failed, first %s: %w", len(failed), len(outcomes), failed[0].Key, failed[0].Err)
	}
	return nil
}
