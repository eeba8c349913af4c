package worker

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/campus-offline/pkg/cache"
	"github.com/Sternrassler/campus-offline/pkg/logging"
	"github.com/Sternrassler/campus-offline/pkg/message"
)

// StateEvent is a state change of a worker hosted by a container.
type StateEvent struct {
	Worker *Worker
	State  State
}

// Info describes a hosted worker.
type Info struct {
	Version int    `json:"version"`
	State   State  `json:"state"`
	Static  string `json:"static_cache"`
	Data    string `json:"data_cache"`
}

// Snapshot is the registration state of a container.
type Snapshot struct {
	Controller *Info `json:"controller,omitempty"`
	Waiting    *Info `json:"waiting,omitempty"`
}

// Container hosts the workers of one scope, like a service worker
// registration. At most one worker controls requests; a newer installed
// worker waits until it is told to skip waiting.
type Container struct {
	base    Config
	storage cache.Storage
	fetcher Fetcher
	origin  *url.URL
	logger  zerolog.Logger

	mu         sync.Mutex
	controller *Worker
	waiting    *Worker

	updateFound      listeners[*Worker]
	controllerChange listeners[*Worker]
	stateChange      listeners[StateEvent]
}

// NewContainer creates an empty container. base supplies every setting
// except the version given to Register.
func NewContainer(base Config, storage cache.Storage, fetcher Fetcher) (*Container, error) {
	origin, err := parseOrigin(base.Origin)
	if err != nil {
		return nil, err
	}
	if fetcher == nil {
		fetcher = http.DefaultClient
	}
	return &Container{
		base:    base,
		storage: storage,
		fetcher: fetcher,
		origin:  origin,
		logger:  logging.NewLogger("container"),
	}, nil
}

// Register installs version. With no controller the new worker activates
// and takes control at once. Otherwise it waits, unless skip waiting was
// requested. Registering the controlling version again is a no-op.
func (c *Container) Register(ctx context.Context, version int) (*Worker, error) {
	c.mu.Lock()
	current := c.controller
	c.mu.Unlock()
	if current != nil && current.Version() == version {
		return current, nil
	}

	cfg := c.base
	cfg.Version = version
	w, err := New(cfg, c.storage, c.fetcher)
	if err != nil {
		return nil, err
	}
	w.OnStateChange(func(s State) {
		c.stateChange.emit(StateEvent{Worker: w, State: s})
	})

	if current != nil {
		c.logger.Info().Int("version", version).Int("controller", current.Version()).Msg("Update found")
		c.updateFound.emit(w)
	}

	if err := w.Install(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	w.mu.Lock()
	w.onSkip = c.promote
	w.mu.Unlock()
	hasController := c.controller != nil
	previous := c.waiting
	if hasController && !w.skipWaitingRequested() {
		c.waiting = w
	}
	c.mu.Unlock()

	if previous != nil && previous != w {
		previous.retire()
	}
	if !hasController || w.skipWaitingRequested() {
		if err := c.activate(ctx, w); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// promote activates w if it is the waiting worker.
func (c *Container) promote(w *Worker) {
	c.mu.Lock()
	waiting := c.waiting == w
	c.mu.Unlock()
	if !waiting {
		return
	}
	if err := c.activate(context.Background(), w); err != nil {
		c.logger.Warn().Err(err).Int("version", w.Version()).Msg("Skip waiting failed")
	}
}

// activate runs activation for w, then makes it the controller and retires
// the previous one.
func (c *Container) activate(ctx context.Context, w *Worker) error {
	if err := w.Activate(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	previous := c.controller
	c.controller = w
	if c.waiting == w {
		c.waiting = nil
	}
	c.mu.Unlock()

	if previous != nil && previous != w {
		previous.retire()
	}
	c.logger.Info().Int("version", w.Version()).Msg("Worker claimed clients")
	c.controllerChange.emit(w)
	return nil
}

// Controller returns the controlling worker, or nil.
func (c *Container) Controller() *Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller
}

// Waiting returns the installed worker waiting to activate, or nil.
func (c *Container) Waiting() *Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiting
}

// OnUpdateFound subscribes fn to new workers installing while a controller
// exists.
func (c *Container) OnUpdateFound(fn func(*Worker)) func() {
	return c.updateFound.add(fn)
}

// OnControllerChange subscribes fn to controller changes.
func (c *Container) OnControllerChange(fn func(*Worker)) func() {
	return c.controllerChange.add(fn)
}

// OnStateChange subscribes fn to state changes of every hosted worker.
func (c *Container) OnStateChange(fn func(StateEvent)) func() {
	return c.stateChange.add(fn)
}

// PostMessage delivers env to the controller.
func (c *Container) PostMessage(ctx context.Context, env message.Envelope) error {
	w := c.Controller()
	if w == nil {
		return ErrNoController
	}
	w.PostMessage(ctx, env)
	return nil
}

// HandleSync delivers a sync event to the controller.
func (c *Container) HandleSync(ctx context.Context, tag string) error {
	w := c.Controller()
	if w == nil {
		return ErrNoController
	}
	return w.HandleSync(ctx, tag)
}

// Snapshot reports the hosted workers.
func (c *Container) Snapshot() Snapshot {
	c.mu.Lock()
	controller, waiting := c.controller, c.waiting
	c.mu.Unlock()
	return Snapshot{Controller: info(controller), Waiting: info(waiting)}
}

func info(w *Worker) *Info {
	if w == nil {
		return nil
	}
	return &Info{Version: w.Version(), State: w.State(), Static: w.names.Static, Data: w.names.Data}
}

// ServeHTTP serves r through the controller, or straight from the origin
// when no worker is active.
func (c *Container) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if w := c.Controller(); w != nil {
		w.ServeHTTP(rw, r)
		return
	}

	resp, err := c.fetcher.Do(outboundRequest(c.origin, r))
	if err != nil {
		c.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("Uncontrolled request failed")
		http.Error(rw, "bad gateway", http.StatusBadGateway)
		return
	}
	writeResponse(rw, resp)
}
