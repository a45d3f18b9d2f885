// Package discovery lets a single-threaded, reactor-driven program use a blocking,
// non-reentrant discovery backend without blocking its reactor.
//
// A Thread pairs a worker (one OS thread that owns the backend) with a dispatcher
// registered on the caller's reactor:
//
//	caller ──Register/DeRegister/Discover──► incoming queue ──wake──► worker thread
//	                                                                   │ Perform
//	caller reactor ◄──wake── outgoing queue ◄──────────────────────────┘
//	  └─► callback
//
// Requests never block. Every accepted request fires its callback exactly once, on
// the goroutine running the caller's reactor, in submission order.
//
// Typical use:
//
//	t, _ := discovery.New(loop, registry.EtcdOpener(cfg), discovery.WithLogger(log))
//	if err := t.Init(ctx); err != nil { ... }
//	_ = t.Start()
//	_ = t.Register(func(ok bool) { ... }, "service:lighting://10.0.0.1:5568", 3600)
//	...
//	_ = t.Shutdown(ctx)
package discovery

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"mini-discovery/action"
	"mini-discovery/dispatch"
	"mini-discovery/middleware"
	"mini-discovery/reactor"
	"mini-discovery/registry"
	"mini-discovery/worker"
)

const DefaultServiceType = "service:lighting"

// Callback types, re-exported for callers.
type (
	RegistrationCallback = action.RegistrationCallback
	DiscoveryCallback    = action.DiscoveryCallback
)

type options struct {
	serviceType string
	log         *zap.Logger
	middlewares []middleware.Middleware
}

type Option func(*options)

// WithServiceType sets the service type Discover looks up.
func WithServiceType(serviceType string) Option {
	return func(o *options) { o.serviceType = serviceType }
}

func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMiddleware wraps every backend call, outermost first.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

// Stats is a snapshot of both sides of the handoff.
type Stats struct {
	Worker     worker.Stats
	Dispatcher dispatch.Stats
}

// Thread is the discovery worker thread seen from the caller.
type Thread struct {
	serviceType string
	log         *zap.Logger
	dispatcher  *dispatch.Dispatcher
	worker      *worker.Worker
}

// New registers a dispatcher with r and prepares a worker that will open the backend
// with opener. Nothing is opened until Init.
func New(r reactor.Reactor, opener registry.Opener, opts ...Option) (*Thread, error) {
	o := options{serviceType: DefaultServiceType, log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := registry.ValidateServiceType(o.serviceType); err != nil {
		return nil, err
	}
	if opener == nil {
		return nil, errors.New("discovery: nil opener")
	}

	d, err := dispatch.New(r, o.log.Named("dispatch"))
	if err != nil {
		return nil, err
	}
	w := worker.New(opener, d,
		worker.WithLogger(o.log.Named("worker")),
		worker.WithMiddleware(o.middlewares...),
	)
	return &Thread{
		serviceType: o.serviceType,
		log:         o.log,
		dispatcher:  d,
		worker:      w,
	}, nil
}

func (t *Thread) ServiceType() string {
	return t.serviceType
}

func (t *Thread) State() worker.State {
	return t.worker.State()
}

func (t *Thread) Stats() Stats {
	return Stats{Worker: t.worker.Stats(), Dispatcher: t.dispatcher.Stats()}
}

// Init opens the backend on the worker thread. A failure wraps worker.ErrInit and
// leaves the Thread unusable: Start fails and no callback will ever fire.
func (t *Thread) Init(ctx context.Context) error {
	return t.worker.Init(ctx)
}

// Start lets the worker perform requests. Requests made between Init and Start are
// queued and performed once it runs.
func (t *Thread) Start() error {
	return t.worker.Start()
}

// Discover looks up every URL registered under the Thread's service type.
func (t *Thread) Discover(cb DiscoveryCallback) error {
	return t.worker.Submit(action.NewDiscover(t.serviceType, cb))
}

// Register advertises url for lifetime seconds; 0 means registry.LifetimeMaximum.
func (t *Thread) Register(cb RegistrationCallback, url string, lifetime uint16) error {
	return t.worker.Submit(action.NewRegister(url, lifetime, cb))
}

func (t *Thread) DeRegister(cb RegistrationCallback, url string) error {
	return t.worker.Submit(action.NewDeregister(url, cb))
}

// Stop asks the worker to finish the queued requests, close the backend and exit.
// Later requests fail with worker.ErrStopped.
func (t *Thread) Stop() {
	t.worker.Stop()
}

// Join waits for the worker thread to exit.
func (t *Thread) Join(ctx context.Context) error {
	return t.worker.Join(ctx)
}

// Shutdown is Stop followed by Join.
func (t *Thread) Shutdown(ctx context.Context) error {
	t.Stop()
	return t.Join(ctx)
}

// Close shuts the worker down, then completes any callbacks still pending on the
// calling goroutine and unregisters from the reactor. Call it from the reactor
// goroutine or after the reactor has stopped.
func (t *Thread) Close() error {
	if err := t.Shutdown(context.Background()); err != nil {
		return err
	}
	if err := t.dispatcher.Close(); err != nil {
		return err
	}
	t.log.Debug("discovery: closed", zap.Uint64("completed", t.dispatcher.Stats().Completed))
	return nil
}
