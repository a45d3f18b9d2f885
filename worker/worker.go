// Package worker runs the dedicated thread that owns the discovery backend.
//
// Lifecycle:
//
//	Uninitialized ──Init──► Opening ──Start──► Running ──Stop──► Stopping ──► Closed
//	                  │                                                  ▲
//	                  └──────────── open failed ─────────────────────────┘
//
// Init starts one goroutine, locks it to its OS thread and opens the backend there,
// so every backend call for the whole open lifetime is made by that one thread.
// The goroutine then parks until Start, and runs a private reactor.Loop watching two
// wake channels: incoming (new actions) and stop.
//
// On each incoming wake the worker drains the wake, drains the incoming queue, runs
// every action through the middleware chain into Action.Perform, hands each to the
// Outbox and notifies it once per batch.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"mini-discovery/action"
	"mini-discovery/middleware"
	"mini-discovery/queue"
	"mini-discovery/reactor"
	"mini-discovery/registry"
	"mini-discovery/wake"
)

var (
	ErrInit               = errors.New("worker: backend open failed")
	ErrNotInitialized     = errors.New("worker: not initialized")
	ErrAlreadyInitialized = errors.New("worker: already initialized")
	ErrAlreadyStarted     = errors.New("worker: already started")
	ErrNotStarted         = errors.New("worker: not started")
	ErrStopped            = errors.New("worker: stopped")
	ErrNilAction          = errors.New("worker: nil action")
)

// State is the worker lifecycle state.
type State int32

const (
	Uninitialized State = iota
	Opening
	Running
	Stopping
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Opening:
		return "opening"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Outbox receives performed actions. Push may be called many times per batch;
// Notify is called once after the batch.
type Outbox interface {
	Push(act action.Action)
	Notify() error
}

// Stats counts worker activity.
type Stats struct {
	Wakeups   uint64 // Incoming wake callbacks run
	Batches   uint64 // Non-empty drains of the incoming queue
	Performed uint64 // Actions handed to the backend pipeline
	Failed    uint64 // Actions that resolved with ok=false
}

type Option func(*Worker)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(w *Worker) {
		if log != nil {
			w.log = log
		}
	}
}

// WithMiddleware appends middlewares around every backend call, outermost first.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(w *Worker) {
		w.middlewares = append(w.middlewares, mws...)
	}
}

// Worker serializes every backend call onto one OS thread.
type Worker struct {
	opener      registry.Opener
	outbox      Outbox
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc
	log         *zap.Logger

	// mu makes "check state + push" atomic with respect to state changes, so nothing
	// can be queued once Stop has been observed.
	mu      sync.RWMutex
	state   atomic.Int32
	opened  bool  // Backend open succeeded, guarded by mu
	initErr error // Backend open error, guarded by mu

	incoming *queue.SafeQueue[action.Action]
	inWake   *wake.Notifier
	stopWake *wake.Notifier
	loop     *reactor.Loop

	release     chan struct{} // Closed by Start or Stop to unpark the goroutine
	releaseOnce sync.Once
	done        chan struct{} // Closed when the goroutine exits
	doneOnce    sync.Once

	// Worker goroutine only
	ctx context.Context
	reg registry.Registry

	wakeups   atomic.Uint64
	batches   atomic.Uint64
	performed atomic.Uint64
	failed    atomic.Uint64
}

// New returns an Uninitialized worker that opens its backend with opener and hands
// performed actions to outbox.
func New(opener registry.Opener, outbox Outbox, opts ...Option) *Worker {
	w := &Worker{
		opener:   opener,
		outbox:   outbox,
		log:      zap.NewNop(),
		incoming: queue.New[action.Action](),
		inWake:   wake.NewNotifier(),
		stopWake: wake.NewNotifier(),
		release:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.loop = reactor.NewLoop(w.log)
	// Build the chain once, not per action
	w.handler = middleware.Chain(w.middlewares...)(w.perform)
	return w
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) Stats() Stats {
	return Stats{
		Wakeups:   w.wakeups.Load(),
		Batches:   w.batches.Load(),
		Performed: w.performed.Load(),
		Failed:    w.failed.Load(),
	}
}

// Init starts the worker goroutine and opens the backend on its thread. It returns
// once the open has finished. On failure the worker is Closed and the error wraps
// ErrInit.
func (w *Worker) Init(ctx context.Context) error {
	w.mu.Lock()
	switch w.State() {
	case Uninitialized:
	case Closed, Stopping:
		w.mu.Unlock()
		return ErrStopped
	default:
		w.mu.Unlock()
		return ErrAlreadyInitialized
	}
	w.state.Store(int32(Opening))
	w.mu.Unlock()

	if err := w.loop.AddReadable(w.inWake, w.onIncoming); err != nil {
		return w.failInit(err)
	}
	if err := w.loop.AddReadable(w.stopWake, w.loop.Stop); err != nil {
		return w.failInit(err)
	}

	// Backend calls outlive Init's deadline but keep its values
	w.ctx = context.WithoutCancel(ctx)

	opened := make(chan error, 1)
	go w.run(ctx, opened)

	if err := <-opened; err != nil {
		return w.failInit(err)
	}

	w.mu.Lock()
	w.opened = true
	stopped := w.State() != Opening
	w.mu.Unlock()
	if stopped {
		// Stop ran during the open; the goroutine closes the backend again
		return ErrStopped
	}
	w.log.Info("worker: backend opened")
	return nil
}

func (w *Worker) failInit(err error) error {
	w.mu.Lock()
	w.initErr = fmt.Errorf("%w: %w", ErrInit, err)
	w.state.Store(int32(Closed))
	w.mu.Unlock()
	w.loop.Stop()
	w.doneOnce.Do(func() { close(w.done) })
	w.log.Error("worker: init failed", zap.Error(err))
	return w.initErr
}

// Start lets the initialized worker begin performing actions.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.State() {
	case Opening:
		if !w.opened {
			// Open still in flight: it may yet fail
			return ErrNotInitialized
		}
	case Uninitialized:
		return ErrNotInitialized
	case Running:
		return ErrAlreadyStarted
	default:
		if w.initErr != nil {
			return fmt.Errorf("%w: %w", ErrNotInitialized, w.initErr)
		}
		return ErrStopped
	}
	w.state.Store(int32(Running))
	w.releaseOnce.Do(func() { close(w.release) })
	return nil
}

// Submit queues act for the worker. It never blocks on the backend. Actions are
// accepted once Init has succeeded, before or after Start, until Stop.
func (w *Worker) Submit(act action.Action) error {
	if act == nil {
		return ErrNilAction
	}
	w.mu.RLock()
	defer w.mu.RUnlock()

	switch w.State() {
	case Opening:
		if !w.opened {
			return ErrNotInitialized
		}
	case Running:
	case Uninitialized:
		return ErrNotInitialized
	default:
		return ErrStopped
	}

	// Push before Signal: the worker drains the wake first, then the queue
	w.incoming.Push(act)
	return w.inWake.Signal()
}

// Stop asks the worker to finish. Every action already accepted is still performed
// and handed to the Outbox, then the backend is closed and the goroutine exits.
// Stop does not wait; use Join.
func (w *Worker) Stop() {
	w.mu.Lock()
	switch w.State() {
	case Opening, Running:
		w.state.Store(int32(Stopping))
	case Uninitialized:
		w.state.Store(int32(Closed))
		w.mu.Unlock()
		w.doneOnce.Do(func() { close(w.done) })
		return
	default:
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	_ = w.stopWake.Signal()
	// A worker stopped before Start still drains what was queued
	w.releaseOnce.Do(func() { close(w.release) })
}

// Join blocks until the worker goroutine has exited or ctx ends. A worker that was
// initialized but neither started nor stopped would never exit, so Join refuses it.
func (w *Worker) Join(ctx context.Context) error {
	switch w.State() {
	case Uninitialized:
		return ErrNotInitialized
	case Opening:
		return ErrNotStarted
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// run is the worker goroutine.
//
// Flow:
//  1. Lock to the OS thread and open the backend
//  2. Report the open result to Init, park until Start or Stop
//  3. Run the private loop until the stop wake fires
//  4. Final drain, close the backend
func (w *Worker) run(ctx context.Context, opened chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	reg, err := w.opener.Open(ctx)
	if err == nil && reg == nil {
		err = errors.New("opener returned no registry")
	}
	if err != nil {
		// failInit closes done
		opened <- err
		return
	}
	w.reg = reg
	defer w.doneOnce.Do(func() { close(w.done) })
	opened <- nil

	<-w.release

	if err := w.loop.Run(context.Background()); err != nil {
		w.log.Error("worker: loop exited", zap.Error(err))
	}

	// Stop excluded new submissions before signalling, so this empties the queue for good
	w.processIncoming()

	if err := w.reg.Close(); err != nil {
		w.log.Warn("worker: backend close failed", zap.Error(err))
	}
	w.reg = nil

	w.mu.Lock()
	w.state.Store(int32(Closed))
	w.mu.Unlock()
	w.log.Info("worker: stopped", zap.Uint64("performed", w.performed.Load()))
}

func (w *Worker) onIncoming() {
	w.wakeups.Add(1)
	w.processIncoming()
}

// processIncoming performs one drained batch in FIFO order.
func (w *Worker) processIncoming() {
	// Wake first, queue second: a signal landing after DrainAll causes another pass
	_, _ = w.inWake.Drain()
	batch := w.incoming.DrainAll()
	if len(batch) == 0 {
		return
	}
	w.batches.Add(1)

	for _, act := range batch {
		w.performOne(act)
		w.performed.Add(1)
		if !act.OK() {
			w.failed.Add(1)
		}
		w.outbox.Push(act)
	}

	// One notification per batch
	if err := w.outbox.Notify(); err != nil {
		w.log.Error("worker: outbox notify failed", zap.Error(err), zap.Int("batch", len(batch)))
	}
}

// performOne runs act through the chain. A panic fails only this action; the rest
// of the batch is still performed and every callback still fires.
func (w *Worker) performOne(act action.Action) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("worker: action panicked",
				zap.Stringer("kind", act.Kind()),
				zap.String("target", act.Target()),
				zap.Any("panic", r),
			)
		}
	}()
	// Errors are already in act.OK() and were logged by the chain
	_ = w.handler(w.ctx, act)
}

// perform is the innermost handler of the chain.
func (w *Worker) perform(ctx context.Context, act action.Action) error {
	return act.Perform(ctx, w.reg)
}
