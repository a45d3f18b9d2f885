// Package dispatch delivers performed actions back to the caller's reactor.
//
// A Dispatcher owns the outgoing queue and a wake channel created by, and registered
// with, the caller's reactor. The worker pushes performed actions and notifies once
// per batch; the reactor then runs the Dispatcher on its own goroutine, which completes
// every queued action in FIFO order. Callbacks never run anywhere else.
package dispatch

import (
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"mini-discovery/action"
	"mini-discovery/queue"
	"mini-discovery/reactor"
	"mini-discovery/wake"
)

var ErrClosed = errors.New("dispatch: closed")

// Stats counts dispatcher activity.
type Stats struct {
	Wakeups   uint64 // Reactor wake callbacks run
	Completed uint64 // Callbacks delivered
}

// Dispatcher completes actions on the caller's reactor goroutine.
type Dispatcher struct {
	reactor  reactor.Reactor
	wake     wake.Channel
	outgoing *queue.SafeQueue[action.Action]
	log      *zap.Logger
	closed   atomic.Bool

	wakeups   atomic.Uint64
	completed atomic.Uint64
}

// New creates the outgoing wake channel on r and registers the Dispatcher with it.
func New(r reactor.Reactor, log *zap.Logger) (*Dispatcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	w, err := r.NewWake()
	if err != nil {
		return nil, fmt.Errorf("dispatch: create wake: %w", err)
	}
	d := &Dispatcher{
		reactor:  r,
		wake:     w,
		outgoing: queue.New[action.Action](),
		log:      log,
	}
	if err := r.AddReadable(w, d.onWake); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("dispatch: register wake: %w", err)
	}
	return d, nil
}

// Push queues a performed action. Safe from any goroutine.
func (d *Dispatcher) Push(act action.Action) {
	d.outgoing.Push(act)
}

// Notify wakes the caller's reactor. Safe from any goroutine.
func (d *Dispatcher) Notify() error {
	if d.closed.Load() {
		return ErrClosed
	}
	return d.wake.Signal()
}

// Pending returns the number of actions waiting for their callback.
func (d *Dispatcher) Pending() int {
	return d.outgoing.Len()
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Wakeups:   d.wakeups.Load(),
		Completed: d.completed.Load(),
	}
}

func (d *Dispatcher) onWake() {
	d.wakeups.Add(1)
	d.completeAll()
}

// Flush completes every pending action on the calling goroutine. Only call it from
// the reactor goroutine, or once the reactor has stopped running.
func (d *Dispatcher) Flush() int {
	return d.completeAll()
}

func (d *Dispatcher) completeAll() int {
	// Signal before queue, see wake package
	if _, err := d.wake.Drain(); err != nil && !errors.Is(err, wake.ErrClosed) {
		d.log.Warn("dispatch: drain wake failed", zap.Error(err))
	}
	batch := d.outgoing.DrainAll()
	for _, act := range batch {
		d.complete(act)
	}
	d.completed.Add(uint64(len(batch)))
	return len(batch)
}

// complete runs one callback; a panicking callback does not drop the rest of the batch.
func (d *Dispatcher) complete(act action.Action) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatch: callback panicked",
				zap.Stringer("kind", act.Kind()),
				zap.String("target", act.Target()),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	act.Complete()
}

// Close unregisters from the reactor, completes whatever is still pending on the
// calling goroutine and closes the wake channel. Call it from the reactor goroutine
// or after the reactor has stopped, and only once the producer is done pushing.
func (d *Dispatcher) Close() error {
	if d.closed.Swap(true) {
		return ErrClosed
	}
	var errs []error
	if err := d.reactor.RemoveReadable(d.wake); err != nil && !errors.Is(err, reactor.ErrStopped) {
		errs = append(errs, err)
	}
	d.completeAll()
	if err := d.wake.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
