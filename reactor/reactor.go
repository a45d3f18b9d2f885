// Package reactor defines the event-loop contract the discovery thread integrates
// with, and two implementations of it:
//
//   - Loop:   a select-driven loop over wake.Notifier channels. The worker thread runs
//     one of these as its private reactor; callers without an event loop of their own
//     can use one too.
//   - Poller: an epoll loop over file descriptors (Linux), whose wakes are eventfds.
//
// Every callback registered with a reactor runs on the goroutine that called Run.
package reactor

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mini-discovery/queue"
	"mini-discovery/wake"
)

var (
	ErrStopped         = errors.New("reactor: stopped")
	ErrRunning         = errors.New("reactor: already running")
	ErrUnsupportedWake = errors.New("reactor: wake channel type not supported by this reactor")
	ErrRegistered      = errors.New("reactor: wake channel already registered")
	ErrNotRegistered   = errors.New("reactor: wake channel not registered")
)

// Reactor is what the discovery thread needs from the caller's event loop.
type Reactor interface {
	// NewWake creates a wake channel this reactor can watch.
	NewWake() (wake.Channel, error)
	// AddReadable arranges for cb to run on the reactor goroutine whenever w is
	// signalled. Several signals may produce a single call.
	AddReadable(w wake.Channel, cb func()) error
	// RemoveReadable undoes AddReadable. A call already dispatched may still run.
	RemoveReadable(w wake.Channel) error
	// Submit runs fn on the reactor goroutine.
	Submit(fn func()) error
}

// taskQueue runs functions submitted from other goroutines on the reactor goroutine.
// It is the same queue + wake pairing the discovery thread itself uses.
type taskQueue struct {
	tasks *queue.SafeQueue[func()]
	wake  wake.Channel
	log   *zap.Logger
}

func (q *taskQueue) submit(fn func()) error {
	if fn == nil {
		return fmt.Errorf("reactor: nil task")
	}
	q.tasks.Push(fn)
	return q.wake.Signal()
}

// run drains the wake, then every queued task.
func (q *taskQueue) run() {
	_, _ = q.wake.Drain()
	for _, fn := range q.tasks.DrainAll() {
		safeCall(q.log, fn)
	}
}

// safeCall keeps the reactor alive when a callback panics.
func safeCall(log *zap.Logger, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("reactor: callback panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}
