package reactor

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"mini-discovery/queue"
	"mini-discovery/wake"
)

// Loop is a reactor over wake.Notifier channels.
//
// The set of watched channels changes at runtime, so Run selects over a
// reflect.SelectCase slice that is rebuilt whenever AddReadable/RemoveReadable
// bump the generation:
//
//	cases[0]   ctx.Done()
//	cases[1]   stop
//	cases[2]   task wake
//	cases[3:]  registered notifiers, in registration order
type Loop struct {
	mu      sync.Mutex
	sources []loopSource
	gen     uint64

	tasks    taskQueue
	taskWake *wake.Notifier

	// stopMu orders Submit against Stop: a task accepted before Stop is in the queue
	// before the final drain.
	stopMu   sync.RWMutex
	stop     chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool
	running  atomic.Bool
	log      *zap.Logger
}

type loopSource struct {
	n  *wake.Notifier
	cb func()
}

const loopFixedCases = 3

// NewLoop returns a Loop. A nil logger discards logs.
func NewLoop(log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	taskWake := wake.NewNotifier()
	return &Loop{
		tasks:    taskQueue{tasks: queue.New[func()](), wake: taskWake, log: log},
		taskWake: taskWake,
		stop:     make(chan struct{}),
		log:      log,
	}
}

func (l *Loop) NewWake() (wake.Channel, error) {
	return wake.NewNotifier(), nil
}

func (l *Loop) AddReadable(w wake.Channel, cb func()) error {
	n, ok := w.(*wake.Notifier)
	if !ok {
		return ErrUnsupportedWake
	}
	l.mu.Lock()
	for _, s := range l.sources {
		if s.n == n {
			l.mu.Unlock()
			return ErrRegistered
		}
	}
	l.sources = append(l.sources, loopSource{n: n, cb: cb})
	l.gen++
	l.mu.Unlock()

	// Make a running loop pick up the new case set
	return l.taskWake.Signal()
}

func (l *Loop) RemoveReadable(w wake.Channel) error {
	n, ok := w.(*wake.Notifier)
	if !ok {
		return ErrUnsupportedWake
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.sources {
		if s.n == n {
			l.sources = append(l.sources[:i:i], l.sources[i+1:]...)
			l.gen++
			_ = l.taskWake.Signal()
			return nil
		}
	}
	return ErrNotRegistered
}

func (l *Loop) Submit(fn func()) error {
	l.stopMu.RLock()
	defer l.stopMu.RUnlock()
	if l.stopped.Load() {
		return ErrStopped
	}
	return l.tasks.submit(fn)
}

// Stop makes Run return after it finishes the callback in progress. Tasks already
// submitted still run. A stopped Loop cannot be run again.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.stopMu.Lock()
		l.stopped.Store(true)
		l.stopMu.Unlock()
		close(l.stop)
	})
}

// Run dispatches callbacks on the calling goroutine until Stop is called (nil) or
// ctx ends (ctx.Err()).
func (l *Loop) Run(ctx context.Context) error {
	if l.stopped.Load() {
		return ErrStopped
	}
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer l.running.Store(false)

	var (
		cases     []reflect.SelectCase
		callbacks []func()
		gen       uint64
		built     bool
	)
	for {
		l.mu.Lock()
		if !built || gen != l.gen {
			cases, callbacks = l.buildCasesLocked(ctx)
			gen, built = l.gen, true
		}
		l.mu.Unlock()

		chosen, _, _ := reflect.Select(cases)
		switch chosen {
		case 0:
			l.Stop()
			l.tasks.run()
			return ctx.Err()
		case 1:
			l.tasks.run()
			return nil
		case 2:
			l.tasks.run()
		default:
			safeCall(l.log, callbacks[chosen-loopFixedCases])
		}
	}
}

func (l *Loop) buildCasesLocked(ctx context.Context) ([]reflect.SelectCase, []func()) {
	cases := make([]reflect.SelectCase, 0, loopFixedCases+len(l.sources))
	cases = append(cases,
		reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())},
		reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(l.stop)},
		reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(l.taskWake.C())},
	)
	callbacks := make([]func(), 0, len(l.sources))
	for _, s := range l.sources {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(s.n.C())})
		callbacks = append(callbacks, s.cb)
	}
	return cases, callbacks
}
