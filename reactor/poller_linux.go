//go:build linux

package reactor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"mini-discovery/queue"
	"mini-discovery/wake"
)

// fdSource is a wake channel with a pollable descriptor.
type fdSource interface {
	wake.Channel
	Fd() int
}

// Poller is a level-triggered epoll reactor. Its wakes are eventfds.
type Poller struct {
	epfd int

	mu        sync.Mutex
	callbacks map[int]func() // fd → callback, copied out before the call

	tasks    taskQueue
	taskWake *wake.EventFD

	stopMu   sync.RWMutex // Orders Submit against Stop, see Loop
	stopping atomic.Bool
	running  atomic.Bool
	closed   atomic.Bool
	log      *zap.Logger
}

// NewPoller creates the epoll instance. A nil logger discards logs.
func NewPoller(log *zap.Logger) (*Poller, error) {
	if log == nil {
		log = zap.NewNop()
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll create: %w", err)
	}
	taskWake, err := wake.NewEventFD()
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}

	p := &Poller{
		epfd:      epfd,
		callbacks: make(map[int]func()),
		tasks:     taskQueue{tasks: queue.New[func()](), wake: taskWake, log: log},
		taskWake:  taskWake,
		log:       log,
	}
	if err := p.AddReadable(taskWake, p.tasks.run); err != nil {
		_ = taskWake.Close()
		_ = unix.Close(epfd)
		return nil, err
	}
	return p, nil
}

func (p *Poller) NewWake() (wake.Channel, error) {
	return wake.NewEventFD()
}

func (p *Poller) AddReadable(w wake.Channel, cb func()) error {
	src, ok := w.(fdSource)
	if !ok {
		return ErrUnsupportedWake
	}
	if p.closed.Load() {
		return ErrStopped
	}
	fd := src.Fd()

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.callbacks[fd]; ok {
		return ErrRegistered
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll ctl add: %w", err)
	}
	p.callbacks[fd] = cb
	return nil
}

func (p *Poller) RemoveReadable(w wake.Channel) error {
	src, ok := w.(fdSource)
	if !ok {
		return ErrUnsupportedWake
	}
	fd := src.Fd()

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.callbacks[fd]; !ok {
		return ErrNotRegistered
	}
	delete(p.callbacks, fd)
	if p.closed.Load() {
		return nil // epfd is gone, and the fd with it
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("reactor: epoll ctl del: %w", err)
	}
	return nil
}

func (p *Poller) Submit(fn func()) error {
	p.stopMu.RLock()
	defer p.stopMu.RUnlock()
	if p.stopping.Load() {
		return ErrStopped
	}
	return p.tasks.submit(fn)
}

// Stop makes Run return once the current batch of events is dispatched.
func (p *Poller) Stop() {
	p.stopMu.Lock()
	already := p.stopping.Swap(true)
	p.stopMu.Unlock()
	if already {
		return
	}
	_ = p.taskWake.Signal()
}

// Run polls and dispatches on the calling goroutine until Stop (nil) or ctx ends
// (ctx.Err()).
func (p *Poller) Run(ctx context.Context) error {
	if p.closed.Load() || p.stopping.Load() {
		return ErrStopped
	}
	if !p.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer p.running.Store(false)

	stopOnCancel := context.AfterFunc(ctx, p.Stop)
	defer stopOnCancel()

	var events [128]unix.EpollEvent
	for !p.stopping.Load() {
		n, err := unix.EpollWait(p.epfd, events[:], -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("reactor: epoll wait: %w", err)
		}
		for i := 0; i < n; i++ {
			p.mu.Lock()
			cb := p.callbacks[int(events[i].Fd)]
			p.mu.Unlock()
			if cb != nil {
				safeCall(p.log, cb)
			}
		}
	}

	p.tasks.run()
	return ctx.Err()
}

// Close releases the epoll instance and the task wake. It must not race with Run.
func (p *Poller) Close() error {
	if p.closed.Swap(true) {
		return ErrStopped
	}
	p.stopping.Store(true)
	err := unix.Close(p.epfd)
	if cerr := p.taskWake.Close(); err == nil {
		err = cerr
	}
	return err
}
