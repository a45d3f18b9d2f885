package wake

import "sync/atomic"

// Notifier is a Channel built on a one-slot Go channel. Reactors watch C().
type Notifier struct {
	c      chan struct{}
	closed atomic.Bool
}

func NewNotifier() *Notifier {
	return &Notifier{c: make(chan struct{}, 1)}
}

// C becomes readable while a signal is pending. Receiving from it consumes the signal.
func (n *Notifier) C() <-chan struct{} {
	return n.c
}

func (n *Notifier) Signal() error {
	if n.closed.Load() {
		return ErrClosed
	}
	select {
	case n.c <- struct{}{}:
	default: // Already pending
	}
	return nil
}

func (n *Notifier) Drain() (int, error) {
	select {
	case <-n.c:
		return 1, nil
	default:
		return 0, nil
	}
}

// Close stops further signals. The channel itself is left open so a racing Signal
// cannot panic.
func (n *Notifier) Close() error {
	if n.closed.Swap(true) {
		return ErrClosed
	}
	return nil
}
