// Package wake provides the cross-goroutine wake-up signal used alongside a SafeQueue.
//
// A wake carries no payload: only the fact that it happened matters. Any number of
// Signal calls before a Drain coalesce into a single pending wake, which is only safe
// because the consumer drains its whole queue every time it wakes. Consumers drain the
// wake first and the queue second, so an item pushed after the queue drain always
// leaves a wake pending for the next round.
package wake

import "errors"

var (
	ErrClosed      = errors.New("wake: closed")
	ErrUnsupported = errors.New("wake: unsupported on this platform")
)

// Channel is a coalescing wake-up signal.
type Channel interface {
	// Signal marks the channel readable. It never blocks.
	Signal() error
	// Drain consumes every pending signal without blocking and reports how many
	// coalesced signals it found (0 if none; implementations may report 1 for any
	// non-zero amount).
	Drain() (int, error)
	Close() error
}
