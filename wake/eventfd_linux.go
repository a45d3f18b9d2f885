//go:build linux

package wake

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// EventFD is a Channel backed by a non-blocking Linux eventfd, for reactors that
// poll file descriptors. The kernel counter does the coalescing: any number of
// writes leave the fd readable once, and one read resets it.
type EventFD struct {
	mu     sync.RWMutex // Write-locked by Close so no Signal or Drain uses a recycled fd
	fd     int
	closed bool
}

func NewEventFD() (*EventFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("wake: eventfd: %w", err)
	}
	return &EventFD{fd: fd}, nil
}

// Fd is the descriptor to register for readability.
func (e *EventFD) Fd() int {
	return e.fd
}

func (e *EventFD) Signal() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}

	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(e.fd, buf[:])
		switch {
		case err == nil:
			return nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return nil // Counter saturated, so it is readable anyway
		default:
			return fmt.Errorf("wake: eventfd write: %w", err)
		}
	}
}

// Drain returns the number of signals accumulated since the last Drain.
func (e *EventFD) Drain() (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return 0, ErrClosed
	}

	var buf [8]byte
	for {
		_, err := unix.Read(e.fd, buf[:])
		switch {
		case err == nil:
			return int(binary.NativeEndian.Uint64(buf[:])), nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, nil
		default:
			return 0, fmt.Errorf("wake: eventfd read: %w", err)
		}
	}
}

func (e *EventFD) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.closed = true
	return unix.Close(e.fd)
}
