// Package registry defines the discovery backend driven by the worker thread.
//
// A Registry is a handle to a directory of network services. Implementations are
// free to block, and callers must treat a handle as non-reentrant: exactly one
// goroutine (the worker) uses a handle between Open and Close.
//
//	Opener.Open ──► Registry ──► Register / Deregister / Discover ... ──► Close
package registry

import (
	"context"
	"errors"
	"time"
)

// LifetimeMaximum is the longest registration lifetime, in seconds.
const LifetimeMaximum uint16 = 65535

var (
	ErrClosed          = errors.New("registry: handle closed")
	ErrInvalidURL      = errors.New("registry: invalid service url")
	ErrInvalidLifetime = errors.New("registry: invalid lifetime")
	ErrNotRegistered   = errors.New("registry: service not registered")
)

// ServiceInstance is the record stored for every registered service URL.
type ServiceInstance struct {
	URL          string    `json:"url"`
	Type         string    `json:"type"`
	Addr         string    `json:"addr"`
	Lifetime     uint16    `json:"lifetime"` // Seconds
	RegisteredAt time.Time `json:"registered_at"`
}

// Registry is an open handle to a discovery backend.
type Registry interface {
	// Register advertises serviceURL for lifetime seconds.
	Register(ctx context.Context, serviceURL string, lifetime uint16) error
	// Deregister withdraws serviceURL.
	Deregister(ctx context.Context, serviceURL string) error
	// Discover returns the URLs currently registered under serviceType.
	Discover(ctx context.Context, serviceType string) ([]string, error)
	// Close releases the handle. No other method may be called afterwards.
	Close() error
}

// Opener opens backend handles.
type Opener interface {
	Open(ctx context.Context) (Registry, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context) (Registry, error)

func (f OpenerFunc) Open(ctx context.Context) (Registry, error) {
	return f(ctx)
}

// EffectiveLifetime maps the zero lifetime to LifetimeMaximum.
func EffectiveLifetime(lifetime uint16) uint16 {
	if lifetime == 0 {
		return LifetimeMaximum
	}
	return lifetime
}
