package registry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryDirectory is an in-process service directory. Every handle opened from the
// same directory sees the same registrations, the way handles on a real network
// directory would. Entries expire after their lifetime.
type MemoryDirectory struct {
	mu      sync.Mutex
	entries []*memoryEntry // Registration order
	now     func() time.Time
}

type memoryEntry struct {
	url      ServiceURL
	instance ServiceInstance
	expires  time.Time
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{now: time.Now}
}

// SetClock replaces the time source used for lifetime expiry.
func (d *MemoryDirectory) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// Open returns a new handle onto the directory.
func (d *MemoryDirectory) Open(ctx context.Context) (Registry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryRegistry{dir: d}, nil
}

// Len returns the number of live registrations.
func (d *MemoryDirectory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expireLocked()
	return len(d.entries)
}

func (d *MemoryDirectory) expireLocked() {
	now := d.now()
	live := d.entries[:0]
	for _, e := range d.entries {
		if now.Before(e.expires) {
			live = append(live, e)
		}
	}
	for i := len(live); i < len(d.entries); i++ {
		d.entries[i] = nil
	}
	d.entries = live
}

func (d *MemoryDirectory) register(u ServiceURL, raw string, lifetime uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expireLocked()

	now := d.now()
	entry := &memoryEntry{
		url: u,
		instance: ServiceInstance{
			URL:          raw,
			Type:         u.Type,
			Addr:         u.Addr,
			Lifetime:     lifetime,
			RegisteredAt: now,
		},
		expires: now.Add(time.Duration(lifetime) * time.Second),
	}
	// Re-registration refreshes in place, keeping the original position
	for i, e := range d.entries {
		if e.instance.URL == raw {
			d.entries[i] = entry
			return
		}
	}
	d.entries = append(d.entries, entry)
}

func (d *MemoryDirectory) deregister(raw string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expireLocked()

	for i, e := range d.entries {
		if e.instance.URL == raw {
			last := len(d.entries) - 1
			copy(d.entries[i:], d.entries[i+1:])
			d.entries[last] = nil
			d.entries = d.entries[:last]
			return true
		}
	}
	return false
}

func (d *MemoryDirectory) discover(serviceType string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expireLocked()

	urls := make([]string, 0)
	for _, e := range d.entries {
		if e.url.Matches(serviceType) {
			urls = append(urls, e.instance.URL)
		}
	}
	return urls
}

// memoryRegistry is a handle onto a MemoryDirectory.
type memoryRegistry struct {
	dir    *MemoryDirectory
	closed bool
}

func (r *memoryRegistry) Register(ctx context.Context, serviceURL string, lifetime uint16) error {
	if r.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	u, err := ParseServiceURL(serviceURL)
	if err != nil {
		return err
	}
	if lifetime == 0 {
		return ErrInvalidLifetime
	}
	r.dir.register(u, serviceURL, lifetime)
	return nil
}

func (r *memoryRegistry) Deregister(ctx context.Context, serviceURL string) error {
	if r.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := ParseServiceURL(serviceURL); err != nil {
		return err
	}
	if !r.dir.deregister(serviceURL) {
		return fmt.Errorf("%w: %s", ErrNotRegistered, serviceURL)
	}
	return nil
}

func (r *memoryRegistry) Discover(ctx context.Context, serviceType string) ([]string, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateServiceType(serviceType); err != nil {
		return nil, err
	}
	return r.dir.discover(serviceType), nil
}

func (r *memoryRegistry) Close() error {
	if r.closed {
		return ErrClosed
	}
	r.closed = true
	return nil
}
