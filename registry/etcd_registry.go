package registry

// etcd is used as the directory of services:
//
//	Key:   /mini-discovery/{ServiceType}/{Addr}
//	Value: JSON-encoded ServiceInstance
//
// Registration attaches the key to a lease whose TTL is the registration lifetime,
// so an entry that is never deregistered disappears once its lifetime runs out.
// There is no KeepAlive: re-registering is how a service extends its lifetime.

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const DefaultEtcdPrefix = "/mini-discovery/"

// EtcdConfig configures the etcd backend.
type EtcdConfig struct {
	Endpoints   []string
	DialTimeout time.Duration // Also bounds the reachability probe in Open
	Prefix      string        // Key prefix, DefaultEtcdPrefix if empty
	Logger      *zap.Logger   // Handed to the etcd client
}

// EtcdRegistry implements Registry using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client
	prefix string
	// leases tracks the lease of every URL registered through this handle. The handle
	// is only used by one goroutine, so the map is not locked.
	leases map[string]clientv3.LeaseID
	closed bool
}

// EtcdOpener returns an Opener that connects a new EtcdRegistry per Open.
func EtcdOpener(cfg EtcdConfig) Opener {
	return OpenerFunc(func(ctx context.Context) (Registry, error) {
		return NewEtcdRegistry(ctx, cfg)
	})
}

// NewEtcdRegistry connects to etcd and checks that at least the first endpoint answers.
func NewEtcdRegistry(ctx context.Context, cfg EtcdConfig) (*EtcdRegistry, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("registry: etcd: no endpoints")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultEtcdPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	c, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: etcd: %w", err)
	}

	// clientv3.New connects lazily; probe so an unreachable cluster fails here
	probeCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if _, err := c.Status(probeCtx, cfg.Endpoints[0]); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("registry: etcd: %s unreachable: %w", cfg.Endpoints[0], err)
	}

	return &EtcdRegistry{
		client: c,
		prefix: cfg.Prefix,
		leases: make(map[string]clientv3.LeaseID),
	}, nil
}

func (r *EtcdRegistry) key(u ServiceURL) string {
	return r.prefix + u.Type + "/" + u.Addr
}

// Register stores the URL under a lease of lifetime seconds.
//
// Flow:
//  1. Grant a lease with TTL = lifetime
//  2. Put the instance with the lease attached
//  3. Revoke the lease of an earlier registration of the same URL, if any
func (r *EtcdRegistry) Register(ctx context.Context, serviceURL string, lifetime uint16) error {
	if r.closed {
		return ErrClosed
	}
	u, err := ParseServiceURL(serviceURL)
	if err != nil {
		return err
	}
	if lifetime == 0 {
		return ErrInvalidLifetime
	}

	lease, err := r.client.Grant(ctx, int64(lifetime))
	if err != nil {
		return err
	}

	val, err := json.Marshal(ServiceInstance{
		URL:          serviceURL,
		Type:         u.Type,
		Addr:         u.Addr,
		Lifetime:     lifetime,
		RegisteredAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	if _, err = r.client.Put(ctx, r.key(u), string(val), clientv3.WithLease(lease.ID)); err != nil {
		_, _ = r.client.Revoke(ctx, lease.ID)
		return err
	}

	// The key now hangs off the new lease, revoking the old one leaves it alone
	if old, ok := r.leases[serviceURL]; ok {
		_, _ = r.client.Revoke(ctx, old)
	}
	r.leases[serviceURL] = lease.ID
	return nil
}

// Deregister deletes the URL's key and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, serviceURL string) error {
	if r.closed {
		return ErrClosed
	}
	u, err := ParseServiceURL(serviceURL)
	if err != nil {
		return err
	}

	resp, err := r.client.Delete(ctx, r.key(u))
	if err != nil {
		return err
	}
	if lease, ok := r.leases[serviceURL]; ok {
		delete(r.leases, serviceURL)
		_, _ = r.client.Revoke(ctx, lease)
	}
	if resp.Deleted == 0 {
		return fmt.Errorf("%w: %s", ErrNotRegistered, serviceURL)
	}
	return nil
}

// Discover reads every key under the service type prefix. Keys come back sorted,
// so the result order is stable.
func (r *EtcdRegistry) Discover(ctx context.Context, serviceType string) ([]string, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if err := ValidateServiceType(serviceType); err != nil {
		return nil, err
	}

	// The prefix also catches concrete types ("service:printer:lpr") and unrelated
	// longer names ("service:printers"); Matches filters the latter out.
	resp, err := r.client.Get(ctx, r.prefix+serviceType, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // Skip malformed entries
		}
		u, err := ParseServiceURL(instance.URL)
		if err != nil || !u.Matches(serviceType) {
			continue
		}
		urls = append(urls, instance.URL)
	}
	return urls, nil
}

// Close closes the etcd client. Registrations stay until their leases expire.
func (r *EtcdRegistry) Close() error {
	if r.closed {
		return ErrClosed
	}
	r.closed = true
	return r.client.Close()
}
