package worker

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"mini-discovery/action"
	"mini-discovery/registry"
)

// tidRegistry records the OS thread of every backend call.
type tidRegistry struct {
	mu   sync.Mutex
	tids map[int]int
}

func (r *tidRegistry) note() {
	r.mu.Lock()
	r.tids[unix.Gettid()]++
	r.mu.Unlock()
}

func (r *tidRegistry) Register(ctx context.Context, serviceURL string, lifetime uint16) error {
	r.note()
	return nil
}

func (r *tidRegistry) Deregister(ctx context.Context, serviceURL string) error {
	r.note()
	return nil
}

func (r *tidRegistry) Discover(ctx context.Context, serviceType string) ([]string, error) {
	r.note()
	return []string{}, nil
}

func (r *tidRegistry) Close() error {
	r.note()
	return nil
}

func TestBackendStaysOnOneThread(t *testing.T) {
	reg := &tidRegistry{tids: make(map[int]int)}
	opener := registry.OpenerFunc(func(ctx context.Context) (registry.Registry, error) {
		reg.note()
		return reg, nil
	})
	out := &fakeOutbox{}
	w := New(opener, out)
	require.NoError(t, w.Init(context.Background()))
	require.NoError(t, w.Start())

	for i := 0; i < 100; i++ {
		require.NoError(t, w.Submit(action.NewRegister(url(i), 10, nil)))
		require.NoError(t, w.Submit(action.NewDiscover("service:lighting", nil)))
	}
	out.waitFor(t, 200)
	w.Stop()
	require.NoError(t, w.Join(context.Background()))

	// open, 200 calls and close, all from one OS thread
	require.Len(t, reg.tids, 1)
	for _, n := range reg.tids {
		require.Equal(t, 202, n)
	}
}
