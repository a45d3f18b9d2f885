package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-discovery/action"
	"mini-discovery/registry"
)

// fakeOutbox collects performed actions in arrival order.
type fakeOutbox struct {
	mu       sync.Mutex
	acts     []action.Action
	notifies int
}

func (o *fakeOutbox) Push(act action.Action) {
	o.mu.Lock()
	o.acts = append(o.acts, act)
	o.mu.Unlock()
}

func (o *fakeOutbox) Notify() error {
	o.mu.Lock()
	o.notifies++
	o.mu.Unlock()
	return nil
}

func (o *fakeOutbox) snapshot() []action.Action {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]action.Action(nil), o.acts...)
}

func (o *fakeOutbox) waitFor(t *testing.T, n int) []action.Action {
	t.Helper()
	require.Eventually(t, func() bool { return len(o.snapshot()) >= n }, 5*time.Second, time.Millisecond)
	return o.snapshot()
}

// probeRegistry records concurrency and lets tests inject failures.
type probeRegistry struct {
	inside    atomic.Int32
	maxInside atomic.Int32
	calls     atomic.Int32
	closed    atomic.Bool
	delay     time.Duration
	panicOn   string
}

func (r *probeRegistry) enter() func() {
	n := r.inside.Add(1)
	for {
		m := r.maxInside.Load()
		if n <= m || r.maxInside.CompareAndSwap(m, n) {
			break
		}
	}
	r.calls.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	return func() { r.inside.Add(-1) }
}

func (r *probeRegistry) Register(ctx context.Context, serviceURL string, lifetime uint16) error {
	defer r.enter()()
	if serviceURL == r.panicOn {
		panic("backend blew up on " + serviceURL)
	}
	return nil
}

func (r *probeRegistry) Deregister(ctx context.Context, serviceURL string) error {
	defer r.enter()()
	return nil
}

func (r *probeRegistry) Discover(ctx context.Context, serviceType string) ([]string, error) {
	defer r.enter()()
	return nil, nil
}

func (r *probeRegistry) Close() error {
	r.closed.Store(true)
	return nil
}

func openerFor(reg registry.Registry) registry.Opener {
	return registry.OpenerFunc(func(ctx context.Context) (registry.Registry, error) {
		return reg, nil
	})
}

func url(i int) string {
	return fmt.Sprintf("service:lighting://host-%d:5568", i)
}

func index(t *testing.T, act action.Action) int {
	t.Helper()
	var i int
	_, err := fmt.Sscanf(act.Target(), "service:lighting://host-%d:5568", &i)
	require.NoError(t, err)
	return i
}

func TestInitFailure(t *testing.T) {
	boom := errors.New("directory agent unreachable")
	out := &fakeOutbox{}
	w := New(registry.OpenerFunc(func(ctx context.Context) (registry.Registry, error) {
		return nil, boom
	}), out)

	err := w.Init(context.Background())
	require.ErrorIs(t, err, ErrInit)
	require.ErrorIs(t, err, boom)
	require.Equal(t, Closed, w.State())

	require.ErrorIs(t, w.Start(), ErrNotInitialized)
	require.ErrorIs(t, w.Submit(action.NewDiscover("service:lighting", nil)), ErrStopped)
	require.NoError(t, w.Join(context.Background()))
	require.Empty(t, out.snapshot())
}

// gatedOpener blocks Open until release is closed, then returns reg or err.
type gatedOpener struct {
	entered chan struct{}
	release chan struct{}
	reg     registry.Registry
	err     error
}

func newGatedOpener(reg registry.Registry, err error) *gatedOpener {
	return &gatedOpener{entered: make(chan struct{}), release: make(chan struct{}), reg: reg, err: err}
}

func (g *gatedOpener) Open(ctx context.Context) (registry.Registry, error) {
	close(g.entered)
	<-g.release
	return g.reg, g.err
}

func TestStartDuringFailingOpen(t *testing.T) {
	opener := newGatedOpener(nil, errors.New("unreachable"))
	out := &fakeOutbox{}
	w := New(opener, out)

	initErr := make(chan error, 1)
	go func() { initErr <- w.Init(context.Background()) }()
	<-opener.entered

	// Neither may succeed while the open can still fail
	require.ErrorIs(t, w.Start(), ErrNotInitialized)
	require.ErrorIs(t, w.Submit(action.NewRegister(url(0), 30, nil)), ErrNotInitialized)

	close(opener.release)
	require.ErrorIs(t, <-initErr, ErrInit)
	require.Equal(t, Closed, w.State())
	require.ErrorIs(t, w.Start(), ErrNotInitialized)
	require.Empty(t, out.snapshot())
}

func TestStopDuringOpen(t *testing.T) {
	reg := &probeRegistry{}
	opener := newGatedOpener(reg, nil)
	w := New(opener, &fakeOutbox{})

	initErr := make(chan error, 1)
	go func() { initErr <- w.Init(context.Background()) }()
	<-opener.entered

	w.Stop()
	close(opener.release)
	require.ErrorIs(t, <-initErr, ErrStopped)

	require.NoError(t, w.Join(context.Background()))
	require.Equal(t, Closed, w.State())
	require.True(t, reg.closed.Load())
}

func TestLifecycleErrors(t *testing.T) {
	w := New(openerFor(&probeRegistry{}), &fakeOutbox{})

	require.ErrorIs(t, w.Start(), ErrNotInitialized)
	require.ErrorIs(t, w.Submit(action.NewDiscover("service:lighting", nil)), ErrNotInitialized)
	require.ErrorIs(t, w.Join(context.Background()), ErrNotInitialized)
	require.ErrorIs(t, w.Submit(nil), ErrNilAction)

	require.NoError(t, w.Init(context.Background()))
	require.Equal(t, Opening, w.State())
	require.ErrorIs(t, w.Init(context.Background()), ErrAlreadyInitialized)
	require.ErrorIs(t, w.Join(context.Background()), ErrNotStarted)

	require.NoError(t, w.Start())
	require.Equal(t, Running, w.State())
	require.ErrorIs(t, w.Start(), ErrAlreadyStarted)

	w.Stop()
	require.NoError(t, w.Join(context.Background()))
	require.Equal(t, Closed, w.State())
	require.ErrorIs(t, w.Start(), ErrStopped)
	require.ErrorIs(t, w.Init(context.Background()), ErrStopped)
	w.Stop() // No-op once closed
}

func TestStopBeforeInit(t *testing.T) {
	w := New(openerFor(&probeRegistry{}), &fakeOutbox{})
	w.Stop()
	require.Equal(t, Closed, w.State())
	require.NoError(t, w.Join(context.Background()))
}

func TestPerformsInSubmissionOrder(t *testing.T) {
	dir := registry.NewMemoryDirectory()
	out := &fakeOutbox{}
	w := New(dir, out)
	require.NoError(t, w.Init(context.Background()))
	require.NoError(t, w.Start())

	const n = 200
	for i := 0; i < n; i++ {
		require.NoError(t, w.Submit(action.NewRegister(url(i), 60, nil)))
	}

	acts := out.waitFor(t, n)
	for i, act := range acts {
		require.Equal(t, i, index(t, act))
		require.True(t, act.OK())
	}
	require.Equal(t, n, dir.Len())

	w.Stop()
	require.NoError(t, w.Join(context.Background()))
	require.Equal(t, uint64(n), w.Stats().Performed)
	require.Zero(t, w.Stats().Failed)
}

func TestQueuedBeforeStartIsOneBatch(t *testing.T) {
	out := &fakeOutbox{}
	w := New(openerFor(&probeRegistry{}), out)
	require.NoError(t, w.Init(context.Background()))

	const n = 1000
	for i := 0; i < n; i++ {
		require.NoError(t, w.Submit(action.NewRegister(url(i), 0, nil)))
	}
	require.NoError(t, w.Start())

	acts := out.waitFor(t, n)
	for i, act := range acts {
		require.Equal(t, url(i), act.Target())
	}

	w.Stop()
	require.NoError(t, w.Join(context.Background()))

	stats := w.Stats()
	require.Equal(t, uint64(1), stats.Wakeups)
	require.Equal(t, uint64(1), stats.Batches)
	require.Equal(t, uint64(n), stats.Performed)

	out.mu.Lock()
	require.Equal(t, 1, out.notifies)
	out.mu.Unlock()
}

func TestStopDrainsQueuedActions(t *testing.T) {
	reg := &probeRegistry{}
	out := &fakeOutbox{}
	w := New(openerFor(reg), out)
	require.NoError(t, w.Init(context.Background()))

	for i := 0; i < 10; i++ {
		require.NoError(t, w.Submit(action.NewDeregister(url(i), nil)))
	}
	// Stopped before Start: the queue is still performed
	w.Stop()
	require.Equal(t, Stopping, w.State())
	require.ErrorIs(t, w.Submit(action.NewDiscover("service:lighting", nil)), ErrStopped)

	require.NoError(t, w.Join(context.Background()))
	require.Len(t, out.snapshot(), 10)
	require.True(t, reg.closed.Load())
	require.Equal(t, Closed, w.State())
}

func TestBackendMutualExclusion(t *testing.T) {
	reg := &probeRegistry{delay: 100 * time.Microsecond}
	out := &fakeOutbox{}
	w := New(openerFor(reg), out)
	require.NoError(t, w.Init(context.Background()))
	require.NoError(t, w.Start())

	const producers, each = 8, 25
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				assert.NoError(t, w.Submit(action.NewRegister(url(p*each+i), 30, nil)))
			}
		}(p)
	}
	wg.Wait()

	acts := out.waitFor(t, producers*each)
	require.Equal(t, int32(1), reg.maxInside.Load())

	// Each producer's own order survives the interleaving
	last := make(map[int]int)
	for _, act := range acts {
		idx := index(t, act)
		ip := idx / each
		prev, seen := last[ip]
		require.True(t, !seen || idx > prev)
		last[ip] = idx
	}

	w.Stop()
	require.NoError(t, w.Join(context.Background()))
}

func TestPanicFailsOnlyThatAction(t *testing.T) {
	reg := &probeRegistry{panicOn: url(1)}
	out := &fakeOutbox{}
	w := New(openerFor(reg), out)
	require.NoError(t, w.Init(context.Background()))
	require.NoError(t, w.Start())

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Submit(action.NewRegister(url(i), 30, nil)))
	}
	acts := out.waitFor(t, 3)
	require.True(t, acts[0].OK())
	require.False(t, acts[1].OK())
	require.True(t, acts[2].OK())

	w.Stop()
	require.NoError(t, w.Join(context.Background()))
	require.Equal(t, uint64(1), w.Stats().Failed)
}

func TestSubmitRacingStop(t *testing.T) {
	out := &fakeOutbox{}
	w := New(openerFor(&probeRegistry{}), out)
	require.NoError(t, w.Init(context.Background()))
	require.NoError(t, w.Start())

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				err := w.Submit(action.NewRegister(url(p*500+i), 30, nil))
				if err == nil {
					accepted.Add(1)
					continue
				}
				assert.ErrorIs(t, err, ErrStopped)
			}
		}(p)
	}
	time.Sleep(time.Millisecond)
	w.Stop()
	wg.Wait()

	require.NoError(t, w.Join(context.Background()))
	// Everything accepted was performed before the goroutine exited
	require.Len(t, out.snapshot(), int(accepted.Load()))
}

func TestJoinTimeout(t *testing.T) {
	w := New(openerFor(&probeRegistry{}), &fakeOutbox{})
	require.NoError(t, w.Init(context.Background()))
	require.NoError(t, w.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, w.Join(ctx), context.DeadlineExceeded)

	w.Stop()
	require.NoError(t, w.Join(context.Background()))
}

func TestStateString(t *testing.T) {
	require.Equal(t, "running", Running.String())
	require.Equal(t, "state(9)", State(9).String())
}
