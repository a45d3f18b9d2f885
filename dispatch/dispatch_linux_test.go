package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mini-discovery/reactor"
)

func TestDispatchOnPoller(t *testing.T) {
	p, err := reactor.NewPoller(nil)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	d, err := New(p, nil)
	require.NoError(t, err)

	fired := make(chan bool, 3)
	for i := 0; i < 3; i++ {
		d.Push(performed(t, "service:lighting://10.0.0.1:5568", func(ok bool) { fired <- ok }))
		require.NoError(t, d.Notify())
	}
	for i := 0; i < 3; i++ {
		select {
		case ok := <-fired:
			require.True(t, ok)
		case <-time.After(5 * time.Second):
			t.Fatal("callback did not fire")
		}
	}

	p.Stop()
	require.NoError(t, <-done)
	require.NoError(t, d.Close())
	require.NoError(t, p.Close())
}
