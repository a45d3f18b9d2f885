//go:build linux

package wake

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

var _ Channel = (*EventFD)(nil)

func readable(t *testing.T, fd int) bool {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	require.NoError(t, err)
	return n == 1 && fds[0].Revents&unix.POLLIN != 0
}

func TestEventFDCoalesces(t *testing.T) {
	e, err := NewEventFD()
	require.NoError(t, err)
	defer e.Close()

	require.False(t, readable(t, e.Fd()))
	for i := 0; i < 1000; i++ {
		require.NoError(t, e.Signal())
	}
	require.True(t, readable(t, e.Fd()))

	// One drain consumes all 1000 signals
	got, err := e.Drain()
	require.NoError(t, err)
	require.Equal(t, 1000, got)
	require.False(t, readable(t, e.Fd()))

	got, err = e.Drain()
	require.NoError(t, err)
	require.Equal(t, 0, got)
}

func TestEventFDClose(t *testing.T) {
	e, err := NewEventFD()
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.ErrorIs(t, e.Signal(), ErrClosed)
	_, err = e.Drain()
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, e.Close(), ErrClosed)
}
