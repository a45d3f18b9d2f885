//go:build !linux

package reactor

import (
	"context"

	"go.uber.org/zap"

	"mini-discovery/wake"
)

// Poller needs epoll; on other platforms use Loop.
type Poller struct{}

func NewPoller(log *zap.Logger) (*Poller, error) { return nil, wake.ErrUnsupported }

func (p *Poller) NewWake() (wake.Channel, error)             { return nil, wake.ErrUnsupported }
func (p *Poller) AddReadable(w wake.Channel, cb func()) error { return wake.ErrUnsupported }
func (p *Poller) RemoveReadable(w wake.Channel) error         { return wake.ErrUnsupported }
func (p *Poller) Submit(fn func()) error                      { return wake.ErrUnsupported }
func (p *Poller) Stop()                                       {}
func (p *Poller) Run(ctx context.Context) error               { return wake.ErrUnsupported }
func (p *Poller) Close() error                                { return wake.ErrUnsupported }
