//go:build !linux

package wake

// EventFD is only available on Linux.
type EventFD struct{}

func NewEventFD() (*EventFD, error) { return nil, ErrUnsupported }

func (e *EventFD) Fd() int             { return -1 }
func (e *EventFD) Signal() error       { return ErrUnsupported }
func (e *EventFD) Drain() (int, error) { return 0, ErrUnsupported }
func (e *EventFD) Close() error        { return ErrUnsupported }
