// Package action defines the units of work handed from the caller to the worker thread.
//
// An Action carries one backend request together with its callback:
//
//	caller ──New*──► incoming queue ──Perform (worker)──► outgoing queue ──Complete (caller)──► callback
//
// Perform runs on the worker thread and records the result exactly once. Complete runs
// on the caller's reactor thread and hands that result to the callback exactly once.
// The set of actions is closed: Discover, Register and Deregister.
package action

import (
	"context"
	"errors"
	"fmt"

	"mini-discovery/registry"
)

// Kind identifies the operation an Action performs.
type Kind uint8

const (
	KindDiscover Kind = iota + 1
	KindRegister
	KindDeregister
)

func (k Kind) String() string {
	switch k {
	case KindDiscover:
		return "discover"
	case KindRegister:
		return "register"
	case KindDeregister:
		return "deregister"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ErrPerformed is returned when Perform is called a second time.
var ErrPerformed = errors.New("action: already performed")

// RegistrationCallback receives the outcome of a Register or Deregister.
type RegistrationCallback func(ok bool)

// DiscoveryCallback receives the outcome of a Discover and the URLs found.
type DiscoveryCallback func(ok bool, urls []string)

// Action is a queued backend request plus its one-shot callback.
type Action interface {
	Kind() Kind
	// Target is the URL or service type the action applies to, for logging.
	Target() string
	// Perform executes the blocking backend call. Worker thread only.
	Perform(ctx context.Context, reg registry.Registry) error
	// Complete runs the callback with the recorded result. Caller thread only.
	Complete()
	// OK reports the recorded result.
	OK() bool

	sealed()
}

// result holds the fields shared by every action.
type result struct {
	ok        bool
	performed bool
	completed bool
}

func (r *result) OK() bool { return r.ok }

func (r *result) sealed() {}

// record stores the outcome of the first Perform.
func (r *result) record(err error) error {
	r.performed = true
	r.ok = err == nil
	return err
}

// complete reports whether the callback should run, and marks it as run.
func (r *result) complete() bool {
	if r.completed {
		return false
	}
	r.completed = true
	return true
}
