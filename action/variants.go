package action

import (
	"context"

	"mini-discovery/registry"
)

// Discover looks up every URL registered under a service type.
type Discover struct {
	result
	serviceType string
	urls        []string
	callback    DiscoveryCallback
}

func NewDiscover(serviceType string, cb DiscoveryCallback) *Discover {
	return &Discover{serviceType: serviceType, callback: cb}
}

func (a *Discover) Kind() Kind     { return KindDiscover }
func (a *Discover) Target() string { return a.serviceType }

func (a *Discover) Perform(ctx context.Context, reg registry.Registry) error {
	if a.performed {
		return ErrPerformed
	}
	urls, err := reg.Discover(ctx, a.serviceType)
	if err == nil {
		a.urls = urls
	}
	return a.record(err)
}

func (a *Discover) Complete() {
	if !a.complete() || a.callback == nil {
		return
	}
	urls := a.urls
	if urls == nil {
		urls = []string{}
	}
	a.callback(a.ok, urls)
}

// Register advertises a service URL for a lifetime in seconds.
type Register struct {
	result
	url      string
	lifetime uint16
	callback RegistrationCallback
}

// NewRegister builds a Register action. A zero lifetime means registry.LifetimeMaximum.
func NewRegister(url string, lifetime uint16, cb RegistrationCallback) *Register {
	return &Register{url: url, lifetime: registry.EffectiveLifetime(lifetime), callback: cb}
}

func (a *Register) Kind() Kind       { return KindRegister }
func (a *Register) Target() string   { return a.url }
func (a *Register) Lifetime() uint16 { return a.lifetime }

func (a *Register) Perform(ctx context.Context, reg registry.Registry) error {
	if a.performed {
		return ErrPerformed
	}
	return a.record(reg.Register(ctx, a.url, a.lifetime))
}

func (a *Register) Complete() {
	if !a.complete() || a.callback == nil {
		return
	}
	a.callback(a.ok)
}

// Deregister withdraws a service URL.
type Deregister struct {
	result
	url      string
	callback RegistrationCallback
}

func NewDeregister(url string, cb RegistrationCallback) *Deregister {
	return &Deregister{url: url, callback: cb}
}

func (a *Deregister) Kind() Kind     { return KindDeregister }
func (a *Deregister) Target() string { return a.url }

func (a *Deregister) Perform(ctx context.Context, reg registry.Registry) error {
	if a.performed {
		return ErrPerformed
	}
	return a.record(reg.Deregister(ctx, a.url))
}

func (a *Deregister) Complete() {
	if !a.complete() || a.callback == nil {
		return
	}
	a.callback(a.ok)
}
