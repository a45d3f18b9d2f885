package registry

import (
	"fmt"
	"strings"
)

const serviceScheme = "service:"

// ServiceURL is a parsed service URL.
//
//	service:lighting://10.0.0.1:5568
//	└──── Type ────┘   └─── Addr ───┘
type ServiceURL struct {
	Type string // e.g. "service:lighting"
	Addr string // e.g. "10.0.0.1:5568"
}

// ParseServiceURL splits a "service:<type>://<addr>" URL.
// The type may carry one concrete-type suffix, as in "service:printer:lpr://host".
func ParseServiceURL(raw string) (ServiceURL, error) {
	if !strings.HasPrefix(raw, serviceScheme) {
		return ServiceURL{}, fmt.Errorf("%w: %q: missing %q prefix", ErrInvalidURL, raw, serviceScheme)
	}
	typ, addr, found := strings.Cut(raw, "://")
	if !found {
		return ServiceURL{}, fmt.Errorf("%w: %q: missing \"://\"", ErrInvalidURL, raw)
	}
	if err := ValidateServiceType(typ); err != nil {
		return ServiceURL{}, fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
	}
	if addr == "" || strings.ContainsAny(addr, " \t\r\n/") {
		return ServiceURL{}, fmt.Errorf("%w: %q: bad address %q", ErrInvalidURL, raw, addr)
	}
	return ServiceURL{Type: typ, Addr: addr}, nil
}

// ValidateServiceType checks a "service:<name>[:<concrete>]" type string.
func ValidateServiceType(typ string) error {
	name, ok := strings.CutPrefix(typ, serviceScheme)
	if !ok {
		return fmt.Errorf("service type %q: missing %q prefix", typ, serviceScheme)
	}
	parts := strings.Split(name, ":")
	if len(parts) > 2 {
		return fmt.Errorf("service type %q: too many segments", typ)
	}
	for _, p := range parts {
		if p == "" || strings.ContainsAny(p, " \t\r\n/") {
			return fmt.Errorf("service type %q: bad segment %q", typ, p)
		}
	}
	return nil
}

func (u ServiceURL) String() string {
	return u.Type + "://" + u.Addr
}

// Matches reports whether u is registered under serviceType. An abstract type
// ("service:printer") matches all of its concrete types ("service:printer:lpr").
func (u ServiceURL) Matches(serviceType string) bool {
	return u.Type == serviceType || strings.HasPrefix(u.Type, serviceType+":")
}
