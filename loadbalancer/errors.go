package loadbalancer

import "errors"

// Sentinel errors surfaced to callers of SelectConnection / NewConnection,
// matching the taxonomy in the package design: callers distinguish them
// with errors.Is.
var (
	// ErrClosed is returned for every request once Close has completed.
	ErrClosed = errors.New("loadbalancer: closed")

	// ErrNoHosts is returned when the discoverer has produced events but
	// the current host list is empty.
	ErrNoHosts = errors.New("loadbalancer: no hosts available")

	// ErrNoActiveHost is returned when the host list is non-empty but
	// every host is unhealthy or an expired host with no connections.
	ErrNoActiveHost = errors.New("loadbalancer: no active host")

	// errHostNotActive is the internal error a host returns when asked to
	// build or reuse a connection while not ACTIVE or EXPIRED.
	errHostNotActive = errors.New("loadbalancer: host not active")

	// errFreshConnectionNotReservable indicates a ConnectionFactory
	// violated the contract that a just-built connection must be
	// reservable by its builder.
	errFreshConnectionNotReservable = errors.New("loadbalancer: freshly built connection was not reservable")
)

// BuildError wraps a connection factory failure surfaced to the caller of
// NewConnection, or the final failed attempt of SelectConnection.
type BuildError struct {
	Address Address
	Err     error
}

func (e *BuildError) Error() string {
	return "loadbalancer: failed to build connection to " + string(e.Address) + ": " + e.Err.Error()
}

func (e *BuildError) Unwrap() error { return e.Err }
