// Package loadbalancer implements a client-side load balancer that tracks
// a live set of backend hosts, watches their health, and picks one
// connection per request.
//
// The balancer consumes an asynchronous stream of service discovery (SD)
// batches describing which addresses are AVAILABLE, EXPIRED or UNAVAILABLE,
// keeps a pool of reusable connections per host built by an injected
// ConnectionFactory, and exposes SelectConnection / NewConnection as the
// only request-facing operations.
package loadbalancer

import (
	"context"
	"time"
)

// Address identifies a backend host. It must be comparable, since hosts are
// looked up and diffed by address on every discovery batch.
type Address string

// Status describes the lifecycle state an SD event reports for an address.
type Status int

const (
	// StatusUnknown marks a malformed or unrecognized event; it is logged
	// and skipped.
	StatusUnknown Status = iota
	StatusAvailable
	StatusExpired
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "AVAILABLE"
	case StatusExpired:
		return "EXPIRED"
	case StatusUnavailable:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// Event is a single service discovery observation.
type Event struct {
	Address Address
	Status  Status
}

// Batch is a non-empty set of events delivered together by the discoverer.
// The reconciler applies a whole batch atomically.
type Batch []Event

// Discoverer is the service discovery collaborator. It is consumed through
// Subscribe, which must return a channel of batches; closing the returned
// cancel function tears down the subscription. The channel may be closed by
// the discoverer (completion) or deliver no further values after an error is
// reported through errs.
type Discoverer interface {
	Subscribe(ctx context.Context) (batches <-chan Batch, errs <-chan error, cancel func())
}

// Connection is opaque to the balancer. TryReserve must be atomic and
// one-shot: once it returns true for a caller, no other caller may reserve
// the same connection concurrently.
type Connection interface {
	TryReserve() bool
	IsLive() bool
	Close() error
}

// ConnectionFactory builds a new Connection to an address. Context carries
// caller-scoped values (deadlines, auth, tracing) through to the dial.
type ConnectionFactory interface {
	Connect(ctx context.Context, addr Address) (Connection, error)
}

// Filter is applied to a candidate reused connection; it is never applied
// to a freshly built connection, which is assumed to already satisfy the
// caller's intent.
type Filter func(Connection) bool

// AnyConnection is the permissive filter used by NewConnection.
func AnyConnection(Connection) bool { return true }

// Clock is the injected time source. now() must be monotonic; Schedule
// returns a handle whose Cancel is idempotent and safe to call from any
// goroutine.
type Clock interface {
	Now() time.Time
	Schedule(delay time.Duration, task func()) CancelHandle
}

// CancelHandle cancels a scheduled task. Cancel after the task has already
// started running does not interrupt it.
type CancelHandle interface {
	Cancel()
}

// Readiness is the value replayed on the load balancer's readiness stream.
type Readiness int

const (
	NotReady Readiness = iota
	Ready
)

func (r Readiness) String() string {
	if r == Ready {
		return "READY"
	}
	return "NOT_READY"
}
