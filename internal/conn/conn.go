// Package conn provides a reference ConnectionFactory and Connection
// implementation for tests and the demo CLI: a plain TCP dialer, with an
// optional per-address circuit breaker (reusing the teacher's circuit
// package) and an optional dial-rate limiter, neither of which the core
// load balancer requires but both of which a realistic deployment layers
// on top of it.
package conn

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zalando/skipper-lb/circuit"
	"github.com/zalando/skipper-lb/loadbalancer"
)

// TCPConnection adapts a net.Conn to loadbalancer.Connection. Reservation
// is a one-shot compare-and-swap on a boolean guarded by a mutex; net.Conn
// itself gives no such primitive.
type TCPConnection struct {
	netConn  net.Conn
	mu       sync.Mutex
	reserved bool
	closed   bool
}

func newTCPConnection(nc net.Conn) *TCPConnection {
	return &TCPConnection{netConn: nc}
}

func (c *TCPConnection) TryReserve() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reserved || c.closed {
		return false
	}
	c.reserved = true
	return true
}

func (c *TCPConnection) IsLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *TCPConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.netConn.Close()
}

// Release un-reserves the connection so the pool can hand it out again. The
// core never calls this itself (per the spec, releasing a reserved
// connection is the caller's responsibility); reference callers in tests
// and the demo CLI call it when they're done with a request.
func (c *TCPConnection) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reserved = false
}

// TCPFactory dials plain TCP connections. An optional rate.Limiter caps the
// dial rate (protects a downstream from a reconnect storm after a mass
// UNAVAILABLE->AVAILABLE flap); an optional circuit.Registry short-circuits
// dials to an address already known bad at the transport layer, layered
// independently of the load balancer's own per-host health state.
type TCPFactory struct {
	Dialer    net.Dialer
	Limiter   *rate.Limiter
	Breakers  *circuit.Registry
	Breaker   circuit.BreakerSettings
}

func NewTCPFactory() *TCPFactory {
	return &TCPFactory{Dialer: net.Dialer{Timeout: 5 * time.Second}}
}

func (f *TCPFactory) Connect(ctx context.Context, addr loadbalancer.Address) (loadbalancer.Connection, error) {
	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var done func(bool)
	if f.Breakers != nil {
		settings := f.Breaker
		settings.Host = string(addr)
		if b := f.Breakers.Get(settings); b != nil {
			d, ok := b.Allow()
			if !ok {
				return nil, errCircuitOpen(addr)
			}
			done = d
		}
	}

	nc, err := f.Dialer.DialContext(ctx, "tcp", string(addr))
	if done != nil {
		done(err == nil)
	}
	if err != nil {
		return nil, err
	}

	return newTCPConnection(nc), nil
}

type errCircuitOpen loadbalancer.Address

func (e errCircuitOpen) Error() string {
	return "conn: circuit open for " + string(e)
}
