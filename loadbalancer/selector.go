package loadbalancer

import (
	"context"
	"sync/atomic"
)

// selector implements the round-robin-with-health-bias algorithm of the
// package design. It carries no state beyond the rotating counter, so a
// single selector can be shared across concurrent requests and across host
// list generations.
type selector struct {
	counter atomic.Uint64
}

// selectConn runs one round-robin pass over the given snapshot. force_new hosts
// the request on a guaranteed-fresh connection: if the first selectable
// host's build fails, the error is surfaced immediately rather than trying
// the next host, per the package design's no-silent-fallback rule.
func (s *selector) selectConn(ctx context.Context, hosts []*host, filter Filter, forceNew bool) (Connection, error) {
	n := len(hosts)
	if n == 0 {
		return nil, ErrNoHosts
	}

	start := int(s.counter.Add(1) % uint64(n))

	sawSelectable := false
	var lastErr error

	for step := 0; step < n; step++ {
		i := (start + step) % n
		h := hosts[i]

		if !h.snapshotState().selectable() {
			continue
		}
		sawSelectable = true

		conn, err := h.selectOrBuild(ctx, filter, forceNew)
		if err == nil {
			return conn, nil
		}
		if err == errHostNotActive {
			// internal sentinel: the public taxonomy only promises
			// ErrNoActiveHost for this case.
			err = ErrNoActiveHost
		}

		if forceNew {
			// the caller asked for a guaranteed fresh connection;
			// the first selectable host failed, don't silently
			// substitute a different backend.
			return nil, err
		}

		lastErr = err
	}

	if !sawSelectable {
		return nil, ErrNoActiveHost
	}

	if lastErr != nil {
		return nil, lastErr
	}

	return nil, ErrNoActiveHost
}
