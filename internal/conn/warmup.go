package conn

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/zalando/skipper-lb/loadbalancer"
)

// WarmPool dials every address in addrs concurrently, bounded by
// maxConcurrent, and returns the connections that succeeded. It's a
// convenience for demo/test setup that wants a populated pool before the
// first request lands, not something the core balancer needs: the balancer
// builds lazily on demand per the package design.
func WarmPool(ctx context.Context, factory loadbalancer.ConnectionFactory, addrs []loadbalancer.Address, maxConcurrent int) []loadbalancer.Connection {
	if maxConcurrent <= 0 {
		maxConcurrent = len(addrs)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	results := make([]loadbalancer.Connection, len(addrs))
	for i, a := range addrs {
		i, a := i, a
		g.Go(func() error {
			c, err := factory.Connect(gctx, a)
			if err != nil {
				return nil // best effort: a failed warm dial isn't fatal
			}
			results[i] = c
			return nil
		})
	}
	_ = g.Wait()

	out := make([]loadbalancer.Connection, 0, len(addrs))
	for _, c := range results {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}
