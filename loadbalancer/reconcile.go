package loadbalancer

import (
	"github.com/sirupsen/logrus"

	"github.com/zalando/skipper-lb/loadbalancer/lbmetrics"
)

// reconcileResult is the output of applying one SD batch to a host list.
type reconcileResult struct {
	hosts           []*host
	readyTransition bool
}

// reconcileDeps bundles the collaborators a freshly created host needs.
type reconcileDeps struct {
	factory           ConnectionFactory
	hc                *HealthCheckConfig
	log               logrus.FieldLogger
	metrics           *lbmetrics.Metrics
	linearSearchSpace int
}

func (d reconcileDeps) newHost(addr Address) *host {
	return newHost(addr, d.factory, d.hc, d.log, d.metrics, d.linearSearchSpace)
}

// reconcile applies a batch to the current host list per the package
// design's event reconciler algorithm (C4), including the
// first-batch-after-resubscribe stateless-discoverer inference.
func reconcile(old []*host, batch Batch, deps reconcileDeps, firstAfterResubscribe bool) reconcileResult {
	wasEmpty := len(old) == 0

	events := make(map[Address]Status, len(batch))
	seen := make(map[Address]bool, len(batch))
	for _, e := range batch {
		if e.Status == StatusUnknown {
			if deps.log != nil {
				deps.log.WithField("address", e.Address).Warn("skipping malformed SD event")
			}
			continue
		}
		if _, dup := events[e.Address]; dup && deps.log != nil {
			deps.log.WithField("address", e.Address).Warn("duplicate address in SD batch, last event wins")
		}
		events[e.Address] = e.Status
		seen[e.Address] = false
	}

	allAvailable := true
	for _, st := range events {
		if st != StatusAvailable {
			allAvailable = false
			break
		}
	}

	next := make([]*host, 0, len(old)+len(events))
	ready := false

	for _, h := range old {
		st, has := events[h.addr]
		if !has {
			if firstAfterResubscribe && allAvailable && len(events) > 0 {
				// stateless discoverer inference: every event in
				// the first post-resubscribe batch is AVAILABLE,
				// so an address missing from it is assumed gone.
				h.markClosed()
				continue
			}
			if h.snapshotState() == hostExpired {
				// drop pooled connections that have closed since, and
				// the host itself once the last one is gone.
				h.mu.Lock()
				conns := append([]Connection(nil), h.connections...)
				h.mu.Unlock()
				for _, c := range conns {
					if !c.IsLive() {
						h.removeConnection(c)
					}
				}
				if h.drainIfExpiredAndEmpty() {
					continue
				}
			}
			next = append(next, h)
			continue
		}
		seen[h.addr] = true

		switch st {
		case StatusAvailable:
			ready = ready || wasEmpty
			if h.markActiveIfNotClosed() {
				next = append(next, h)
			} else {
				// old host is CLOSED and draining separately;
				// stand up a fresh host for the same address.
				next = append(next, deps.newHost(h.addr))
			}
		case StatusExpired:
			if !h.markExpired() {
				next = append(next, h)
			}
		case StatusUnavailable:
			h.markClosed()
		}
	}

	for addr, st := range events {
		if seen[addr] {
			continue
		}
		if st == StatusAvailable {
			next = append(next, deps.newHost(addr))
			ready = true
		}
		// EXPIRED/UNAVAILABLE for an address we don't know about: no
		// host to act on, nothing to do.
	}

	return reconcileResult{hosts: next, readyTransition: ready}
}
