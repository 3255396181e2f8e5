package loadbalancer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zalando/skipper-lb/loadbalancer/internal/lbprobe"
	"github.com/zalando/skipper-lb/loadbalancer/lbmetrics"
)

type hostState int

const (
	hostActive hostState = iota
	hostExpired
	hostUnhealthy
	hostClosed
)

func (s hostState) String() string {
	switch s {
	case hostActive:
		return "ACTIVE"
	case hostExpired:
		return "EXPIRED"
	case hostUnhealthy:
		return "UNHEALTHY"
	case hostClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// selectable reports whether the selector may pick this state for reuse or
// build, i.e. ACTIVE or EXPIRED.
func (s hostState) selectable() bool {
	return s == hostActive || s == hostExpired
}

// host is the in-memory representation of one backend address: its
// connection pool, its health state, and its probe schedule. All mutation
// of a host's fields goes through its mutex; select_or_build and the
// lifecycle transitions in the spec are implemented here.
type host struct {
	addr    Address
	factory ConnectionFactory
	hc      *HealthCheckConfig
	log     logrus.FieldLogger
	metrics *lbmetrics.Metrics

	linearSearchSpace int

	mu                  sync.Mutex
	state               hostState
	connections         []Connection
	consecutiveFailures int
	probeCancel         CancelHandle
	onSelfClose         func(*host) // hook for CLOSED-from-EXPIRED-drain; nothing in this package sets or calls it
}

func newHost(addr Address, factory ConnectionFactory, hc *HealthCheckConfig, log logrus.FieldLogger, metrics *lbmetrics.Metrics, linearSearchSpace int) *host {
	return &host{
		addr:              addr,
		factory:           factory,
		hc:                hc,
		log:               log,
		metrics:           metrics,
		linearSearchSpace: linearSearchSpace,
		state:             hostActive,
	}
}

func (h *host) snapshotState() hostState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *host) isUnhealthy() bool {
	return h.snapshotState() == hostUnhealthy
}

// selectOrBuild implements the C2 contract: reuse scan first (bounded by
// linearSearchSpace), then build a fresh connection through the factory.
func (h *host) selectOrBuild(ctx context.Context, filter Filter, forceNew bool) (Connection, error) {
	h.mu.Lock()
	if h.state != hostActive && h.state != hostExpired {
		h.mu.Unlock()
		return nil, errHostNotActive
	}

	if !forceNew {
		limit := h.linearSearchSpace
		if limit > len(h.connections) {
			limit = len(h.connections)
		}
		for i := 0; i < limit; i++ {
			c := h.connections[i]
			if !c.IsLive() {
				continue
			}
			// filter before reserving, so that a connection the
			// filter rejects is never left reserved with no owner.
			if filter != nil && !filter(c) {
				continue
			}
			if c.TryReserve() {
				h.mu.Unlock()
				return c, nil
			}
		}
	}

	canBuild := h.state == hostActive
	h.mu.Unlock()

	if !canBuild {
		// EXPIRED hosts are selectable for reuse only.
		return nil, errHostNotActive
	}

	buildStart := time.Now()
	conn, err := h.factory.Connect(ctx, h.addr)
	if err != nil {
		h.onBuildFailure()
		return nil, &BuildError{Address: h.addr, Err: err}
	}
	h.metrics.ObserveBuildLatencySeconds(time.Since(buildStart).Seconds())

	h.mu.Lock()
	if h.state == hostClosed {
		h.mu.Unlock()
		conn.Close()
		return nil, errHostNotActive
	}
	h.connections = append(h.connections, conn)
	h.consecutiveFailures = 0
	h.mu.Unlock()

	if !conn.TryReserve() {
		// built fresh, must be reservable; a factory violating this
		// contract gets treated as a build failure for this caller
		// but the connection stays pooled for the next selector.
		return nil, &BuildError{Address: h.addr, Err: errFreshConnectionNotReservable}
	}

	return conn, nil
}

func (h *host) onBuildFailure() {
	h.mu.Lock()
	h.consecutiveFailures++
	shouldQuarantine := h.hc.enabled() &&
		h.state == hostActive &&
		h.consecutiveFailures >= h.hc.FailureThreshold
	if shouldQuarantine {
		h.state = hostUnhealthy
	}
	h.mu.Unlock()

	if shouldQuarantine {
		if h.log != nil {
			h.log.WithField("host", h.addr).Warn("host quarantined after consecutive connect failures")
		}
		h.startProbe()
	}
}

// startProbe schedules the next background re-probe. At most one probe may
// be scheduled or running per host; callers only invoke this while holding
// the guarantee that the host just became (or still is) UNHEALTHY.
func (h *host) startProbe() {
	if !h.hc.enabled() {
		return
	}

	backoff := &lbprobe.JitterBackOff{Interval: h.hc.ProbeInterval, Jitter: h.hc.ProbeJitter}
	delay, _ := backoff.NextBackOff()

	h.mu.Lock()
	if h.state != hostUnhealthy {
		h.mu.Unlock()
		return
	}
	if h.probeCancel != nil {
		// a probe is already scheduled; invariant holds, nothing to do.
		h.mu.Unlock()
		return
	}
	h.probeCancel = h.hc.Clock.Schedule(delay, h.runProbe)
	h.mu.Unlock()
}

func (h *host) runProbe() {
	h.mu.Lock()
	h.probeCancel = nil
	if h.state != hostUnhealthy {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	conn, err := h.factory.Connect(context.Background(), h.addr)

	h.mu.Lock()
	if h.state != hostUnhealthy {
		h.mu.Unlock()
		if err == nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		h.mu.Unlock()
		h.metrics.IncProbeOutcome("failure")
		if h.log != nil {
			h.log.WithField("host", h.addr).Debug("probe failed, rescheduling")
		}
		h.startProbe()
		return
	}

	h.state = hostActive
	h.consecutiveFailures = 0
	h.connections = append(h.connections, conn)
	h.mu.Unlock()

	h.metrics.IncProbeOutcome("success")
	if h.log != nil {
		h.log.WithField("host", h.addr).Info("host recovered, probe succeeded")
	}
}

// markActiveIfNotClosed implements the C2 contract: {EXPIRED, UNHEALTHY} ->
// ACTIVE, cancelling any scheduled probe. Returns false iff the host is
// CLOSED.
func (h *host) markActiveIfNotClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == hostClosed {
		return false
	}

	if h.probeCancel != nil {
		h.probeCancel.Cancel()
		h.probeCancel = nil
	}
	h.state = hostActive
	return true
}

// markExpired implements the C2 contract. Returns true iff the host
// self-closed because no connections remained; the caller must drop it
// from the next list in that case.
func (h *host) markExpired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == hostClosed {
		return false
	}

	if h.probeCancel != nil {
		h.probeCancel.Cancel()
		h.probeCancel = nil
	}

	h.state = hostExpired
	if len(h.connections) == 0 {
		h.state = hostClosed
		return true
	}
	return false
}

// markClosed is terminal: cancels any probe and schedules a graceful close
// of every pooled connection.
func (h *host) markClosed() {
	h.mu.Lock()
	if h.state == hostClosed {
		h.mu.Unlock()
		return
	}
	if h.probeCancel != nil {
		h.probeCancel.Cancel()
		h.probeCancel = nil
	}
	h.state = hostClosed
	conns := h.connections
	h.connections = nil
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// drainIfExpiredAndEmpty closes an EXPIRED host whose pool is empty and
// reports whether it did. The reconciler calls it (not the connection
// itself, so host and connection hold no owning cycle) for hosts a batch
// does not mention, after pruning connections that are no longer live.
// markExpired covers the case where the pool is already empty when the
// host expires; this covers the last connection of an already-EXPIRED host
// closing later, which takes effect on the next batch.
func (h *host) drainIfExpiredAndEmpty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != hostExpired {
		return false
	}
	if len(h.connections) != 0 {
		return false
	}
	h.state = hostClosed
	return true
}

func (h *host) removeConnection(c Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, cur := range h.connections {
		if cur == c {
			h.connections = append(h.connections[:i], h.connections[i+1:]...)
			return
		}
	}
}
