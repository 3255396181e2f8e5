package loadbalancer

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zalando/skipper-lb/loadbalancer/lblog"
	"github.com/zalando/skipper-lb/loadbalancer/lbmetrics"
)

const defaultLinearSearchSpace = 8

// resubscribing is the next_resubscribe_time sentinel meaning "a
// resubscribe is currently in flight".
const resubscribing = math.MaxInt64

// Options configures a LoadBalancer. It follows the same single
// collaborators-and-tunables-struct convention the teacher uses for its
// root options types (proxy.Params, routing.Options): no functional-option
// builder, just a struct validated once at construction.
type Options struct {
	// Discoverer produces the SD event stream. Required.
	Discoverer Discoverer

	// ConnectionFactory builds connections to a host. Required.
	ConnectionFactory ConnectionFactory

	// HealthCheck configures quarantine/probe/resubscribe behavior. A nil
	// value disables health checking entirely.
	HealthCheck *HealthCheckConfig

	// LinearSearchSpace bounds the connection-reuse scan per host.
	// Defaults to 8 when <= 0.
	LinearSearchSpace int

	// Log receives structured diagnostics. Defaults to lblog.Default().
	Log logrus.FieldLogger

	// Metrics is optional; nil disables metrics collection.
	Metrics *lbmetrics.Metrics
}

func (o *Options) validate() error {
	if o.Discoverer == nil {
		return errInvalidConfig("Discoverer is required")
	}
	if o.ConnectionFactory == nil {
		return errInvalidConfig("ConnectionFactory is required")
	}
	return o.HealthCheck.validate()
}

// LoadBalancer is the lifecycle root: it subscribes to the discoverer,
// owns the host list, and exposes SelectConnection/NewConnection/Subscribe
// /Close. All host-list mutation goes through a single-writer executor;
// reads take a lock-free atomic snapshot.
type LoadBalancer struct {
	discoverer Discoverer
	factory    ConnectionFactory
	hc         *HealthCheckConfig
	log        logrus.FieldLogger
	metrics    *lbmetrics.Metrics
	linearSearchSpace int

	writer   singleWriter
	hosts    atomic.Pointer[[]*host]
	selector selector
	ready    *readinessBroadcaster
	batchIDs *batchIDGenerator

	closed   atomic.Bool
	fatalErr atomic.Pointer[error]

	subMu        sync.Mutex
	subCancel    func()
	subCtx       context.Context
	subCtxCancel context.CancelFunc
	firstBatch   bool

	nextResubscribe atomic.Int64

	closeOnce sync.Once
	closeWG   sync.WaitGroup
}

// New validates opts, subscribes to the discoverer and returns a running
// LoadBalancer. The returned balancer must eventually be closed with
// Close.
func New(opts Options) (*LoadBalancer, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	log := opts.Log
	if log == nil {
		log = lblog.Default()
	}

	linearSearchSpace := opts.LinearSearchSpace
	if linearSearchSpace <= 0 {
		linearSearchSpace = defaultLinearSearchSpace
	}

	lb := &LoadBalancer{
		discoverer:        opts.Discoverer,
		factory:           opts.ConnectionFactory,
		hc:                opts.HealthCheck,
		log:               log,
		metrics:           opts.Metrics,
		linearSearchSpace: linearSearchSpace,
		ready:             newReadinessBroadcaster(),
		batchIDs:          newBatchIDGenerator(),
	}

	empty := []*host{}
	lb.hosts.Store(&empty)

	lb.subscribe()

	return lb, nil
}

func (lb *LoadBalancer) reconcileDeps() reconcileDeps {
	return reconcileDeps{
		factory:           lb.factory,
		hc:                lb.hc,
		log:               lb.log,
		metrics:           lb.metrics,
		linearSearchSpace: lb.linearSearchSpace,
	}
}

// subscribe establishes (or re-establishes) the SD subscription and starts
// the goroutine that feeds incoming batches to the single-writer executor.
// It takes subMu itself, so callers must not hold it; its callers (New and
// the CAS winner in maybeResubscribe) never run it concurrently.
func (lb *LoadBalancer) subscribe() {
	ctx, cancel := context.WithCancel(context.Background())
	batches, errs, sdCancel := lb.discoverer.Subscribe(ctx)

	lb.subMu.Lock()
	lb.subCtx = ctx
	lb.subCtxCancel = cancel
	lb.subCancel = sdCancel
	lb.firstBatch = true
	lb.subMu.Unlock()

	lb.closeWG.Add(1)
	go lb.pump(ctx, batches, errs)
}

func (lb *LoadBalancer) pump(ctx context.Context, batches <-chan Batch, errs <-chan error) {
	defer lb.closeWG.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-batches:
			if !ok {
				return
			}
			lb.applyBatch(batch)
		case err, ok := <-errs:
			if !ok {
				continue
			}
			lb.handleStreamError(err)
		}
	}
}

func (lb *LoadBalancer) applyBatch(batch Batch) {
	lb.writer.submit(func() {
		old := *lb.hosts.Load()

		lb.subMu.Lock()
		isFirst := lb.firstBatch
		lb.firstBatch = false
		lb.subMu.Unlock()

		result := reconcile(old, batch, lb.reconcileDeps(), isFirst)
		next := result.hosts
		lb.hosts.Store(&next)

		lb.log.WithField("batch_id", lb.batchIDs.next()).
			WithField("hosts", len(next)).
			Debug("applied service discovery batch")

		lb.metrics.IncBatchesApplied()
		lb.publishHostMetrics(next)

		wasEmpty := len(old) == 0
		isEmpty := len(next) == 0
		if wasEmpty && !isEmpty {
			lb.ready.publish(Ready)
		} else if !wasEmpty && isEmpty {
			lb.ready.publish(NotReady)
		}
	})
}

func (lb *LoadBalancer) publishHostMetrics(hosts []*host) {
	if lb.metrics == nil {
		return
	}
	counts := map[string]int{
		"ACTIVE":    0,
		"EXPIRED":   0,
		"UNHEALTHY": 0,
	}
	for _, h := range hosts {
		counts[h.snapshotState().String()]++
	}
	lb.metrics.SetHostsByState(counts)
}

func (lb *LoadBalancer) handleStreamError(err error) {
	if !lb.hc.enabled() {
		lb.log.WithError(err).Error("service discovery stream failed, health checking disabled: terminating")
		lb.fatalErr.Store(&err)
		lb.ready.publish(NotReady)
		return
	}
	lb.log.WithError(err).Warn("service discovery stream failed, retaining current host set and awaiting resubscribe")
}

// SelectConnection picks a connection for a request, reusing an idle one
// when possible.
func (lb *LoadBalancer) SelectConnection(ctx context.Context, filter Filter) (Connection, error) {
	return lb.doSelect(ctx, filter, false)
}

// NewConnection forces a freshly built connection with a permissive
// filter.
func (lb *LoadBalancer) NewConnection(ctx context.Context) (Connection, error) {
	return lb.doSelect(ctx, AnyConnection, true)
}

func (lb *LoadBalancer) doSelect(ctx context.Context, filter Filter, forceNew bool) (Connection, error) {
	if lb.closed.Load() {
		return nil, ErrClosed
	}
	if p := lb.fatalErr.Load(); p != nil {
		return nil, *p
	}

	hosts := *lb.hosts.Load()
	conn, err := lb.selector.selectConn(ctx, hosts, filter, forceNew)
	if err == nil {
		return conn, nil
	}

	if err == ErrNoActiveHost {
		if lb.metrics != nil {
			lb.metrics.IncSelectNoActiveHost()
		}
		lb.maybeResubscribe(hosts)
	}

	return nil, err
}

// maybeResubscribe implements the C5 resubscribe policy: if every current
// host is unhealthy and the backoff window has elapsed, exactly one caller
// wins the CAS and tears down/re-establishes the SD subscription.
func (lb *LoadBalancer) maybeResubscribe(hosts []*host) {
	if !lb.hc.enabled() {
		return
	}
	if len(hosts) == 0 {
		return
	}
	for _, h := range hosts {
		if !h.isUnhealthy() {
			return
		}
	}

	now := lb.hc.Clock.Now().UnixNano()
	next := lb.nextResubscribe.Load()
	if next == resubscribing || now < next {
		return
	}
	if !lb.nextResubscribe.CompareAndSwap(next, resubscribing) {
		return
	}

	lb.doResubscribe()

	window := lb.jitteredResubscribeWindow()
	lb.nextResubscribe.Store(lb.hc.Clock.Now().UnixNano() + int64(window))
}

func (lb *LoadBalancer) jitteredResubscribeWindow() time.Duration {
	lower, upper := lb.hc.ResubscribeLower, lb.hc.ResubscribeUpper
	if upper <= lower {
		return lower
	}
	return lower + time.Duration(rand.Int64N(int64(upper-lower)+1))
}

func (lb *LoadBalancer) doResubscribe() {
	if lb.metrics != nil {
		lb.metrics.IncResubscribes()
	}
	lb.log.Info("all hosts unhealthy, resubscribing to service discovery")

	lb.subMu.Lock()
	cancel := lb.subCancel
	ctxCancel := lb.subCtxCancel
	lb.subMu.Unlock()

	// cancelling the old subscription must complete before the new one
	// is established.
	if ctxCancel != nil {
		ctxCancel()
	}
	if cancel != nil {
		cancel()
	}

	lb.subscribe()
}

// Subscribe returns a channel that replays the most recent readiness event
// to new subscribers and receives every subsequent empty<->non-empty
// transition. The returned cancel func releases the subscription.
func (lb *LoadBalancer) Subscribe() (<-chan Readiness, func()) {
	return lb.ready.subscribe()
}

// Close is idempotent. It cancels the SD subscription and closes every
// host through markClosed, which closes each pooled connection. graceful
// is not read: true and false take the same path, and neither interrupts
// connection builds already in flight.
func (lb *LoadBalancer) Close(graceful bool) error {
	lb.closeOnce.Do(func() {
		lb.closed.Store(true)

		lb.subMu.Lock()
		ctxCancel := lb.subCtxCancel
		cancel := lb.subCancel
		lb.subMu.Unlock()

		if ctxCancel != nil {
			ctxCancel()
		}
		if cancel != nil {
			cancel()
		}

		lb.closeWG.Wait()

		lb.writer.submit(func() {
			hosts := *lb.hosts.Load()
			for _, h := range hosts {
				h.markClosed()
			}
			empty := []*host{}
			lb.hosts.Store(&empty)
			lb.ready.publish(NotReady)
		})
	})

	return nil
}
