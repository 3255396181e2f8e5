// Package sd provides a reference, in-memory implementation of
// loadbalancer.Discoverer for tests and the demo CLI, in the same spirit as
// skipper's routing/testdataclient: a deterministic Push replaces polling a
// real discovery backend.
package sd

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/zalando/skipper-lb/loadbalancer"
)

// Fake is a manually-driven Discoverer. Each call to Subscribe gets its own
// subscription id and its own channel, so tests can observe resubscribes as
// distinct generations.
type Fake struct {
	mu   sync.Mutex
	subs map[string]*subscription
}

type subscription struct {
	id      string
	batches chan loadbalancer.Batch
	errs    chan error
}

// New creates an empty Fake discoverer.
func New() *Fake {
	return &Fake{subs: make(map[string]*subscription)}
}

// Subscribe implements loadbalancer.Discoverer. Every live subscription
// receives every subsequent Push/Fail call until its cancel func is
// invoked or ctx is done.
func (f *Fake) Subscribe(ctx context.Context) (<-chan loadbalancer.Batch, <-chan error, func()) {
	sub := &subscription{
		id:      uuid.NewString(),
		batches: make(chan loadbalancer.Batch, 16),
		errs:    make(chan error, 1),
	}

	f.mu.Lock()
	f.subs[sub.id] = sub
	f.mu.Unlock()

	cancel := func() { f.remove(sub.id) }

	go func() {
		<-ctx.Done()
		f.remove(sub.id)
	}()

	return sub.batches, sub.errs, cancel
}

func (f *Fake) remove(id string) {
	f.mu.Lock()
	sub, ok := f.subs[id]
	if ok {
		delete(f.subs, id)
	}
	f.mu.Unlock()

	if ok {
		close(sub.batches)
	}
}

// Push delivers batch to every currently subscribed listener.
func (f *Fake) Push(batch loadbalancer.Batch) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs {
		select {
		case sub.batches <- batch:
		default:
			// a test that floods the fake without draining gets a
			// deterministic drop rather than an unbounded buffer.
		}
	}
}

// Fail reports err to every currently subscribed listener, then leaves the
// subscription open (the balancer decides whether to keep it, per its own
// health-check-enabled/disabled policy).
func (f *Fake) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs {
		select {
		case sub.errs <- err:
		default:
		}
	}
}

// SubscriberCount reports how many subscriptions are currently live; tests
// use it to assert that a resubscribe actually cancelled the old
// subscription before establishing the new one.
func (f *Fake) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
