package loadbalancer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// fakeConn is a minimal Connection test double.
type fakeConn struct {
	mu       sync.Mutex
	reserved bool
	closed   bool
	live     bool
	addr     Address
}

func newFakeConn(addr Address) *fakeConn {
	return &fakeConn{live: true, addr: addr}
}

func (c *fakeConn) TryReserve() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reserved || c.closed || !c.live {
		return false
	}
	c.reserved = true
	return true
}

func (c *fakeConn) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reserved = false
}

func (c *fakeConn) IsLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live && !c.closed
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// fakeFactory builds fakeConns and lets tests script per-address failures.
type fakeFactory struct {
	mu       sync.Mutex
	fail     map[Address]bool
	built    []Address
	onBuild  func(Address)
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{fail: make(map[Address]bool)}
}

func (f *fakeFactory) setFail(addr Address, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[addr] = fail
}

func (f *fakeFactory) Connect(ctx context.Context, addr Address) (Connection, error) {
	f.mu.Lock()
	shouldFail := f.fail[addr]
	f.built = append(f.built, addr)
	cb := f.onBuild
	f.mu.Unlock()

	if cb != nil {
		cb(addr)
	}

	if shouldFail {
		return nil, errors.New("fake: connect failed")
	}
	return newFakeConn(addr), nil
}

func (f *fakeFactory) buildCount(addr Address) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.built {
		if a == addr {
			n++
		}
	}
	return n
}

// fakeClock is a manually-advanced Clock: Schedule registers a task at a
// fire time, and Advance moves time forward, running every task whose fire
// time has passed, in fire-time order.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	tasks []*fakeTask
}

type fakeTask struct {
	fireAt    time.Time
	task      func()
	cancelled bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Schedule(delay time.Duration, task func()) CancelHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTask{fireAt: c.now.Add(delay), task: task}
	c.tasks = append(c.tasks, t)
	return t
}

func (t *fakeTask) Cancel() {
	t.cancelled = true
}

// Advance moves the fake clock forward by d and synchronously runs every
// due, non-cancelled task in fire-time order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now

	due := make([]*fakeTask, 0)
	remaining := make([]*fakeTask, 0, len(c.tasks))
	for _, t := range c.tasks {
		if !t.fireAt.After(now) {
			due = append(due, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	c.tasks = remaining
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].fireAt.Before(due[j].fireAt) })
	for _, t := range due {
		if !t.cancelled {
			t.task()
		}
	}
}

// pendingTasks reports how many tasks are currently scheduled and not
// cancelled, for assertions about "at most one probe in flight".
func (c *fakeClock) pendingTasks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tasks {
		if !t.cancelled {
			n++
		}
	}
	return n
}

// fakeDiscoverer is a manually-driven Discoverer test double, local to this
// package to avoid importing internal/sd (which itself imports
// loadbalancer).
type fakeDiscoverer struct {
	mu            sync.Mutex
	subs          map[int]chan Batch
	errs          map[int]chan error
	nextID        int
	subscribeHook func()
}

func newFakeDiscoverer() *fakeDiscoverer {
	return &fakeDiscoverer{subs: make(map[int]chan Batch), errs: make(map[int]chan error)}
}

func (d *fakeDiscoverer) Subscribe(ctx context.Context) (<-chan Batch, <-chan error, func()) {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	batches := make(chan Batch, 16)
	errs := make(chan error, 1)
	d.subs[id] = batches
	d.errs[id] = errs
	hook := d.subscribeHook
	d.mu.Unlock()

	if hook != nil {
		hook()
	}

	cancel := func() { d.remove(id) }
	go func() {
		<-ctx.Done()
		d.remove(id)
	}()

	return batches, errs, cancel
}

func (d *fakeDiscoverer) remove(id int) {
	d.mu.Lock()
	batches, ok := d.subs[id]
	if ok {
		delete(d.subs, id)
		delete(d.errs, id)
	}
	d.mu.Unlock()
	if ok {
		close(batches)
	}
}

func (d *fakeDiscoverer) Push(batch Batch) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.subs {
		ch <- batch
	}
}

func (d *fakeDiscoverer) Fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.errs {
		select {
		case ch <- err:
		default:
		}
	}
}

func (d *fakeDiscoverer) subscriberCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}
