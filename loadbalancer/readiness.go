package loadbalancer

import "sync"

// readinessBroadcaster replays the most recent Readiness value to every new
// subscriber and pushes every subsequent empty<->non-empty transition to
// all current subscribers. Each subscriber channel is buffered by one slot
// and kept at the latest value only: a slow subscriber does not block
// publication, it just misses intermediate values and sees the latest one.
type readinessBroadcaster struct {
	mu   sync.Mutex
	last Readiness
	subs map[chan Readiness]struct{}
}

func newReadinessBroadcaster() *readinessBroadcaster {
	return &readinessBroadcaster{
		last: NotReady,
		subs: make(map[chan Readiness]struct{}),
	}
}

func (b *readinessBroadcaster) subscribe() (<-chan Readiness, func()) {
	b.mu.Lock()
	ch := make(chan Readiness, 1)
	ch <- b.last
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, cancel
}

func (b *readinessBroadcaster) publish(r Readiness) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.last == r {
		return
	}
	b.last = r

	for ch := range b.subs {
		select {
		case ch <- r:
		default:
			// drop the stale value, keep only the latest
			select {
			case <-ch:
			default:
			}
			ch <- r
		}
	}
}
