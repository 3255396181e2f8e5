package loadbalancer

import "time"

// SystemClock adapts the standard library's time package to Clock, for
// callers that don't need deterministic time in tests.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Schedule(delay time.Duration, task func()) CancelHandle {
	return timerHandle{time.AfterFunc(delay, task)}
}

type timerHandle struct{ t *time.Timer }

func (h timerHandle) Cancel() { h.t.Stop() }
