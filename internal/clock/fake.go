package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Scheduler. Callbacks run synchronously on the
// goroutine calling Tick.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	subs   map[int]*fakeSub
}

type fakeSub struct {
	interval time.Duration
	fn       func()
}

// NewFake returns a Fake whose clock starts at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start, subs: make(map[int]*fakeSub)}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Every(interval time.Duration, fn func()) CancelFunc {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = &fakeSub{interval: interval, fn: fn}
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// Tick advances the clock by one interval n times, firing every live
// subscription after each step. Subscriptions cancelled during a callback do
// not fire again.
func (f *Fake) Tick(n int) {
	for i := 0; i < n; i++ {
		f.mu.Lock()
		var step time.Duration
		ids := make([]int, 0, len(f.subs))
		for id, s := range f.subs {
			ids = append(ids, id)
			if step == 0 || s.interval < step {
				step = s.interval
			}
		}
		if step == 0 {
			step = time.Second
		}
		f.now = f.now.Add(step)
		f.mu.Unlock()

		for _, id := range ids {
			f.mu.Lock()
			s, ok := f.subs[id]
			f.mu.Unlock()
			if ok {
				s.fn()
			}
		}
	}
}

// Delay moves the clock forward without firing anything, as if the process
// had been suspended.
func (f *Fake) Delay(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Active returns the number of live subscriptions.
func (f *Fake) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
