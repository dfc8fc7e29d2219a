package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock. Tickers fire when Advance moves the
// clock past their next deadline; like time.Ticker, a slow reader misses ticks
// rather than queueing them.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

// NewFake returns a Fake clock set to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{
		clock:    f,
		interval: d,
		next:     f.now.Add(d),
		ch:       make(chan time.Time, 1),
	}
	f.tickers = append(f.tickers, t)
	return t
}

// Advance moves the clock forward and fires every ticker whose deadline passed.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now
	active := make([]*fakeTicker, 0, len(f.tickers))
	for _, t := range f.tickers {
		if !t.stopped {
			active = append(active, t)
		}
	}
	f.tickers = active
	f.mu.Unlock()

	for _, t := range active {
		t.fire(now)
	}
}

// Tickers returns the number of live tickers.
func (f *Fake) Tickers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tickers {
		if !t.stopped {
			n++
		}
	}
	return n
}

type fakeTicker struct {
	clock    *Fake
	interval time.Duration
	next     time.Time
	stopped  bool
	ch       chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}

func (t *fakeTicker) fire(now time.Time) {
	t.clock.mu.Lock()
	if t.stopped || now.Before(t.next) {
		t.clock.mu.Unlock()
		return
	}
	for !now.Before(t.next) {
		t.next = t.next.Add(t.interval)
	}
	t.clock.mu.Unlock()

	select {
	case t.ch <- now:
	default:
	}
}
