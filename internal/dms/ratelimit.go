package dms

import (
	"sync"
	"time"
)

// slidingWindow enforces a vendor request quota over a rolling interval.
type slidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  []time.Time
	now    func() time.Time
}

func newSlidingWindow(limit int, window time.Duration) *slidingWindow {
	return &slidingWindow{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow records a call if the quota permits it. When the window is
// full it returns false plus the wait until the oldest call expires.
func (w *slidingWindow) Allow() (bool, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-w.window)

	// Evict calls that have aged out of the window
	kept := w.calls[:0]
	for _, t := range w.calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.calls = kept

	if len(w.calls) >= w.limit {
		retryAfter := w.calls[0].Add(w.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter
	}

	w.calls = append(w.calls, now)
	return true, 0
}

// Remaining reports how many calls the current window still allows.
func (w *slidingWindow) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.now().Add(-w.window)
	active := 0
	for _, t := range w.calls {
		if t.After(cutoff) {
			active++
		}
	}
	if active >= w.limit {
		return 0
	}
	return w.limit - active
}
