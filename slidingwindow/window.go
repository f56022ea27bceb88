/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package slidingwindow

import (
	"sync"
	"time"
)

// compactThreshold is the number of dead slots at the head of the queue after which
// the live part is moved to the beginning of the slice.
const compactThreshold = 32

// windowLog is the state of one key: ordered timestamps of admitted events.
// Timestamps are appended at the tail and dropped from the head only.
type windowLog struct {
	mu     sync.Mutex
	stamps []time.Duration
	head   int
}

func newWindowLog() *windowLog {
	return &windowLog{}
}

// prune drops every timestamp that is not newer than cutoff.
func (w *windowLog) prune(cutoff time.Duration) {
	for w.head < len(w.stamps) && w.stamps[w.head] <= cutoff {
		w.head++
	}
	switch {
	case w.head == len(w.stamps):
		w.stamps = w.stamps[:0]
		w.head = 0
	case w.head >= compactThreshold && w.head*2 >= len(w.stamps):
		n := copy(w.stamps, w.stamps[w.head:])
		w.stamps = w.stamps[:n]
		w.head = 0
	}
}

func (w *windowLog) count() int {
	return len(w.stamps) - w.head
}

// at returns the i-th live timestamp, 0 being the oldest one.
func (w *windowLog) at(i int) time.Duration {
	return w.stamps[w.head+i]
}

// push appends a timestamp keeping the queue ordered even if the clock stalls.
func (w *windowLog) push(now time.Duration) {
	if n := len(w.stamps); n > w.head && w.stamps[n-1] > now {
		now = w.stamps[n-1]
	}
	w.stamps = append(w.stamps, now)
}

// evaluate prunes the queue for the given window and reports whether one more event fits.
// It never records the event.
func (w *windowLog) evaluate(now time.Duration, maxRequests int, window time.Duration) (allowed bool, count int) {
	w.prune(now - window)
	count = w.count()
	return count < maxRequests, count
}

// resetAfter returns how long it takes for the oldest counted event to leave the window.
func (w *windowLog) resetAfter(now, window time.Duration) time.Duration {
	if w.count() == 0 {
		return window
	}
	return positive(w.at(0) + window - now)
}

// untilFree returns how long it takes for the queue to have room for one more event
// under a limit of maxRequests (maxRequests > 0, count >= maxRequests).
func (w *windowLog) untilFree(now time.Duration, count, maxRequests int, window time.Duration) time.Duration {
	idx := count - maxRequests
	if idx < 0 || idx >= count {
		return w.resetAfter(now, window)
	}
	return positive(w.at(idx) + window - now)
}

func positive(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
