/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package stats

import (
	"sort"
	"sync"
	"time"
)

// Result values of an Event.
const (
	ResultAllowed = "allowed"
	ResultDenied  = "denied"
)

// Event is one admission decision.
type Event struct {
	Time time.Time
	// Endpoint is the ID of the matched endpoint rule. Empty when no rule matched.
	Endpoint  string
	LimitType string
	Allowed   bool
	Degraded  bool
}

// Result returns ResultAllowed or ResultDenied.
func (e Event) Result() string {
	if e.Allowed {
		return ResultAllowed
	}
	return ResultDenied
}

// Recorder receives admission decisions. Implementations must be safe for concurrent use and must not block.
type Recorder interface {
	Record(e Event)
}

// Recorders fans an event out to several recorders.
type Recorders []Recorder

// Record implements Recorder.
func (rs Recorders) Record(e Event) {
	for _, r := range rs {
		r.Record(e)
	}
}

// DisabledRecorder drops all events.
type DisabledRecorder struct{}

// Record implements Recorder.
func (DisabledRecorder) Record(Event) {}

// CounterKey identifies one counter.
type CounterKey struct {
	Endpoint  string `json:"endpoint"`
	LimitType string `json:"limitType"`
	Result    string `json:"result"`
}

// Counter is a counter value.
type Counter struct {
	CounterKey
	Count int64 `json:"count"`
}

// Counters counts events in memory.
type Counters struct {
	mu       sync.Mutex
	counters map[CounterKey]int64
	degraded int64
}

// NewCounters creates a new Counters.
func NewCounters() *Counters {
	return &Counters{counters: make(map[CounterKey]int64)}
}

// Record implements Recorder.
func (c *Counters) Record(e Event) {
	key := CounterKey{Endpoint: e.Endpoint, LimitType: e.LimitType, Result: e.Result()}
	c.mu.Lock()
	c.counters[key]++
	if e.Degraded {
		c.degraded++
	}
	c.mu.Unlock()
}

// Snapshot returns the current counters sorted by key.
func (c *Counters) Snapshot() (counters []Counter, degraded int64) {
	c.mu.Lock()
	counters = make([]Counter, 0, len(c.counters))
	for k, v := range c.counters {
		counters = append(counters, Counter{CounterKey: k, Count: v})
	}
	degraded = c.degraded
	c.mu.Unlock()
	sortCounters(counters)
	return counters, degraded
}

// Drain returns the current counters and resets them.
func (c *Counters) Drain() (counters []Counter, degraded int64) {
	c.mu.Lock()
	old, oldDegraded := c.counters, c.degraded
	c.counters, c.degraded = make(map[CounterKey]int64, len(old)), 0
	c.mu.Unlock()

	counters = make([]Counter, 0, len(old))
	for k, v := range old {
		counters = append(counters, Counter{CounterKey: k, Count: v})
	}
	sortCounters(counters)
	return counters, oldDegraded
}

// add merges counters back, used when a flush fails.
func (c *Counters) add(counters []Counter, degraded int64) {
	c.mu.Lock()
	for _, cnt := range counters {
		c.counters[cnt.CounterKey] += cnt.Count
	}
	c.degraded += degraded
	c.mu.Unlock()
}

func sortCounters(counters []Counter) {
	sort.Slice(counters, func(i, j int) bool {
		a, b := counters[i].CounterKey, counters[j].CounterKey
		if a.Endpoint != b.Endpoint {
			return a.Endpoint < b.Endpoint
		}
		if a.LimitType != b.LimitType {
			return a.LimitType < b.LimitType
		}
		return a.Result < b.Result
	})
}
