// Package batch coalesces per-topic items into batches bounded by size and delay.
package batch

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultTimeout   = time.Second
	DefaultThreshold = 100
)

// Sink receives a flushed batch. It runs with the topic's lock held, so it must not call
// back into the accumulator for the same topic.
type Sink[T any] func(topic string, items []T)

type Options struct {
	Timeout   time.Duration
	Threshold int
}

type topicState[T any] struct {
	mu    sync.Mutex
	items []T
	timer *time.Timer
	// gen identifies the live timer; a firing timer whose generation is stale does nothing.
	gen uint64
}

// Accumulator buffers items per topic and hands them to the sink when the buffer reaches
// Threshold or when the topic's trailing timer elapses. The timer is restarted after every
// flush, including empty ones.
type Accumulator[T any] struct {
	timeout   time.Duration
	threshold int
	sink      Sink[T]

	mu     sync.Mutex
	topics map[string]*topicState[T]
	closed atomic.Bool
}

func New[T any](opts Options, sink Sink[T]) *Accumulator[T] {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	return &Accumulator[T]{
		timeout:   opts.Timeout,
		threshold: opts.Threshold,
		sink:      sink,
		topics:    map[string]*topicState[T]{},
	}
}

func (a *Accumulator[T]) state(topic string) *topicState[T] {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.topics[topic]
	if !ok {
		st = &topicState[T]{}
		a.topics[topic] = st
	}
	return st
}

// Add appends item to the topic buffer. The first item since the timer was last cleared
// arms the timer; reaching the threshold flushes synchronously in the caller. It reports
// false once the accumulator is closed.
func (a *Accumulator[T]) Add(topic string, item T) bool {
	st := a.state(topic)
	st.mu.Lock()
	defer st.mu.Unlock()
	if a.closed.Load() {
		return false
	}

	st.items = append(st.items, item)
	if st.timer == nil {
		a.armLocked(topic, st)
	}
	if len(st.items) >= a.threshold {
		a.flushLocked(topic, st)
	}
	return true
}

// Flush delivers any pending items for topic and restarts its timer.
func (a *Accumulator[T]) Flush(topic string) {
	st := a.state(topic)
	st.mu.Lock()
	defer st.mu.Unlock()
	if a.closed.Load() {
		return
	}
	a.flushLocked(topic, st)
}

func (a *Accumulator[T]) flushLocked(topic string, st *topicState[T]) {
	if len(st.items) > 0 {
		items := st.items
		st.items = nil
		a.sink(topic, items)
	}
	a.armLocked(topic, st)
}

func (a *Accumulator[T]) armLocked(topic string, st *topicState[T]) {
	if st.timer != nil {
		st.timer.Stop()
	}
	st.gen++
	gen := st.gen
	st.timer = time.AfterFunc(a.timeout, func() {
		a.fire(topic, st, gen)
	})
}

func (a *Accumulator[T]) fire(topic string, st *topicState[T], gen uint64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.gen != gen || a.closed.Load() {
		return
	}
	a.flushLocked(topic, st)
}

// Clear stops every timer and drops every pending item. Timers armed before Clear never
// flush afterwards.
func (a *Accumulator[T]) Clear() {
	a.mu.Lock()
	states := make([]*topicState[T], 0, len(a.topics))
	for _, st := range a.topics {
		states = append(states, st)
	}
	a.mu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.gen++
		st.items = nil
		st.mu.Unlock()
	}
}

// Close clears every topic and makes later Add and Flush calls no-ops. The flag is checked
// under each topic's lock, so an Add racing with Close either lands before the clear or not
// at all.
func (a *Accumulator[T]) Close() {
	a.closed.Store(true)
	a.Clear()
}

// Pending reports how many items are buffered for topic.
func (a *Accumulator[T]) Pending(topic string) int {
	a.mu.Lock()
	st, ok := a.topics[topic]
	a.mu.Unlock()
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.items)
}

// Topics lists every topic that has been used, sorted.
func (a *Accumulator[T]) Topics() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.topics))
	for topic := range a.topics {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}
