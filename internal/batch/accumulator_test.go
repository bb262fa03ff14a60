package batch

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type flushRecord struct {
	topic string
	items []string
}

type recorder struct {
	mu      sync.Mutex
	flushes []flushRecord
}

func (r *recorder) sink(topic string, items []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes = append(r.flushes, flushRecord{topic: topic, items: items})
}

func (r *recorder) snapshot() []flushRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]flushRecord, len(r.flushes))
	copy(out, r.flushes)
	return out
}

func (r *recorder) waitFor(t *testing.T, n int, within time.Duration) []flushRecord {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if got := r.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d flushes within %s, got %d", n, within, len(r.snapshot()))
	return nil
}

func timerArmed[T any](a *Accumulator[T], topic string) bool {
	a.mu.Lock()
	st, ok := a.topics[topic]
	a.mu.Unlock()
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.timer != nil
}

func TestFlushOnThresholdIsSynchronous(t *testing.T) {
	rec := &recorder{}
	acc := New[string](Options{Timeout: time.Hour, Threshold: 5}, rec.sink)
	defer acc.Clear()

	for i := 0; i < 5; i++ {
		acc.Add("vitals", fmt.Sprintf("u%d", i))
	}

	got := rec.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected exactly one flush, got %d", len(got))
	}
	want := []string{"u0", "u1", "u2", "u3", "u4"}
	if fmt.Sprint(got[0].items) != fmt.Sprint(want) {
		t.Fatalf("unexpected order: %v", got[0].items)
	}
	if acc.Pending("vitals") != 0 {
		t.Fatalf("buffer not cleared after flush")
	}
	if !timerArmed(acc, "vitals") {
		t.Fatal("size-triggered flush must restart the timer")
	}
}

func TestFlushOnTimeout(t *testing.T) {
	rec := &recorder{}
	acc := New[string](Options{Timeout: 80 * time.Millisecond, Threshold: 100}, rec.sink)
	defer acc.Clear()

	acc.Add("admissions", "p1")
	time.Sleep(20 * time.Millisecond)
	if n := len(rec.snapshot()); n != 0 {
		t.Fatalf("flushed before timeout: %d", n)
	}

	got := rec.waitFor(t, 1, time.Second)
	if len(got[0].items) != 1 || got[0].items[0] != "p1" {
		t.Fatalf("unexpected batch: %v", got[0].items)
	}

	// Subsequent timer cycles run on an empty buffer and must stay silent.
	time.Sleep(250 * time.Millisecond)
	if n := len(rec.snapshot()); n != 1 {
		t.Fatalf("expected a single flush, got %d", n)
	}
}

func TestTimerRestartDoesNotStack(t *testing.T) {
	rec := &recorder{}
	acc := New[string](Options{Timeout: 100 * time.Millisecond, Threshold: 100}, rec.sink)
	defer acc.Clear()

	const cycles = 3
	for i := 0; i < cycles; i++ {
		acc.Add("vitals", fmt.Sprintf("x%d", i))
		time.Sleep(30 * time.Millisecond)
		acc.Add("vitals", fmt.Sprintf("y%d", i))
		got := rec.waitFor(t, i+1, time.Second)
		if last := got[len(got)-1]; len(last.items) != 2 {
			t.Fatalf("cycle %d split across timers: %v", i, last.items)
		}
	}

	time.Sleep(250 * time.Millisecond)
	if n := len(rec.snapshot()); n != cycles {
		t.Fatalf("expected %d flushes, got %d", cycles, n)
	}
}

func TestFlushEmptyBufferIsSilentButRearms(t *testing.T) {
	rec := &recorder{}
	acc := New[string](Options{Timeout: time.Hour, Threshold: 10}, rec.sink)
	defer acc.Clear()

	acc.Flush("discharges")
	if n := len(rec.snapshot()); n != 0 {
		t.Fatalf("empty flush delivered %d batches", n)
	}
	if !timerArmed(acc, "discharges") {
		t.Fatal("empty flush must still restart the timer")
	}
}

func TestTopicsAreIndependent(t *testing.T) {
	rec := &recorder{}
	acc := New[string](Options{Timeout: time.Hour, Threshold: 2}, rec.sink)
	defer acc.Clear()

	acc.Add("vitals", "v1")
	acc.Add("room-101", "r1")
	acc.Add("vitals", "v2")

	got := rec.snapshot()
	if len(got) != 1 || got[0].topic != "vitals" {
		t.Fatalf("unexpected flushes: %v", got)
	}
	if acc.Pending("room-101") != 1 {
		t.Fatalf("room topic should still hold its item")
	}
}

func TestClearCancelsPendingTimers(t *testing.T) {
	rec := &recorder{}
	acc := New[string](Options{Timeout: 40 * time.Millisecond, Threshold: 100}, rec.sink)

	acc.Add("vitals", "x")
	acc.Add("admissions", "y")
	acc.Clear()

	time.Sleep(150 * time.Millisecond)
	if n := len(rec.snapshot()); n != 0 {
		t.Fatalf("timer fired after Clear: %d flushes", n)
	}
	if acc.Pending("vitals") != 0 || acc.Pending("admissions") != 0 {
		t.Fatal("Clear must empty all buffers")
	}
}

func TestCloseRefusesLaterAdds(t *testing.T) {
	rec := &recorder{}
	acc := New[string](Options{Timeout: 30 * time.Millisecond, Threshold: 2}, rec.sink)

	if !acc.Add("vitals", "before") {
		t.Fatal("add before close should be accepted")
	}
	acc.Close()
	if acc.Add("vitals", "after") {
		t.Fatal("add after close should be refused")
	}
	acc.Flush("vitals")

	time.Sleep(100 * time.Millisecond)
	if n := len(rec.snapshot()); n != 0 {
		t.Fatalf("closed accumulator flushed %d batches", n)
	}
	if acc.Pending("vitals") != 0 || timerArmed(acc, "vitals") {
		t.Fatal("closed accumulator must hold no items and no timer")
	}
}

func TestAddRacingCloseLeavesNoTimer(t *testing.T) {
	for i := 0; i < 200; i++ {
		acc := New[int](Options{Timeout: time.Hour, Threshold: 100}, func(string, []int) {})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			acc.Add("vitals", i)
		}()
		go func() {
			defer wg.Done()
			acc.Close()
		}()
		wg.Wait()
		if timerArmed(acc, "vitals") {
			t.Fatalf("iteration %d: timer armed after Close", i)
		}
	}
}
