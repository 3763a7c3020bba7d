// Package loop implements the single-threaded cooperative event loop (the
// "selector" every element, callback, and alarm runs
// on). It is a min-heap of scheduled callbacks driven by one goroutine;
// RunInLoop lets any goroutine hand work to that thread without locking
// element state directly.
package loop

import (
	"container/heap"
	"sync"
	"time"
)

// AlarmID identifies a scheduled alarm so it can be cancelled/re-registered.
type AlarmID uint64

type alarmItem struct {
	id   AlarmID
	due  time.Time
	fn   func()
	index int
}

type alarmHeap []*alarmItem

func (h alarmHeap) Len() int            { return len(h) }
func (h alarmHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h alarmHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *alarmHeap) Push(x interface{}) {
	item := x.(*alarmItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *alarmHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Loop is the cooperative selector: all element methods, callbacks, and
// alarm firings execute on its single goroutine.
type Loop struct {
	mu      sync.Mutex
	alarms  alarmHeap
	byID    map[AlarmID]*alarmItem
	nextID  AlarmID
	pending []func()
	wake    chan struct{}
	stop    chan struct{}
	nowFn   func() time.Time
}

// New creates a loop. nowFn defaults to time.Now; tests may override it to
// control alarm firing deterministically.
func New() *Loop {
	return &Loop{
		byID: make(map[AlarmID]*alarmItem),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		nowFn: time.Now,
	}
}

// Now returns the loop's notion of current time.
func (l *Loop) Now() time.Time {
	if l.nowFn != nil {
		return l.nowFn()
	}
	return time.Now()
}

// RunInLoop enqueues fn to run on the loop's goroutine at the next tick.
// Any goroutine may call this safely; it is the mechanism by which, e.g.,
// the stats worker thread or an I/O completion hands control back to the
// cooperative loop.
func (l *Loop) RunInLoop(fn func()) {
	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()
	l.poke()
}

func (l *Loop) poke() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// RegisterAlarm schedules fn to run after delay elapses and returns an id
// that can be passed to UnregisterAlarm.
func (l *Loop) RegisterAlarm(delay time.Duration, fn func()) AlarmID {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	item := &alarmItem{id: id, due: l.Now().Add(delay), fn: fn}
	heap.Push(&l.alarms, item)
	l.byID[id] = item
	l.poke()
	return id
}

// UnregisterAlarm cancels a pending alarm; a no-op if it already fired.
func (l *Loop) UnregisterAlarm(id AlarmID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	item, ok := l.byID[id]
	if !ok {
		return
	}
	heap.Remove(&l.alarms, item.index)
	delete(l.byID, id)
}

// Tick runs every pending RunInLoop callback and every alarm due at or
// before now, returning the duration until the next alarm (or zero if
// none pending). Call this repeatedly from the process's Run method, or
// drive it directly from tests for deterministic stepping.
func (l *Loop) Tick() time.Duration {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, fn := range pending {
		fn()
	}

	for {
		l.mu.Lock()
		if len(l.alarms) == 0 {
			l.mu.Unlock()
			return 0
		}
		next := l.alarms[0]
		if next.due.After(l.Now()) {
			wait := next.due.Sub(l.Now())
			l.mu.Unlock()
			return wait
		}
		heap.Pop(&l.alarms)
		delete(l.byID, next.id)
		l.mu.Unlock()
		next.fn()
	}
}

// Run drives Tick in a loop until Stop is called, sleeping between ticks
// for as long as Tick reports (or until woken by RunInLoop/RegisterAlarm).
func (l *Loop) Run() {
	for {
		wait := l.Tick()
		select {
		case <-l.stop:
			return
		case <-l.wake:
		case <-time.After(maxDuration(wait, time.Millisecond)):
		}
	}
}

// Stop terminates Run.
func (l *Loop) Stop() {
	close(l.stop)
}

func maxDuration(d, min time.Duration) time.Duration {
	if d <= 0 {
		return min
	}
	return d
}
