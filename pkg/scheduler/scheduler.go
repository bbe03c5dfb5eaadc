// Package scheduler provides a time-ordered deadline scheduler. Deadlines fire
// their callback at or after the due time unless cancelled first; cancellation
// and firing are mutually exclusive per handle.
package scheduler

import (
	"container/heap"
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

type entryState int

const (
	statePending entryState = iota
	stateDispatched
	stateCancelled
)

// FireFunc is invoked once when a deadline elapses. The now argument is the
// scheduler's clock reading at dispatch time.
type FireFunc func(now time.Time)

type entry struct {
	id    uint64
	key   string
	dueAt time.Time
	fire  FireFunc
	state entryState
	index int
}

type deadlineHeap []*entry

func (h deadlineHeap) Len() int { return len(h) }

func (h deadlineHeap) Less(i, j int) bool { return h[i].dueAt.Before(h[j].dueAt) }

func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x any) {
	item := x.(*entry)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]

	return item
}

// Scheduler is a min-heap of pending deadlines drained by a single loop.
// Firing work is handed to a worker pool so the loop is never blocked by
// handler execution.
type Scheduler struct {
	mu      sync.Mutex
	heap    deadlineHeap
	byID    map[uint64]*entry
	nextID  uint64
	wake    chan struct{}
	jobs    chan *entry
	clock   Clock
	workers int
	logger  *slog.Logger
}

const defaultWorkers = 4

func New(clock Clock, workers int, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}

	if workers <= 0 {
		workers = defaultWorkers
	}

	return &Scheduler{
		byID:    make(map[uint64]*entry),
		wake:    make(chan struct{}, 1),
		jobs:    make(chan *entry, 256),
		clock:   clock,
		workers: workers,
		logger:  logger.With("module", "deadline_scheduler"),
	}
}

// Schedule registers a deadline and returns its handle. A dueAt in the past
// fires on the loop's next pass, never before Run is serving.
func (s *Scheduler) Schedule(key string, dueAt time.Time, onFire FireFunc) uint64 {
	s.mu.Lock()

	s.nextID++
	item := &entry{
		id:    s.nextID,
		key:   key,
		dueAt: dueAt.UTC(),
		fire:  onFire,
	}
	s.byID[item.id] = item
	heap.Push(&s.heap, item)
	s.mu.Unlock()

	s.kick()

	return item.id
}

// Cancel prevents a pending deadline from firing. It returns false when the
// handle is unknown or its firing was already dispatched: the pending ->
// dispatched transition under the scheduler mutex is the linearization point,
// so exactly one of Cancel and the firing wins.
func (s *Scheduler) Cancel(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.byID[id]
	if !ok || item.state != statePending {
		return false
	}

	item.state = stateCancelled
	delete(s.byID, id)

	if item.index >= 0 {
		heap.Remove(&s.heap, item.index)
	}

	return true
}

// Pending reports the number of live deadlines.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.byID)
}

// Run serves deadlines until the context is cancelled. It owns the single
// scheduling loop plus the dispatch workers.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for range s.workers {
		wg.Add(1)

		go func() {
			defer wg.Done()
			s.worker(ctx)
		}()
	}

	s.loop(ctx)
	close(s.jobs)
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	for {
		next, ok := s.dispatchDue()

		var wait <-chan time.Time
		if ok {
			delay := next.Sub(s.clock.Now())
			if delay < 0 {
				delay = 0
			}

			wait = s.clock.After(delay)
		}

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-wait:
		}
	}
}

// dispatchDue moves every elapsed deadline to the worker queue and returns the
// due time of the next pending deadline, if any.
func (s *Scheduler) dispatchDue() (time.Time, bool) {
	now := s.clock.Now()

	for {
		s.mu.Lock()

		if s.heap.Len() == 0 {
			s.mu.Unlock()

			return time.Time{}, false
		}

		head := s.heap[0]
		if head.dueAt.After(now) {
			due := head.dueAt
			s.mu.Unlock()

			return due, true
		}

		heap.Pop(&s.heap)
		head.state = stateDispatched
		delete(s.byID, head.id)
		s.mu.Unlock()

		s.jobs <- head
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	for item := range s.jobs {
		if ctx.Err() != nil {
			return
		}

		s.safeFire(item)
	}
}

// safeFire invokes the handler, absorbing panics as engine faults. The
// deadline has semantically passed, so a failed handler is not retried.
func (s *Scheduler) safeFire(item *entry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Deadline handler panicked",
				"key", item.key,
				"due_at", item.dueAt,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	item.fire(s.clock.Now())
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
