// Package sched provides a keyed serial executor: tasks submitted under the
// same key run one at a time in submission order, tasks under different keys
// run concurrently.
package sched

import (
	"log/slog"
	"sync"
)

// worker holds the pending queue for one key. A worker exists only while it
// has work; the drain goroutine removes it once the queue empties.
type worker struct {
	pending []func()
	active  bool
}

// Scheduler runs tasks serially per key. Workers are created lazily on first
// submit and torn down when their queue drains, so idle keys cost nothing.
type Scheduler struct {
	mu      sync.Mutex
	workers map[int]*worker
	closed  bool
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// New creates a Scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		workers: make(map[int]*worker),
		logger:  logger.With(slog.String("component", "sched")),
	}
}

// Submit enqueues a task under the given key. Tasks for one key run in FIFO
// order on a single goroutine. Submissions after Close are dropped.
func (s *Scheduler) Submit(key int, task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	w := s.workers[key]
	if w == nil {
		w = &worker{}
		s.workers[key] = w
	}
	w.pending = append(w.pending, task)

	if !w.active {
		w.active = true
		s.wg.Add(1)
		go s.drain(key, w)
	}
}

// drain runs the worker's queue to exhaustion, then removes the worker. A
// Submit racing the removal sees the empty map slot and spawns a fresh drain.
func (s *Scheduler) drain(key int, w *worker) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		if len(w.pending) == 0 {
			w.active = false
			delete(s.workers, key)
			s.mu.Unlock()
			return
		}
		task := w.pending[0]
		w.pending = w.pending[1:]
		s.mu.Unlock()

		s.runTask(key, task)
	}
}

// runTask executes one task with panic isolation so a failing handler cannot
// take down the worker or stall the key's queue.
func (s *Scheduler) runTask(key int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panic",
				slog.Int("key", key),
				slog.Any("panic", r),
			)
		}
	}()
	task()
}

// Close stops accepting new tasks and waits for in-flight queues to drain.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
}
