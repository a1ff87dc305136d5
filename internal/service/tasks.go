package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskHandle is an addressable future for one background task. Callers that
// need drain semantics hold the handle and Await it with a bounded budget;
// everyone else drops it.
type TaskHandle struct {
	name string
	done chan struct{}
	err  error
}

// Await blocks until the task finishes or the budget elapses. A timeout
// returns context.DeadlineExceeded; the task keeps running.
func (h *TaskHandle) Await(ctx context.Context, budget time.Duration) error {
	if h == nil {
		return nil
	}
	timer := time.NewTimer(budget)
	defer timer.Stop()
	select {
	case <-h.done:
		return h.err
	case <-timer.C:
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done reports whether the task has finished without blocking.
func (h *TaskHandle) Done() bool {
	if h == nil {
		return true
	}
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// TaskSupervisor runs fire-and-forget work on a bounded worker pool. Task
// errors are logged, never surfaced to the scheduling caller. Tasks run on a
// background context so they survive handler return; Shutdown drains them.
type TaskSupervisor struct {
	logger *zap.Logger
	queue  chan *task
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

type task struct {
	handle *TaskHandle
	fn     func(ctx context.Context) error
}

const defaultTaskQueueSize = 256

func NewTaskSupervisor(workers int, logger *zap.Logger) *TaskSupervisor {
	if workers <= 0 {
		workers = 4
	}
	s := &TaskSupervisor{
		logger: logger,
		queue:  make(chan *task, defaultTaskQueueSize),
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *TaskSupervisor) worker() {
	defer s.wg.Done()
	for t := range s.queue {
		s.run(t)
	}
}

func (s *TaskSupervisor) run(t *task) {
	defer close(t.handle.done)
	if err := t.fn(context.Background()); err != nil {
		t.handle.err = err
		s.logger.Warn("background task failed",
			zap.String("task", t.handle.name),
			zap.Error(err))
	}
}

// Submit schedules fn and returns its handle. When the queue is saturated the
// task runs on its own goroutine rather than blocking the submitting handler.
// After Shutdown, tasks are rejected with an immediately-done handle.
func (s *TaskSupervisor) Submit(name string, fn func(ctx context.Context) error) *TaskHandle {
	h := &TaskHandle{name: name, done: make(chan struct{})}
	t := &task{handle: h, fn: fn}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(h.done)
		return h
	}
	select {
	case s.queue <- t:
		s.mu.Unlock()
	default:
		s.wg.Add(1)
		s.mu.Unlock()
		go func() {
			defer s.wg.Done()
			s.run(t)
		}()
	}
	return h
}

// Shutdown stops intake and waits for in-flight tasks until ctx expires.
func (s *TaskSupervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
