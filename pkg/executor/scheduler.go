package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/devicelab-dev/webtest-runner/pkg/logger"
)

// ErrSchedulerClosed is returned by Submit after Shutdown.
var ErrSchedulerClosed = errors.New("scheduler is shut down")

// Scheduler runs fire-and-forget tasks detached from the caller's request.
// Each task is keyed so it can be cancelled while it runs.
type Scheduler struct {
	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tasks  map[string]context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler whose tasks derive from a fresh background context.
func NewScheduler() *Scheduler {
	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		base:   base,
		cancel: cancel,
		tasks:  make(map[string]context.CancelFunc),
	}
}

// Submit starts fn in its own goroutine under key. Keys must be unique among
// running tasks.
func (s *Scheduler) Submit(key string, fn func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	if _, ok := s.tasks[key]; ok {
		return fmt.Errorf("task %q already running", key)
	}

	ctx, cancel := context.WithCancel(s.base)
	s.tasks[key] = cancel
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer s.remove(key)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("task %s panicked: %v", key, r)
			}
		}()
		fn(ctx)
	}()
	return nil
}

func (s *Scheduler) remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.tasks[key]; ok {
		cancel()
		delete(s.tasks, key)
	}
}

// Cancel signals the task under key to stop. Returns false if no such task runs.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.tasks[key]
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until every submitted task has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Shutdown refuses new tasks, cancels running ones and waits for them until
// ctx expires.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	n := len(s.tasks)
	s.mu.Unlock()
	s.cancel()

	if n > 0 {
		logger.Info("waiting for %d running tasks", n)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}
