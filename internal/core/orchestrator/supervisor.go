package orchestrator

import (
	"context"
	"sync"
)

// Supervisor keeps one task per job id. Tasks run on contexts derived from
// the supervisor's own, so Shutdown stops them all.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	tasks    map[string]*task
	wg       sync.WaitGroup
	onChange func(running int)
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSupervisor(onChange func(running int)) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	if onChange == nil {
		onChange = func(int) {}
	}
	return &Supervisor{
		ctx:      ctx,
		cancel:   cancel,
		tasks:    make(map[string]*task),
		onChange: onChange,
	}
}

// Go starts fn for id unless a task for id is already running or the
// supervisor is shut down. It reports whether fn was started.
func (s *Supervisor) Go(id string, fn func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	if _, ok := s.tasks[id]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{cancel: cancel, done: make(chan struct{})}
	s.tasks[id] = t
	s.onChange(len(s.tasks))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(t.done)
		defer s.remove(id, t)
		defer cancel()
		fn(ctx)
	}()
	return true
}

func (s *Supervisor) remove(id string, t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[id] == t {
		delete(s.tasks, id)
		s.onChange(len(s.tasks))
	}
}

// Cancel stops the task for id and reports whether one was running. It does
// not wait for the task to return.
func (s *Supervisor) Cancel(id string) bool {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if ok {
		t.cancel()
	}
	return ok
}

// Done returns a channel closed when the task for id finishes, or nil when
// no task is running.
func (s *Supervisor) Done(id string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		return t.done
	}
	return nil
}

func (s *Supervisor) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Wait blocks until every task has returned.
func (s *Supervisor) Wait() { s.wg.Wait() }

// Shutdown cancels all tasks, refuses new ones and waits for the running
// ones to return.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}
