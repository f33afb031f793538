package session

import (
	"context"
	"sync"
	"time"
)

// Task keys used by the gateway and bridge.
const (
	TaskSTT = "stt"
	TaskLLM = "llm"
	TaskTTS = "tts"
)

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry tracks the cancellable goroutines of one session under stable
// keys. Registering a key cancels and waits out the previous holder, so a
// replacement LLM stream never races its predecessor. Safe for concurrent
// use.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*task
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*task)}
}

// Register derives a cancellable context from parent and installs it under
// key, cancelling any previous task with the same key first. The returned
// finish func must be called when the task's goroutine exits; it is
// idempotent.
func (r *Registry) Register(parent context.Context, key string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	t := &task{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	prev := r.tasks[key]
	r.tasks[key] = t
	r.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	var once sync.Once
	finish := func() {
		once.Do(func() {
			cancel()
			close(t.done)
			r.mu.Lock()
			if r.tasks[key] == t {
				delete(r.tasks, key)
			}
			r.mu.Unlock()
		})
	}
	return ctx, finish
}

// Cancel cancels the task under key, if any. It does not wait.
func (r *Registry) Cancel(key string) {
	r.mu.Lock()
	t := r.tasks[key]
	r.mu.Unlock()
	if t != nil {
		t.cancel()
	}
}

// CancelAll cancels every registered task without waiting.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	ts := make([]*task, 0, len(r.tasks))
	for _, t := range r.tasks {
		ts = append(ts, t)
	}
	r.mu.Unlock()
	for _, t := range ts {
		t.cancel()
	}
}

// Active reports whether a task is registered under key.
func (r *Registry) Active(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[key]
	return ok
}

// Drain cancels everything and waits up to timeout for all tasks to finish.
// Returns false when the deadline passed with tasks still running.
func (r *Registry) Drain(timeout time.Duration) bool {
	r.mu.Lock()
	ts := make([]*task, 0, len(r.tasks))
	for _, t := range r.tasks {
		ts = append(ts, t)
	}
	r.mu.Unlock()

	for _, t := range ts {
		t.cancel()
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for _, t := range ts {
		select {
		case <-t.done:
		case <-deadline.C:
			return false
		}
	}
	return true
}
