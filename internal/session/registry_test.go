package session

import (
	"context"
	"testing"
	"time"
)

func TestRegistry_ReplaceCancelsPredecessor(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	ctx1, finish1 := r.Register(context.Background(), TaskLLM)

	started := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		close(started)
		<-ctx1.Done()
		finish1()
		close(stopped)
	}()
	<-started

	// Registering the same key must cancel and wait out the first task.
	_, finish2 := r.Register(context.Background(), TaskLLM)
	defer finish2()

	select {
	case <-stopped:
	default:
		t.Fatal("predecessor still running after replacement registered")
	}
}

func TestRegistry_CancelKey(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	ctx, finish := r.Register(context.Background(), TaskTTS)
	defer finish()

	r.Cancel(TaskTTS)
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled")
	}
}

func TestRegistry_FinishRemovesKey(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, finish := r.Register(context.Background(), TaskSTT)
	if !r.Active(TaskSTT) {
		t.Fatal("key should be active after register")
	}
	finish()
	if r.Active(TaskSTT) {
		t.Fatal("key should be gone after finish")
	}
	finish() // idempotent
}

func TestRegistry_DrainWaitsForTasks(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	ctx, finish := r.Register(context.Background(), TaskLLM)
	go func() {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finish()
	}()

	if !r.Drain(time.Second) {
		t.Fatal("drain should succeed once the task finishes")
	}
}

func TestRegistry_DrainTimesOutOnStuckTask(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	// Register but never call finish: a stuck goroutine.
	_, _ = r.Register(context.Background(), TaskTTS)

	if r.Drain(50 * time.Millisecond) {
		t.Fatal("drain should report timeout for a task that never finishes")
	}
}

func TestRegistry_CancelAll(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	ctx1, f1 := r.Register(context.Background(), TaskSTT)
	ctx2, f2 := r.Register(context.Background(), TaskLLM)
	defer f1()
	defer f2()

	r.CancelAll()
	for _, ctx := range []context.Context{ctx1, ctx2} {
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Fatal("context not cancelled by CancelAll")
		}
	}
}
