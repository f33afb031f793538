package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(BreakerConfig{Name: "stt", MaxFailures: 3, ResetTimeout: time.Hour})
	fail := func() error { return errBoom }

	for i := 0; i < 3; i++ {
		if err := cb.Execute(fail); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: want errBoom, got %v", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("state: want open, got %v", cb.State())
	}

	calls := 0
	err := cb.Execute(func() error { calls++; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("open breaker: want ErrCircuitOpen, got %v", err)
	}
	if calls != 0 {
		t.Errorf("fn must not run while open, ran %d times", calls)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(BreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})
	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errBoom })
	if cb.State() != StateClosed {
		t.Errorf("state: want closed after interleaved success, got %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbeClosesOnSuccess(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(BreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond})
	_ = cb.Execute(func() error { return errBoom })
	if cb.State() != StateOpen {
		t.Fatalf("state: want open, got %v", cb.State())
	}

	time.Sleep(15 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe call: unexpected error: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state: want closed after successful probe, got %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbeReopensOnFailure(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(BreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond})
	_ = cb.Execute(func() error { return errBoom })

	time.Sleep(15 * time.Millisecond)
	_ = cb.Execute(func() error { return errBoom })
	if cb.State() != StateOpen {
		t.Errorf("state: want re-opened, got %v", cb.State())
	}
}
