package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/kbukum/regd/clock"
	regerrors "github.com/kbukum/regd/errors"
)

var errBoom = errors.New("boom")

func newTestBreaker(fc *clock.Fake) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		Name:        "reg-1",
		MaxFailures: 3,
		Timeout:     10 * time.Second,
		Clock:       fc,
	})
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := newTestBreaker(clock.NewFake(time.Unix(0, 0)))
	for i := 0; i < 3; i++ {
		cb.Execute(func() error { return errBoom })
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("open circuit should fail fast, err=%v called=%v", err, called)
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := newTestBreaker(clock.NewFake(time.Unix(0, 0)))
	cb.Execute(func() error { return errBoom })
	cb.Execute(func() error { return errBoom })
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return errBoom })
	if cb.State() != StateClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures: 1,
		Timeout:     10 * time.Second,
		Clock:       fc,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	cb.Execute(func() error { return errBoom })
	fc.Advance(9 * time.Second)
	if cb.Allow() {
		t.Fatal("should still be open")
	}
	fc.Advance(time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v", transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	cb := newTestBreaker(fc)
	for i := 0; i < 3; i++ {
		cb.Execute(func() error { return errBoom })
	}
	fc.Advance(10 * time.Second)
	cb.Execute(func() error { return errBoom })
	if cb.State() != StateOpen {
		t.Errorf("expected open again, got %s", cb.State())
	}
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures: 1,
		IsFailure: func(err error) bool {
			appErr, ok := regerrors.AsAppError(err)
			return err != nil && (!ok || appErr.Retryable)
		},
	})
	cb.Execute(func() error { return regerrors.NotFound("orders", "i-1") })
	if cb.State() != StateClosed {
		t.Errorf("a NOT_FOUND answer means the endpoint is healthy")
	}
	cb.Execute(func() error { return regerrors.TransientUnavailable("reg-1") })
	if cb.State() != StateOpen {
		t.Errorf("expected open after transient failure")
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("Reset should close")
	}
}

func TestCircuitBreaker_StaleResultIgnored(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: 10 * time.Second, Clock: fc})

	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		cb.Execute(func() error { <-release; return nil })
	}()
	// Wait for the slow call to be admitted.
	for cb.Counts().Requests == 0 {
		time.Sleep(time.Millisecond)
	}

	cb.Execute(func() error { return errBoom })
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}
	close(release)
	<-done
	if cb.State() != StateOpen {
		t.Errorf("a call admitted before the circuit opened must not close it")
	}
}

func TestCircuitBreaker_Counts(t *testing.T) {
	cb := newTestBreaker(clock.NewFake(time.Unix(0, 0)))
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return errBoom })
	cb.Execute(func() error { return errBoom })
	want := Counts{Requests: 3, Successes: 1, Failures: 2, ConsecutiveFailures: 2}
	if got := cb.Counts(); got != want {
		t.Errorf("Counts = %+v, want %+v", got, want)
	}
}

func TestStateString(t *testing.T) {
	if StateHalfOpen.String() != "half-open" || State(7).String() != "unknown" {
		t.Errorf("unexpected names %q %q", StateHalfOpen, State(7))
	}
}
