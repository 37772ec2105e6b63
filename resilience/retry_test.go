package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	regerrors "github.com/kbukum/regd/errors"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestRetry_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), DefaultRetryConfig(), func() (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil || result != "ok" || calls != 1 {
		t.Errorf("got (%q, %v) after %d calls", result, err, calls)
	}
}

func TestRetry_SucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	var retried []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, err error, backoff time.Duration) { retried = append(retried, attempt) }

	result, err := Retry(context.Background(), cfg, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, regerrors.TransientUnavailable("reg-1")
		}
		return 42, nil
	})
	if err != nil || result != 42 {
		t.Fatalf("got (%d, %v)", result, err)
	}
	if len(retried) != 2 {
		t.Errorf("OnRetry called %d times", len(retried))
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	want := errors.New("connection reset")
	err := RetryFunc(context.Background(), fastRetry(4), func() error {
		calls++
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("expected last error, got %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"not found", regerrors.NotFound("orders", "i-1")},
		{"stale cursor", regerrors.StaleCursor(1, 500)},
		{"malformed", regerrors.MissingField("host")},
		{"circuit open", ErrCircuitOpen},
		{"canceled", context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := RetryFunc(context.Background(), fastRetry(5), func() error {
				calls++
				return tt.err
			})
			if calls != 1 {
				t.Errorf("expected 1 call, got %d", calls)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("expected %v, got %v", tt.err, err)
			}
		})
	}
}

func TestRetry_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}
	calls := 0
	err := RetryFunc(ctx, cfg, func() error {
		calls++
		cancel()
		return errors.New("temporary")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestNewBackOff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, BackoffFactor: 2}
	b := NewBackOff(cfg)
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		if got := b.NextBackOff(); got != w {
			t.Errorf("delay %d = %v, want %v", i+1, got, w)
		}
	}

	cfg.Jitter = 0.5
	b = NewBackOff(cfg)
	for i := 0; i < 50; i++ {
		b.Reset()
		b.NextBackOff()
		if got := b.NextBackOff(); got < 100*time.Millisecond || got > 300*time.Millisecond {
			t.Fatalf("jittered backoff out of range: %v", got)
		}
	}
}

func TestRetry_ReportsAttempts(t *testing.T) {
	var attempts []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, err error, backoff time.Duration) { attempts = append(attempts, attempt) }
	_ = RetryFunc(context.Background(), cfg, func() error { return errors.New("refused") })
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("attempts = %v, want [1 2]", attempts)
	}
}
