package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type classifiedErr struct {
	retryable bool
}

func (e classifiedErr) Error() string     { return fmt.Sprintf("classified(retryable=%v)", e.retryable) }
func (e classifiedErr) IsRetryable() bool { return e.retryable }

func fastConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxRetries != 3 {
		t.Errorf("expected MaxRetries=3, got %d", cfg.MaxRetries)
	}
	if cfg.InitialDelay != 500*time.Millisecond {
		t.Errorf("expected InitialDelay=500ms, got %v", cfg.InitialDelay)
	}
	if cfg.JitterFactor != 0 {
		t.Errorf("expected no jitter for the executor policy, got %f", cfg.JitterFactor)
	}
}

func TestBackoff(t *testing.T) {
	cfg := &Config{InitialDelay: 500 * time.Millisecond, MaxDelay: 4 * time.Second, Multiplier: 2}

	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}
	for i, w := range want {
		if got := cfg.Backoff(i); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestDo_Success(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(), func() error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(), func() error {
		callCount++
		if callCount < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	callCount := 0
	wantErr := errors.New("still down")
	err := Do(context.Background(), fastConfig(), func() error {
		callCount++
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Errorf("expected last error, got %v", err)
	}
	if callCount != 4 {
		t.Errorf("expected 1 call + 3 retries, got %d", callCount)
	}
}

// The executor contract bounds both the retry count and the total wait:
// at most N retries, non-decreasing delays, sum <= base*(2^(N+1)-1).
func TestDoIfRetryable_BoundedBackoff(t *testing.T) {
	cfg := fastConfig()
	var delays []time.Duration
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		delays = append(delays, delay)
	}

	calls := 0
	start := time.Now()
	err := DoIfRetryable(context.Background(), cfg, func() error {
		calls++
		return classifiedErr{retryable: true}
	})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != cfg.MaxRetries+1 {
		t.Errorf("expected %d calls, got %d", cfg.MaxRetries+1, calls)
	}
	if len(delays) != cfg.MaxRetries {
		t.Fatalf("expected %d waits, got %d", cfg.MaxRetries, len(delays))
	}

	var total time.Duration
	for i, d := range delays {
		if i > 0 && d < delays[i-1] {
			t.Errorf("delay %d (%v) decreased from %v", i, d, delays[i-1])
		}
		total += d
	}
	bound := cfg.InitialDelay * time.Duration((1<<(cfg.MaxRetries+1))-1)
	if total > bound {
		t.Errorf("total wait %v exceeds bound %v", total, bound)
	}
	if elapsed < total {
		t.Errorf("elapsed %v shorter than scheduled waits %v", elapsed, total)
	}
}

func TestDoIfRetryable_PermanentErrorReturnsImmediately(t *testing.T) {
	calls := 0
	err := DoIfRetryable(context.Background(), fastConfig(), func() error {
		calls++
		return classifiedErr{retryable: false}
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected no retries for permanent error, got %d calls", calls)
	}
}

func TestDoIfRetryableWithResult(t *testing.T) {
	calls := 0
	got, err := DoIfRetryableWithResult(context.Background(), fastConfig(), func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("i/o timeout")
		}
		return 42, nil
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}

func TestDoWithResult_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 2}

	calls := 0
	_, err := DoWithResult(ctx, cfg, func() (string, error) {
		calls++
		cancel()
		return "", errors.New("connection refused")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoIfRetryable_SameErrorEscalation(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 10
	cfg.MaxSameErrorType = 2

	calls := 0
	err := DoIfRetryable(context.Background(), cfg, func() error {
		calls++
		return errors.New("HTTP 503 service unavailable")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Errorf("expected escalation after 2 calls, got %d", calls)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"timeout", errors.New("i/o timeout"), true},
		{"rate limit", errors.New("429 Too Many Requests"), true},
		{"syntax error", errors.New("syntax error at or near SELEC"), false},
		{"context canceled", context.Canceled, false},
		{"interface wins over text", classifiedErr{retryable: false}, false},
		{"wrapped interface", fmt.Errorf("exec: %w", classifiedErr{retryable: true}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.expected {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestApplyJitter(t *testing.T) {
	base := 100 * time.Millisecond
	if got := applyJitter(base, 0); got != base {
		t.Errorf("expected no jitter, got %v", got)
	}
	for i := 0; i < 50; i++ {
		got := applyJitter(base, 0.1)
		if got < 90*time.Millisecond || got > 110*time.Millisecond {
			t.Fatalf("jitter out of range: %v", got)
		}
	}
}
