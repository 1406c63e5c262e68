package session

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "dailytask/pkg/logx"
)

func TestDoReturnsFirstSuccess(t *testing.T) {
	t.Parallel()
	calls := 0
	v, err := Do(context.Background(), Policy{Attempts: 3}, logx.Nop(), "op",
		func(ctx context.Context) (int, error) {
			calls++
			return 42, nil
		})
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if v != 42 || calls != 1 {
		t.Fatalf("v = %d, calls = %d", v, calls)
	}
}

func TestDoRetriesUnauthorizedUpToBudget(t *testing.T) {
	t.Parallel()
	calls := 0
	_, err := Do(context.Background(), Policy{Attempts: 3}, logx.Nop(), "op",
		func(ctx context.Context) (int, error) {
			calls++
			return 0, ErrUnauthorized
		})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoRecoversAfterUnauthorized(t *testing.T) {
	t.Parallel()
	calls := 0
	v, err := Do(context.Background(), Policy{Attempts: 3}, logx.Nop(), "op",
		func(ctx context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", ErrUnauthorized
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if v != "ok" || calls != 2 {
		t.Fatalf("v = %q, calls = %d", v, calls)
	}
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	t.Parallel()
	calls := 0
	_, err := Do(context.Background(), Policy{Attempts: 3}, logx.Nop(), "op",
		func(ctx context.Context) (int, error) {
			calls++
			return 0, &RemoteError{Code: 500, Msg: "boom"}
		})
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want RemoteError", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on remote error)", calls)
	}
}

func TestPolicyWithDefaults(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   Policy
		want Policy
	}{
		{"zero value gets full defaults", Policy{}, DefaultPolicy},
		{"explicit zero delay kept", Policy{Attempts: 3}, Policy{Attempts: 3}},
		{"missing attempts backfilled", Policy{Delay: 50 * time.Millisecond}, Policy{Attempts: 3, Delay: 50 * time.Millisecond}},
		{"negative delay clamped", Policy{Attempts: 2, Delay: -time.Second}, Policy{Attempts: 2}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.withDefaults(); got != tt.want {
				t.Fatalf("withDefaults(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDoZeroValuePolicyPausesBetweenAttempts(t *testing.T) {
	t.Parallel()
	start := time.Now()
	calls := 0
	_, err := Do(context.Background(), Policy{}, logx.Nop(), "op",
		func(ctx context.Context) (int, error) {
			calls++
			return 0, ErrUnauthorized
		})
	elapsed := time.Since(start)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if calls != DefaultPolicy.Attempts {
		t.Fatalf("calls = %d, want %d", calls, DefaultPolicy.Attempts)
	}
	// Two inter-attempt pauses at the default delay.
	if min := 2 * DefaultPolicy.Delay; elapsed < min {
		t.Fatalf("elapsed = %v, want at least %v", elapsed, min)
	}
}

func TestDoHonorsContextDuringDelay(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := Do(ctx, Policy{Attempts: 3, Delay: 10 * time.Second}, logx.Nop(), "op",
		func(ctx context.Context) (int, error) {
			calls++
			return 0, ErrUnauthorized
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unauthorized", ErrUnauthorized, true},
		{"wrapped unauthorized", errors.Join(errors.New("ctx"), ErrUnauthorized), true},
		{"deadline", context.DeadlineExceeded, true},
		{"remote", &RemoteError{Code: -1, Msg: "x"}, false},
		{"plain", errors.New("x"), false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Fatalf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
