package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

var fast = Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}

func TestDo_Success(t *testing.T) {
	n, err := Do(context.Background(), DefaultPolicy(), func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 call, got %d", n)
	}
}

func TestDo_RetriesTransientError(t *testing.T) {
	calls := 0
	n, err := Do(context.Background(), fast, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil after retry, got %v", err)
	}
	if n != 3 || calls != 3 {
		t.Fatalf("expected 3 calls, got n=%d calls=%d", n, calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	n, err := Do(context.Background(), fast, func(context.Context) error { return errors.New("down") })
	if err == nil || err.Error() != "down" {
		t.Fatalf("expected last error, got %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 calls, got %d", n)
	}
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	n, err := Do(context.Background(), fast, func(context.Context) error {
		return Permanent(errors.New("bad record"))
	})
	if n != 1 {
		t.Fatalf("expected 1 call, got %d", n)
	}
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %T", err)
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) must be nil")
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := Policy{MaxAttempts: 5, InitialInterval: time.Hour}
	n, err := Do(ctx, slow, func(context.Context) error {
		cancel()
		return errors.New("transient")
	})
	if n != 1 {
		t.Fatalf("expected 1 call, got %d", n)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	n, _ := Do(context.Background(), Policy{}, func(context.Context) error { return errors.New("x") })
	if n != 1 {
		t.Fatalf("expected 1 call, got %d", n)
	}
}

func TestBackoff(t *testing.T) {
	p := Policy{InitialInterval: 100 * time.Millisecond, MaxInterval: 300 * time.Millisecond}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, w := range want {
		if got := p.backoff(i); got != w {
			t.Errorf("attempt %d: expected %v, got %v", i, w, got)
		}
	}

	p.Jitter = 0.5
	for i := 0; i < 20; i++ {
		got := p.backoff(0)
		if got < 50*time.Millisecond || got > 150*time.Millisecond {
			t.Fatalf("jittered backoff out of range: %v", got)
		}
	}
}

func TestPolicy_Validate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("expected default policy valid, got %v", err)
	}
	err := Policy{MaxAttempts: 0, InitialInterval: -1, Jitter: 1}.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"maxAttempts", "negative", "jitter"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %q", want, err)
		}
	}
}
