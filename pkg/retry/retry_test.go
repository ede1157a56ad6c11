package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gorados/gorados/pkg/errors"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:  4,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeTimeout,
			errors.ErrCodeNotConnected,
		},
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(func() error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}

func TestDoRetriesRetryableError(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(func() error {
		calls++
		if calls < 3 {
			return errors.New(errors.ErrCodeTimeout, "transient")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(func() error {
		calls++
		return errors.New(errors.ErrCodeNotFound, "gone")
	})
	if !errors.IsNotFound(err) || calls != 1 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}

func TestDoStopsOnNonClusterError(t *testing.T) {
	calls := 0
	err := New(fastConfig()).Do(func() error {
		calls++
		return fmt.Errorf("plain failure")
	})
	if err == nil || calls != 1 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	onRetries := 0
	cfg := fastConfig()
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) { onRetries++ }
	err := New(cfg).Do(func() error {
		calls++
		return errors.New(errors.ErrCodeTimeout, "always late")
	})
	if err == nil || calls != cfg.MaxAttempts {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
	if !errors.IsTimeout(err) {
		t.Fatalf("cause not preserved: %v", err)
	}
	if onRetries != cfg.MaxAttempts-1 {
		t.Fatalf("OnRetry called %d times", onRetries)
	}
}

func TestDoWithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(fastConfig()).DoWithContext(ctx, func(context.Context) error {
		return errors.New(errors.ErrCodeTimeout, "never reached")
	})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestCalculateDelayCapped(t *testing.T) {
	cfg := fastConfig()
	r := New(cfg)
	if d := r.calculateDelay(10); d > cfg.MaxDelay {
		t.Fatalf("delay %v exceeds cap %v", d, cfg.MaxDelay)
	}
}
