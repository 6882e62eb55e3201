package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	apierrors "github.com/mmarcus006/web-scraper-legal/pkg/errors"
)

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.0, // No jitter for predictable testing
	}

	tests := []struct {
		attempt     int
		expected    time.Duration
		description string
	}{
		{1, 100 * time.Millisecond, "first attempt"},
		{2, 200 * time.Millisecond, "second attempt"},
		{3, 400 * time.Millisecond, "third attempt"},
		{4, 800 * time.Millisecond, "fourth attempt"},
		{5, 1 * time.Second, "fifth attempt (capped at max)"},
		{6, 1 * time.Second, "sixth attempt (still capped)"},
	}

	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			if delay := backoff.NextDelay(test.attempt); delay != test.expected {
				t.Errorf("expected delay %v, got %v", test.expected, delay)
			}
		})
	}
}

func TestExponentialBackoffWithJitter(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}

	delays := make(map[time.Duration]bool)
	for i := 0; i < 10; i++ {
		delays[backoff.NextDelay(2)] = true
	}

	if len(delays) < 2 {
		t.Error("expected multiple different delays with jitter, got consistent delays")
	}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	attempts := 0
	op := func() error {
		attempts++
		if attempts < 3 {
			return stderrors.New("temporary error")
		}
		return nil
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     func(err error) bool { return true },
	}

	if err := Do(context.Background(), op, cfg); err != nil {
		t.Errorf("expected success after retries, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	attempts := 0
	op := func() error {
		attempts++
		return stderrors.New("persistent error")
	}

	cfg := &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     func(err error) bool { return true },
	}

	err := Do(context.Background(), op, cfg)
	if err == nil {
		t.Fatal("expected error when max attempts exceeded")
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	attempts := 0
	notFound := apierrors.New(apierrors.KindNotFound, 404, "document gone")
	op := func() error {
		attempts++
		return notFound
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     DefaultRetryIf,
	}

	err := Do(context.Background(), op, cfg)
	if !stderrors.Is(err, notFound) {
		t.Errorf("expected the permanent error back unwrapped, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for a permanent error, got %d", attempts)
	}
}

func TestDoRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	op := func() error {
		attempts++
		cancel()
		return stderrors.New("flaky")
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: time.Hour},
		RetryIf:     func(err error) bool { return true },
	}

	err := Do(ctx, op, cfg)
	if !stderrors.Is(err, context.Canceled) {
		t.Errorf("expected context cancellation, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestDefaultRetryIf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"context cancelled", context.Canceled, false},
		{"network error", apierrors.New(apierrors.KindNetwork, 0, "timeout"), true},
		{"rate limited", apierrors.New(apierrors.KindRateLimit, 429, "slow down"), true},
		{"server error", apierrors.New(apierrors.KindServerError, 503, "unavailable"), true},
		{"not found", apierrors.New(apierrors.KindNotFound, 404, "missing"), false},
		{"bad request", apierrors.New(apierrors.KindBadRequest, 400, "malformed"), false},
		{"unclassified", stderrors.New("mystery"), true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := DefaultRetryIf(test.err); got != test.want {
				t.Errorf("DefaultRetryIf(%v) = %v, want %v", test.err, got, test.want)
			}
		})
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	op := func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", stderrors.New("not yet")
		}
		return "done", nil
	}

	cfg := &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     func(err error) bool { return true },
	}

	result, err := DoWithResult(context.Background(), op, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "done" {
		t.Errorf("expected result %q, got %q", "done", result)
	}
}
