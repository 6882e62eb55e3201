package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketBurst(t *testing.T) {
	tb := NewTokenBucket(10, time.Second, 5)

	// The full burst is available immediately.
	for i := 0; i < 5; i++ {
		if !tb.Allow() {
			t.Fatalf("expected request %d within burst to be allowed", i+1)
		}
	}
	if tb.Allow() {
		t.Error("expected request beyond burst to be denied")
	}
}

func TestTokenBucketRefill(t *testing.T) {
	tb := NewTokenBucket(100, time.Second, 1)

	if !tb.Allow() {
		t.Fatal("expected first request to be allowed")
	}
	if tb.Allow() {
		t.Fatal("expected second immediate request to be denied")
	}

	// 100/s refill means a token accrues within ~10ms.
	time.Sleep(25 * time.Millisecond)
	if !tb.Allow() {
		t.Error("expected a token after refill interval")
	}
}

func TestTokenBucketWait(t *testing.T) {
	tb := NewTokenBucket(50, time.Second, 1)
	ctx := context.Background()

	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start := time.Now()
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("expected Wait to block for a refill, returned after %v", elapsed)
	}
}

func TestTokenBucketWaitCancelled(t *testing.T) {
	tb := NewTokenBucket(1, time.Hour, 1)
	tb.Allow() // drain

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := tb.Wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestUnlimited(t *testing.T) {
	var l Limiter = Unlimited{}
	if !l.Allow() {
		t.Error("expected Unlimited to always allow")
	}
	if err := l.Wait(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
