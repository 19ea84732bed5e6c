package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTokenBucketDepletes(t *testing.T) {
	tb := NewTokenBucket(3, time.Hour)

	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if tb.Allow() {
		t.Error("request past capacity should be denied")
	}
}

func TestTokenBucketRefills(t *testing.T) {
	tb := NewTokenBucket(1, 50*time.Millisecond)

	if !tb.Allow() {
		t.Fatal("first request should be allowed")
	}
	if tb.Allow() {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(60 * time.Millisecond)

	if !tb.Allow() {
		t.Error("bucket should have refilled after the period")
	}
}

func TestTokenBucketReset(t *testing.T) {
	tb := NewTokenBucket(1, time.Hour)

	tb.Allow()
	if tb.Allow() {
		t.Fatal("bucket should be empty")
	}

	tb.Reset()
	if !tb.Allow() {
		t.Error("reset should restore capacity")
	}
}

func TestTokenBucketWaitBlocksUntilRefill(t *testing.T) {
	tb := NewTokenBucket(1, 50*time.Millisecond)
	tb.Allow()

	start := time.Now()
	if err := tb.Wait(context.Background()); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Wait returned after %v, expected it to block for the refill", elapsed)
	}
}

func TestTokenBucketWaitCancellation(t *testing.T) {
	tb := NewTokenBucket(1, time.Hour)
	tb.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := tb.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestUnlimited(t *testing.T) {
	var l Limiter = Unlimited{}

	for i := 0; i < 1000; i++ {
		if !l.Allow() {
			t.Fatal("Unlimited must always allow")
		}
	}
	if err := l.Wait(context.Background()); err != nil {
		t.Errorf("Wait failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
