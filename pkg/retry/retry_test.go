package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	errs "sharecrawl/pkg/errors"
	"sharecrawl/pkg/logger"
)

func testConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
		Logger:      logger.NewNopLogger(),
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		return nil
	}, testConfig())

	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		if calls < 3 {
			return errs.New(errs.ErrorTypeNetwork, "transient")
		}
		return nil
	}, testConfig())

	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	wantErr := errs.New(errs.ErrorTypeNotFound, "gone")

	err := Do(func() error {
		calls++
		return wantErr
	}, testConfig())

	if !errors.Is(err, wantErr) {
		t.Errorf("expected the original error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("non-retryable error must not be retried, got %d calls", calls)
	}
}

func TestDoExhaustsMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(func() error {
		calls++
		return errs.New(errs.ErrorTypeNetwork, "still down")
	}, testConfig())

	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := testConfig()
	cfg.Context = ctx
	cfg.Backoff = &ConstantBackoff{Delay: time.Minute}

	calls := 0
	err := Do(func() error {
		calls++
		return errs.New(errs.ErrorTypeNetwork, "transient")
	}, cfg)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(func() (string, error) {
		calls++
		if calls < 2 {
			return "", errs.New(errs.ErrorTypeServerError, "flaky")
		}
		return "value", nil
	}, testConfig())

	if err != nil {
		t.Fatalf("DoWithResult failed: %v", err)
	}
	if got != "value" {
		t.Errorf("got %q, want %q", got, "value")
	}
}

func TestDefaultRetryIf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", errs.New(errs.ErrorTypeNetwork, "x"), true},
		{"server error", errs.New(errs.ErrorTypeServerError, "x"), true},
		{"timeout", errs.New(errs.ErrorTypeTimeout, "x"), true},
		{"not found", errs.New(errs.ErrorTypeNotFound, "x"), false},
		{"size limit", errs.New(errs.ErrorTypeSizeLimit, "x"), false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"unknown", errors.New("anything"), true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := DefaultRetryIf(test.err); got != test.want {
				t.Errorf("DefaultRetryIf(%v) = %v, want %v", test.err, got, test.want)
			}
		})
	}
}

func TestExponentialBackoffGrowth(t *testing.T) {
	eb := &ExponentialBackoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second}, // capped
		{10, time.Second},
	}

	for _, test := range tests {
		if got := eb.NextDelay(test.attempt); got != test.want {
			t.Errorf("NextDelay(%d) = %v, want %v", test.attempt, got, test.want)
		}
	}
}

func TestExponentialBackoffJitterBounds(t *testing.T) {
	eb := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}

	for i := 0; i < 100; i++ {
		got := eb.NextDelay(1)
		if got < 90*time.Millisecond || got > 110*time.Millisecond {
			t.Fatalf("jittered delay %v outside [90ms, 110ms]", got)
		}
	}
}

func TestRetrierWithMaxAttempts(t *testing.T) {
	r := NewRetrier(testConfig()).WithMaxAttempts(2)

	calls := 0
	err := r.Do(func() error {
		calls++
		return errs.New(errs.ErrorTypeNetwork, "down")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}
