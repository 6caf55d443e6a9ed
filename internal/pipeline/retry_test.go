package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/billscan/billscan/internal/llm"
	"github.com/billscan/billscan/internal/repair"
)

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		MaxDelay:       10 * time.Second,
		PerPageTimeout: 30 * time.Second,
		TimeoutFloor:   2 * time.Minute,
	}
}

// fastRetrier records backoff delays instead of sleeping.
func fastRetrier(policy RetryPolicy, slept *[]time.Duration) *retrier {
	r := newRetrier(policy)
	r.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return ctx.Err()
	}
	return r
}

func TestRetrier_SucceedsFirstAttempt(t *testing.T) {
	var slept []time.Duration
	r := fastRetrier(testPolicy(), &slept)
	chunk := ChunkSpec{Index: 0, FirstPage: 1, LastPage: 2}

	outcome, failure := r.run(context.Background(), chunk,
		func(ctx context.Context, attempt int) (chunkOutcome, error) {
			return chunkOutcome{raw: "ok"}, nil
		})

	if failure != nil {
		t.Fatalf("unexpected failure: %v", failure)
	}
	if outcome.attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", outcome.attempts)
	}
	if len(slept) != 0 {
		t.Errorf("should not back off on success, slept %v", slept)
	}
}

func TestRetrier_RetriesTransportErrors(t *testing.T) {
	var slept []time.Duration
	r := fastRetrier(testPolicy(), &slept)
	chunk := ChunkSpec{Index: 0, FirstPage: 1, LastPage: 2}

	calls := 0
	outcome, failure := r.run(context.Background(), chunk,
		func(ctx context.Context, attempt int) (chunkOutcome, error) {
			calls++
			if calls < 3 {
				return chunkOutcome{}, &llm.TransportError{Provider: "test", Status: 503, Message: "overloaded"}
			}
			return chunkOutcome{raw: "ok"}, nil
		})

	if failure != nil {
		t.Fatalf("unexpected failure: %v", failure)
	}
	if outcome.attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", outcome.attempts)
	}
	if len(slept) != 2 {
		t.Errorf("expected 2 backoffs, got %d", len(slept))
	}
}

func TestRetrier_AuthErrorIsFatal(t *testing.T) {
	var slept []time.Duration
	r := fastRetrier(testPolicy(), &slept)
	chunk := ChunkSpec{Index: 0, FirstPage: 1, LastPage: 2}

	calls := 0
	_, failure := r.run(context.Background(), chunk,
		func(ctx context.Context, attempt int) (chunkOutcome, error) {
			calls++
			return chunkOutcome{}, &llm.AuthError{Provider: "test", Message: "bad key"}
		})

	if failure == nil {
		t.Fatal("expected failure")
	}
	if calls != 1 {
		t.Errorf("auth errors must not be retried, got %d calls", calls)
	}
	if failure.attempts != 1 {
		t.Errorf("expected 1 recorded attempt, got %d", failure.attempts)
	}
}

func TestRetrier_RepairFailuresAreRetryable(t *testing.T) {
	var slept []time.Duration
	r := fastRetrier(testPolicy(), &slept)
	chunk := ChunkSpec{Index: 1, FirstPage: 3, LastPage: 4}

	unrecoverable := &repair.Unrecoverable{Trail: []repair.StepFailure{
		{Strategy: "direct", Reason: "parse: bad"},
	}}

	calls := 0
	_, failure := r.run(context.Background(), chunk,
		func(ctx context.Context, attempt int) (chunkOutcome, error) {
			calls++
			return chunkOutcome{}, &repairFailedError{err: unrecoverable, raw: "garbage output"}
		})

	if failure == nil {
		t.Fatal("expected failure after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("repair failures should be retried, got %d calls", calls)
	}
	if failure.attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", failure.attempts)
	}
	if failure.lastRaw != "garbage output" {
		t.Errorf("raw output not captured: %q", failure.lastRaw)
	}
	if len(failure.trail) != 1 || failure.trail[0] != "direct: parse: bad" {
		t.Errorf("repair trail not captured: %v", failure.trail)
	}
}

func TestRetrier_CancelledContext(t *testing.T) {
	var slept []time.Duration
	r := fastRetrier(testPolicy(), &slept)
	chunk := ChunkSpec{Index: 0, FirstPage: 1, LastPage: 2}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, failure := r.run(ctx, chunk,
		func(ctx context.Context, attempt int) (chunkOutcome, error) {
			calls++
			cancel()
			return chunkOutcome{}, &llm.TransportError{Provider: "test", Message: "network"}
		})

	if failure == nil || !failure.cancelled {
		t.Fatalf("expected cancelled failure, got %v", failure)
	}
	if calls != 1 {
		t.Errorf("expected no retries after cancellation, got %d calls", calls)
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	policy := testPolicy()

	for attempt := 0; attempt < 6; attempt++ {
		for i := 0; i < 50; i++ {
			delay := policy.Backoff(attempt)
			floor := policy.BaseDelay << uint(attempt)
			if floor > policy.MaxDelay {
				floor = policy.MaxDelay
			}
			if delay < floor {
				t.Fatalf("attempt %d: delay %v below %v", attempt, delay, floor)
			}
			if delay > policy.MaxDelay {
				t.Fatalf("attempt %d: delay %v above cap %v", attempt, delay, policy.MaxDelay)
			}
		}
	}
}

func TestRetryPolicy_BackoffZeroBaseDelay(t *testing.T) {
	policy := RetryPolicy{BaseDelay: 0, MaxDelay: time.Second}

	for attempt := 0; attempt < 4; attempt++ {
		delay := policy.Backoff(attempt)
		if delay < 0 || delay > policy.MaxDelay {
			t.Fatalf("attempt %d: delay %v out of [0, %v]", attempt, delay, policy.MaxDelay)
		}
	}
}

func TestRetryPolicy_AttemptTimeout(t *testing.T) {
	policy := testPolicy()

	// Small chunks hit the floor.
	if got := policy.AttemptTimeout(2); got != 2*time.Minute {
		t.Errorf("2 pages: got %v, want floor %v", got, 2*time.Minute)
	}
	// Large chunks scale with page count.
	if got := policy.AttemptTimeout(10); got != 5*time.Minute {
		t.Errorf("10 pages: got %v, want %v", got, 5*time.Minute)
	}
}

func TestIsRetryableClassification(t *testing.T) {
	if !retryable(&llm.TransportError{Provider: "x"}) {
		t.Error("transport errors must be retryable")
	}
	if retryable(&llm.AuthError{Provider: "x"}) {
		t.Error("auth errors must not be retryable")
	}
	if !retryable(context.DeadlineExceeded) {
		t.Error("attempt timeouts must be retryable")
	}
	if !retryable(&repairFailedError{err: &repair.Unrecoverable{}}) {
		t.Error("repair failures must be retryable")
	}
	if retryable(errors.New("mystery")) {
		t.Error("unknown errors must not be retryable")
	}
}
