package pipeline

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/billscan/billscan/internal/config"
	"github.com/billscan/billscan/internal/llm"
	"github.com/billscan/billscan/internal/logger"
	"github.com/billscan/billscan/internal/repair"
)

// RetryPolicy bounds how one chunk call is retried.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	PerPageTimeout time.Duration
	TimeoutFloor   time.Duration
}

func policyFromConfig(cfg config.Config) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		BaseDelay:      cfg.BaseDelay,
		MaxDelay:       cfg.MaxDelay,
		PerPageTimeout: cfg.PerPageTimeout,
		TimeoutFloor:   cfg.AttemptTimeoutFloor,
	}
}

// Backoff returns the delay before attempt n+1: base·2^n plus random
// jitter in [0, base), capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay << uint(attempt)
	if delay <= 0 || delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	var jitter time.Duration
	if p.BaseDelay > 0 {
		jitter = time.Duration(rand.Int64N(int64(p.BaseDelay)))
	}
	if delay+jitter > p.MaxDelay {
		return p.MaxDelay
	}
	return delay + jitter
}

// AttemptTimeout scales the per-attempt deadline with chunk size; larger
// chunks need proportionally more processing time.
func (p RetryPolicy) AttemptTimeout(pages int) time.Duration {
	timeout := time.Duration(pages) * p.PerPageTimeout
	if timeout < p.TimeoutFloor {
		timeout = p.TimeoutFloor
	}
	return timeout
}

// chunkState is the retry state machine for one chunk.
type chunkState int

const (
	statePending chunkState = iota
	stateAttempting
	stateBackoff
	stateSucceeded
	stateExhausted
)

func (s chunkState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateAttempting:
		return "attempting"
	case stateBackoff:
		return "backoff"
	case stateSucceeded:
		return "succeeded"
	case stateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// chunkOutcome is a successful invoke+repair for one chunk.
type chunkOutcome struct {
	result   repair.Result
	raw      string
	attempts int
}

// chunkFailure carries everything needed to explain an exhausted chunk.
type chunkFailure struct {
	attempts  int
	lastErr   error
	lastRaw   string
	trail     []string
	cancelled bool
}

func (f *chunkFailure) Error() string {
	if f.lastErr != nil {
		return f.lastErr.Error()
	}
	return "chunk failed"
}

// retrier executes one chunk call with bounded retry. sleep is injectable
// so tests run without real backoff delays.
type retrier struct {
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
}

func newRetrier(policy RetryPolicy) *retrier {
	return &retrier{
		policy: policy,
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// run drives the state machine Pending → Attempting → {Succeeded |
// Backoff → Attempting | ExhaustedFailed} for a single chunk.
func (r *retrier) run(ctx context.Context, chunk ChunkSpec,
	call func(ctx context.Context, attempt int) (chunkOutcome, error)) (chunkOutcome, *chunkFailure) {

	state := statePending
	failure := &chunkFailure{}
	timeout := r.policy.AttemptTimeout(chunk.PageCount())

	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			failure.cancelled = true
			return chunkOutcome{}, failure
		}

		state = stateAttempting
		logger.Debug("chunk attempt",
			"chunk", chunk.Index,
			"attempt", attempt+1,
			"max_attempts", r.policy.MaxAttempts,
			"timeout", timeout,
			"state", state.String())

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		outcome, err := call(attemptCtx, attempt)
		cancel()

		if err == nil {
			state = stateSucceeded
			outcome.attempts = attempt + 1
			logger.Debug("chunk attempt succeeded",
				"chunk", chunk.Index,
				"attempt", attempt+1,
				"state", state.String())
			return outcome, nil
		}

		failure.attempts = attempt + 1
		failure.lastErr = err
		if raw := rawFromError(err); raw != "" {
			failure.lastRaw = raw
		}
		var unrecoverable *repair.Unrecoverable
		if errors.As(err, &unrecoverable) {
			failure.trail = unrecoverable.TrailStrings()
		}

		if ctx.Err() != nil {
			failure.cancelled = true
			return chunkOutcome{}, failure
		}
		if !retryable(err) {
			logger.Warn("chunk error not retryable",
				"chunk", chunk.Index,
				"error", err)
			return chunkOutcome{}, failure
		}
		if attempt == r.policy.MaxAttempts-1 {
			break
		}

		state = stateBackoff
		delay := r.policy.Backoff(attempt)
		logger.Debug("chunk backing off",
			"chunk", chunk.Index,
			"delay", delay,
			"state", state.String())
		if err := r.sleep(ctx, delay); err != nil {
			failure.cancelled = true
			return chunkOutcome{}, failure
		}
	}

	state = stateExhausted
	logger.Warn("chunk exhausted retry budget",
		"chunk", chunk.Index,
		"attempts", failure.attempts,
		"state", state.String(),
		"error", failure.lastErr)
	return chunkOutcome{}, failure
}

// retryable decides whether a failed attempt is worth repeating: transport
// failures always are, and repair failures are too, on the theory that a
// fresh call may produce better-formed output. Auth failures never are.
func retryable(err error) bool {
	var unrecoverable *repair.Unrecoverable
	if errors.As(err, &unrecoverable) {
		return true
	}
	return llm.IsRetryable(err)
}

// repairFailedError wraps a repair failure together with the raw model
// output that could not be repaired.
type repairFailedError struct {
	err error
	raw string
}

func (e *repairFailedError) Error() string { return e.err.Error() }
func (e *repairFailedError) Unwrap() error { return e.err }

func rawFromError(err error) string {
	var rf *repairFailedError
	if errors.As(err, &rf) {
		return rf.raw
	}
	return ""
}
