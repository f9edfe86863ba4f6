// Package retry classifies provider failures and decides whether and
// when a job attempt should run again.
//
// This package contains:
//   - Classify: maps raw errors to typed, user-presentable verdicts
//   - Policy: named backoff/eligibility configurations
//   - Retryer: per-job retry state and the Execute loop
package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// State tracks retries in flight for one job id. Created on first
// failure, cleared on success or final failure.
type State struct {
	AttemptCount int // failed attempts so far
	TotalDelay   time.Duration
	LastError    *ClassifiedError
	maxRetries   int
}

// Operation is one attempt of the work being retried.
type Operation func(ctx context.Context) error

// OnRetry is invoked before each backoff suspension.
type OnRetry func(attempt int, cerr *ClassifiedError, delay time.Duration)

// Retryer owns the per-job retry state registry and the backoff math.
type Retryer struct {
	mu     sync.Mutex
	policy Policy
	states map[string]*State
}

// NewRetryer creates a retryer for the given policy.
func NewRetryer(policy Policy) *Retryer {
	return &Retryer{
		policy: policy,
		states: make(map[string]*State),
	}
}

// Policy returns the active policy.
func (r *Retryer) Policy() Policy {
	return r.policy
}

// ShouldRetry reports whether the job may run another attempt after the
// given failure. False when the attempt budget is spent, the category
// is outside the policy's allow-list, or the error itself is marked
// non-retryable.
func (r *Retryer) ShouldRetry(jobID string, cerr *ClassifiedError) bool {
	if !cerr.Retryable || !r.policy.allows(cerr.Category) {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[jobID]
	if !ok {
		return true
	}
	// AttemptCount failures mean AttemptCount-1 retries already ran.
	return st.AttemptCount-1 < st.maxRetries
}

// ComputeDelay returns the backoff before the job's next attempt:
// min(base * 2^retries, max) with symmetric jitter, floored at the
// failure category's minimum delay hint.
func (r *Retryer) ComputeDelay(jobID string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	exponent := 0
	var category Category
	if st, ok := r.states[jobID]; ok {
		if st.AttemptCount > 0 {
			exponent = st.AttemptCount - 1
		}
		if st.LastError != nil {
			category = st.LastError.Category
		}
	}

	delay := float64(r.policy.BaseDelay) * math.Pow(2, float64(exponent))
	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	jitter := delay * r.policy.JitterFactor * (rand.Float64()*2 - 1)
	delay += jitter
	if delay < 0 {
		delay = 0
	}

	d := time.Duration(delay)
	if floor := category.MinDelay(); d < floor {
		d = floor
	}
	return d
}

// StateFor returns a snapshot of the job's retry state.
func (r *Retryer) StateFor(jobID string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[jobID]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Execute runs op until it succeeds, the retry budget is spent, or the
// failure is non-retryable. The inter-attempt suspension is cancelled
// by ctx. maxRetries < 0 uses the policy's ceiling. The returned error
// is always a *ClassifiedError except on context cancellation.
func (r *Retryer) Execute(ctx context.Context, jobID string, maxRetries int, op Operation, onRetry OnRetry) error {
	if maxRetries < 0 {
		maxRetries = r.policy.MaxRetries
	}

	for {
		err := op(ctx)
		if err == nil {
			r.clear(jobID)
			return nil
		}

		// A cancelled attempt is not a provider failure: leave retry
		// state and metrics untouched.
		if ctx.Err() != nil {
			r.clear(jobID)
			return ctx.Err()
		}

		cerr := Classify(err)
		attempt := r.recordFailure(jobID, cerr, maxRetries)

		if !r.ShouldRetry(jobID, cerr) {
			r.clear(jobID)
			return cerr
		}

		delay := r.ComputeDelay(jobID)
		r.addDelay(jobID, delay)
		if onRetry != nil {
			onRetry(attempt, cerr, delay)
		}

		slog.Debug("Retrying after failure",
			"job_id", jobID, "attempt", attempt, "category", cerr.Category, "delay", delay)

		select {
		case <-ctx.Done():
			r.clear(jobID)
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (r *Retryer) recordFailure(jobID string, cerr *ClassifiedError, maxRetries int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[jobID]
	if !ok {
		st = &State{maxRetries: maxRetries}
		r.states[jobID] = st
	}
	st.AttemptCount++
	st.LastError = cerr
	return st.AttemptCount
}

func (r *Retryer) addDelay(jobID string, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[jobID]; ok {
		st.TotalDelay += delay
	}
}

func (r *Retryer) clear(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, jobID)
}
