// Package breaker provides per-provider circuit breaking so a failing
// generation service is failed fast instead of burning retry budget.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the breaker's position in the CLOSED/OPEN/HALF_OPEN machine.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned without invoking the wrapped operation while the
// breaker is open. The message is matched by the error classifier.
var ErrOpen = errors.New("circuit breaker open")

// Config holds breaker thresholds.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	FailureThreshold: 5,
	ResetTimeout:     30 * time.Second,
}

// Stats is a snapshot of one breaker for observability.
type Stats struct {
	State         State   `json:"state"`
	FailureCount  int     `json:"failure_count"`
	SuccessCount  int     `json:"success_count"`
	TotalAttempts int     `json:"total_attempts"`
	UptimePercent float64 `json:"uptime_percent"`
}

// StateChangeHook observes breaker transitions.
type StateChangeHook func(key string, from, to State)

// Breaker guards calls to one provider. All transitions happen under a
// single mutex, so they are totally ordered per provider key.
type Breaker struct {
	key string
	cfg Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastFailure         time.Time
	probeInFlight       bool
	successCount        int
	totalAttempts       int

	onStateChange StateChangeHook
}

// New creates a closed breaker for the given provider key.
func New(key string, cfg Config, hook StateChangeHook) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig.ResetTimeout
	}
	return &Breaker{
		key:           key,
		cfg:           cfg,
		state:         StateClosed,
		onStateChange: hook,
	}
}

// Execute runs op through the breaker. While open it fails immediately
// with ErrOpen; half-open admits exactly one probe.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := b.allow(); err != nil {
		return err
	}

	err := op(ctx)
	if err != nil {
		// A caller cancellation says nothing about provider health.
		if errors.Is(err, context.Canceled) {
			b.recordCancelled()
			return err
		}
		b.recordFailure(err)
		return err
	}

	b.recordSuccess()
	return nil
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.cfg.ResetTimeout {
			return fmt.Errorf("%w: provider %s unavailable, retry after %s",
				ErrOpen, b.key, b.cfg.ResetTimeout-time.Since(b.lastFailure))
		}
		b.transition(StateHalfOpen)
		b.probeInFlight = true
	case StateHalfOpen:
		if b.probeInFlight {
			return fmt.Errorf("%w: provider %s probe already in flight", ErrOpen, b.key)
		}
		b.probeInFlight = true
	}

	b.totalAttempts++
	return nil
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successCount++
	b.consecutiveFailures = 0
	b.probeInFlight = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// recordCancelled releases the probe slot and undoes the attempt
// count. Cancelled attempts count neither for nor against the
// provider, so a half-open breaker stays half-open and admits the next
// probe.
func (b *Breaker) recordCancelled() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probeInFlight = false
	b.totalAttempts--
}

func (b *Breaker) recordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.lastFailure = time.Now()

	switch b.state {
	case StateHalfOpen:
		b.probeInFlight = false
		b.transition(StateOpen)
	case StateClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
			slog.Warn("Circuit breaker tripped",
				"provider", b.key, "failures", b.consecutiveFailures, "error", err)
		}
	}
}

// transition must be called with the mutex held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.onStateChange != nil {
		b.onStateChange(b.key, from, to)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot for health reporting.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	uptime := 100.0
	if b.totalAttempts > 0 {
		uptime = float64(b.successCount) / float64(b.totalAttempts) * 100
	}

	return Stats{
		State:         b.state,
		FailureCount:  b.consecutiveFailures,
		SuccessCount:  b.successCount,
		TotalAttempts: b.totalAttempts,
		UptimePercent: uptime,
	}
}

// Reset forces the breaker closed and clears counters. Administrative
// override only.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.probeInFlight = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}
