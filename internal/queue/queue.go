// Package queue schedules generation jobs against external providers.
//
// The queue is priority-ordered and concurrency-bounded. Every provider
// call runs through the provider's circuit breaker, and the whole
// breaker-wrapped attempt runs inside the retry engine, so a retried
// attempt re-enters the breaker fresh each time. A job id is owned by
// at most one worker slot at a time; duplicate enqueues are rejected so
// a billable call can never run twice for the same id.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vietddude/genqueue/internal/breaker"
	"github.com/vietddude/genqueue/internal/core/domain"
	"github.com/vietddude/genqueue/internal/provider"
	"github.com/vietddude/genqueue/internal/retry"
)

// Config holds queue settings.
type Config struct {
	MaxConcurrent     int
	ProcessingTimeout time.Duration
	Policy            retry.Policy
	Breaker           breaker.Config
}

// DefaultConfig provides sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:     3,
		ProcessingTimeout: 600 * time.Second,
		Policy:            retry.DefaultPolicy(),
		Breaker:           breaker.DefaultConfig,
	}
}

// Status is a snapshot of the queue for observability.
type Status struct {
	Pending         int     `json:"pending"`
	Processing      int     `json:"processing"`
	Completed       int     `json:"completed"`
	Failed          int     `json:"failed"`
	Paused          bool    `json:"paused"`
	TotalProcessed  int     `json:"total_processed"`
	AvgProcessingMs float64 `json:"avg_processing_ms"`
}

// DeadLetter records terminally failed jobs for later inspection.
type DeadLetter interface {
	Record(ctx context.Context, job *domain.Job, reason string) error
}

type pendingJob struct {
	job *domain.Job
	seq uint64 // insertion order, breaks priority ties
}

// Queue is an explicitly constructed scheduler instance owning all of
// its state. No process-wide singleton.
type Queue struct {
	cfg      Config
	clients  provider.Resolver
	breakers *breaker.Registry
	retryer  *retry.Retryer
	emitter  *emitter
	log      *slog.Logger

	deadLetter DeadLetter

	mu         sync.Mutex
	pending    []pendingJob
	processing map[string]*domain.Job
	completed  map[string]*domain.Job
	failed     map[string]*domain.Job
	cancels    map[string]context.CancelFunc
	seq        uint64
	active     int
	paused     bool
	closed     bool
	admitting  bool

	totalProcessed  int
	avgProcessingMs float64

	wakeTimer *time.Timer

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a queue. The resolver maps each job's provider key to a
// client; breakers and retry state are owned by the queue instance.
func New(cfg Config, clients provider.Resolver) *Queue {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = 600 * time.Second
	}
	if cfg.Policy.Name == "" {
		cfg.Policy = retry.DefaultPolicy()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:        cfg,
		clients:    clients,
		retryer:    retry.NewRetryer(cfg.Policy),
		emitter:    newEmitter(),
		log:        slog.Default(),
		processing: make(map[string]*domain.Job),
		completed:  make(map[string]*domain.Job),
		failed:     make(map[string]*domain.Job),
		cancels:    make(map[string]context.CancelFunc),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
	q.breakers = breaker.NewRegistry(cfg.Breaker, func(key string, _, to breaker.State) {
		BreakerState.WithLabelValues(key).Set(breakerStateValue(to))
	})
	return q
}

// SetDeadLetter wires an optional dead-letter sink for terminal
// failures. Must be called before the first enqueue.
func (q *Queue) SetDeadLetter(dl DeadLetter) {
	q.deadLetter = dl
}

// On registers an event listener.
func (q *Queue) On(t domain.EventType, l Listener) {
	q.emitter.on(t, l)
}

// Breakers exposes per-provider breaker stats for health reporting.
func (q *Queue) Breakers() map[string]breaker.Stats {
	return q.breakers.Stats()
}

// Retryer exposes the retry engine (single integration point for
// backoff math).
func (q *Queue) Retryer() *retry.Retryer {
	return q.retryer
}

// Enqueue admits a job. A job whose id is already known to this run,
// in any of the queued, processing, completed or failed sets, is
// rejected with a warning and not admitted again: this is the primary
// defense against duplicate billable calls.
func (q *Queue) Enqueue(job *domain.Job) bool {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		q.log.Warn("Enqueue rejected, queue shut down", "job_id", job.ID)
		return false
	}

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	if q.knownLocked(job.ID) {
		q.mu.Unlock()
		q.log.Warn("Duplicate enqueue rejected", "job_id", job.ID)
		return false
	}

	job.Status = domain.StatusQueued
	q.insertLocked(job)
	QueueDepth.Set(float64(len(q.pending)))

	q.emitLocked(domain.EventItemAdded, job, nil)
	q.scheduleLocked()
	q.mu.Unlock()
	return true
}

// Dequeue removes a job. A still-queued job is removed synchronously
// and never runs. A processing job is best-effort-cancelled at the
// provider and marked failed immediately. Returns false if the id is
// in neither set.
func (q *Queue) Dequeue(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, pj := range q.pending {
		if pj.job.ID != id {
			continue
		}
		job := pj.job
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		QueueDepth.Set(float64(len(q.pending)))
		job.Status = domain.StatusFailed
		job.LastError = "cancelled by caller"
		q.emitLocked(domain.EventItemCancelled, job, nil)
		return true
	}

	job, ok := q.processing[id]
	if !ok {
		return false
	}

	// Mark terminal first so the worker's finalize pass only cleans up.
	job.Status = domain.StatusFailed
	job.LastError = "cancelled by caller"
	q.failed[id] = job
	delete(q.processing, id)

	if cancel, ok := q.cancels[id]; ok {
		cancel()
	}

	// Provider-side cancellation is delegated and not guaranteed
	// instantaneous.
	if client, err := q.clients.ClientFor(job.ProviderKey); err == nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := client.Cancel(ctx, id); err != nil {
				q.log.Warn("Provider cancel failed", "job_id", id, "error", err)
			}
		}()
	}

	q.emitLocked(domain.EventItemCancelled, job, nil)
	return true
}

// Pause stops admission of new jobs without disturbing in-flight ones.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused {
		return
	}
	q.paused = true
	q.emitLocked(domain.EventQueuePaused, nil, nil)
}

// Resume restarts admission.
func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.paused {
		return
	}
	q.paused = false
	q.emitLocked(domain.EventQueueResumed, nil, nil)
	q.scheduleLocked()
}

// GetStatus returns a snapshot of the queue.
func (q *Queue) GetStatus() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{
		Pending:         len(q.pending),
		Processing:      len(q.processing),
		Completed:       len(q.completed),
		Failed:          len(q.failed),
		Paused:          q.paused,
		TotalProcessed:  q.totalProcessed,
		AvgProcessingMs: q.avgProcessingMs,
	}
}

// Job returns the tracked job for an id, if known to this run.
func (q *Queue) Job(id string) (*domain.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, pj := range q.pending {
		if pj.job.ID == id {
			return pj.job, true
		}
	}
	if j, ok := q.processing[id]; ok {
		return j, true
	}
	if j, ok := q.completed[id]; ok {
		return j, true
	}
	if j, ok := q.failed[id]; ok {
		return j, true
	}
	return nil, false
}

// Shutdown pauses the queue and waits up to the context's deadline for
// in-flight jobs, then proceeds regardless, logging abandoned jobs.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.paused = true
	q.closed = true
	if q.wakeTimer != nil {
		q.wakeTimer.Stop()
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		q.mu.Lock()
		for id := range q.processing {
			q.log.Warn("Abandoning in-flight job on shutdown", "job_id", id)
		}
		q.mu.Unlock()
	}

	q.baseCancel()
	return nil
}

func (q *Queue) knownLocked(id string) bool {
	for _, pj := range q.pending {
		if pj.job.ID == id {
			return true
		}
	}
	if _, ok := q.processing[id]; ok {
		return true
	}
	if _, ok := q.completed[id]; ok {
		return true
	}
	if _, ok := q.failed[id]; ok {
		return true
	}
	return false
}

// insertLocked keeps pending sorted by priority, stable by arrival.
func (q *Queue) insertLocked(job *domain.Job) {
	q.seq++
	pj := pendingJob{job: job, seq: q.seq}
	idx := sort.Search(len(q.pending), func(i int) bool {
		return q.pending[i].job.Priority > job.Priority
	})
	q.pending = append(q.pending, pendingJob{})
	copy(q.pending[idx+1:], q.pending[idx:])
	q.pending[idx] = pj
}

// scheduleLocked is the single admission pass. The admitting guard
// keeps it from running twice concurrently even if a listener calls
// back into the queue.
func (q *Queue) scheduleLocked() {
	if q.admitting {
		return
	}
	q.admitting = true
	defer func() { q.admitting = false }()

	if q.paused || q.closed {
		return
	}

	now := time.Now()
	var nextDue time.Time

	i := 0
	for i < len(q.pending) {
		if q.active >= q.cfg.MaxConcurrent {
			break
		}
		pj := q.pending[i]

		// Not yet due: skip but keep queued.
		if !pj.job.ScheduledAt.IsZero() && pj.job.ScheduledAt.After(now) {
			if nextDue.IsZero() || pj.job.ScheduledAt.Before(nextDue) {
				nextDue = pj.job.ScheduledAt
			}
			i++
			continue
		}

		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		q.startLocked(pj.job)
	}
	QueueDepth.Set(float64(len(q.pending)))

	// Arm a wakeup for the earliest future ScheduledAt so delayed jobs
	// are admitted without polling.
	for ; i < len(q.pending); i++ {
		at := q.pending[i].job.ScheduledAt
		if !at.IsZero() && at.After(now) && (nextDue.IsZero() || at.Before(nextDue)) {
			nextDue = at
		}
	}
	if !nextDue.IsZero() {
		d := time.Until(nextDue)
		if d < 0 {
			d = 0
		}
		if q.wakeTimer == nil {
			q.wakeTimer = time.AfterFunc(d, q.schedule)
		} else {
			q.wakeTimer.Reset(d)
		}
	}
}

func (q *Queue) schedule() {
	q.mu.Lock()
	q.scheduleLocked()
	q.mu.Unlock()
}

func (q *Queue) startLocked(job *domain.Job) {
	job.Status = domain.StatusProcessing
	q.processing[job.ID] = job
	q.active++
	ActiveWorkers.Set(float64(q.active))

	ctx, cancel := context.WithCancel(q.baseCtx)
	q.cancels[job.ID] = cancel

	q.wg.Add(1)
	go q.process(ctx, job)
}

// process drives one job to a terminal state. It owns the job's worker
// slot for the whole run, including inter-attempt backoff, which is how
// at-most-one-concurrent per id is kept without a re-admission race.
func (q *Queue) process(ctx context.Context, job *domain.Job) {
	defer q.wg.Done()

	q.mu.Lock()
	q.emitLocked(domain.EventItemStarted, job, nil)
	q.mu.Unlock()

	start := time.Now()
	var result *domain.GenerationResult

	attempt := func(ctx context.Context) error {
		client, err := q.clients.ClientFor(job.ProviderKey)
		if err != nil {
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, q.cfg.ProcessingTimeout)
		defer cancel()

		return q.breakers.Get(job.ProviderKey).Execute(attemptCtx, func(ctx context.Context) error {
			res, err := client.Generate(ctx, job.Payload)
			if err != nil {
				// A timeout is synthesized into the normal failure
				// path, not a separate one.
				if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
					return fmt.Errorf("processing timed out after %s: %v", q.cfg.ProcessingTimeout, err)
				}
				return err
			}
			result = res
			return nil
		})
	}

	onRetry := func(attemptNum int, cerr *retry.ClassifiedError, delay time.Duration) {
		q.mu.Lock()
		job.RetryCount = attemptNum
		job.ScheduledAt = time.Now().Add(delay)
		job.LastError = cerr.TechnicalMessage
		q.mu.Unlock()
		JobRetries.WithLabelValues(job.ProviderKey).Inc()
		q.log.Warn("Job attempt failed, retrying",
			"job_id", job.ID, "attempt", attemptNum, "category", cerr.Category, "delay", delay)
	}

	err := q.retryer.Execute(ctx, job.ID, job.MaxRetries, attempt, onRetry)
	q.finalize(job, result, err, time.Since(start))
}

func (q *Queue) finalize(job *domain.Job, result *domain.GenerationResult, err error, elapsed time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, job.ID)
	if cancel, ok := q.cancels[job.ID]; ok {
		cancel()
		delete(q.cancels, job.ID)
	}
	q.active--
	ActiveWorkers.Set(float64(q.active))

	// Already finalized by Dequeue; the cancellation event was emitted
	// there, so only free the slot here.
	if _, cancelled := q.failed[job.ID]; cancelled {
		q.scheduleLocked()
		return
	}

	q.totalProcessed++
	q.avgProcessingMs += (float64(elapsed.Milliseconds()) - q.avgProcessingMs) / float64(q.totalProcessed)
	JobDuration.WithLabelValues(job.ProviderKey).Observe(elapsed.Seconds())

	if err == nil {
		job.Status = domain.StatusCompleted
		job.Result = result
		q.completed[job.ID] = job
		JobsProcessed.WithLabelValues(job.ProviderKey, "completed").Inc()
		q.emitLocked(domain.EventItemCompleted, job, nil)
		q.log.Info("Job completed", "job_id", job.ID, "provider", job.ProviderKey, "elapsed", elapsed)
	} else {
		job.Status = domain.StatusFailed
		job.LastError = err.Error()
		q.failed[job.ID] = job
		JobsProcessed.WithLabelValues(job.ProviderKey, "failed").Inc()
		q.emitLocked(domain.EventItemFailed, job, err)

		var cerr *retry.ClassifiedError
		if errors.As(err, &cerr) {
			q.log.Error("Job failed",
				"job_id", job.ID, "provider", job.ProviderKey,
				"category", cerr.Category, "severity", cerr.Severity,
				"error", cerr.TechnicalMessage)
		} else {
			q.log.Error("Job failed", "job_id", job.ID, "provider", job.ProviderKey, "error", err)
		}

		if q.deadLetter != nil {
			jobCopy := *job
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if dlErr := q.deadLetter.Record(ctx, &jobCopy, jobCopy.LastError); dlErr != nil {
					q.log.Warn("Dead letter record failed", "job_id", jobCopy.ID, "error", dlErr)
				}
			}()
		}
	}

	// A freed slot may admit the next job.
	q.scheduleLocked()
}

// emitLocked snapshots the job so listeners never observe later
// mutations. Must be called with the mutex held.
func (q *Queue) emitLocked(t domain.EventType, job *domain.Job, err error) {
	if job == nil {
		q.emitter.emit(t, nil, err)
		return
	}
	snapshot := *job
	q.emitter.emit(t, &snapshot, err)
}

func breakerStateValue(s breaker.State) float64 {
	switch s {
	case breaker.StateOpen:
		return 2
	case breaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
