// Package batch coordinates groups of generation jobs sharing a
// project: best-effort parallel runs and strictly ordered sequential
// runs with consistency propagation between frames.
package batch

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/vietddude/genqueue/internal/core/domain"
	"github.com/vietddude/genqueue/internal/queue"
)

// ErrDuplicate marks a job the queue refused to admit.
var ErrDuplicate = errors.New("job rejected: id already known to the queue")

// ErrBatchCancelled marks jobs skipped because their batch was
// cancelled before they were admitted.
var ErrBatchCancelled = errors.New("batch cancelled")

// Extractor derives style context from a completed frame. It must be
// pure and side-effect free.
type Extractor func(*domain.GenerationResult) *domain.ConsistencyContext

// Result captures one job's outcome. Every job of a batch gets a
// Result; a failure never aborts the rest of the batch.
type Result struct {
	Job *domain.Job
	Err error
}

type batchState struct {
	ids       map[string]struct{}
	cancelled bool
}

// Orchestrator runs batches on top of the queue primitives.
type Orchestrator struct {
	queue     *queue.Queue
	extractor Extractor

	mu      sync.Mutex
	batches map[string]*batchState
	waiters map[string]chan *domain.Job
}

// New creates an orchestrator bound to a queue. The extractor may be
// nil when sequential consistency propagation is not needed.
func New(q *queue.Queue, extractor Extractor) *Orchestrator {
	o := &Orchestrator{
		queue:     q,
		extractor: extractor,
		batches:   make(map[string]*batchState),
		waiters:   make(map[string]chan *domain.Job),
	}
	q.On(domain.EventItemCompleted, o.onTerminal)
	q.On(domain.EventItemFailed, o.onTerminal)
	q.On(domain.EventItemCancelled, o.onTerminal)
	return o
}

func (o *Orchestrator) onTerminal(ev domain.Event) {
	if ev.Job == nil {
		return
	}
	o.mu.Lock()
	ch, ok := o.waiters[ev.Job.ID]
	if ok {
		delete(o.waiters, ev.Job.ID)
	}
	o.mu.Unlock()
	if ok {
		ch <- ev.Job
	}
}

// RunParallel enqueues every job at once under the queue's normal
// concurrency bound and waits for all outcomes. Semantics match
// "all settled": each job's success or failure is captured, none aborts
// the batch.
func (o *Orchestrator) RunParallel(ctx context.Context, batchID string, jobs []*domain.Job) (string, []Result, error) {
	batchID = o.register(batchID, jobs)

	results := make([]Result, len(jobs))
	channels := make([]chan *domain.Job, len(jobs))

	for i, job := range jobs {
		ch, err := o.admit(batchID, job)
		if err != nil {
			results[i] = Result{Job: job, Err: err}
			continue
		}
		channels[i] = ch
	}

	var wg sync.WaitGroup
	for i := range jobs {
		if channels[i] == nil {
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.await(ctx, jobs[i], channels[i])
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return batchID, results, err
	}
	return batchID, results, nil
}

// RunSequential enqueues and awaits jobs one at a time in the given
// order. After the first success the extractor runs exactly once and
// its output is fed forward to every later frame. A failed step is
// recorded but does not halt the remaining steps.
func (o *Orchestrator) RunSequential(ctx context.Context, batchID string, jobs []*domain.Job) (string, []Result, error) {
	batchID = o.register(batchID, jobs)

	results := make([]Result, len(jobs))
	var consistency *domain.ConsistencyContext
	extracted := false

	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			results[i] = Result{Job: job, Err: err}
			continue
		}
		if o.isCancelled(batchID) {
			results[i] = Result{Job: job, Err: ErrBatchCancelled}
			continue
		}

		if consistency != nil && job.Payload != nil {
			job.Payload.Consistency = consistency
		}

		ch, err := o.admit(batchID, job)
		if err != nil {
			results[i] = Result{Job: job, Err: err}
			continue
		}

		res := o.await(ctx, job, ch)
		results[i] = res

		if res.Err == nil && !extracted && o.extractor != nil && res.Job.Result != nil {
			consistency = o.extractor(res.Job.Result)
			extracted = true
		}
	}

	return batchID, results, nil
}

// CancelBatch dequeues every job of the batch still queued or
// processing and refuses further admission from it.
func (o *Orchestrator) CancelBatch(batchID string) int {
	o.mu.Lock()
	st, ok := o.batches[batchID]
	if !ok {
		o.mu.Unlock()
		return 0
	}
	st.cancelled = true
	ids := make([]string, 0, len(st.ids))
	for id := range st.ids {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	cancelled := 0
	for _, id := range ids {
		if o.queue.Dequeue(id) {
			cancelled++
		}
	}
	return cancelled
}

func (o *Orchestrator) register(batchID string, jobs []*domain.Job) string {
	if batchID == "" {
		batchID = uuid.New().String()
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.batches[batchID]
	if !ok {
		st = &batchState{ids: make(map[string]struct{})}
		o.batches[batchID] = st
	}
	for _, job := range jobs {
		job.BatchID = batchID
		if job.ID != "" {
			st.ids[job.ID] = struct{}{}
		}
	}
	return batchID
}

// admit registers a waiter before enqueueing so a fast terminal event
// cannot be missed.
func (o *Orchestrator) admit(batchID string, job *domain.Job) (chan *domain.Job, error) {
	o.mu.Lock()
	st := o.batches[batchID]
	if st != nil && st.cancelled {
		o.mu.Unlock()
		return nil, ErrBatchCancelled
	}
	o.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	ch := make(chan *domain.Job, 1)
	o.mu.Lock()
	o.waiters[job.ID] = ch
	if st != nil {
		st.ids[job.ID] = struct{}{}
	}
	o.mu.Unlock()

	if !o.queue.Enqueue(job) {
		o.mu.Lock()
		delete(o.waiters, job.ID)
		o.mu.Unlock()
		return nil, ErrDuplicate
	}
	return ch, nil
}

func (o *Orchestrator) await(ctx context.Context, job *domain.Job, ch chan *domain.Job) Result {
	select {
	case terminal := <-ch:
		if terminal.Status == domain.StatusCompleted {
			return Result{Job: terminal}
		}
		return Result{Job: terminal, Err: errors.New(terminal.LastError)}
	case <-ctx.Done():
		o.mu.Lock()
		delete(o.waiters, job.ID)
		o.mu.Unlock()
		o.queue.Dequeue(job.ID)
		return Result{Job: job, Err: ctx.Err()}
	}
}

func (o *Orchestrator) isCancelled(batchID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.batches[batchID]
	return ok && st.cancelled
}
