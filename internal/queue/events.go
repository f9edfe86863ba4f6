package queue

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/genqueue/internal/core/domain"
)

// Listener receives queue events. Listeners must treat the event as
// read-only; a panicking listener is logged and isolated.
type Listener func(domain.Event)

// emitter dispatches events without blocking the queue: each emission
// runs on its own goroutine and every listener call is recovered.
type emitter struct {
	mu        sync.RWMutex
	listeners map[domain.EventType][]Listener
}

func newEmitter() *emitter {
	return &emitter{listeners: make(map[domain.EventType][]Listener)}
}

func (e *emitter) on(t domain.EventType, l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[t] = append(e.listeners[t], l)
}

func (e *emitter) emit(t domain.EventType, job *domain.Job, err error) {
	e.mu.RLock()
	targets := make([]Listener, len(e.listeners[t]))
	copy(targets, e.listeners[t])
	e.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	ev := domain.Event{
		Type:      t,
		Job:       job,
		Err:       err,
		Timestamp: time.Now().UTC(),
	}

	go func() {
		for _, l := range targets {
			dispatch(l, ev)
		}
	}()
}

func dispatch(l Listener, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event listener panicked", "event", ev.Type, "panic", r)
		}
	}()
	l(ev)
}
