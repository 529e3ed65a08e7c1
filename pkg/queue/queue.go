// Package queue implements the Job Queue + Worker abstraction (C7): a
// queue interface with a Null/inline implementation (jobs run synchronously
// on the poller) and a Handler dispatch keyed by job kind, per spec.md
// §4.7.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/storyforge/engine/pkg/session"
)

// Ref identifies one enqueued job.
type Ref struct {
	SessionID string
	JobID     string
}

// Queue exposes enqueue/status and dispatches jobs to a Handler. Per
// spec.md §4.7 ("Two implementations are supported: Distributed ...
// Null/inline").
type Queue interface {
	Enqueue(ctx context.Context, ref Ref) error
	Status(ref Ref) (string, error)
}

// Handler processes one job to completion (or failure), writing results
// back through the Session Store.
type Handler func(ctx context.Context, ref Ref) error

// Dispatcher routes a job to the Handler registered for its kind.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	store    *session.Store
}

// NewDispatcher creates an empty Dispatcher bound to store (used to look
// up a job's kind before dispatch).
func NewDispatcher(store *session.Store) *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler), store: store}
}

// Register binds a Handler to a job kind.
func (d *Dispatcher) Register(kind string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = h
}

// Dispatch loads ref's job kind and invokes the matching handler.
func (d *Dispatcher) Dispatch(ctx context.Context, ref Ref) error {
	doc, err := d.store.LoadSession(ref.SessionID)
	if err != nil {
		return err
	}
	job, ok := doc.Jobs[ref.JobID]
	if !ok {
		return fmt.Errorf("queue: job %q not found in session %q", ref.JobID, ref.SessionID)
	}

	d.mu.RLock()
	h, ok := d.handlers[job.Kind]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("queue: no handler registered for job kind %q", job.Kind)
	}
	return h(ctx, ref)
}

// NullQueue is the inline implementation: Enqueue runs the job
// synchronously through dispatcher, per spec.md §4.7/§4.8 ("the poller
// executes the handler inline instead of enqueueing").
type NullQueue struct {
	Dispatcher *Dispatcher
}

// Enqueue runs the job immediately and reports its outcome as the error.
func (q *NullQueue) Enqueue(ctx context.Context, ref Ref) error {
	return q.Dispatcher.Dispatch(ctx, ref)
}

// Status is a no-op for NullQueue: job status lives entirely in the
// Session Store, which the executor handler updates.
func (q *NullQueue) Status(ref Ref) (string, error) {
	return "", nil
}
