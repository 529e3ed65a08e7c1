// Package outbox implements the Outbox Poller (C8): a single-threaded
// periodic loop that enqueues pending jobs, fanning the per-tick batch out
// across sessions, per spec.md §4.8.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/storyforge/engine/pkg/metrics"
	"github.com/storyforge/engine/pkg/queue"
	"github.com/storyforge/engine/pkg/session"
)

// DefaultPeriod is the poller's tick interval, per spec.md §4.8
// ("default period 250 ms; configurable").
const DefaultPeriod = 250 * time.Millisecond

// Poller periodically lists pending jobs and enqueues them.
type Poller struct {
	store   *session.Store
	q       queue.Queue
	period  time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Poller with the default period.
func New(store *session.Store, q queue.Queue, logger *slog.Logger) *Poller {
	return &Poller{store: store, q: q, period: DefaultPeriod, logger: logger}
}

// WithPeriod returns a copy of p with a different tick interval.
func (p *Poller) WithPeriod(d time.Duration) *Poller {
	cp := *p
	cp.period = d
	return &cp
}

// WithMetrics returns a copy of p that records queue depth and outcomes to m.
func (p *Poller) WithMetrics(m *metrics.Metrics) *Poller {
	cp := *p
	cp.metrics = m
	return &cp
}

// Run blocks, ticking every p.period until ctx is cancelled. Each tick's
// jobs are enqueued concurrently but serialized per session id, per
// spec.md §4.8 ("serializing jobs by session id").
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	jobs, err := p.store.ListPendingJobs()
	if err != nil {
		p.logger.Error("outbox: list pending jobs failed", "error", err)
		return
	}
	if p.metrics != nil {
		p.metrics.JobQueueDepth.Set(float64(len(jobs)))
	}
	if len(jobs) == 0 {
		return
	}

	bySession := make(map[string][]*session.Job)
	for _, j := range jobs {
		bySession[sessionIDOf(j)] = append(bySession[sessionIDOf(j)], j)
	}

	g, gctx := errgroup.WithContext(ctx)
	for sessionID, sessJobs := range bySession {
		sessionID, sessJobs := sessionID, sessJobs
		g.Go(func() error {
			for _, j := range sessJobs {
				ref := queue.Ref{SessionID: sessionID, JobID: j.ID}
				outcome := "enqueued"
				if err := p.q.Enqueue(gctx, ref); err != nil {
					outcome = "error"
					p.logger.Warn("outbox: enqueue failed, will retry next tick", "session", sessionID, "job", j.ID, "error", err)
				}
				if p.metrics != nil {
					p.metrics.JobsProcessed.WithLabelValues(j.Kind, outcome).Inc()
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

func sessionIDOf(j *session.Job) string {
	return j.SessionID
}
