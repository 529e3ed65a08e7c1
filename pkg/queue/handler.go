package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/storyforge/engine/pkg/executor"
	"github.com/storyforge/engine/pkg/items"
	"github.com/storyforge/engine/pkg/nodes"
	"github.com/storyforge/engine/pkg/session"
	"github.com/storyforge/engine/pkg/state"
)

// RetryPolicy bounds job handler retries, per spec.md §7 ("exponential
// backoff up to a cap, default 5 attempts, base 1s, factor 2").
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy is spec.md §7's default.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, InitialInterval: time.Second, Multiplier: 2}

// backoffFor builds the exponential backoff schedule a failed job's next
// attempt is computed from, seeded so its Nth call lands on the Nth
// interval regardless of how many times NewExecutorHandler itself has run.
func (p RetryPolicy) backoffFor(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset() // start the schedule from p.InitialInterval, not the library default
	var d time.Duration
	for i := 0; i <= attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}

// NewExecutorHandler builds the handler described in spec.md §4.7: it
// loads the job and session, looks up the referenced subflow document,
// runs it via exec with a NodeContext bound to the job's session/branch/
// round, and writes the outcome back via UpdateJobStatus. State updates
// from a non-blocking job attach to the working state under well-known
// keys via the session store's LSS merge. A failing job is retried with
// exponential backoff up to policy.MaxAttempts before being marked failed.
func NewExecutorHandler(exec *executor.Executor, store *session.Store, resources nodes.Resources, logger *slog.Logger, policy RetryPolicy) Handler {
	return func(ctx context.Context, ref Ref) error {
		doc, err := store.LoadSession(ref.SessionID)
		if err != nil {
			return err
		}
		job, ok := doc.Jobs[ref.JobID]
		if !ok {
			return fmt.Errorf("queue: job %q not found", ref.JobID)
		}

		if err := store.MarkJobEnqueued(ref.SessionID, ref.JobID); err != nil {
			return err
		}

		sm := state.New(doc.LSS)
		nodeCtx := &nodes.Context{
			Ctx:       ctx,
			SessionID: ref.SessionID,
			BranchID:  job.BranchID,
			RoundNo:   job.RoundNo,
			State:     sm,
			Resources: resources,
			Logger:    logger,
		}

		in := items.Items{job.Payload.DeepCopy()}
		res := exec.RunRef(job.Ref, in, nodeCtx)

		if res.Err != nil {
			if job.Attempts+1 >= policy.MaxAttempts {
				return store.UpdateJobStatus(ref.SessionID, ref.JobID, session.JobFailed, res.Err.Error(), nil)
			}
			delay := policy.backoffFor(job.Attempts)
			logger.Warn("queue: job failed, scheduling retry", "job", ref.JobID, "attempt", job.Attempts+1, "delay", delay, "error", res.Err)
			return store.RetryJob(ref.SessionID, ref.JobID, res.Err.Error(), time.Now().Add(delay))
		}
		return store.UpdateJobStatus(ref.SessionID, ref.JobID, session.JobDone, "", sm.GetWorking())
	}
}
