package outbox

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyforge/engine/pkg/items"
	"github.com/storyforge/engine/pkg/metrics"
	"github.com/storyforge/engine/pkg/queue"
	"github.com/storyforge/engine/pkg/session"
)

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingQueue struct {
	mu   sync.Mutex
	refs []queue.Ref
	fail map[string]bool
}

func (q *recordingQueue) Enqueue(ctx context.Context, ref queue.Ref) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.refs = append(q.refs, ref)
	if q.fail[ref.JobID] {
		return assertErrFail
	}
	return nil
}

func (q *recordingQueue) Status(ref queue.Ref) (string, error) { return "", nil }

var assertErrFail = &fakeErr{"enqueue failed"}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

func newTestStore(t *testing.T) *session.Store {
	t.Helper()
	s, err := session.New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestTickEnqueuesAllPendingJobs(t *testing.T) {
	store := newTestStore(t)
	doc, branchID, err := store.CreateSession(nil)
	require.NoError(t, err)
	round, _, err := store.BeginRound(doc.ID, branchID, "hi")
	require.NoError(t, err)

	_, err = store.RecordJob(doc.ID, branchID, round.No, "guidance", false, "guidance@1", items.Record{})
	require.NoError(t, err)
	_, err = store.RecordJob(doc.ID, branchID, round.No, "status_update", true, "status_update@1", items.Record{})
	require.NoError(t, err)

	q := &recordingQueue{fail: map[string]bool{}}
	p := New(store, q, nopLogger())
	p.tick(context.Background())

	assert.Len(t, q.refs, 2)
}

func TestTickRecordsQueueDepthAndOutcomeMetrics(t *testing.T) {
	store := newTestStore(t)
	doc, branchID, err := store.CreateSession(nil)
	require.NoError(t, err)
	round, _, err := store.BeginRound(doc.ID, branchID, "hi")
	require.NoError(t, err)

	job, err := store.RecordJob(doc.ID, branchID, round.No, "guidance", false, "guidance@1", items.Record{})
	require.NoError(t, err)

	q := &recordingQueue{fail: map[string]bool{job.ID: true}}
	m := metrics.New()
	p := New(store, q, nopLogger()).WithMetrics(m)
	p.tick(context.Background())

	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobQueueDepth))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobsProcessed.WithLabelValues("guidance", "error")))
}

func TestTickIsNoopWhenNoPendingJobs(t *testing.T) {
	store := newTestStore(t)
	q := &recordingQueue{fail: map[string]bool{}}
	p := New(store, q, nopLogger())
	p.tick(context.Background())
	assert.Empty(t, q.refs)
}

func TestWithPeriodOverridesDefault(t *testing.T) {
	store := newTestStore(t)
	q := &recordingQueue{fail: map[string]bool{}}
	p := New(store, q, nopLogger()).WithPeriod(10 * time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, p.period)
}
