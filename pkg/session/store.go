package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storyforge/engine/pkg/items"
	"github.com/storyforge/engine/pkg/storyerr"
)

// handle pairs a loaded Doc with the lock that serializes writes to it,
// per spec.md §4.6 ("A per-session lock serializes writes within a
// process").
type handle struct {
	mu  sync.Mutex
	doc *Doc
}

// Store is the on-disk Session Store: one directory per session, a
// canonical JSON document per session, atomic temp-file-then-rename
// writes, grounded on the index-state persistence idiom used elsewhere in
// the reference stack.
type Store struct {
	rootDir string

	mu       sync.RWMutex
	sessions map[string]*handle
}

// New creates a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create root dir: %w", err)
	}
	return &Store{rootDir: dir, sessions: make(map[string]*handle)}, nil
}

func (s *Store) docPath(sessionID string) string {
	return filepath.Join(s.rootDir, sessionID, "session.json")
}

// CreateSession creates a new session with a fresh default branch, seeded
// with initialState as the LSS.
func (s *Store) CreateSession(initialState items.Record) (*Doc, string, error) {
	id := uuid.NewString()
	branchID := uuid.NewString()

	doc := &Doc{
		ID:            id,
		DefaultBranch: branchID,
		ActiveBranch:  branchID,
		Branches:      map[string]*Branch{branchID: {ID: branchID, Rounds: []*Round{}}},
		Snapshots:     map[string]*Snapshot{},
		Jobs:          map[string]*Job{},
		Outbox:        map[string]*OutboxEntry{},
		LSS:           initialState.DeepCopy(),
		CreatedAt:     time.Now(),
	}
	if doc.LSS == nil {
		doc.LSS = items.Record{}
	}

	h := &handle{doc: doc}
	if err := s.persist(h); err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	s.sessions[id] = h
	s.mu.Unlock()

	return doc, branchID, nil
}

// LoadSession returns the session document, loading it from disk on first
// access.
func (s *Store) LoadSession(id string) (*Doc, error) {
	h, err := s.handleFor(id)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doc, nil
}

// ListSessions returns every known session id, sorted.
func (s *Store) ListSessions() ([]string, error) {
	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: list sessions: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) handleFor(id string) (*handle, error) {
	s.mu.RLock()
	h, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return h, nil
	}

	data, err := os.ReadFile(s.docPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storyerr.New(storyerr.KindNotFound, fmt.Sprintf("session %q not found", id))
		}
		return nil, fmt.Errorf("session: read %s: %w", id, err)
	}
	var doc Doc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", id, err)
	}
	reconcileAfterCrash(&doc)

	h = &handle{doc: &doc}
	s.mu.Lock()
	s.sessions[id] = h
	s.mu.Unlock()
	return h, nil
}

// persist writes h.doc atomically: temp file, then rename, per spec.md
// §4.6 ("Writes are atomic: write to temp, fsync, rename").
func (s *Store) persist(h *handle) error {
	path := s.docPath(h.doc.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("session: create session dir: %w", err)
	}

	data, err := json.MarshalIndent(h.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal %s: %w", h.doc.ID, err)
	}

	tempPath := path + ".tmp"
	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("session: write %s: %w", h.doc.ID, err)
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("session: write %s: %w", h.doc.ID, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("session: rename %s: %w", h.doc.ID, err)
	}
	return nil
}

// CreateBranch creates a branch under session, per spec.md §4.6.
func (s *Store) CreateBranch(sessionID, parentBranch string, fromRound int, setActive bool) (*Branch, error) {
	h, err := s.handleFor(sessionID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	branch := &Branch{ID: uuid.NewString(), ParentBranch: parentBranch, FromRound: fromRound, Rounds: []*Round{}}

	if parentBranch != "" {
		parent, ok := h.doc.Branches[parentBranch]
		if !ok {
			return nil, storyerr.New(storyerr.KindNotFound, fmt.Sprintf("branch %q not found", parentBranch))
		}
		if fromRound > 0 {
			if r, ok := parent.RoundByNo(fromRound); ok {
				if snap, ok := h.doc.Snapshots[r.SnapshotID]; ok {
					branch.Rounds = []*Round{}
					h.doc.LSS = snap.LSSCopy.DeepCopy()
				}
			}
		}
	}

	h.doc.Branches[branch.ID] = branch
	if setActive {
		h.doc.ActiveBranch = branch.ID
	}
	return branch, s.persist(h)
}

// SetActiveBranch sets the session's active branch.
func (s *Store) SetActiveBranch(sessionID, branchID string) error {
	h, err := s.handleFor(sessionID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.doc.Branches[branchID]; !ok {
		return storyerr.New(storyerr.KindNotFound, fmt.Sprintf("branch %q not found", branchID))
	}
	h.doc.ActiveBranch = branchID
	return s.persist(h)
}

// BeginRound allocates the next round number on branch, snapshots the
// current LSS, and opens the round, per spec.md §4.6/§5 ("blocking jobs
// for round N must complete before round N+1's begin_round is admitted").
func (s *Store) BeginRound(sessionID, branchID, userInput string) (*Round, *Snapshot, error) {
	h, err := s.handleFor(sessionID)
	if err != nil {
		return nil, nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	branch, ok := h.doc.Branches[branchID]
	if !ok {
		return nil, nil, storyerr.New(storyerr.KindNotFound, fmt.Sprintf("branch %q not found", branchID))
	}

	if last := branch.LastRound(); last != nil && last.Status == RoundBlocked {
		return nil, nil, storyerr.New(storyerr.KindRoundBlocked,
			fmt.Sprintf("round %d is blocked: %v", last.No, last.Blockers))
	}

	roundNo := len(branch.Rounds) + 1
	snap := &Snapshot{ID: uuid.NewString(), RoundNo: roundNo, LSSCopy: h.doc.LSS.DeepCopy(), CreatedAt: time.Now()}
	h.doc.Snapshots[snap.ID] = snap

	round := &Round{No: roundNo, UserInput: userInput, SnapshotID: snap.ID, Status: RoundOpen}
	branch.Rounds = append(branch.Rounds, round)

	if err := s.persist(h); err != nil {
		return nil, nil, err
	}
	return round, snap, nil
}

// SaveRoundLLMReply writes the round's main-IR-run outputs, per spec.md
// §4.6/§4.9.
func (s *Store) SaveRoundLLMReply(sessionID, branchID string, roundNo int, reply string, it items.Items, metrics items.Metrics, logs items.Logs) error {
	h, err := s.handleFor(sessionID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	branch, ok := h.doc.Branches[branchID]
	if !ok {
		return storyerr.New(storyerr.KindNotFound, fmt.Sprintf("branch %q not found", branchID))
	}
	round, ok := branch.RoundByNo(roundNo)
	if !ok {
		return storyerr.New(storyerr.KindNotFound, fmt.Sprintf("round %d not found", roundNo))
	}

	round.LLMReply = reply
	round.Items = it
	round.Metrics = metrics
	round.Logs = logs
	return s.persist(h)
}

// CommitRoundState merges a round's main-IR-run working state into the
// durable LSS, per spec.md §3 ("update_state_sync writes to both LSS and
// Working"). Subject to the same discard-if-anchor-mismatch rule
// UpdateJobStatus applies: a new send recorded after this round moves the
// branch's anchor forward (a reroll adds no round and leaves it in place),
// and a late commit for a round that is no longer the latest is dropped
// rather than clobbering newer state.
func (s *Store) CommitRoundState(sessionID, branchID string, roundNo int, working items.Record) error {
	if len(working) == 0 {
		return nil
	}
	h, err := s.handleFor(sessionID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	branch, ok := h.doc.Branches[branchID]
	if !ok {
		return storyerr.New(storyerr.KindNotFound, fmt.Sprintf("branch %q not found", branchID))
	}
	if last := branch.LastRound(); last == nil || last.No != roundNo {
		return nil
	}

	h.doc.LSS = h.doc.LSS.Merge(working)
	return s.persist(h)
}

// RecordJob inserts (or returns the existing match for) a job, per
// spec.md §4.6 ("record_job").
func (s *Store) RecordJob(sessionID, branchID string, roundNo int, kind string, blocking bool, ref string, payload items.Record) (*Job, error) {
	h, err := s.handleFor(sessionID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	branch, ok := h.doc.Branches[branchID]
	if !ok {
		return nil, storyerr.New(storyerr.KindNotFound, fmt.Sprintf("branch %q not found", branchID))
	}
	round, ok := branch.RoundByNo(roundNo)
	if !ok {
		return nil, storyerr.New(storyerr.KindNotFound, fmt.Sprintf("round %d not found", roundNo))
	}

	key := idempotencyKey(sessionID, branchID, roundNo, kind, ref)
	for _, existing := range h.doc.Jobs {
		if existing.IdempotencyKey == key {
			return existing, nil
		}
	}

	job := &Job{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		Kind:           kind,
		Blocking:       blocking,
		Ref:            ref,
		Payload:        payload.DeepCopy(),
		BranchID:       branchID,
		RoundNo:        roundNo,
		Status:         JobPending,
		IdempotencyKey: key,
		CreatedAt:      time.Now(),
	}
	h.doc.Jobs[job.ID] = job
	h.doc.Outbox[job.ID] = &OutboxEntry{JobID: job.ID}

	if blocking {
		round.Blockers = append(round.Blockers, job.ID)
		round.Status = RoundBlocked
	}

	if err := s.persist(h); err != nil {
		return nil, err
	}
	return job, nil
}

// MarkJobEnqueued transitions a job to enqueued and marks its outbox
// entry delivered.
func (s *Store) MarkJobEnqueued(sessionID, jobID string) error {
	h, err := s.handleFor(sessionID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	job, ok := h.doc.Jobs[jobID]
	if !ok {
		return storyerr.New(storyerr.KindNotFound, fmt.Sprintf("job %q not found", jobID))
	}
	job.Status = JobEnqueued
	job.HeartbeatAt = time.Now()
	if entry, ok := h.doc.Outbox[jobID]; ok {
		entry.Delivered = true
	}
	return s.persist(h)
}

// FailRoundOnBlockerFailure is the default policy named in spec.md §4.6.
const FailRoundOnBlockerFailure = true

// UpdateJobStatus transitions a job's status and, for completed/failed
// blocking jobs, updates the owning round, per spec.md §4.6.
func (s *Store) UpdateJobStatus(sessionID, jobID, status string, lastError string, stateUpdates items.Record) error {
	h, err := s.handleFor(sessionID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	job, ok := h.doc.Jobs[jobID]
	if !ok {
		return storyerr.New(storyerr.KindNotFound, fmt.Sprintf("job %q not found", jobID))
	}
	job.Status = status
	job.LastError = lastError
	job.HeartbeatAt = time.Now()

	branch, ok := h.doc.Branches[job.BranchID]
	if !ok {
		return s.persist(h)
	}
	round, ok := branch.RoundByNo(job.RoundNo)
	if !ok {
		return s.persist(h)
	}

	// A job's state updates apply only if its round is still the branch's
	// latest: a new send since the job was recorded moves the anchor
	// forward (a reroll does not), and a late-arriving async update is
	// discarded rather
	// than clobbering state the player has already moved past, per
	// SPEC_FULL.md's discard-if-anchor-mismatch default.
	if last := branch.LastRound(); len(stateUpdates) > 0 && last != nil && last.No == job.RoundNo {
		h.doc.LSS = h.doc.LSS.Merge(stateUpdates)
	}

	switch status {
	case JobDone:
		if job.Blocking {
			round.Blockers = removeID(round.Blockers, jobID)
			if len(round.Blockers) == 0 {
				round.Status = RoundCompleted
			}
		}
	case JobFailed:
		if job.Blocking && FailRoundOnBlockerFailure {
			round.Status = RoundFailed
		}
	}

	return s.persist(h)
}

// RetryJob reverts a failed job attempt back to pending with a backoff
// delay, per spec.md §7 ("job handlers are retried with exponential
// backoff up to a cap").
func (s *Store) RetryJob(sessionID, jobID, lastError string, nextAttemptAt time.Time) error {
	h, err := s.handleFor(sessionID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	job, ok := h.doc.Jobs[jobID]
	if !ok {
		return storyerr.New(storyerr.KindNotFound, fmt.Sprintf("job %q not found", jobID))
	}
	job.Attempts++
	job.LastError = lastError
	job.Status = JobPending
	job.NextAttemptAt = nextAttemptAt
	job.HeartbeatAt = time.Now()
	if entry, ok := h.doc.Outbox[jobID]; ok {
		entry.Delivered = false
	}
	return s.persist(h)
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// ListPendingJobs returns every job with status=pending across all known
// sessions on disk.
func (s *Store) ListPendingJobs() ([]*Job, error) {
	ids, err := s.ListSessions()
	if err != nil {
		return nil, err
	}
	var out []*Job
	for _, id := range ids {
		h, err := s.handleFor(id)
		if err != nil {
			continue
		}
		h.mu.Lock()
		now := time.Now()
		for _, job := range h.doc.Jobs {
			if job.Status == JobPending && (job.NextAttemptAt.IsZero() || !job.NextAttemptAt.After(now)) {
				out = append(out, job)
			}
		}
		h.mu.Unlock()
	}
	return out, nil
}

// reconcileAfterCrash reverts enqueued/running jobs whose worker heartbeat
// looks stale back to pending, per spec.md §4.6 ("Crash recovery").
const staleHeartbeat = 2 * time.Minute

func reconcileAfterCrash(doc *Doc) {
	cutoff := time.Now().Add(-staleHeartbeat)
	for _, job := range doc.Jobs {
		if (job.Status == JobEnqueued || job.Status == JobRunning) && job.HeartbeatAt.Before(cutoff) {
			job.Status = JobPending
		}
	}
}
