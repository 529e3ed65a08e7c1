// Package session implements the Session Store (C6): the persistent
// session/branch/round/snapshot/job/outbox document tree, atomic file
// writes, and crash recovery, per spec.md §4.6.
package session

import (
	"time"

	"github.com/storyforge/engine/pkg/items"
)

// Round status values, per spec.md §4.6/§4.9.
const (
	RoundOpen      = "open"
	RoundBlocked   = "blocked"
	RoundCompleted = "completed"
	RoundFailed    = "failed"
)

// Job status values, per spec.md §4.6/§4.7/§4.8.
const (
	JobPending  = "pending"
	JobEnqueued = "enqueued"
	JobRunning  = "running"
	JobDone     = "completed"
	JobFailed   = "failed"
)

// Snapshot is the LSS copy anchoring a Round, for reroll and branch
// creation.
type Snapshot struct {
	ID        string       `json:"id"`
	RoundNo   int          `json:"round_no"`
	LSSCopy   items.Record `json:"lss_copy"`
	CreatedAt time.Time    `json:"created_at"`
}

// Round is one user-send/reply cycle within a Branch.
type Round struct {
	No         int          `json:"no"`
	UserInput  string       `json:"user_input"`
	SnapshotID string       `json:"snapshot_id"`
	Status     string       `json:"status"`
	Blockers   []string     `json:"blockers,omitempty"`
	LLMReply   string       `json:"llm_reply,omitempty"`
	Items      items.Items  `json:"items,omitempty"`
	Metrics    items.Metrics `json:"metrics,omitempty"`
	Logs       items.Logs   `json:"logs,omitempty"`
}

// Branch is an ordered sequence of Rounds descending from an optional
// parent branch/round.
type Branch struct {
	ID           string `json:"id"`
	ParentBranch string `json:"parent_branch,omitempty"`
	FromRound    int    `json:"from_round,omitempty"`
	Rounds       []*Round `json:"rounds"`
}

// LastRound returns the branch's highest-numbered round, or nil if empty.
func (b *Branch) LastRound() *Round {
	if len(b.Rounds) == 0 {
		return nil
	}
	return b.Rounds[len(b.Rounds)-1]
}

// RoundByNo finds a round by number.
func (b *Branch) RoundByNo(no int) (*Round, bool) {
	for _, r := range b.Rounds {
		if r.No == no {
			return r, true
		}
	}
	return nil, false
}

// Job is a unit of deferred work recorded during a round, per spec.md
// §4.6/§4.7.
type Job struct {
	ID             string       `json:"id"`
	SessionID      string       `json:"session_id"`
	Kind           string       `json:"kind"`
	Blocking       bool         `json:"blocking"`
	Ref            string       `json:"ref"`
	Payload        items.Record `json:"payload,omitempty"`
	BranchID       string       `json:"branch_id"`
	RoundNo        int          `json:"round_no"`
	Status         string       `json:"status"`
	LastError      string       `json:"last_error,omitempty"`
	IdempotencyKey string       `json:"idempotency_key"`
	HeartbeatAt    time.Time    `json:"heartbeat_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	Attempts       int          `json:"attempts"`
	NextAttemptAt  time.Time    `json:"next_attempt_at,omitempty"`
}

// OutboxEntry records delivery state for a Job, per spec.md §4.6/§4.8.
type OutboxEntry struct {
	JobID     string `json:"job_id"`
	Delivered bool   `json:"delivered"`
}

// Doc is the canonical on-disk document for a single session: the full
// session tree (branches, rounds, snapshots, jobs, outbox, lss), per
// spec.md §4.6 ("a canonical document file holds the full session tree").
type Doc struct {
	ID            string              `json:"id"`
	DefaultBranch string              `json:"default_branch"`
	ActiveBranch  string              `json:"active_branch"`
	Branches      map[string]*Branch  `json:"branches"`
	Snapshots     map[string]*Snapshot `json:"snapshots"`
	Jobs          map[string]*Job     `json:"jobs"`
	Outbox        map[string]*OutboxEntry `json:"outbox"`
	LSS           items.Record        `json:"lss"`
	CreatedAt     time.Time           `json:"created_at"`

	nextRound map[string]int `json:"-"`
}
