// Package chat implements the Chat Pipeline (C9): send/round_status/
// reroll/branch, tying the Session Store, Executor, and State Manager
// together on each player send, per spec.md §4.9.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/storyforge/engine/pkg/executor"
	"github.com/storyforge/engine/pkg/items"
	"github.com/storyforge/engine/pkg/metrics"
	"github.com/storyforge/engine/pkg/nodes"
	"github.com/storyforge/engine/pkg/session"
	"github.com/storyforge/engine/pkg/state"
	"github.com/storyforge/engine/pkg/storyerr"
)

// System subflow refs bundled with the module, per SPEC_FULL.md §4.10.
const (
	StatusUpdateRef = "status_update@1"
	GuidanceRef     = "guidance@1"
)

// SendResult is the reply returned to the caller immediately after a
// send, per spec.md §4.9 step 6.
type SendResult struct {
	RoundNo       int           `json:"round_no"`
	SnapshotID    string        `json:"snapshot_id"`
	LLMReply      string        `json:"llm_reply"`
	Items         items.Items   `json:"items"`
	Logs          items.Logs    `json:"logs"`
	Metrics       items.Metrics `json:"metrics"`
	StateSnapshot items.Record  `json:"state_snapshot"`
	RoundStatus   string        `json:"round_status"`
}

// Pipeline wires the Session Store, Executor, and node Resources into the
// send/reroll/branch operations.
type Pipeline struct {
	Store     *session.Store
	Executor  *executor.Executor
	Resources nodes.Resources
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// New creates a Pipeline.
func New(store *session.Store, exec *executor.Executor, resources nodes.Resources, logger *slog.Logger) *Pipeline {
	return &Pipeline{Store: store, Executor: exec, Resources: resources, Logger: logger}
}

// WithMetrics returns a copy of p that records round latency to m.
func (p *Pipeline) WithMetrics(m *metrics.Metrics) *Pipeline {
	cp := *p
	cp.Metrics = m
	return &cp
}

// Send implements spec.md §4.9's send operation.
func (p *Pipeline) Send(ctx context.Context, sessionID, branchID, userInput, ref string, extras items.Record) (*SendResult, error) {
	doc, err := p.Store.LoadSession(sessionID)
	if err != nil {
		return nil, err
	}

	resolvedBranch := branchID
	if resolvedBranch == "" {
		resolvedBranch = doc.ActiveBranch
	} else if _, ok := doc.Branches[resolvedBranch]; !ok {
		return nil, storyerr.New(storyerr.KindNotFound, fmt.Sprintf("branch %q does not belong to session %q", resolvedBranch, sessionID))
	}

	round, snap, err := p.Store.BeginRound(sessionID, resolvedBranch, userInput)
	if err != nil {
		return nil, err
	}

	inputItem := items.Record{}.Set("user_input", items.String(userInput)).Merge(extras)
	sm := state.New(snap.LSSCopy)

	nodeCtx := &nodes.Context{
		Ctx: ctx, SessionID: sessionID, BranchID: resolvedBranch, RoundNo: round.No,
		State: sm, Resources: p.Resources, Logger: p.Logger,
	}

	runStart := time.Now()
	res := p.Executor.RunRef(ref, items.Items{inputItem}, nodeCtx)
	if p.Metrics != nil {
		outcome := "ok"
		if res.Err != nil {
			outcome = "error"
		}
		p.Metrics.RoundDuration.WithLabelValues(outcome).Observe(time.Since(runStart).Seconds())
	}

	reply := extractReply(res.Items)
	if err := p.Store.SaveRoundLLMReply(sessionID, resolvedBranch, round.No, reply, res.Items, res.Metrics, res.Logs); err != nil {
		return nil, err
	}
	if err := p.Store.CommitRoundState(sessionID, resolvedBranch, round.No, sm.GetWorking()); err != nil {
		return nil, err
	}

	var errMsg string
	if res.Err != nil {
		errMsg = res.Err.Error()
	}

	if _, err := p.Store.RecordJob(sessionID, resolvedBranch, round.No, "status_update", true, StatusUpdateRef,
		items.Record{}.Set("error", items.String(errMsg))); err != nil {
		return nil, err
	}
	if _, err := p.Store.RecordJob(sessionID, resolvedBranch, round.No, "guidance", false, GuidanceRef,
		items.Record{}.Set("reply", items.String(reply))); err != nil {
		return nil, err
	}

	status, blockers := p.roundStatus(sessionID, resolvedBranch, round.No)
	_ = blockers

	return &SendResult{
		RoundNo: round.No, SnapshotID: snap.ID, LLMReply: reply,
		Items: res.Items, Logs: res.Logs, Metrics: res.Metrics,
		StateSnapshot: sm.GetForPrompt(), RoundStatus: status,
	}, nil
}

// RoundStatus reports {status, blockers} for a round, per spec.md §4.9.
func (p *Pipeline) RoundStatus(sessionID, branchID string, roundNo int) (string, []string, error) {
	status, blockers := p.roundStatus(sessionID, branchID, roundNo)
	if status == "" {
		return "", nil, storyerr.New(storyerr.KindNotFound, fmt.Sprintf("round %d not found", roundNo))
	}
	return status, blockers, nil
}

func (p *Pipeline) roundStatus(sessionID, branchID string, roundNo int) (string, []string) {
	doc, err := p.Store.LoadSession(sessionID)
	if err != nil {
		return "", nil
	}
	branch, ok := doc.Branches[branchID]
	if !ok {
		return "", nil
	}
	round, ok := branch.RoundByNo(roundNo)
	if !ok {
		return "", nil
	}
	return round.Status, round.Blockers
}

// Reroll re-runs the main IR for a round from its anchored snapshot,
// replacing llm_reply/items/metrics/logs without allocating a new
// round_no or recording jobs, per spec.md §4.9.
func (p *Pipeline) Reroll(ctx context.Context, sessionID, branchID string, roundNo int, ref string, extras items.Record) (*SendResult, error) {
	doc, err := p.Store.LoadSession(sessionID)
	if err != nil {
		return nil, err
	}
	branch, ok := doc.Branches[branchID]
	if !ok {
		return nil, storyerr.New(storyerr.KindNotFound, fmt.Sprintf("branch %q not found", branchID))
	}
	round, ok := branch.RoundByNo(roundNo)
	if !ok {
		return nil, storyerr.New(storyerr.KindNotFound, fmt.Sprintf("round %d not found", roundNo))
	}
	snap, ok := doc.Snapshots[round.SnapshotID]
	if !ok {
		return nil, storyerr.New(storyerr.KindNotFound, fmt.Sprintf("snapshot for round %d not found", roundNo))
	}

	inputItem := items.Record{}.Set("user_input", items.String(round.UserInput)).Merge(extras)
	sm := state.New(snap.LSSCopy)

	nodeCtx := &nodes.Context{
		Ctx: ctx, SessionID: sessionID, BranchID: branchID, RoundNo: round.No,
		State: sm, Resources: p.Resources, Logger: p.Logger,
	}
	res := p.Executor.RunRef(ref, items.Items{inputItem}, nodeCtx)
	reply := extractReply(res.Items)

	if err := p.Store.SaveRoundLLMReply(sessionID, branchID, round.No, reply, res.Items, res.Metrics, res.Logs); err != nil {
		return nil, err
	}

	return &SendResult{
		RoundNo: round.No, SnapshotID: snap.ID, LLMReply: reply,
		Items: res.Items, Logs: res.Logs, Metrics: res.Metrics,
		StateSnapshot: sm.GetForPrompt(), RoundStatus: round.Status,
	}, nil
}

// Branch creates a branch whose initial LSS is the snapshot of the parent
// at from_round, per spec.md §4.9.
func (p *Pipeline) Branch(sessionID, parentBranchID string, fromRound int, setActive bool) (*session.Branch, error) {
	return p.Store.CreateBranch(sessionID, parentBranchID, fromRound, setActive)
}

// extractReply returns the string in the first item's llm_response field
// (LLMChat's default response field), or failing that its llm_reply field,
// from the items the main run produced.
func extractReply(in items.Items) string {
	if len(in) == 0 {
		return ""
	}
	for _, field := range []string{"llm_response", "llm_reply"} {
		if v, ok := in[0].Get(field); ok {
			if s, ok := v.AsString(); ok {
				return s
			}
		}
	}
	return ""
}
