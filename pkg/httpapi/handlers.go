package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/storyforge/engine/pkg/ir"
	"github.com/storyforge/engine/pkg/items"
	"github.com/storyforge/engine/pkg/nodes"
	"github.com/storyforge/engine/pkg/state"
	"github.com/storyforge/engine/pkg/storyerr"
)

// flowRunRequest mirrors spec.md §6.1: POST /api/flow/run body.
type flowRunRequest struct {
	Ref          string           `json:"ref"`
	Items        []map[string]any `json:"items"`
	SessionID    string           `json:"session_id"`
	InitialState map[string]any   `json:"initial_state"`
}

func (s *Server) handleFlowRun(w http.ResponseWriter, r *http.Request) {
	var req flowRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, storyerr.Wrap(storyerr.KindSchema, "decode request", err))
		return
	}

	in := make(items.Items, len(req.Items))
	for i, m := range req.Items {
		in[i] = nativeToRecord(m)
	}

	sm := state.New(nativeToRecord(req.InitialState))
	nodeCtx := &nodes.Context{
		Ctx: r.Context(), SessionID: req.SessionID, State: sm, Resources: nodes.Resources{}, Logger: s.logger,
	}

	res := s.exec.RunRef(req.Ref, in, nodeCtx)
	if res.Err != nil {
		writeError(w, res.Err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":          res.Items,
		"logs":           res.Logs,
		"metrics":        res.Metrics,
		"state_snapshot": sm.GetForPrompt(),
	})
}

func (s *Server) handleFlowValidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Doc json.RawMessage `json:"doc"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, storyerr.Wrap(storyerr.KindSchema, "decode request", err))
		return
	}
	doc, err := ir.ParseBrace(req.Doc)
	if err != nil {
		writeError(w, storyerr.Wrap(storyerr.KindSchema, "decode doc", err))
		return
	}
	result := ir.Validate(doc)
	writeJSON(w, http.StatusOK, result)
}

// builtinNodeTypes lists the composite node types the executor dispatches
// directly (never registered in s.registry, which only holds atomics) so
// node_types reports the full vocabulary a flow author can use.
var builtinNodeTypes = []string{"Sequence", "If", "Subflow"}

func (s *Server) handleFlowReload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Dirs []string `json:"dirs"`
	}
	_ = decodeJSON(r, &req)

	refs, err := s.loader.Reload(req.Dirs)
	if err != nil {
		writeError(w, err)
		return
	}
	nodeTypes := append(append([]string{}, builtinNodeTypes...), s.registry.Names()...)
	writeJSON(w, http.StatusOK, map[string]any{"flows": refs, "node_types": nodeTypes})
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InitialState map[string]any `json:"initial_state"`
	}
	_ = decodeJSON(r, &req)

	doc, branchID, err := s.store.CreateSession(nativeToRecord(req.InitialState))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": doc.ID, "branch_id": branchID, "state_snapshot": doc.LSS,
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string         `json:"session_id"`
		BranchID  string         `json:"branch_id"`
		UserInput string         `json:"user_input"`
		Ref       string         `json:"ref"`
		Extras    map[string]any `json:"extras"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, storyerr.Wrap(storyerr.KindSchema, "decode request", err))
		return
	}

	res, err := s.pipeline.Send(r.Context(), req.SessionID, req.BranchID, req.UserInput, req.Ref, nativeToRecord(req.Extras))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRoundStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	branchID := chi.URLParam(r, "branch")
	roundNo, err := strconv.Atoi(chi.URLParam(r, "round"))
	if err != nil {
		writeError(w, storyerr.New(storyerr.KindSchema, "round must be an integer"))
		return
	}

	status, blockers, err := s.pipeline.RoundStatus(sessionID, branchID, roundNo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"round_no": roundNo, "status": status, "blockers": blockers})
}

func (s *Server) handleReroll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string         `json:"session_id"`
		BranchID  string         `json:"branch_id"`
		RoundNo   int            `json:"round_no"`
		Ref       string         `json:"ref"`
		Extras    map[string]any `json:"extras"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, storyerr.Wrap(storyerr.KindSchema, "decode request", err))
		return
	}

	res, err := s.pipeline.Reroll(r.Context(), req.SessionID, req.BranchID, req.RoundNo, req.Ref, nativeToRecord(req.Extras))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBranch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID      string `json:"session_id"`
		ParentBranchID string `json:"parent_branch_id"`
		FromRound      int    `json:"from_round"`
		SetActive      bool   `json:"set_active"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, storyerr.Wrap(storyerr.KindSchema, "decode request", err))
		return
	}

	branch, err := s.pipeline.Branch(req.SessionID, req.ParentBranchID, req.FromRound, req.SetActive)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branch_id": branch.ID})
}

func (s *Server) handleTrafficList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": s.recorder.List(limit)})
}

func (s *Server) handleTrafficClear(w http.ResponseWriter, r *http.Request) {
	s.recorder.Clear()
	w.WriteHeader(http.StatusNoContent)
}
