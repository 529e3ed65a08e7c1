package nodes

import (
	"errors"
	"fmt"
	"time"

	"github.com/storyforge/engine/pkg/items"
	"github.com/storyforge/engine/pkg/llm"
)

// defaultLLMTimeout is the adapter call timeout when params.timeout_ms is
// absent, per spec.md §5 ("configurable timeout (default 30 s)").
const defaultLLMTimeout = 30 * time.Second

// LLMChat reads a messages sequence from each item, calls the LLM adapter,
// and writes the reply string back onto the item, per spec.md §4.2.
type LLMChat struct {
	Model           string
	MessagesFrom    string
	ResponseField   string
	Timeout         time.Duration
	MockOnUnavailable bool
}

// NewLLMChat builds an LLMChat node from its params record.
func NewLLMChat(params items.Record) (Node, error) {
	model, _ := strField(params, "model", "")
	if model == "" {
		return nil, fmt.Errorf("llmchat node: params.model is required")
	}
	messagesFrom, _ := strField(params, "messages_from", "messages")
	responseField, _ := strField(params, "response_field", "llm_response")

	timeout := defaultLLMTimeout
	if v, ok := params.Get("timeout_ms"); ok {
		if ms, ok := v.AsFloat(); ok && ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}
	}

	mockOnUnavailable := false
	if v, ok := params.Get("mock_on_unavailable"); ok {
		if b, ok := v.AsBool(); ok {
			mockOnUnavailable = b
		}
	}

	return &LLMChat{
		Model:             model,
		MessagesFrom:      messagesFrom,
		ResponseField:     responseField,
		Timeout:           timeout,
		MockOnUnavailable: mockOnUnavailable,
	}, nil
}

func strField(params items.Record, key, fallback string) (string, bool) {
	if v, ok := params.Get(key); ok {
		if s, ok := v.AsString(); ok && s != "" {
			return s, true
		}
	}
	return fallback, false
}

func (n *LLMChat) Run(ctx *Context, in items.Items) Result {
	adapter, ok := ctx.Resources.LLM.(llm.Adapter)
	if !ok || adapter == nil {
		return Result{Err: fmt.Errorf("llmchat node: no LLM adapter configured")}
	}

	out := make(items.Items, len(in))
	var logs items.Logs
	for i, record := range in {
		messages, err := extractMessages(record, n.MessagesFrom)
		if err != nil {
			out[i] = record
			logs = append(logs, fmt.Sprintf("llmchat: item %d: %v", i, err))
			continue
		}

		result, err := adapter.Chat(ctx.GoContext(), n.Model, messages, n.Timeout)
		if err != nil {
			var llmErr *llm.Error
			if errors.As(err, &llmErr) && llmErr.Kind == llm.ErrorUnavailable && n.MockOnUnavailable {
				mock := &llm.Mock{}
				result, err = mock.Chat(ctx.GoContext(), n.Model, messages, n.Timeout)
			}
			if err != nil {
				out[i] = record
				logs = append(logs, fmt.Sprintf("llmchat: item %d: adapter error: %v", i, err))
				continue
			}
		}

		out[i] = record.Set(n.ResponseField, items.String(result.Text))
	}

	return Result{Items: out, Logs: logs}
}

func extractMessages(record items.Record, field string) ([]llm.Message, error) {
	v, ok := record.Get(field)
	if !ok {
		return nil, fmt.Errorf("missing field %q", field)
	}
	seq, ok := v.AsSequence()
	if !ok {
		return nil, fmt.Errorf("field %q is not a sequence", field)
	}

	out := make([]llm.Message, 0, len(seq))
	for _, entry := range seq {
		rec, ok := entry.AsRecord()
		if !ok {
			continue
		}
		role, _ := rec.Get("role")
		content, _ := rec.Get("content")
		roleStr, _ := role.AsString()
		contentStr, _ := content.AsString()
		out = append(out, llm.Message{Role: roleStr, Content: contentStr})
	}
	return out, nil
}
