package llm

import (
	"context"
	"fmt"
	"time"
)

// Mock is a deterministic stand-in adapter, used as the server's adapter in
// main.go and by the LLMChat node's unavailable-fallback path (spec.md §4.2).
type Mock struct {
	// Reply, if non-empty, is returned verbatim for every call.
	Reply string

	// Err, if set, is returned for every call instead of a Result.
	Err error
}

func (m *Mock) Chat(ctx context.Context, modelAlias string, messages []Message, timeout time.Duration) (Result, error) {
	if m.Err != nil {
		return Result{}, m.Err
	}
	reply := m.Reply
	if reply == "" {
		last := ""
		if len(messages) > 0 {
			last = messages[len(messages)-1].Content
		}
		reply = fmt.Sprintf("[mock:%s] %s", modelAlias, last)
	}
	return Result{Text: reply}, nil
}
