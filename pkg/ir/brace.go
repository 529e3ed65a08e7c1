package ir

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/storyforge/engine/pkg/items"
)

// braceDocument mirrors the JSON-superset brace-delimited on-disk shape
// (spec.md §6.2); json.Unmarshal decodes directly into it after comments
// are stripped.
type braceDocument struct {
	ID      string      `json:"id"`
	Version int         `json:"version"`
	Entry   string      `json:"entry"`
	Nodes   []braceNode `json:"nodes"`
}

type braceNode struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Params   map[string]any         `json:"params,omitempty"`
	Children []string               `json:"children,omitempty"`
	If       *braceIf               `json:"if,omitempty"`
	Subflow  *braceSubflow          `json:"subflow,omitempty"`
}

type braceIf struct {
	Cond string   `json:"cond"`
	Then []string `json:"then"`
	Else []string `json:"else,omitempty"`
}

type braceSubflow struct {
	Ref        string            `json:"ref"`
	InputMap   map[string]string `json:"input_map,omitempty"`
	OutputMap  map[string]string `json:"output_map,omitempty"`
	ShareState *bool             `json:"share_state,omitempty"`
	ShareItems *bool             `json:"share_items,omitempty"`
}

// ParseBrace decodes the brace-delimited encoding into a Document. The
// format is a JSON superset tolerant of "//" line comments, since
// hand-authored flow documents read more naturally with them.
func ParseBrace(src []byte) (*Document, error) {
	stripped := stripLineComments(src)

	var bd braceDocument
	if err := json.Unmarshal(stripped, &bd); err != nil {
		return nil, fmt.Errorf("ir: brace decode: %w", err)
	}

	doc := &Document{
		ID:      bd.ID,
		Version: bd.Version,
		Entry:   bd.Entry,
		Nodes:   make([]NodeDef, 0, len(bd.Nodes)),
	}

	for _, n := range bd.Nodes {
		nodeDef := NodeDef{
			ID:       n.ID,
			Type:     n.Type,
			Params:   nativeMapToRecord(n.Params),
			Children: n.Children,
		}
		if n.If != nil {
			nodeDef.If = &IfDef{Cond: n.If.Cond, Then: n.If.Then, Else: n.If.Else}
		}
		if n.Subflow != nil {
			nodeDef.Subflow = &SubflowDef{
				Ref:        n.Subflow.Ref,
				InputMap:   n.Subflow.InputMap,
				OutputMap:  n.Subflow.OutputMap,
				ShareState: n.Subflow.ShareState,
				ShareItems: n.Subflow.ShareItems,
			}
		}
		doc.Nodes = append(doc.Nodes, nodeDef)
	}

	doc.Index()
	return doc, nil
}

func nativeMapToRecord(m map[string]any) items.Record {
	if m == nil {
		return items.Record{}
	}
	v := items.FromNative(m)
	rec, _ := v.AsRecord()
	return rec
}

// stripLineComments removes "// ..." suffixes from each line, leaving
// string contents containing "//" untouched by tracking quote state.
func stripLineComments(src []byte) []byte {
	var out strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(string(src)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		out.WriteString(stripLineComment(line))
		out.WriteByte('\n')
	}
	return []byte(out.String())
}

func stripLineComment(line string) string {
	inString := false
	escaped := false
	for i := 0; i < len(line)-1; i++ {
		c := line[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			continue
		}
		if c == '/' && line[i+1] == '/' {
			return line[:i]
		}
	}
	return line
}
