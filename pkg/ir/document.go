// Package ir implements the workflow intermediate-representation document
// model (C3 in the design): loading from two on-disk encodings into one
// canonical in-memory form, and validating that form against the schema
// and referential rules in spec.md §3/§4.3.
package ir

import (
	"fmt"

	"github.com/storyforge/engine/pkg/items"
)

// IfDef is the body of an If node definition.
type IfDef struct {
	Cond string
	Then []string
	Else []string
}

// SubflowDef is the body of a Subflow node definition.
type SubflowDef struct {
	Ref         string
	InputMap    map[string]string
	OutputMap   map[string]string
	ShareState  *bool
	ShareItems  *bool
}

// ShareStateOrDefault returns ShareState, defaulting to true per spec.md
// §4.4 ("share_state (default true)").
func (s *SubflowDef) ShareStateOrDefault() bool {
	if s.ShareState == nil {
		return true
	}
	return *s.ShareState
}

// ShareItemsOrDefault returns ShareItems, defaulting to false per spec.md
// §4.4 ("fields not listed pass through only if share_items: true,
// default false").
func (s *SubflowDef) ShareItemsOrDefault() bool {
	if s.ShareItems == nil {
		return false
	}
	return *s.ShareItems
}

// NodeDef is one node definition within a Document.
type NodeDef struct {
	ID       string
	Type     string
	Params   items.Record
	Children []string
	If       *IfDef
	Subflow  *SubflowDef
}

// Document is the canonical in-memory IR document, identical regardless
// of which on-disk encoding produced it (spec.md §6.2).
type Document struct {
	ID      string
	Version int
	Entry   string
	Nodes   []NodeDef

	nodeIndex map[string]*NodeDef
}

// Ref returns the document's "id@version" reference string.
func (d *Document) Ref() string {
	return fmt.Sprintf("%s@%d", d.ID, d.Version)
}

// Index builds the node-id lookup map used by NodeByID. Loaders must call
// this after constructing a Document.
func (d *Document) Index() {
	d.nodeIndex = make(map[string]*NodeDef, len(d.Nodes))
	for i := range d.Nodes {
		d.nodeIndex[d.Nodes[i].ID] = &d.Nodes[i]
	}
}

// NodeByID looks up a node definition by id within this document.
func (d *Document) NodeByID(id string) (*NodeDef, bool) {
	if d.nodeIndex == nil {
		d.Index()
	}
	n, ok := d.nodeIndex[id]
	return n, ok
}
