package ir

import (
	"fmt"
	"regexp"

	"github.com/storyforge/engine/pkg/storyerr"
)

var subflowRefPattern = regexp.MustCompile(`^[^@\s]+@\d+$`)

// ValidationResult is the {valid, error?} shape spec.md §6.1 returns from
// POST /api/flow/validate.
type ValidationResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Validate runs schema conformance and referential checks against doc, per
// spec.md §4.3 ("Validation checks"). It never resolves subflow.ref
// documents — that happens lazily at execution time.
func Validate(doc *Document) ValidationResult {
	if err := validate(doc); err != nil {
		return ValidationResult{Valid: false, Error: err.Error()}
	}
	return ValidationResult{Valid: true}
}

// ValidateErr is Validate but returns a *storyerr.Error of KindSchema on
// failure, for callers (the loader) that want to propagate a typed error.
func ValidateErr(doc *Document) error {
	if err := validate(doc); err != nil {
		return storyerr.Wrap(storyerr.KindSchema, "IR validation failed", err)
	}
	return nil
}

func validate(doc *Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id is required")
	}
	if doc.Version < 1 {
		return fmt.Errorf("document version must be >= 1")
	}
	if doc.Entry == "" {
		return fmt.Errorf("entry is required")
	}
	if len(doc.Nodes) == 0 {
		return fmt.Errorf("entry not found")
	}

	seen := make(map[string]bool, len(doc.Nodes))
	for _, n := range doc.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node with empty id")
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
		if n.Type == "" {
			return fmt.Errorf("node %q: type is required", n.ID)
		}
	}

	if !seen[doc.Entry] {
		return fmt.Errorf("entry not found")
	}

	for _, n := range doc.Nodes {
		switch n.Type {
		case "Sequence":
			for _, childID := range n.Children {
				if !seen[childID] {
					return fmt.Errorf("node %q: child %q not defined", n.ID, childID)
				}
			}
		case "If":
			if n.If == nil {
				return fmt.Errorf("node %q: If requires an if block", n.ID)
			}
			if n.If.Cond == "" {
				return fmt.Errorf("node %q: if.cond is required", n.ID)
			}
			for _, childID := range n.If.Then {
				if !seen[childID] {
					return fmt.Errorf("node %q: if.then %q not defined", n.ID, childID)
				}
			}
			for _, childID := range n.If.Else {
				if !seen[childID] {
					return fmt.Errorf("node %q: if.else %q not defined", n.ID, childID)
				}
			}
		case "Subflow":
			if n.Subflow == nil {
				return fmt.Errorf("node %q: Subflow requires a subflow block", n.ID)
			}
			if !subflowRefPattern.MatchString(n.Subflow.Ref) {
				return fmt.Errorf("node %q: subflow.ref %q must have the form id@version", n.ID, n.Subflow.Ref)
			}
		}
	}

	return nil
}
