// Package items implements the dynamic tagged-value tree that flows between
// workflow nodes, and the Record/Items types built on top of it.
//
// A duck-typed, dynamically-keyed record is not representable directly in Go;
// the tagged union below is the idiomatic substitute: one concrete type with
// a Kind discriminant, structural equality, and deep copy defined once.
package items

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindSequence
	KindRecord
)

// Value is a tagged union over the value types nodes exchange: null, bool,
// int, float, string, a sequence of Values, or a Record (string-keyed map of
// Values). Zero value is KindNull.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	seq  []Value
	rec  Record
}

// Record is an ordered-by-insertion-irrelevant, string-keyed map of Values.
// Go's map already gives us the "extensible key->value mapping" the spec
// calls for; Record exists as a named type so Record-specific helpers (Get,
// Set, DeepCopy, Equal) have a home.
type Record map[string]Value

// Null returns the null Value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a bool.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an int64.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a float64.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Sequence wraps a sequence of Values, deep-copying the slice.
func Sequence(vs []Value) Value {
	cp := make([]Value, len(vs))
	for i, v := range vs {
		cp[i] = v.DeepCopy()
	}
	return Value{kind: KindSequence, seq: cp}
}

// FromRecord wraps a Record, deep-copying it.
func FromRecord(r Record) Value {
	return Value{kind: KindRecord, rec: r.DeepCopy()}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)       { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool) {
	if v.kind == KindFloat {
		return v.f, true
	}
	if v.kind == KindInt {
		return float64(v.i), true
	}
	return 0, false
}
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }
func (v Value) AsSequence() ([]Value, bool) {
	if v.kind != KindSequence {
		return nil, false
	}
	cp := make([]Value, len(v.seq))
	copy(cp, v.seq)
	return cp, true
}
func (v Value) AsRecord() (Record, bool) {
	if v.kind != KindRecord {
		return nil, false
	}
	return v.rec.DeepCopy(), true
}

// Native converts a Value into plain Go data (map[string]any, []any,
// string, int64, float64, bool, nil) for interop with encoding/json and
// mapstructure-backed node params.
func (v Value) Native() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindSequence:
		out := make([]any, len(v.seq))
		for i, e := range v.seq {
			out[i] = e.Native()
		}
		return out
	case KindRecord:
		out := make(map[string]any, len(v.rec))
		for k, e := range v.rec {
			out[k] = e.Native()
		}
		return out
	default:
		return nil
	}
}

// FromNative converts plain Go data (as produced by encoding/json,
// yaml.v3, or mapstructure) into a Value.
func FromNative(in any) Value {
	switch t := in.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float64:
		return Float(t)
	case float32:
		return Float(float64(t))
	case string:
		return String(t)
	case []any:
		seq := make([]Value, len(t))
		for i, e := range t {
			seq[i] = FromNative(e)
		}
		return Sequence(seq)
	case []Value:
		return Sequence(t)
	case map[string]any:
		rec := make(Record, len(t))
		for k, e := range t {
			rec[k] = FromNative(e)
		}
		return FromRecord(rec)
	case Record:
		return FromRecord(t)
	case Value:
		return t
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// Equal reports structural equality between two Values.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f
	case KindString:
		return a.s == b.s
	case KindSequence:
		if len(a.seq) != len(b.seq) {
			return false
		}
		for i := range a.seq {
			if !Equal(a.seq[i], b.seq[i]) {
				return false
			}
		}
		return true
	case KindRecord:
		return a.rec.Equal(b.rec)
	default:
		return false
	}
}

// DeepCopy returns a Value with no shared mutable backing storage.
func (v Value) DeepCopy() Value {
	switch v.kind {
	case KindSequence:
		return Sequence(v.seq)
	case KindRecord:
		return FromRecord(v.rec)
	default:
		return v
	}
}

// Get returns the value at key, or Null with ok=false if absent.
func (r Record) Get(key string) (Value, bool) {
	v, ok := r[key]
	return v, ok
}

// Set returns a new Record with key set to value (copy-on-write at the top
// level only; callers that need a fully independent tree should DeepCopy
// first).
func (r Record) Set(key string, value Value) Record {
	out := make(Record, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	out[key] = value
	return out
}

// Merge returns a new Record with updates applied on top of r,
// last-write-wins per key.
func (r Record) Merge(updates Record) Record {
	out := make(Record, len(r)+len(updates))
	for k, v := range r {
		out[k] = v
	}
	for k, v := range updates {
		out[k] = v
	}
	return out
}

// DeepCopy returns a Record with no shared mutable backing storage.
func (r Record) DeepCopy() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v.DeepCopy()
	}
	return out
}

// Equal reports structural equality between two Records.
func (r Record) Equal(other Record) bool {
	if len(r) != len(other) {
		return false
	}
	for k, v := range r {
		ov, ok := other[k]
		if !ok || !Equal(v, ov) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the Value through its Native() representation, so a
// Value round-trips transparently through session/IR documents persisted
// as JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Native())
}

// UnmarshalJSON decodes through Native Go data and converts with
// FromNative.
func (v *Value) UnmarshalJSON(data []byte) error {
	var native any
	if err := json.Unmarshal(data, &native); err != nil {
		return err
	}
	*v = FromNative(native)
	return nil
}
