package fact

import (
	"fmt"
	"time"
)

// Predecessors holds a fact's named edges to facts that existed before it.
// A role is single-valued (len(Refs) == 1, Ordered == false), an unordered
// set (Ordered == false), or an ordered sequence (Ordered == true, e.g. the
// "priors" role of an update chain).
// Canonicalization sorts unordered roles by (type, hash) but preserves the
// declared sequence of ordered roles (§4.1 rule 2).
type Predecessors map[string]Edge

// Edge is the value of a single predecessor role.
type Edge struct {
	Refs    []Reference
	Ordered bool
}

// Single builds a single-valued predecessor edge.
func Single(ref Reference) Edge {
	return Edge{Refs: []Reference{ref}}
}

// OrderedList builds a multi-valued, order-preserving predecessor edge.
func OrderedList(refs ...Reference) Edge {
	return Edge{Refs: append([]Reference(nil), refs...), Ordered: true}
}

// UnorderedSet builds a multi-valued predecessor edge with no declared order;
// canonicalization sorts it by (type, hash) before hashing.
func UnorderedSet(refs ...Reference) Edge {
	return Edge{Refs: append([]Reference(nil), refs...)}
}

// Fields holds a fact's scalar field values, keyed by field name.
type Fields map[string]interface{}

// Fact is an immutable, content-addressed record. Two Facts with identical
// canonical forms are the same fact (§3): the store treats a re-ingested
// duplicate as a no-op, never as a new entity.
type Fact struct {
	Type         string
	Predecessors Predecessors
	Fields       Fields
}

// InvalidFactError reports a fact whose fields or predecessors cannot be
// canonicalized (§4.1 Failure, §7 InvalidFact).
type InvalidFactError struct {
	Type   string
	Reason string
}

func (e *InvalidFactError) Error() string {
	return fmt.Sprintf("invalid fact of type %q: %s", e.Type, e.Reason)
}

// validScalar reports whether v is one of the scalar kinds the canonicalizer
// knows how to serialize: string, bool, any Go numeric type, or time.Time.
func validScalar(v interface{}) bool {
	switch v.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64,
		time.Time:
		return true
	default:
		return false
	}
}
