// Package fact defines the content-addressed fact model: immutable records with
// named predecessor edges and scalar fields, identified by a canonical hash.
package fact

import "fmt"

// Reference is the canonical identifier of a fact: its type together with the
// hash of its canonicalized form. Two references are equal iff both fields match;
// facts are never compared by pointer identity, only by Reference.
type Reference struct {
	Type string
	Hash string
}

// String renders the reference as "type#hash", useful for logging and map keys
// where a struct key is inconvenient (e.g. building composite identity tuples).
func (r Reference) String() string {
	return fmt.Sprintf("%s#%s", r.Type, r.Hash)
}

// Less gives references a total order: first by type, then by hash. Used when
// sorting unordered predecessor sets during canonicalization (§4.1).
func (r Reference) Less(other Reference) bool {
	if r.Type != other.Type {
		return r.Type < other.Type
	}
	return r.Hash < other.Hash
}

// Zero reports whether r is the unset reference.
func (r Reference) Zero() bool {
	return r.Type == "" && r.Hash == ""
}

// Tuple is an ordered list of references, used as the identity key of a row in
// an observer's result tree: the hashes of the unknowns that produced it.
type Tuple []Reference

// Key renders the tuple as a single comparable string suitable for use as a Go
// map key (observer result-tree nodes are keyed by this).
func (t Tuple) Key() string {
	s := ""
	for i, r := range t {
		if i > 0 {
			s += "|"
		}
		s += r.String()
	}
	return s
}
