package spec

import "fmt"

// InvalidKind enumerates the ways a Specification's labels can violate scope
// or injectivity invariants (§4.2).
type InvalidKind string

const (
	// DuplicateLabel means a label was declared more than once in a scope,
	// or an alpha-transform mapping is not injective.
	DuplicateLabel InvalidKind = "DuplicateLabel"
	// UnknownLabel means a label was referenced (in a path or projection)
	// without being declared as a given, an earlier match's unknown, or an
	// enclosing match's unknown.
	UnknownLabel InvalidKind = "UnknownLabel"
)

// InvalidError reports a Specification that violates a label or schema
// invariant (§7 Invalid).
type InvalidError struct {
	Kind  InvalidKind
	Label string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("%s: %q", e.Kind, e.Label)
}
