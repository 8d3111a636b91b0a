// Package spec defines the Specification AST: the declarative graph-traversal
// query form described in §3. A Specification binds a set of givens, walks a
// chain of matches constrained by path and existential conditions, and shapes
// the surviving bindings into a projection.
package spec

// TypedLabel names a fact-typed slot: a given input or a match's unknown.
type TypedLabel struct {
	Name string
	Type string
}

// Role is one step of a path condition: a named predecessor edge, typed by
// the fact type it must resolve to.
type Role struct {
	Name            string
	PredecessorType string
}

// Given is one input slot of a Specification, optionally filtered by
// existential conditions evaluated before the match chain runs.
type Given struct {
	Label      TypedLabel
	Conditions []Condition
}

// Match declares one unknown fact in the match chain together with the
// conditions that constrain which candidate facts survive.
type Match struct {
	Unknown    TypedLabel
	Conditions []Condition
}

// Condition is either a Path or an Existential condition (§3).
type Condition interface {
	conditionNode()
}

// PathCondition asserts that walking RolesLeft from the enclosing match's
// unknown arrives at the same fact as walking RolesRight from LabelRight.
type PathCondition struct {
	RolesLeft  []Role
	LabelRight string
	RolesRight []Role
}

func (PathCondition) conditionNode() {}

// ExistentialCondition is a positive (E) or negative (!E) nested pattern.
// Exists == true keeps the enclosing row iff the nested Matches yield at
// least one result; Exists == false keeps it iff they yield none.
type ExistentialCondition struct {
	Exists  bool
	Matches []Match
}

func (ExistentialCondition) conditionNode() {}

// Projection shapes a bound tuple into the value emitted to the caller.
type Projection interface {
	projectionNode()
}

// FactProjection emits the whole fact referenced by Label.
type FactProjection struct {
	Label string
}

func (FactProjection) projectionNode() {}

// FieldProjection emits a single scalar field of the fact referenced by Label.
type FieldProjection struct {
	Label string
	Field string
}

func (FieldProjection) projectionNode() {}

// HashProjection emits the hash of the fact referenced by Label.
type HashProjection struct {
	Label string
}

func (HashProjection) projectionNode() {}

// CompositeProjection emits a record. Names preserves declared output order;
// Values holds the projection bound to each output name.
type CompositeProjection struct {
	Names  []string
	Values map[string]Projection
}

func (CompositeProjection) projectionNode() {}

// SpecificationProjection emits a lazy child collection: the nested spec is
// re-evaluated, with the enclosing row's label bindings in scope for its
// matches, whenever the collection is observed or iterated.
type SpecificationProjection struct {
	Nested *Specification
}

func (SpecificationProjection) projectionNode() {}

// Specification is an immutable declarative query: givens, a match chain, and
// a projection. Immutable after construction (§3 Lifecycle).
type Specification struct {
	Given      []Given
	Matches    []Match
	Projection Projection
}

// SelfInverseEligible reports whether the specification has exactly one
// given, the precondition for the self-inverse optimization (§4.3, §4.4.5).
func (s *Specification) SelfInverseEligible() bool {
	return len(s.Given) == 1
}
