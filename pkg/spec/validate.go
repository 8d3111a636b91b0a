package spec

// Validate checks that every label referenced by a path condition or a
// projection is in scope: declared as a given, an earlier match's unknown, or
// an enclosing match's unknown (§3 Invariants). It also rejects a given or
// match label declared twice in the same scope.
func Validate(s *Specification) error {
	scope := newScope(nil)
	for _, g := range s.Given {
		if !scope.declare(g.Label.Name) {
			return &InvalidError{Kind: DuplicateLabel, Label: g.Label.Name}
		}
	}
	for _, g := range s.Given {
		for _, c := range g.Conditions {
			if err := validateCondition(c, scope); err != nil {
				return err
			}
		}
	}
	return validateMatches(s.Matches, s.Projection, scope)
}

// scope tracks labels visible at a nesting level, chained to its parent so
// that an inner existential or projection can see outer labels (§3: "an
// enclosing match").
type scope struct {
	parent *scope
	labels map[string]bool
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, labels: make(map[string]bool)}
}

// declare adds name to this scope, returning false if it was already declared
// anywhere in the chain (duplicate label).
func (s *scope) declare(name string) bool {
	if s.has(name) {
		return false
	}
	s.labels[name] = true
	return true
}

func (s *scope) has(name string) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.labels[name] {
			return true
		}
	}
	return false
}

func validateMatches(matches []Match, projection Projection, parent *scope) error {
	cur := parent
	for _, m := range matches {
		next := newScope(cur)
		if !next.declare(m.Unknown.Name) {
			return &InvalidError{Kind: DuplicateLabel, Label: m.Unknown.Name}
		}
		for _, c := range m.Conditions {
			if err := validateCondition(c, next); err != nil {
				return err
			}
		}
		cur = next
	}
	if projection != nil {
		return validateProjection(projection, cur)
	}
	return nil
}

func validateCondition(c Condition, s *scope) error {
	switch cond := c.(type) {
	case PathCondition:
		if !s.has(cond.LabelRight) {
			return &InvalidError{Kind: UnknownLabel, Label: cond.LabelRight}
		}
		return nil
	case ExistentialCondition:
		return validateMatches(cond.Matches, nil, s)
	default:
		return nil
	}
}

func validateProjection(p Projection, s *scope) error {
	switch proj := p.(type) {
	case FactProjection:
		if !s.has(proj.Label) {
			return &InvalidError{Kind: UnknownLabel, Label: proj.Label}
		}
	case FieldProjection:
		if !s.has(proj.Label) {
			return &InvalidError{Kind: UnknownLabel, Label: proj.Label}
		}
	case HashProjection:
		if !s.has(proj.Label) {
			return &InvalidError{Kind: UnknownLabel, Label: proj.Label}
		}
	case CompositeProjection:
		for _, name := range proj.Names {
			if err := validateProjection(proj.Values[name], s); err != nil {
				return err
			}
		}
	case SpecificationProjection:
		// A nested specification's matches may reference labels from the row
		// that projects it (the "enclosing match" case in §3), so it is
		// validated against a scope chained from the outer one rather than a
		// fresh one, even though the nested spec also declares its own givens.
		nestedScope := newScope(s)
		for _, g := range proj.Nested.Given {
			if !nestedScope.declare(g.Label.Name) {
				return &InvalidError{Kind: DuplicateLabel, Label: g.Label.Name}
			}
		}
		for _, g := range proj.Nested.Given {
			for _, c := range g.Conditions {
				if err := validateCondition(c, nestedScope); err != nil {
					return err
				}
			}
		}
		return validateMatches(proj.Nested.Matches, proj.Nested.Projection, nestedScope)
	}
	return nil
}
