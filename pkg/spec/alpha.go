package spec

// AlphaTransform renames every label in s through the injective mapping m,
// returning a structurally identical specification under new names (§4.2).
// It fails with InvalidError{DuplicateLabel} if m is not injective over the
// labels it actually maps, or InvalidError{UnknownLabel} if s references a
// free label m does not cover.
func AlphaTransform(s *Specification, m map[string]string) (*Specification, error) {
	seen := make(map[string]string, len(m))
	for from, to := range m {
		if existing, ok := seen[to]; ok && existing != from {
			return nil, &InvalidError{Kind: DuplicateLabel, Label: to}
		}
		seen[to] = from
	}
	return alphaTransform(s, m, nil)
}

// bound tracks the labels each specification level declares (its own givens
// and match unknowns), chained to the enclosing levels.
type bound struct {
	parent *bound
	names  map[string]bool
}

func newBound(parent *bound) *bound {
	return &bound{parent: parent, names: make(map[string]bool)}
}

func (b *bound) add(name string) {
	b.names[name] = true
}

func (b *bound) has(name string) bool {
	for cur := b; cur != nil; cur = cur.parent {
		if cur.names[name] {
			return true
		}
	}
	return false
}

// rename resolves a label, declaration or reference alike: a label m covers
// is renamed through m, so every reference follows its declaration; a label m
// does not cover is left alone if it is bound (declared by the specification
// doing the referencing, or one of its ancestors) and is otherwise an
// UnknownLabel.
func rename(label string, m map[string]string, b *bound) (string, error) {
	if to, ok := m[label]; ok {
		return to, nil
	}
	if b.has(label) {
		return label, nil
	}
	return "", &InvalidError{Kind: UnknownLabel, Label: label}
}

func alphaTransform(s *Specification, m map[string]string, parent *bound) (*Specification, error) {
	b := newBound(parent)

	given := make([]Given, len(s.Given))
	for i, g := range s.Given {
		newName, err := rename(g.Label.Name, m, b)
		if err != nil {
			return nil, err
		}
		given[i] = Given{Label: TypedLabel{Name: newName, Type: g.Label.Type}}
		b.add(g.Label.Name)
	}
	for i, g := range s.Given {
		conds, err := renameConditions(g.Conditions, m, b)
		if err != nil {
			return nil, err
		}
		given[i].Conditions = conds
	}

	matches, err := renameMatchList(s.Matches, m, b)
	if err != nil {
		return nil, err
	}

	projection, err := renameProjection(s.Projection, m, b)
	if err != nil {
		return nil, err
	}

	return &Specification{Given: given, Matches: matches, Projection: projection}, nil
}

func renameMatchList(matches []Match, m map[string]string, b *bound) ([]Match, error) {
	out := make([]Match, len(matches))
	for i, match := range matches {
		newName, err := rename(match.Unknown.Name, m, b)
		if err != nil {
			return nil, err
		}
		b.add(match.Unknown.Name)
		conds, err := renameConditions(match.Conditions, m, b)
		if err != nil {
			return nil, err
		}
		out[i] = Match{Unknown: TypedLabel{Name: newName, Type: match.Unknown.Type}, Conditions: conds}
	}
	return out, nil
}

func renameConditions(conds []Condition, m map[string]string, b *bound) ([]Condition, error) {
	out := make([]Condition, len(conds))
	for i, c := range conds {
		switch cond := c.(type) {
		case PathCondition:
			labelRight, err := rename(cond.LabelRight, m, b)
			if err != nil {
				return nil, err
			}
			out[i] = PathCondition{RolesLeft: cond.RolesLeft, LabelRight: labelRight, RolesRight: cond.RolesRight}
		case ExistentialCondition:
			nestedBound := newBound(b)
			nested, err := renameMatchList(cond.Matches, m, nestedBound)
			if err != nil {
				return nil, err
			}
			out[i] = ExistentialCondition{Exists: cond.Exists, Matches: nested}
		default:
			out[i] = c
		}
	}
	return out, nil
}

func renameProjection(p Projection, m map[string]string, b *bound) (Projection, error) {
	if p == nil {
		return nil, nil
	}
	switch proj := p.(type) {
	case FactProjection:
		label, err := rename(proj.Label, m, b)
		if err != nil {
			return nil, err
		}
		return FactProjection{Label: label}, nil
	case FieldProjection:
		label, err := rename(proj.Label, m, b)
		if err != nil {
			return nil, err
		}
		return FieldProjection{Label: label, Field: proj.Field}, nil
	case HashProjection:
		label, err := rename(proj.Label, m, b)
		if err != nil {
			return nil, err
		}
		return HashProjection{Label: label}, nil
	case CompositeProjection:
		values := make(map[string]Projection, len(proj.Values))
		for _, name := range proj.Names {
			renamed, err := renameProjection(proj.Values[name], m, b)
			if err != nil {
				return nil, err
			}
			values[name] = renamed
		}
		return CompositeProjection{Names: append([]string(nil), proj.Names...), Values: values}, nil
	case SpecificationProjection:
		// The nested specification's own given/match labels and its free
		// references into the enclosing scope are renamed through the same m.
		nested, err := alphaTransform(proj.Nested, m, b)
		if err != nil {
			return nil, err
		}
		return SpecificationProjection{Nested: nested}, nil
	default:
		return p, nil
	}
}
