// Package eval implements the Evaluator (§4.3): it runs a Specification
// against a read-only Store and produces projected rows.
package eval

import (
	"context"
	"fmt"

	"factgraph/internal/logging"
	"factgraph/pkg/fact"
	"factgraph/pkg/spec"
	"factgraph/pkg/store"
)

// DefaultMaxDepth bounds match-chain and existential nesting before
// evaluation fails with SpecificationTooDeepError.
const DefaultMaxDepth = 64

// Row is one surviving binding together with its realized projection value.
// Value is a fact.Fact (FactProjection), a scalar (FieldProjection), a
// string hash (HashProjection), a map[string]interface{} (CompositeProjection),
// or a *ChildCollection (SpecificationProjection).
type Row struct {
	Bindings map[string]fact.Reference
	Value    interface{}
}

// Evaluator runs Specifications against a Store (§4.3).
type Evaluator struct {
	Store    store.Store
	MaxDepth int
}

// New constructs an Evaluator with the default depth budget.
func New(s store.Store) *Evaluator {
	return &Evaluator{Store: s, MaxDepth: DefaultMaxDepth}
}

func (e *Evaluator) maxDepth() int {
	if e.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return e.MaxDepth
}

// Read binds given to spec's Given labels by position and evaluates its
// match chain and projection (§4.3).
func (e *Evaluator) Read(ctx context.Context, given []fact.Reference, s *spec.Specification) ([]Row, error) {
	timer := logging.StartTimer(logging.CategoryEvaluator, "Read")
	defer timer.Stop()

	if len(given) != len(s.Given) {
		return nil, &GivenMismatchError{Reason: fmt.Sprintf("expected %d givens, got %d", len(s.Given), len(given))}
	}
	bindings := make(map[string]fact.Reference, len(given))
	for i, g := range s.Given {
		if given[i].Type != g.Label.Type {
			return nil, &GivenMismatchError{Reason: fmt.Sprintf("given %d: expected type %q, got %q", i, g.Label.Type, given[i].Type)}
		}
		bindings[g.Label.Name] = given[i]
	}

	// A given that has not yet been persisted is not an error (§4.3 "non-
	// existent... fact is not an error"; §8 boundary behavior "a given whose
	// fact is not yet persisted"): the result is simply empty until the
	// self-inverse fires once it is saved.
	existing, err := e.Store.WhichExist(ctx, given)
	if err != nil {
		return nil, err
	}
	if len(existing) != len(given) {
		return nil, nil
	}

	for _, g := range s.Given {
		ok, err := e.evalBoundConditions(ctx, bindings, g.Label.Name, g.Conditions, 0)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
	}

	rowBindings, err := e.evalMatches(ctx, bindings, s.Matches, 0)
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(rowBindings))
	for _, rb := range rowBindings {
		val, err := e.realizeProjection(ctx, rb, s.Projection)
		if err != nil {
			return nil, err
		}
		rows = append(rows, Row{Bindings: rb, Value: val})
	}
	return rows, nil
}

// evalMatches extends base through every Match in order, intersecting each
// candidate with its path conditions and filtering by its existentials.
func (e *Evaluator) evalMatches(ctx context.Context, base map[string]fact.Reference, matches []spec.Match, depth int) ([]map[string]fact.Reference, error) {
	if depth > e.maxDepth() {
		return nil, &SpecificationTooDeepError{Limit: e.maxDepth()}
	}
	if err := ctx.Err(); err != nil {
		return nil, &EvaluationTimeoutError{}
	}

	current := []map[string]fact.Reference{cloneBindings(base)}
	for _, m := range matches {
		var next []map[string]fact.Reference
		for _, bindings := range current {
			candidates, err := e.enumerateCandidates(ctx, bindings, m)
			if err != nil {
				return nil, err
			}
			for _, cand := range candidates {
				rowBindings := cloneBindings(bindings)
				rowBindings[m.Unknown.Name] = cand
				ok, err := e.evalExistentialsOnly(ctx, rowBindings, m.Conditions, depth+1)
				if err != nil {
					return nil, err
				}
				if ok {
					next = append(next, rowBindings)
				}
			}
		}
		current = next
	}
	return current, nil
}

// enumerateCandidates finds every fact of m.Unknown.Type consistent with
// every PathCondition in m.Conditions, preferring the bound side's successor
// index (§4.3: "start from whichever side is cheaper"). The result preserves
// the first condition's own store-returned order (§4.3 "emit rows in stable
// order... the successor-lookup order of the store"): later conditions only
// ever filter that order down, never re-sort it through an unordered set.
func (e *Evaluator) enumerateCandidates(ctx context.Context, bindings map[string]fact.Reference, m spec.Match) ([]fact.Reference, error) {
	var ordered []fact.Reference
	haveCondition := false

	for _, c := range m.Conditions {
		pc, ok := c.(spec.PathCondition)
		if !ok {
			continue
		}
		rightBase, ok := bindings[pc.LabelRight]
		if !ok {
			return nil, fmt.Errorf("factgraph: path condition references unbound label %q", pc.LabelRight)
		}
		rightEnd, reached, err := e.resolveForward(ctx, rightBase, pc.RolesRight)
		if err != nil {
			return nil, err
		}
		var refs []fact.Reference
		if reached {
			refs, err = e.resolveBackward(ctx, rightEnd, pc.RolesLeft, m.Unknown.Type)
			if err != nil {
				return nil, err
			}
		}

		if !haveCondition {
			ordered = refs
			haveCondition = true
		} else {
			ordered = filterToSet(ordered, toSet(refs))
		}
	}

	if !haveCondition {
		logging.Get(logging.CategoryEvaluator).Debug("match %q has no path condition; scanning all facts of type %q", m.Unknown.Name, m.Unknown.Type)
		return e.Store.AllOfType(ctx, m.Unknown.Type)
	}
	return ordered, nil
}

// resolveForward walks roles from start through predecessor lookups,
// returning reached=false if a hop dead-ends (no such predecessor, not an
// error: §4.3's "non-existent given fact is not an error").
func (e *Evaluator) resolveForward(ctx context.Context, start fact.Reference, roles []spec.Role) (fact.Reference, bool, error) {
	cur := start
	for _, r := range roles {
		refs, err := e.Store.Predecessors(ctx, cur, r.Name)
		if err != nil {
			return fact.Reference{}, false, err
		}
		if len(refs) == 0 {
			return fact.Reference{}, false, nil
		}
		if len(refs) != 1 {
			return fact.Reference{}, false, &SchemaError{FactType: cur.Type, Role: r.Name}
		}
		cur = refs[0]
	}
	return cur, true, nil
}

// resolveBackward inverts a role chain: given the fact reached by walking
// roles forward, find every fact of finalType that reaches it, one hop of
// Successors lookups at a time.
func (e *Evaluator) resolveBackward(ctx context.Context, end fact.Reference, roles []spec.Role, finalType string) ([]fact.Reference, error) {
	candidates := []fact.Reference{end}
	for i := len(roles) - 1; i >= 0; i-- {
		role := roles[i]
		typeAtStep := ""
		if i == 0 {
			typeAtStep = finalType
		}
		var next []fact.Reference
		for _, c := range candidates {
			succs, err := e.Store.Successors(ctx, c, role.Name, typeAtStep)
			if err != nil {
				return nil, err
			}
			next = append(next, succs...)
		}
		candidates = next
	}
	if len(roles) == 0 && finalType != "" {
		filtered := candidates[:0]
		for _, c := range candidates {
			if c.Type == finalType {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}
	return candidates, nil
}

// evalBoundConditions verifies every condition against an already-bound
// label (used for a Given's own conditions, where there is no enumeration
// step — the binding was supplied by the caller and must simply hold).
func (e *Evaluator) evalBoundConditions(ctx context.Context, bindings map[string]fact.Reference, owner string, conds []spec.Condition, depth int) (bool, error) {
	for _, c := range conds {
		switch cond := c.(type) {
		case spec.PathCondition:
			leftEnd, leftOK, err := e.resolveForward(ctx, bindings[owner], cond.RolesLeft)
			if err != nil {
				return false, err
			}
			rightBase, ok := bindings[cond.LabelRight]
			if !ok {
				return false, fmt.Errorf("factgraph: path condition references unbound label %q", cond.LabelRight)
			}
			rightEnd, rightOK, err := e.resolveForward(ctx, rightBase, cond.RolesRight)
			if err != nil {
				return false, err
			}
			if !leftOK || !rightOK || leftEnd != rightEnd {
				return false, nil
			}
		case spec.ExistentialCondition:
			ok, err := e.evalExistential(ctx, bindings, cond, depth)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
	}
	return true, nil
}

// evalExistentialsOnly checks only the Existential conditions in conds; its
// Path conditions were already enforced by enumerateCandidates.
func (e *Evaluator) evalExistentialsOnly(ctx context.Context, bindings map[string]fact.Reference, conds []spec.Condition, depth int) (bool, error) {
	for _, c := range conds {
		ec, ok := c.(spec.ExistentialCondition)
		if !ok {
			continue
		}
		ok, err := e.evalExistential(ctx, bindings, ec, depth)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (e *Evaluator) evalExistential(ctx context.Context, bindings map[string]fact.Reference, ec spec.ExistentialCondition, depth int) (bool, error) {
	results, err := e.evalMatches(ctx, bindings, ec.Matches, depth)
	if err != nil {
		return false, err
	}
	satisfied := len(results) > 0
	return ec.Exists == satisfied, nil
}

// ChildCollection is the lazy handle produced for a SpecificationProjection
// (§4.3 step 4): the nested specification's matches reference the enclosing
// row's labels directly as free variables (the textual grammar never gives a
// nested specification its own given clause), so Rows seeds evaluation with
// the outer bindings rather than routing through Read's given-arity check.
type ChildCollection struct {
	eval  *Evaluator
	spec  *spec.Specification
	outer map[string]fact.Reference
}

// Labels returns the names this collection's own top-level Matches
// introduce, in declared order. The Observer uses this to compute a row's
// identity key within the collection without needing to re-derive it from
// the original Specification's shape (pkg/observer, childState).
func (c *ChildCollection) Labels() []string {
	out := make([]string, len(c.spec.Matches))
	for i, m := range c.spec.Matches {
		out[i] = m.Unknown.Name
	}
	return out
}

// Rows evaluates the nested specification against the outer row's bindings.
func (c *ChildCollection) Rows(ctx context.Context) ([]Row, error) {
	base := cloneBindings(c.outer)
	for _, g := range c.spec.Given {
		ref, ok := base[g.Label.Name]
		if !ok {
			return nil, fmt.Errorf("factgraph: nested specification given %q has no matching outer binding", g.Label.Name)
		}
		base[g.Label.Name] = ref
	}

	rowBindings, err := c.eval.evalMatches(ctx, base, c.spec.Matches, 0)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(rowBindings))
	for _, rb := range rowBindings {
		val, err := c.eval.realizeProjection(ctx, rb, c.spec.Projection)
		if err != nil {
			return nil, err
		}
		rows = append(rows, Row{Bindings: rb, Value: val})
	}
	return rows, nil
}

// realizeProjection builds the value a Row carries for a bound set of labels.
func (e *Evaluator) realizeProjection(ctx context.Context, bindings map[string]fact.Reference, p spec.Projection) (interface{}, error) {
	switch proj := p.(type) {
	case spec.FactProjection:
		ref, ok := bindings[proj.Label]
		if !ok {
			return nil, fmt.Errorf("factgraph: projection references unbound label %q", proj.Label)
		}
		f, ok, err := e.Store.Get(ctx, ref)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("factgraph: projected fact %s not found in store", ref)
		}
		return f, nil

	case spec.FieldProjection:
		ref, ok := bindings[proj.Label]
		if !ok {
			return nil, fmt.Errorf("factgraph: projection references unbound label %q", proj.Label)
		}
		f, ok, err := e.Store.Get(ctx, ref)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("factgraph: projected fact %s not found in store", ref)
		}
		return f.Fields[proj.Field], nil

	case spec.HashProjection:
		ref, ok := bindings[proj.Label]
		if !ok {
			return nil, fmt.Errorf("factgraph: projection references unbound label %q", proj.Label)
		}
		return ref.Hash, nil

	case spec.CompositeProjection:
		out := make(map[string]interface{}, len(proj.Names))
		for _, name := range proj.Names {
			sub, ok := proj.Values[name]
			if !ok {
				return nil, fmt.Errorf("factgraph: composite projection missing value for %q", name)
			}
			val, err := e.realizeProjection(ctx, bindings, sub)
			if err != nil {
				return nil, err
			}
			out[name] = val
		}
		return out, nil

	case spec.SpecificationProjection:
		return &ChildCollection{eval: e, spec: proj.Nested, outer: cloneBindings(bindings)}, nil

	default:
		return nil, fmt.Errorf("factgraph: unknown projection type %T", p)
	}
}

func cloneBindings(b map[string]fact.Reference) map[string]fact.Reference {
	out := make(map[string]fact.Reference, len(b)+1)
	for k, v := range b {
		out[k] = v
	}
	return out
}

func toSet(refs []fact.Reference) map[fact.Reference]bool {
	set := make(map[fact.Reference]bool, len(refs))
	for _, r := range refs {
		set[r] = true
	}
	return set
}

// filterToSet keeps ordered's own order, dropping any element not present
// in set — an order-preserving intersection, unlike ranging over a map.
func filterToSet(ordered []fact.Reference, set map[fact.Reference]bool) []fact.Reference {
	out := ordered[:0:0]
	for _, r := range ordered {
		if set[r] {
			out = append(out, r)
		}
	}
	return out
}
