// Package inverse implements the Inverse Compiler (§4.4): given a
// Specification, it derives the set of inverse specifications that compute
// the delta caused by the arrival of a single pivot fact.
package inverse

import (
	"strings"

	"factgraph/internal/logging"
	"factgraph/pkg/skeleton"
	"factgraph/pkg/spec"
)

// Operation distinguishes whether an Inverse's evaluated rows are additions
// or removals against the observer's result tree (§4.4 rule 3).
type Operation int

const (
	// Add means the inverse's rows are candidates to insert.
	Add Operation = iota
	// Remove means the inverse's rows are candidates to drop.
	Remove
)

func (o Operation) String() string {
	if o == Remove {
		return "Remove"
	}
	return "Add"
}

func opposite(o Operation) Operation {
	if o == Add {
		return Remove
	}
	return Add
}

// Inverse is one compiled trigger: "when a fact of PivotType arrives,
// re-evaluate InnerSpecification against {pivot}∪givenSubset to obtain the
// Add or Remove delta at ResultPath" (§4.4).
type Inverse struct {
	PivotType          string
	InnerSpecification *spec.Specification
	Operation          Operation
	ResultPath         []string
	ParentPath         []string
	GivenSubset        []int

	skel *skeleton.Skeleton
}

// Skeleton returns (building and memoizing on first call) the label-free form
// of InnerSpecification, used for deduplication (§4.4 rule 6) and as the
// Registry's digest key. Identity keys are not taken from it; the observer
// derives them from LevelLabels.
func (inv *Inverse) Skeleton() *skeleton.Skeleton {
	if inv.skel == nil {
		inv.skel = skeleton.Build(inv.InnerSpecification)
	}
	return inv.skel
}

// InversesOf compiles the full set of inverses for s (§4.4). It enumerates
// every match at every nesting depth (including inside existentials and
// projected child specifications), synthesizes one Add or Remove inverse per
// change point, adds the self-inverse when s.SelfInverseEligible(), and
// deduplicates inverses with identical skeletons, operations and result
// paths (rule 6).
func InversesOf(s *spec.Specification) []*Inverse {
	c := &compiler{topGiven: s.Given}
	c.walkLevel(s, nil, nil, nil)
	if s.SelfInverseEligible() {
		c.out = append(c.out, selfInverse(s))
	}
	result := dedup(c.out)
	logging.Get(logging.CategoryInverse).Debug("compiled %d inverse(s) for specification", len(result))
	return result
}

// LevelLabels maps every level's resultPath (joined by ".", root = "") to the
// label names that level's own top-level Matches introduce. An Observer uses
// this to compute a level's row identity key and, for a nested collection, to
// find which parent row a newly-evaluated child row belongs to (§4.6): the
// labels are name-stable across compilation, so the same name picks the same
// binding out of a child inverse's row as it does out of the parent's own
// rows.
func LevelLabels(s *spec.Specification) map[string][]string {
	out := make(map[string][]string)
	collectLevelLabels(s, nil, out)
	return out
}

func collectLevelLabels(level *spec.Specification, resultPath []string, out map[string][]string) {
	labels := make([]string, len(level.Matches))
	for i, m := range level.Matches {
		labels[i] = m.Unknown.Name
	}
	out[pathKey(resultPath)] = labels
	walkProjectionForLabels(level.Projection, resultPath, out)
}

func walkProjectionForLabels(p spec.Projection, resultPath []string, out map[string][]string) {
	switch proj := p.(type) {
	case spec.CompositeProjection:
		for _, name := range proj.Names {
			walkNamedProjectionForLabels(proj.Values[name], name, resultPath, out)
		}
	case spec.SpecificationProjection:
		collectLevelLabels(proj.Nested, resultPath, out)
	}
}

func walkNamedProjectionForLabels(p spec.Projection, name string, resultPath []string, out map[string][]string) {
	if sp, ok := p.(spec.SpecificationProjection); ok {
		collectLevelLabels(sp.Nested, appendPath(resultPath, name), out)
		return
	}
	if comp, ok := p.(spec.CompositeProjection); ok {
		for _, n := range comp.Names {
			walkNamedProjectionForLabels(comp.Values[n], name+"."+n, resultPath, out)
		}
	}
}

func pathKey(path []string) string {
	return strings.Join(path, ".")
}

// compiler accumulates Inverses while walking a Specification's structure.
// topGiven is the original specification's own given list, reused verbatim
// at every nesting depth: the textual grammar never gives a nested
// specification its own given clause (its matches reference the enclosing
// row's labels as free variables instead), so every compiled inverse's Given
// list is built from the same topGiven regardless of how deep its pivot sits.
type compiler struct {
	out      []*Inverse
	topGiven []spec.Given
}

// existContext chains an existential condition to the match that owns it and
// to the existContext (if any) that the owning match itself sits inside,
// letting deriveMirrorRoles and the Add/Remove polarity computation see the
// whole nesting chain from a pivot's immediate existential out to the
// outermost observable match (§4.4 rule 1, rule 3, and §9's reopen scenario).
type existContext struct {
	parent     *existContext
	ownerMatch spec.Match
	ec         spec.ExistentialCondition
	// condIndex is ec's position in ownerMatch.Conditions. buildExistentialInverse
	// uses it to drop the existential from the root owner's rebuilt conditions:
	// the pivot's own arrival is the witness for that existential now, so
	// re-checking it against current store state would just re-derive (in its
	// pre-pivot, stale sense) the very fact this inverse exists to announce.
	condIndex int
}

// walkLevel compiles inverses for one Specification "level": either the root
// specification or a SpecificationProjection's nested specification.
// ancestorMatches carries every enclosing level's own Matches (in top-down
// order), needed to resolve free-variable labels a pivot's conditions
// reference from an outer scope. resultPath/parentPath locate this level's
// rows within an observer's result tree (§4.4 rule 4).
func (c *compiler) walkLevel(level *spec.Specification, ancestorMatches []spec.Match, resultPath, parentPath []string) {
	for i, m := range level.Matches {
		c.out = append(c.out, &Inverse{
			PivotType:          m.Unknown.Type,
			InnerSpecification: buildChainInverse(c.topGiven, ancestorMatches, level, i),
			Operation:          Add,
			ResultPath:         resultPath,
			ParentPath:         parentPath,
			GivenSubset:        allGivenIndices(c.topGiven),
		})

		for ci, cond := range m.Conditions {
			if ec, ok := cond.(spec.ExistentialCondition); ok {
				ctx := &existContext{ownerMatch: m, ec: ec, condIndex: ci}
				c.walkExistential(level, ancestorMatches, ctx, resultPath, parentPath)
			}
		}
	}

	childAncestors := make([]spec.Match, 0, len(ancestorMatches)+len(level.Matches))
	childAncestors = append(childAncestors, ancestorMatches...)
	childAncestors = append(childAncestors, level.Matches...)
	c.walkProjection(level.Projection, childAncestors, resultPath, parentPath)
}

// walkExistential compiles inverses for every match nested (at any depth)
// inside an existential condition, propagating Add/Remove polarity and the
// mirrored-path derivation context outward (§4.4 rules 1, 3, 4).
func (c *compiler) walkExistential(level *spec.Specification, ancestorMatches []spec.Match, ctx *existContext, resultPath, parentPath []string) {
	for _, m := range ctx.ec.Matches {
		op := Add
		if !ctx.ec.Exists {
			op = Remove
		}
		for anc := ctx.parent; anc != nil; anc = anc.parent {
			if !anc.ec.Exists {
				op = opposite(op)
			}
		}

		inner, mirrored := buildExistentialInverse(c.topGiven, ancestorMatches, level, ctx, m)
		if !mirrored {
			logging.Get(logging.CategoryInverse).Debug(
				"pivot %q: no single mirrored path back to %q; falling back to a broad (unfiltered) inverse",
				m.Unknown.Name, rootOwner(ctx).Unknown.Name)
		}
		c.out = append(c.out, &Inverse{
			PivotType:          m.Unknown.Type,
			InnerSpecification: inner,
			Operation:          op,
			ResultPath:         resultPath,
			ParentPath:         parentPath,
			GivenSubset:        allGivenIndices(c.topGiven),
		})

		for ci, cond := range m.Conditions {
			if nested, ok := cond.(spec.ExistentialCondition); ok {
				nestedCtx := &existContext{parent: ctx, ownerMatch: m, ec: nested, condIndex: ci}
				c.walkExistential(level, ancestorMatches, nestedCtx, resultPath, parentPath)
			}
		}
	}
}

// walkProjection descends through a projection tree looking for
// SpecificationProjections, which introduce a new level to compile inverses
// for. A named output under a CompositeProjection extends resultPath; a bare
// SpecificationProjection at the root of a level (no enclosing composite) is
// the degenerate case where the level's own rows *are* the child collection,
// so it shares the same resultPath/parentPath.
func (c *compiler) walkProjection(p spec.Projection, ancestorMatches []spec.Match, resultPath, parentPath []string) {
	switch proj := p.(type) {
	case spec.CompositeProjection:
		for _, name := range proj.Names {
			c.walkNamedProjection(proj.Values[name], name, ancestorMatches, resultPath, parentPath)
		}
	case spec.SpecificationProjection:
		c.walkLevel(proj.Nested, ancestorMatches, resultPath, parentPath)
	}
}

func (c *compiler) walkNamedProjection(p spec.Projection, name string, ancestorMatches []spec.Match, resultPath, parentPath []string) {
	if sp, ok := p.(spec.SpecificationProjection); ok {
		childPath := appendPath(resultPath, name)
		c.walkLevel(sp.Nested, ancestorMatches, childPath, resultPath)
		return
	}
	// Fact/Field/Hash/nested-Composite projections carry no child collection
	// of their own at this name.
	if comp, ok := p.(spec.CompositeProjection); ok {
		for _, n := range comp.Names {
			c.walkNamedProjection(comp.Values[n], name+"."+n, ancestorMatches, resultPath, parentPath)
		}
	}
}

// buildChainInverse synthesizes the Add inverse for a match arriving as a
// direct element of the match chain (§4.4 rule 2). The pivot becomes an
// unconditioned Given; conditions the pivot's original match carried are
// either kept as the Given's own conditions (when they reference a true top
// given, already bound when given-conditions are checked) or mirrored onto
// whichever sibling or ancestor match they reference (when they reference a
// match label, which is not bound until the match chain runs) — the same
// "invert the direction of the equality" trick buildExistentialInverse uses,
// generalized to the chain-rule case.
func buildChainInverse(topGiven []spec.Given, ancestorMatches []spec.Match, level *spec.Specification, idx int) *spec.Specification {
	m := level.Matches[idx]
	givenNames := givenNameSet(topGiven)
	pivotConds, mirrors := splitPivotConditions(m.Conditions, m.Unknown.Name, givenNames)

	given := make([]spec.Given, 0, len(topGiven)+1)
	given = append(given, topGiven...)
	given = append(given, spec.Given{Label: m.Unknown, Conditions: pivotConds})

	matches := make([]spec.Match, 0, len(ancestorMatches)+len(level.Matches)-1)
	for _, am := range ancestorMatches {
		matches = append(matches, applyMirrors(am, mirrors))
	}
	for i, other := range level.Matches {
		if i != idx {
			matches = append(matches, applyMirrors(other, mirrors))
		}
	}

	return &spec.Specification{Given: given, Matches: matches, Projection: level.Projection}
}

// splitPivotConditions partitions a pivot's own conditions into the subset
// safe to keep as its compiled Given's conditions (existentials, which only
// need the pivot's own binding, and simple path conditions that reference a
// true top given) versus path conditions that reference a match label, which
// must instead be mirrored onto that match (keyed by its label name) so the
// match's own enumeration narrows to the pivot instead of the other way
// round. A simple path condition whose target cannot be classified (not a
// known given, ambiguous shape) is dropped rather than left dangling on an
// unbound label — the resulting inverse is correct but broader.
func splitPivotConditions(conds []spec.Condition, pivotName string, givenNames map[string]bool) ([]spec.Condition, map[string]spec.PathCondition) {
	var kept []spec.Condition
	mirrors := make(map[string]spec.PathCondition)
	for _, c := range conds {
		pc, ok := c.(spec.PathCondition)
		if !ok {
			kept = append(kept, c)
			continue
		}
		if givenNames[pc.LabelRight] {
			kept = append(kept, pc)
			continue
		}
		if len(pc.RolesRight) == 0 {
			mirrors[pc.LabelRight] = spec.PathCondition{LabelRight: pivotName, RolesRight: pc.RolesLeft}
			continue
		}
		logging.Get(logging.CategoryInverse).Debug(
			"pivot %q: dropping condition referencing %q (not a simple match mirror); inverse will be broader than necessary",
			pivotName, pc.LabelRight)
	}
	return kept, mirrors
}

func applyMirrors(m spec.Match, mirrors map[string]spec.PathCondition) spec.Match {
	mirror, ok := mirrors[m.Unknown.Name]
	if !ok {
		return m
	}
	conds := make([]spec.Condition, 0, len(m.Conditions)+1)
	conds = append(conds, m.Conditions...)
	conds = append(conds, mirror)
	return spec.Match{Unknown: m.Unknown, Conditions: conds}
}

func givenNameSet(given []spec.Given) map[string]bool {
	out := make(map[string]bool, len(given))
	for _, g := range given {
		out[g.Label.Name] = true
	}
	return out
}

// buildExistentialInverse synthesizes the inverse for a pivot match nested
// inside one or more existential conditions (§4.4 rules 2–4). It adds the
// pivot as a Given, drops the outermost existential condition the pivot
// ultimately sits under from its owner's conditions (the pivot's own
// arrival is now the witness for that condition — re-evaluating it against
// current store state would just rediscover, in its pre-pivot sense, the
// very change this inverse exists to announce), and, when a chain of simple
// equality path conditions runs from the pivot back to that owner, mirrors
// the chain onto the owner's remaining conditions so its enumeration is
// narrowed to exactly the row reachable from the pivot instead of
// rescanning its whole type. When no such chain can be derived, the owner
// keeps its other conditions unfiltered by the pivot (still correct, just
// broader).
func buildExistentialInverse(topGiven []spec.Given, ancestorMatches []spec.Match, level *spec.Specification, ctx *existContext, pivot spec.Match) (*spec.Specification, bool) {
	rootCtx := ctx
	for rootCtx.parent != nil {
		rootCtx = rootCtx.parent
	}
	root := rootCtx.ownerMatch
	roles, ok := deriveMirrorRoles(ctx, pivot)

	given := make([]spec.Given, 0, len(topGiven)+1)
	given = append(given, topGiven...)
	given = append(given, spec.Given{Label: pivot.Unknown})

	rebuild := func(m spec.Match) spec.Match {
		if m.Unknown.Name != root.Unknown.Name {
			return m
		}
		conds := make([]spec.Condition, 0, len(m.Conditions)+1)
		for ci, c := range m.Conditions {
			if ci == rootCtx.condIndex {
				continue
			}
			conds = append(conds, c)
		}
		if ok {
			conds = append(conds, spec.PathCondition{LabelRight: pivot.Unknown.Name, RolesRight: roles})
		}
		return spec.Match{Unknown: m.Unknown, Conditions: conds}
	}

	matches := make([]spec.Match, 0, len(ancestorMatches)+len(level.Matches))
	for _, am := range ancestorMatches {
		matches = append(matches, rebuild(am))
	}
	for _, m := range level.Matches {
		matches = append(matches, rebuild(m))
	}

	return &spec.Specification{Given: given, Matches: matches, Projection: level.Projection}, ok
}

// rootOwner climbs to the outermost existContext, whose ownerMatch is the
// observable row the whole existential chain ultimately gates.
func rootOwner(ctx *existContext) spec.Match {
	for ctx.parent != nil {
		ctx = ctx.parent
	}
	return ctx.ownerMatch
}

// deriveMirrorRoles walks outward from pivot's own path condition (linking it
// to ctx.ownerMatch) through each ancestor existContext's equivalent path
// condition (linking that level's owner to its own container), concatenating
// role hops so the result reaches straight from pivot to the outermost owner
// (§9's doubly-nested "!E{Closed !E{Reopened}}" reopen scenario needs exactly
// this two-hop concatenation: Reopened->closure->office gives the Office).
func deriveMirrorRoles(ctx *existContext, pivot spec.Match) ([]spec.Role, bool) {
	roles, ok := findSimplePath(pivot.Conditions, ctx.ownerMatch.Unknown.Name)
	if !ok {
		return nil, false
	}

	childLabel := ctx.ownerMatch.Unknown.Name
	for anc := ctx.parent; anc != nil; anc = anc.parent {
		m, found := findMatchByName(anc.ec.Matches, childLabel)
		if !found {
			return nil, false
		}
		extra, ok := findSimplePath(m.Conditions, anc.ownerMatch.Unknown.Name)
		if !ok {
			return nil, false
		}
		roles = append(roles, extra...)
		childLabel = anc.ownerMatch.Unknown.Name
	}
	return roles, true
}

// findSimplePath looks for a PathCondition of the form `owner->roles = target`
// (RolesRight empty) among conds, the shape every spec.md scenario's
// existential back-reference takes.
func findSimplePath(conds []spec.Condition, targetLabel string) ([]spec.Role, bool) {
	for _, c := range conds {
		if pc, ok := c.(spec.PathCondition); ok && pc.LabelRight == targetLabel && len(pc.RolesRight) == 0 {
			return pc.RolesLeft, true
		}
	}
	return nil, false
}

func findMatchByName(matches []spec.Match, name string) (spec.Match, bool) {
	for _, m := range matches {
		if m.Unknown.Name == name {
			return m, true
		}
	}
	return spec.Match{}, false
}

// selfInverse synthesizes the inverse that fires when a single-given
// specification's own given is finally persisted after subscription (§4.4
// rule 5).
func selfInverse(s *spec.Specification) *Inverse {
	return &Inverse{
		PivotType:          s.Given[0].Label.Type,
		InnerSpecification: s,
		Operation:          Add,
	}
}

func allGivenIndices(topGiven []spec.Given) []int {
	out := make([]int, len(topGiven))
	for i := range topGiven {
		out[i] = i
	}
	return out
}

func appendPath(path []string, name string) []string {
	out := make([]string, len(path)+1)
	copy(out, path)
	out[len(path)] = name
	return out
}

// dedup coalesces inverses whose skeleton, operation and result path are
// structurally equal (§4.4 rule 6).
func dedup(in []*Inverse) []*Inverse {
	var out []*Inverse
	for _, candidate := range in {
		dup := false
		for _, existing := range out {
			if existing.Operation == candidate.Operation &&
				pathEqual(existing.ResultPath, candidate.ResultPath) &&
				skeleton.Equal(existing.Skeleton(), candidate.Skeleton()) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, candidate)
		}
	}
	return out
}

func pathEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
