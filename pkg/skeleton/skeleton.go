// Package skeleton implements the label-free, normalized graph form of a
// Specification used for plan equality and by the inverse compiler (§4.2).
package skeleton

import (
	"sort"

	"factgraph/pkg/spec"
)

// Fact is one node of a Skeleton: a dense position in the graph together with
// the fact type expected there. Nodes introduced for unlabeled path hops
// carry an empty Type (resolved only at evaluation time).
type Fact struct {
	Index int
	Type  string
}

// Edge is one predecessor hop: the fact at SuccessorFactIndex names the fact
// at PredecessorFactIndex via RoleName.
type Edge struct {
	PredecessorFactIndex int
	SuccessorFactIndex   int
	RoleName             string
}

// NotExists is one (possibly nested) negative or positive existential
// sub-pattern, expressed purely in terms of Skeleton edges.
type NotExists struct {
	Edges               []Edge
	NotExistsConditions []NotExists
}

// Skeleton is the label-stripped form of a Specification (§4.2). Two
// specifications whose skeletons are Equal are interchangeable for planning.
type Skeleton struct {
	Facts               []Fact
	Inputs              []int
	Edges               []Edge
	NotExistsConditions []NotExists
	Outputs             []int
}

// builder assigns dense fact indices to every label in a Specification and to
// every unlabeled hop along a path condition, unifying the two walks a
// PathCondition equates via union-find.
type builder struct {
	index   map[string]int
	types   map[string]string
	parent  []int
	facts   []Fact
	edges   []Edge
	nextIdx int
}

func newBuilder() *builder {
	return &builder{index: make(map[string]int), types: make(map[string]string)}
}

func (b *builder) labelIndex(label, typ string) int {
	if idx, ok := b.index[label]; ok {
		return idx
	}
	idx := b.fresh(typ)
	b.index[label] = idx
	return idx
}

func (b *builder) fresh(typ string) int {
	idx := b.nextIdx
	b.nextIdx++
	b.parent = append(b.parent, idx)
	b.facts = append(b.facts, Fact{Index: idx, Type: typ})
	return idx
}

func (b *builder) find(idx int) int {
	for b.parent[idx] != idx {
		b.parent[idx] = b.parent[b.parent[idx]]
		idx = b.parent[idx]
	}
	return idx
}

func (b *builder) union(a, c int) {
	ra, rc := b.find(a), b.find(c)
	if ra != rc {
		b.parent[rc] = ra
	}
}

// walk emits the chain of hops from startIdx through roles, returning the
// index of the final fact reached.
func (b *builder) walk(startIdx int, roles []spec.Role) int {
	cur := startIdx
	for _, r := range roles {
		next := b.fresh(r.PredecessorType)
		b.edges = append(b.edges, Edge{PredecessorFactIndex: next, SuccessorFactIndex: cur, RoleName: r.Name})
		cur = next
	}
	return cur
}

// Build converts s into its Skeleton. Labels become dense fact indices in
// declaration order (givens, then matches); path conditions contribute edges
// and unify the two sides they assert equal; existential conditions, positive
// and negative alike, become NotExistsConditions entries. An entry does not
// record which polarity it came from, so E and !E over the same shape yield
// equal skeletons.
func Build(s *spec.Specification) *Skeleton {
	b := newBuilder()

	var inputs []int
	for _, g := range s.Given {
		inputs = append(inputs, b.labelIndex(g.Label.Name, g.Label.Type))
	}

	var notExists []NotExists
	for _, g := range s.Given {
		notExists = append(notExists, buildConditions(b, g.Label.Name, g.Conditions)...)
	}
	for _, m := range s.Matches {
		b.labelIndex(m.Unknown.Name, m.Unknown.Type)
	}
	for _, m := range s.Matches {
		notExists = append(notExists, buildConditions(b, m.Unknown.Name, m.Conditions)...)
	}

	outputs := collectOutputs(b, s.Projection)

	// Canonicalize: renumber facts by union-find root so structurally
	// identical specifications produce identical indices regardless of the
	// order synthetic hop nodes were allocated in.
	return canonicalize(b, inputs, notExists, outputs)
}

func buildConditions(b *builder, owner string, conds []spec.Condition) []NotExists {
	var out []NotExists
	for _, c := range conds {
		switch cond := c.(type) {
		case spec.PathCondition:
			ownerIdx := b.index[owner]
			leftEnd := b.walk(ownerIdx, cond.RolesLeft)
			rightIdx := b.labelIndex(cond.LabelRight, "")
			rightEnd := b.walk(rightIdx, cond.RolesRight)
			b.union(leftEnd, rightEnd)
		case spec.ExistentialCondition:
			sub := newBuilder()
			sub.index[owner] = 0
			sub.parent = append(sub.parent, 0)
			sub.facts = append(sub.facts, Fact{Index: 0, Type: b.types[owner]})
			sub.nextIdx = 1
			for _, m := range cond.Matches {
				sub.labelIndex(m.Unknown.Name, m.Unknown.Type)
			}
			var nested []NotExists
			for _, m := range cond.Matches {
				nested = append(nested, buildConditions(sub, m.Unknown.Name, m.Conditions)...)
			}
			out = append(out, NotExists{Edges: sub.edges, NotExistsConditions: nested})
		}
	}
	return out
}

func collectOutputs(b *builder, p spec.Projection) []int {
	if p == nil {
		return nil
	}
	switch proj := p.(type) {
	case spec.FactProjection:
		return []int{b.labelIndex(proj.Label, "")}
	case spec.FieldProjection:
		return []int{b.labelIndex(proj.Label, "")}
	case spec.HashProjection:
		return []int{b.labelIndex(proj.Label, "")}
	case spec.CompositeProjection:
		var out []int
		for _, name := range proj.Names {
			out = append(out, collectOutputs(b, proj.Values[name])...)
		}
		return out
	case spec.SpecificationProjection:
		// The nested specification is a separate planning unit; it does not
		// contribute facts to this skeleton's dense index.
		return nil
	default:
		return nil
	}
}

// canonicalize renumbers b's facts by union-find root, producing a
// deterministic, gap-free index space independent of allocation order.
func canonicalize(b *builder, inputs []int, notExists []NotExists, outputs []int) *Skeleton {
	roots := make(map[int]int)
	var ordered []int
	rootOf := func(idx int) int {
		r := b.find(idx)
		if _, ok := roots[r]; !ok {
			roots[r] = len(ordered)
			ordered = append(ordered, r)
		}
		return roots[r]
	}

	facts := make([]Fact, 0, len(ordered))
	remapEdges := func(edges []Edge) []Edge {
		out := make([]Edge, len(edges))
		for i, e := range edges {
			out[i] = Edge{
				PredecessorFactIndex: rootOf(e.PredecessorFactIndex),
				SuccessorFactIndex:   rootOf(e.SuccessorFactIndex),
				RoleName:             e.RoleName,
			}
		}
		return out
	}
	var remapNotExists func([]NotExists) []NotExists
	remapNotExists = func(in []NotExists) []NotExists {
		out := make([]NotExists, len(in))
		for i, ne := range in {
			out[i] = NotExists{Edges: remapEdges(ne.Edges), NotExistsConditions: remapNotExists(ne.NotExistsConditions)}
		}
		return out
	}

	remappedInputs := make([]int, len(inputs))
	for i, idx := range inputs {
		remappedInputs[i] = rootOf(idx)
	}
	remappedEdges := remapEdges(b.edges)
	remappedNotExists := remapNotExists(notExists)
	remappedOutputs := make([]int, len(outputs))
	for i, idx := range outputs {
		remappedOutputs[i] = rootOf(idx)
	}

	for _, r := range ordered {
		facts = append(facts, Fact{Index: roots[r], Type: b.facts[r].Type})
	}

	return &Skeleton{
		Facts:               facts,
		Inputs:              remappedInputs,
		Edges:               remappedEdges,
		NotExistsConditions: remappedNotExists,
		Outputs:             remappedOutputs,
	}
}

// Equal reports whether two skeletons are structurally identical: same fact
// types in index order, same edges, same existential shapes, same outputs.
func Equal(a, b *Skeleton) bool {
	if len(a.Facts) != len(b.Facts) || len(a.Inputs) != len(b.Inputs) ||
		len(a.Edges) != len(b.Edges) || len(a.Outputs) != len(b.Outputs) ||
		len(a.NotExistsConditions) != len(b.NotExistsConditions) {
		return false
	}
	for i := range a.Facts {
		if a.Facts[i] != b.Facts[i] {
			return false
		}
	}
	for i := range a.Inputs {
		if a.Inputs[i] != b.Inputs[i] {
			return false
		}
	}
	if !equalEdgeSets(a.Edges, b.Edges) {
		return false
	}
	for i := range a.Outputs {
		if a.Outputs[i] != b.Outputs[i] {
			return false
		}
	}
	for i := range a.NotExistsConditions {
		x, y := a.NotExistsConditions[i], b.NotExistsConditions[i]
		if !equalEdgeSets(x.Edges, y.Edges) {
			return false
		}
		if !Equal(&Skeleton{NotExistsConditions: x.NotExistsConditions}, &Skeleton{NotExistsConditions: y.NotExistsConditions}) {
			return false
		}
	}
	return true
}

func equalEdgeSets(a, b []Edge) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]Edge(nil), a...)
	sb := append([]Edge(nil), b...)
	less := func(s []Edge) func(i, j int) bool {
		return func(i, j int) bool {
			if s[i].PredecessorFactIndex != s[j].PredecessorFactIndex {
				return s[i].PredecessorFactIndex < s[j].PredecessorFactIndex
			}
			if s[i].SuccessorFactIndex != s[j].SuccessorFactIndex {
				return s[i].SuccessorFactIndex < s[j].SuccessorFactIndex
			}
			return s[i].RoleName < s[j].RoleName
		}
	}
	sort.Slice(sa, less(sa))
	sort.Slice(sb, less(sb))
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}
