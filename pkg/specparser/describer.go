package specparser

import (
	"strings"

	"factgraph/pkg/spec"
)

// Describe renders s back into the textual form Parse accepts. Describe is
// Parse's exact inverse at the AST level: Parse(Describe(s)) reproduces a
// specification structurally equal to s, independent of how s's source text
// (if any) was originally formatted (§4.2, §8 round-trip law).
func Describe(s *spec.Specification) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, g := range s.Given {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(g.Label.Name)
		b.WriteByte(':')
		b.WriteString(g.Label.Type)
		describeConditions(&b, g.Label.Name, g.Conditions)
	}
	b.WriteString(") {")
	describeMatches(&b, s.Matches)
	b.WriteString("} => ")
	describeProjection(&b, s.Projection)
	return b.String()
}

func describeMatches(b *strings.Builder, matches []spec.Match) {
	for _, m := range matches {
		b.WriteByte(' ')
		b.WriteString(m.Unknown.Name)
		b.WriteByte(':')
		b.WriteString(m.Unknown.Type)
		describeConditions(b, m.Unknown.Name, m.Conditions)
	}
}

// describeConditions renders a match's (or given's) condition list. owner is
// the label the enclosing match/given declares, needed to reconstruct the
// implicit left-hand side of any path condition.
func describeConditions(b *strings.Builder, owner string, conds []spec.Condition) {
	if len(conds) == 0 {
		return
	}
	b.WriteString(" [")
	for i, c := range conds {
		if i > 0 {
			b.WriteByte(' ')
		}
		describeCondition(b, owner, c)
	}
	b.WriteByte(']')
}

func describeCondition(b *strings.Builder, owner string, c spec.Condition) {
	switch cond := c.(type) {
	case spec.PathCondition:
		describePathExpr(b, owner, cond.RolesLeft)
		b.WriteString(" = ")
		describePathExpr(b, cond.LabelRight, cond.RolesRight)
	case spec.ExistentialCondition:
		if !cond.Exists {
			b.WriteByte('!')
		}
		b.WriteString("E {")
		describeMatches(b, cond.Matches)
		b.WriteString(" }")
	}
}

// describePathExpr writes label followed by each role hop.
func describePathExpr(b *strings.Builder, label string, roles []spec.Role) {
	b.WriteString(label)
	for _, r := range roles {
		b.WriteString("->")
		b.WriteString(r.Name)
		if r.PredecessorType != "" {
			b.WriteByte(':')
			b.WriteString(r.PredecessorType)
		}
	}
}

func describeProjection(b *strings.Builder, p spec.Projection) {
	switch proj := p.(type) {
	case spec.FactProjection:
		b.WriteString(proj.Label)
	case spec.FieldProjection:
		b.WriteString(proj.Label)
		b.WriteByte('.')
		b.WriteString(proj.Field)
	case spec.HashProjection:
		b.WriteByte('#')
		b.WriteString(proj.Label)
	case spec.CompositeProjection:
		b.WriteString("{ ")
		for i, name := range proj.Names {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(name)
			b.WriteString(" = ")
			describeProjection(b, proj.Values[name])
		}
		b.WriteString(" }")
	case spec.SpecificationProjection:
		b.WriteString("{")
		describeMatches(b, proj.Nested.Matches)
		b.WriteString(" } => ")
		describeProjection(b, proj.Nested.Projection)
	}
}
