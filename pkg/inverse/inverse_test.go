package inverse_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"factgraph/pkg/eval"
	"factgraph/pkg/fact"
	"factgraph/pkg/inverse"
	"factgraph/pkg/skeleton"
	"factgraph/pkg/specparser"
	"factgraph/pkg/store"
)

func save(t *testing.T, s store.Store, facts ...fact.Fact) []fact.Reference {
	t.Helper()
	refs, err := s.Save(context.Background(), facts)
	require.NoError(t, err)
	require.Len(t, refs, len(facts))
	return refs
}

// TestBasicSuccessorInverse exercises spec scenario 1 incrementally: the
// inverse for Office arriving re-derives exactly the one new row.
func TestBasicSuccessorInverse(t *testing.T) {
	sp, err := specparser.Parse("(c:Company) { o:Office [o->company = c] } => o")
	require.NoError(t, err)

	invs := inverse.InversesOf(sp)
	var officeInv *inverse.Inverse
	for _, inv := range invs {
		if inv.PivotType == "Office" {
			officeInv = inv
		}
	}
	require.NotNil(t, officeInv)
	require.Equal(t, inverse.Add, officeInv.Operation)

	s := store.NewMemoryStore()
	ctx := context.Background()
	company := save(t, s, fact.Fact{Type: "Company", Fields: fact.Fields{"id": "TestCo"}})[0]
	office := save(t, s, fact.Fact{
		Type:         "Office",
		Fields:       fact.Fields{"id": "TestOffice"},
		Predecessors: fact.Predecessors{"company": fact.Single(company)},
	})[0]

	e := eval.New(s)
	rows, err := e.Read(ctx, []fact.Reference{company, office}, officeInv.InnerSpecification)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, office, rows[0].Bindings["o"])
}

// TestSelfInverseEmittedForSingleGiven covers rule 5: a single-given spec
// gets an extra self-inverse pivoting on the given's own type.
func TestSelfInverseEmittedForSingleGiven(t *testing.T) {
	sp, err := specparser.Parse("(c:Company) { o:Office [o->company = c] } => o")
	require.NoError(t, err)

	invs := inverse.InversesOf(sp)
	found := false
	for _, inv := range invs {
		if inv.PivotType == "Company" && inv.InnerSpecification == sp {
			found = true
		}
	}
	require.True(t, found, "expected a self-inverse pivoting on Company")
}

// TestSelfInverseNotEmittedForMultipleGivens covers the given>=2 half of rule
// 5: self-inversion must not be emitted when there is ambiguity about which
// given arrived.
func TestSelfInverseNotEmittedForMultipleGivens(t *testing.T) {
	sp, err := specparser.Parse("(c:Company, u:User) { o:Office [o->company = c] } => o")
	require.NoError(t, err)

	invs := inverse.InversesOf(sp)
	for _, inv := range invs {
		require.NotSame(t, sp, inv.InnerSpecification)
	}
}

// TestNegativeExistentialInverse exercises spec scenario 2: the OfficeClosed
// inverse removes the office it closes.
func TestNegativeExistentialInverse(t *testing.T) {
	sp, err := specparser.Parse("(c:Company) { o:Office [o->company = c] [!E { x:OfficeClosed [x->office = o] }] } => o")
	require.NoError(t, err)

	invs := inverse.InversesOf(sp)
	var closedInv *inverse.Inverse
	for _, inv := range invs {
		if inv.PivotType == "OfficeClosed" {
			closedInv = inv
		}
	}
	require.NotNil(t, closedInv)
	require.Equal(t, inverse.Remove, closedInv.Operation)

	s := store.NewMemoryStore()
	ctx := context.Background()
	company := save(t, s, fact.Fact{Type: "Company", Fields: fact.Fields{"id": "C"}})[0]
	office := save(t, s, fact.Fact{
		Type:         "Office",
		Fields:       fact.Fields{"id": "closing"},
		Predecessors: fact.Predecessors{"company": fact.Single(company)},
	})[0]
	closure := save(t, s, fact.Fact{
		Type:         "OfficeClosed",
		Predecessors: fact.Predecessors{"office": fact.Single(office)},
	})[0]

	e := eval.New(s)
	rows, err := e.Read(ctx, []fact.Reference{company, closure}, closedInv.InnerSpecification)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, office, rows[0].Bindings["o"])
}

// TestDoublyNestedExistentialInverse exercises spec scenario 3: an office is
// "effectively open" when it has no Closed fact without a matching Reopened.
// The Closed inverse removes the office; the Reopened inverse (nested two
// existential levels deep) re-adds it.
func TestDoublyNestedExistentialInverse(t *testing.T) {
	sp, err := specparser.Parse(
		"(c:Company) { o:Office [o->company = c] " +
			"[!E { k:OfficeClosed [k->office = o] [!E { r:OfficeReopened [r->closure = k] }] }] } => o")
	require.NoError(t, err)

	invs := inverse.InversesOf(sp)
	var closedInv, reopenedInv *inverse.Inverse
	for _, inv := range invs {
		switch inv.PivotType {
		case "OfficeClosed":
			closedInv = inv
		case "OfficeReopened":
			reopenedInv = inv
		}
	}
	require.NotNil(t, closedInv)
	require.NotNil(t, reopenedInv)
	require.Equal(t, inverse.Remove, closedInv.Operation, "a closure without a reopen removes the office")
	require.Equal(t, inverse.Add, reopenedInv.Operation, "a reopen re-admits the office")

	s := store.NewMemoryStore()
	ctx := context.Background()
	company := save(t, s, fact.Fact{Type: "Company", Fields: fact.Fields{"id": "C"}})[0]
	office := save(t, s, fact.Fact{
		Type:         "Office",
		Predecessors: fact.Predecessors{"company": fact.Single(company)},
	})[0]
	closure := save(t, s, fact.Fact{
		Type:         "OfficeClosed",
		Predecessors: fact.Predecessors{"office": fact.Single(office)},
	})[0]
	reopen := save(t, s, fact.Fact{
		Type:         "OfficeReopened",
		Predecessors: fact.Predecessors{"closure": fact.Single(closure)},
	})[0]

	e := eval.New(s)

	closedRows, err := e.Read(ctx, []fact.Reference{company, closure}, closedInv.InnerSpecification)
	require.NoError(t, err)
	require.Len(t, closedRows, 1)
	require.Equal(t, office, closedRows[0].Bindings["o"])

	reopenedRows, err := e.Read(ctx, []fact.Reference{company, reopen}, reopenedInv.InnerSpecification)
	require.NoError(t, err)
	require.Len(t, reopenedRows, 1)
	require.Equal(t, office, reopenedRows[0].Bindings["o"])
}

// TestNestedChildCollectionInverse exercises spec scenario 5's shape: a
// Manager arriving under a projected Office child collection produces an
// inverse whose ResultPath names the nested collection.
func TestNestedChildCollectionInverse(t *testing.T) {
	sp, err := specparser.Parse(
		"(c:Company) { o:Office [o->company = c] } => " +
			"{ name = o.id, managers = { m:Manager [m->office = o] } => m }")
	require.NoError(t, err)

	invs := inverse.InversesOf(sp)
	var managerInv *inverse.Inverse
	for _, inv := range invs {
		if inv.PivotType == "Manager" {
			managerInv = inv
		}
	}
	require.NotNil(t, managerInv)
	require.Equal(t, []string{"managers"}, managerInv.ResultPath)
	require.Nil(t, managerInv.ParentPath)
}

// TestDedupCoalescesIdenticalSkeletons covers rule 6: two structurally
// identical pivots (e.g. the same match appearing reachable two ways) must
// not produce duplicate inverses.
func TestDedupCoalescesIdenticalSkeletons(t *testing.T) {
	sp, err := specparser.Parse("(c:Company) { o:Office [o->company = c] } => o")
	require.NoError(t, err)

	invs := inverse.InversesOf(sp)
	seen := make(map[string]int)
	for _, inv := range invs {
		key := inv.PivotType + inv.Operation.String()
		seen[key]++
	}
	for key, count := range seen {
		require.Equal(t, 1, count, "inverse %s should be deduplicated", key)
	}
}

// TestRegistryPivotTypes covers the registry's diagnostic lookup: every
// fact type that triggers a compiled inverse for a specification shows up
// in PivotTypes, in sorted order, regardless of registration order.
func TestRegistryPivotTypes(t *testing.T) {
	sp, err := specparser.Parse(
		"(c:Company) { o:Office [o->company = c] [!E { x:OfficeClosed [x->office = o] }] } => o")
	require.NoError(t, err)

	reg := inverse.NewRegistry()
	reg.Register(inverse.InversesOf(sp))

	types := reg.PivotTypes()
	require.Contains(t, types, "Office")
	require.Contains(t, types, "OfficeClosed")
	require.Contains(t, types, "Company")
	for i := 1; i < len(types); i++ {
		require.LessOrEqual(t, types[i-1], types[i], "PivotTypes must be sorted")
	}
}

// TestDedupSkeletonsAreStructurallyEqual goes one level under
// TestDedupCoalescesIdenticalSkeletons: two independently-parsed but
// structurally identical specifications must produce byte-for-byte
// identical skeleton trees (the structure rule 6's dedup key compares). require.Equal's reflect-based diff collapses a mismatch deep in
// Edges/NotExistsConditions into an unreadable blob, so this uses go-cmp
// directly for a field-by-field diff on failure.
func TestDedupSkeletonsAreStructurallyEqual(t *testing.T) {
	a, err := specparser.Parse("(c:Company) { o:Office [o->company = c] } => o")
	require.NoError(t, err)
	b, err := specparser.Parse("(c:Company) { o:Office [o->company = c] } => o")
	require.NoError(t, err)

	skA := skeleton.Build(a)
	skB := skeleton.Build(b)

	require.True(t, skeleton.Equal(skA, skB), "skeletons should be Equal")
	if diff := cmp.Diff(skA, skB); diff != "" {
		t.Fatalf("skeletons structurally differ despite Equal() returning true (-got +want):\n%s", diff)
	}
}
