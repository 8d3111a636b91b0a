package eval_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"factgraph/pkg/eval"
	"factgraph/pkg/fact"
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

// TestBasicSuccessorRead is spec scenario 1: a company's offices are found by
// walking the Office->company edge back to the given Company.
func TestBasicSuccessorRead(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	companyRefs := save(t, s, fact.Fact{Type: "Company", Fields: fact.Fields{"id": "TestCo"}})
	company := companyRefs[0]
	officeRefs := save(t, s, fact.Fact{
		Type:         "Office",
		Fields:       fact.Fields{"id": "TestOffice"},
		Predecessors: fact.Predecessors{"company": fact.Single(company)},
	})

	sp, err := specparser.Parse("(c:Company) { o:Office [o->company = c] } => o")
	require.NoError(t, err)

	e := eval.New(s)
	rows, err := e.Read(ctx, []fact.Reference{company}, sp)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	f, ok := rows[0].Value.(fact.Fact)
	require.True(t, ok)
	require.Equal(t, "TestOffice", f.Fields["id"])
	require.Equal(t, officeRefs[0], rows[0].Bindings["o"])
}

// TestMultiCandidateStableOrder covers §4.3's stable-order guarantee for a
// match with more than one surviving candidate: offices come back in save
// order, not map-iteration order, across repeated reads of the same store.
func TestMultiCandidateStableOrder(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	company := save(t, s, fact.Fact{Type: "Company", Fields: fact.Fields{"id": "TestCo"}})[0]
	var offices []fact.Reference
	for _, id := range []string{"first", "second", "third", "fourth"} {
		offices = append(offices, save(t, s, fact.Fact{
			Type:         "Office",
			Fields:       fact.Fields{"id": id},
			Predecessors: fact.Predecessors{"company": fact.Single(company)},
		})[0])
	}

	sp, err := specparser.Parse("(c:Company) { o:Office [o->company = c] } => o")
	require.NoError(t, err)

	e := eval.New(s)
	for i := 0; i < 20; i++ {
		rows, err := e.Read(ctx, []fact.Reference{company}, sp)
		require.NoError(t, err)
		require.Len(t, rows, len(offices))
		for j, row := range rows {
			require.Equal(t, offices[j], row.Bindings["o"], "iteration %d: row %d out of order", i, j)
		}
	}
}

// TestNegativeExistentialFilter is spec scenario 2: an office with a closure
// fact pointing at it is excluded by the !E condition.
func TestNegativeExistentialFilter(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	company := save(t, s, fact.Fact{Type: "Company", Fields: fact.Fields{"id": "C"}})[0]
	open := save(t, s, fact.Fact{
		Type:         "Office",
		Fields:       fact.Fields{"id": "open"},
		Predecessors: fact.Predecessors{"company": fact.Single(company)},
	})[0]
	closed := save(t, s, fact.Fact{
		Type:         "Office",
		Fields:       fact.Fields{"id": "closed"},
		Predecessors: fact.Predecessors{"company": fact.Single(company)},
	})[0]
	save(t, s, fact.Fact{
		Type:         "OfficeClosed",
		Predecessors: fact.Predecessors{"office": fact.Single(closed)},
	})

	sp, err := specparser.Parse("(c:Company) { o:Office [o->company = c] [!E { x:OfficeClosed [x->office = o] }] } => o")
	require.NoError(t, err)

	e := eval.New(s)
	rows, err := e.Read(ctx, []fact.Reference{company}, sp)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, open, rows[0].Bindings["o"])
}

// TestNestedChildCollection is spec scenario 5: a Company -> Office -> Manager
// chain projected as a lazy nested collection.
func TestNestedChildCollection(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	company := save(t, s, fact.Fact{Type: "Company", Fields: fact.Fields{"id": "C"}})[0]
	office := save(t, s, fact.Fact{
		Type:         "Office",
		Fields:       fact.Fields{"id": "O"},
		Predecessors: fact.Predecessors{"company": fact.Single(company)},
	})[0]

	sp, err := specparser.Parse("(c:Company) { o:Office [o->company = c] } => { office = o, managers = { m:Manager [m->office = o] } => m } ")
	require.NoError(t, err)

	e := eval.New(s)
	rows, err := e.Read(ctx, []fact.Reference{company}, sp)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	record, ok := rows[0].Value.(map[string]interface{})
	require.True(t, ok)
	children, ok := record["managers"].(*eval.ChildCollection)
	require.True(t, ok)

	childRows, err := children.Rows(ctx)
	require.NoError(t, err)
	require.Empty(t, childRows)

	m1 := save(t, s, fact.Fact{
		Type:         "Manager",
		Fields:       fact.Fields{"name": "Alice"},
		Predecessors: fact.Predecessors{"office": fact.Single(office)},
	})[0]
	m2 := save(t, s, fact.Fact{
		Type:         "Manager",
		Fields:       fact.Fields{"name": "Bob"},
		Predecessors: fact.Predecessors{"office": fact.Single(office)},
	})[0]

	childRows, err = children.Rows(ctx)
	require.NoError(t, err)
	require.Len(t, childRows, 2)
	var seen []fact.Reference
	for _, r := range childRows {
		seen = append(seen, r.Bindings["m"])
	}
	require.ElementsMatch(t, []fact.Reference{m1, m2}, seen)
}

func TestGivenMismatch(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	sp, err := specparser.Parse("(c:Company) { } => c")
	require.NoError(t, err)

	e := eval.New(s)
	_, err = e.Read(ctx, []fact.Reference{}, sp)
	require.Error(t, err)
	var mismatch *eval.GivenMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestGivenTypeMismatch(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	sp, err := specparser.Parse("(c:Company) { } => c")
	require.NoError(t, err)

	e := eval.New(s)
	_, err = e.Read(ctx, []fact.Reference{{Type: "Office", Hash: "x"}}, sp)
	require.Error(t, err)
	var mismatch *eval.GivenMismatchError
	require.ErrorAs(t, err, &mismatch)
}

// TestUnpersistedGiven covers the §8 boundary behavior: a given whose fact is
// not yet persisted is not an error, it simply yields no rows (the self-inverse
// fires later once the fact is saved).
func TestUnpersistedGiven(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	sp, err := specparser.Parse("(c:Company) { o:Office [o->company = c] } => o")
	require.NoError(t, err)

	e := eval.New(s)
	ghostCompany := fact.Reference{Type: "Company", Hash: "not-really-there"}
	rows, err := e.Read(ctx, []fact.Reference{ghostCompany}, sp)
	require.NoError(t, err)
	require.Empty(t, rows)
}

// TestMatchWithoutPathCondition exercises the AllOfType fallback when a match
// carries no path condition tying it to a bound label.
func TestMatchWithoutPathCondition(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	save(t, s, fact.Fact{Type: "Tag", Fields: fact.Fields{"name": "a"}})
	save(t, s, fact.Fact{Type: "Tag", Fields: fact.Fields{"name": "b"}})

	sp, err := specparser.Parse("() { t:Tag } => t")
	require.NoError(t, err)

	e := eval.New(s)
	rows, err := e.Read(ctx, nil, sp)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}
