package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"factgraph/pkg/fact"
	"factgraph/pkg/store"
)

// storeFactories covers every Store implementation with the same behavioral
// contract (§6): every test below runs against each in turn.
func storeFactories(t *testing.T) map[string]store.Store {
	t.Helper()
	sqlite, err := store.OpenSQLiteStore(filepath.Join(t.TempDir(), "facts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	pureSQLite, err := store.OpenPureGoSQLiteStore(filepath.Join(t.TempDir(), "facts-pure.db"))
	require.NoError(t, err)
	t.Cleanup(func() { pureSQLite.Close() })

	return map[string]store.Store{
		"memory":        store.NewMemoryStore(),
		"sqlite":        sqlite,
		"sqlite-pureGo": pureSQLite,
	}
}

func TestSaveIsIdempotent(t *testing.T) {
	for name, s := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := fact.Fact{Type: "Company", Fields: fact.Fields{"id": "C"}}

			refs1, err := s.Save(ctx, []fact.Fact{f})
			require.NoError(t, err)
			require.Len(t, refs1, 1)

			refs2, err := s.Save(ctx, []fact.Fact{f})
			require.NoError(t, err)
			require.Empty(t, refs2, "re-saving an identical fact must not return a new reference")

			all, err := s.AllOfType(ctx, "Company")
			require.NoError(t, err)
			require.Equal(t, refs1, all)
		})
	}
}

func TestSavePartialDuplicateBatch(t *testing.T) {
	for name, s := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := fact.Fact{Type: "Company", Fields: fact.Fields{"id": "A"}}
			b := fact.Fact{Type: "Company", Fields: fact.Fields{"id": "B"}}

			_, err := s.Save(ctx, []fact.Fact{a})
			require.NoError(t, err)

			refs, err := s.Save(ctx, []fact.Fact{a, b})
			require.NoError(t, err)
			require.Len(t, refs, 1, "only the new fact in the batch should be returned")
		})
	}
}

func TestGetUnknownReturnsNotOK(t *testing.T) {
	for name, s := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get(context.Background(), fact.Reference{Type: "Company", Hash: "nope"})
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestSuccessorsAndPredecessorsRoundTrip(t *testing.T) {
	for name, s := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			companyRefs, err := s.Save(ctx, []fact.Fact{{Type: "Company", Fields: fact.Fields{"id": "C"}}})
			require.NoError(t, err)
			company := companyRefs[0]

			officeRefs, err := s.Save(ctx, []fact.Fact{{
				Type:         "Office",
				Fields:       fact.Fields{"id": "O"},
				Predecessors: fact.Predecessors{"company": fact.Single(company)},
			}})
			require.NoError(t, err)
			office := officeRefs[0]

			succs, err := s.Successors(ctx, company, "company", "Office")
			require.NoError(t, err)
			require.Equal(t, []fact.Reference{office}, succs)

			preds, err := s.Predecessors(ctx, office, "company")
			require.NoError(t, err)
			require.Equal(t, []fact.Reference{company}, preds)

			noTypeFilter, err := s.Successors(ctx, company, "company", "")
			require.NoError(t, err)
			require.Equal(t, []fact.Reference{office}, noTypeFilter)
		})
	}
}

func TestWhichExistFiltersToPersisted(t *testing.T) {
	for name, s := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			refs, err := s.Save(ctx, []fact.Fact{{Type: "Company", Fields: fact.Fields{"id": "C"}}})
			require.NoError(t, err)

			ghost := fact.Reference{Type: "Company", Hash: "never-saved"}
			existing, err := s.WhichExist(ctx, []fact.Reference{refs[0], ghost})
			require.NoError(t, err)
			require.Equal(t, refs, existing)
		})
	}
}

func TestVersionAdvancesOnlyOnNewFacts(t *testing.T) {
	for name, s := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.Equal(t, int64(0), s.Version())

			f := fact.Fact{Type: "Company", Fields: fact.Fields{"id": "C"}}
			_, err := s.Save(ctx, []fact.Fact{f})
			require.NoError(t, err)
			require.Equal(t, int64(1), s.Version())

			_, err = s.Save(ctx, []fact.Fact{f})
			require.NoError(t, err)
			require.Equal(t, int64(1), s.Version(), "a batch of only duplicates must not advance the version")
		})
	}
}

func TestSubscribeToSavesDeliversAndUnsubscribes(t *testing.T) {
	for name, s := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var batches []store.Batch
			unsubscribe := s.SubscribeToSaves(func(b store.Batch) {
				batches = append(batches, b)
			})

			_, err := s.Save(ctx, []fact.Fact{{Type: "Company", Fields: fact.Fields{"id": "C"}}})
			require.NoError(t, err)
			require.Len(t, batches, 1)
			require.Equal(t, int64(1), batches[0].Version)

			unsubscribe()

			_, err = s.Save(ctx, []fact.Fact{{Type: "Company", Fields: fact.Fields{"id": "D"}}})
			require.NoError(t, err)
			require.Len(t, batches, 1, "no further batch should be delivered after unsubscribe")
		})
	}
}
