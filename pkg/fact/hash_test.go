package fact_test

import (
	"testing"
	"time"

	"factgraph/pkg/fact"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDeterministic(t *testing.T) {
	f := fact.Fact{
		Type: "Office",
		Predecessors: fact.Predecessors{
			"company": fact.Single(fact.Reference{Type: "Company", Hash: "abc"}),
		},
		Fields: fact.Fields{"id": "TestOffice"},
	}

	r1, err := fact.Hash(f, fact.DefaultHasher)
	require.NoError(t, err)
	r2, err := fact.Hash(f, fact.DefaultHasher)
	require.NoError(t, err)

	assert.Equal(t, r1, r2)
	assert.Len(t, r1.Hash, 43)
}

func TestHashIgnoresUnorderedRoleConstructionOrder(t *testing.T) {
	a := fact.Reference{Type: "Device", Hash: "AAAA"}
	b := fact.Reference{Type: "Device", Hash: "BBBB"}

	f1 := fact.Fact{Type: "Group", Predecessors: fact.Predecessors{
		"members": fact.UnorderedSet(a, b),
	}}
	f2 := fact.Fact{Type: "Group", Predecessors: fact.Predecessors{
		"members": fact.UnorderedSet(b, a),
	}}

	r1, err := fact.Hash(f1, fact.DefaultHasher)
	require.NoError(t, err)
	r2, err := fact.Hash(f2, fact.DefaultHasher)
	require.NoError(t, err)

	assert.Equal(t, r1, r2, "unordered predecessor sets must hash identically regardless of insertion order")
}

func TestHashRespectsOrderedRoleSequence(t *testing.T) {
	a := fact.Reference{Type: "Update", Hash: "AAAA"}
	b := fact.Reference{Type: "Update", Hash: "BBBB"}

	f1 := fact.Fact{Type: "Chain", Predecessors: fact.Predecessors{
		"priors": fact.OrderedList(a, b),
	}}
	f2 := fact.Fact{Type: "Chain", Predecessors: fact.Predecessors{
		"priors": fact.OrderedList(b, a),
	}}

	r1, err := fact.Hash(f1, fact.DefaultHasher)
	require.NoError(t, err)
	r2, err := fact.Hash(f2, fact.DefaultHasher)
	require.NoError(t, err)

	assert.NotEqual(t, r1, r2, "ordered predecessor sequences are part of the fact's identity")
}

func TestHashNormalizesTimestamps(t *testing.T) {
	utc := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	inOtherZone := utc.In(time.FixedZone("UTC-5", -5*60*60))

	f1 := fact.Fact{Type: "Event", Fields: fact.Fields{"at": utc}}
	f2 := fact.Fact{Type: "Event", Fields: fact.Fields{"at": inOtherZone}}

	r1, err := fact.Hash(f1, fact.DefaultHasher)
	require.NoError(t, err)
	r2, err := fact.Hash(f2, fact.DefaultHasher)
	require.NoError(t, err)

	assert.Equal(t, r1, r2, "equal instants in different zones must normalize to the same canonical form")
}

func TestHashRejectsNonSerializableField(t *testing.T) {
	f := fact.Fact{Type: "Bad", Fields: fact.Fields{"payload": make(chan int)}}

	_, err := fact.Hash(f, fact.DefaultHasher)
	require.Error(t, err)

	var invalid *fact.InvalidFactError
	assert.ErrorAs(t, err, &invalid)
}
