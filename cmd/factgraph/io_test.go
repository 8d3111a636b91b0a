package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"factgraph/pkg/fact"
)

func TestDecodeFacts(t *testing.T) {
	data := []byte(`[
		{"type": "Person", "fields": {"name": "Ada"}},
		{"type": "Appointment", "predecessors": {"person": {"refs": [{"type": "Person", "hash": "abc"}]}}, "fields": {"title": "Checkup"}}
	]`)

	facts, err := decodeFacts(data)
	require.NoError(t, err)
	require.Len(t, facts, 2)

	require.Equal(t, "Person", facts[0].Type)
	require.Equal(t, "Ada", facts[0].Fields["name"])

	require.Equal(t, "Appointment", facts[1].Type)
	edge := facts[1].Predecessors["person"]
	require.Equal(t, []fact.Reference{{Type: "Person", Hash: "abc"}}, edge.Refs)
	require.False(t, edge.Ordered)
}

func TestParseRef(t *testing.T) {
	ref, err := parseRef("Person#abc123")
	require.NoError(t, err)
	require.Equal(t, fact.Reference{Type: "Person", Hash: "abc123"}, ref)

	_, err = parseRef("no-hash-separator")
	require.Error(t, err)
}
