package main

import (
	"context"
	"encoding/json"
	"fmt"

	"factgraph/pkg/eval"
	"factgraph/pkg/fact"
)

// factDTO is the JSON shape a save file or --fact flag supplies: a plain,
// hand-writable stand-in for fact.Fact whose Predecessors use human-typed
// role names rather than Go struct literals.
type factDTO struct {
	Type         string             `json:"type"`
	Predecessors map[string]edgeDTO `json:"predecessors,omitempty"`
	Fields       map[string]any     `json:"fields,omitempty"`
}

type edgeDTO struct {
	Refs    []refDTO `json:"refs"`
	Ordered bool     `json:"ordered,omitempty"`
}

type refDTO struct {
	Type string `json:"type"`
	Hash string `json:"hash"`
}

func (d factDTO) toFact() fact.Fact {
	f := fact.Fact{Type: d.Type, Fields: fact.Fields(d.Fields)}
	if len(d.Predecessors) > 0 {
		f.Predecessors = make(fact.Predecessors, len(d.Predecessors))
		for role, e := range d.Predecessors {
			refs := make([]fact.Reference, len(e.Refs))
			for i, r := range e.Refs {
				refs[i] = fact.Reference{Type: r.Type, Hash: r.Hash}
			}
			f.Predecessors[role] = fact.Edge{Refs: refs, Ordered: e.Ordered}
		}
	}
	return f
}

func decodeFacts(data []byte) ([]fact.Fact, error) {
	var dtos []factDTO
	if err := json.Unmarshal(data, &dtos); err != nil {
		return nil, fmt.Errorf("decoding facts: %w", err)
	}
	facts := make([]fact.Fact, len(dtos))
	for i, d := range dtos {
		facts[i] = d.toFact()
	}
	return facts, nil
}

// parseRef parses the "type#hash" form fact.Reference.String() produces,
// used for --given command-line arguments.
func parseRef(s string) (fact.Reference, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '#' {
			return fact.Reference{Type: s[:i], Hash: s[i+1:]}, nil
		}
	}
	return fact.Reference{}, fmt.Errorf("reference %q is not in type#hash form", s)
}

// renderValue converts an eval.Row.Value into a JSON-marshalable tree,
// eagerly materializing any *eval.ChildCollection it (or its nested
// composites) carries so the CLI's one-shot query command can print a
// complete nested result without the caller holding a live Observer.
func renderValue(ctx context.Context, v any) (any, error) {
	switch x := v.(type) {
	case fact.Fact:
		return map[string]any{"type": x.Type, "fields": x.Fields}, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, sub := range x {
			rv, err := renderValue(ctx, sub)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case *eval.ChildCollection:
		rows, err := x.Rows(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(rows))
		for i, row := range rows {
			rv, err := renderValue(ctx, row.Value)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return x, nil
	}
}
