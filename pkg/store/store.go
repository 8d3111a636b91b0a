// Package store defines the fact-store contract the core evaluator,
// inverse compiler, and router depend on (§6), plus a concurrency-safe
// in-memory implementation grounded on google/mangle's fact-store layer and a
// durable sqlite-backed implementation.
package store

import (
	"context"

	"factgraph/pkg/fact"
)

// Batch is one atomically-persisted group of facts, in the order they were
// declared in the Save call. Version is a monotonically increasing token
// assigned by the store at the end of the batch; the router copies it into
// each WorkItem's BatchVersion.
type Batch struct {
	Version int64
	Facts   []fact.Fact
	Refs    []fact.Reference
}

// SaveFunc is invoked once per successfully persisted batch (§4.5's hook
// into the Notification Router). Implementations MUST NOT block for long;
// the store calls every subscriber synchronously at the end of Save.
type SaveFunc func(Batch)

// Store is the narrow read/save/notify contract the core requires from its
// storage collaborator (§6). All methods may suspend on I/O; all accept a
// context for cancellation per the teacher's own blocking-call convention.
type Store interface {
	// Save persists batch atomically, returning references only for facts
	// that were not already present (duplicates are a no-op per §3's
	// uniqueness invariant and §8's idempotent-save property).
	Save(ctx context.Context, facts []fact.Fact) ([]fact.Reference, error)

	// Get returns the fact identified by ref, or ok=false if it has never
	// been saved.
	Get(ctx context.Context, ref fact.Reference) (f fact.Fact, ok bool, err error)

	// WhichExist filters refs down to the ones already persisted, used to
	// prime the self-inverse check without a full read.
	WhichExist(ctx context.Context, refs []fact.Reference) ([]fact.Reference, error)

	// Successors returns every fact of ofType that names of via role,
	// in the order they were saved. ofType == "" matches any type.
	Successors(ctx context.Context, of fact.Reference, role, ofType string) ([]fact.Reference, error)

	// AllOfType returns every persisted fact of the given type, in save
	// order. Used when a match carries no path condition tying it to an
	// already-bound label.
	AllOfType(ctx context.Context, factType string) ([]fact.Reference, error)

	// Predecessors returns the fact(s) of's own role names, in the order
	// declared when of was saved.
	Predecessors(ctx context.Context, of fact.Reference, role string) ([]fact.Reference, error)

	// SubscribeToSaves registers fn to be called for every future batch;
	// the returned func removes the subscription.
	SubscribeToSaves(fn SaveFunc) (unsubscribe func())

	// Version returns the store's current save-version token.
	Version() int64
}
