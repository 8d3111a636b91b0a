package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/mangle/ast"
	"github.com/google/mangle/factstore"

	"factgraph/internal/logging"
	"factgraph/pkg/fact"
)

// factSym is the predicate every persisted fact is recorded under in the
// mangle-backed existence index: fact(Type, Hash).
var factSym = ast.PredicateSym{Symbol: "fact", Arity: 2}

// MemoryStore is an in-memory Store. Facts themselves live in a native Go
// index for predecessor/successor traversal, which also answers WhichExist
// and Stats; a google/mangle factstore.ConcurrentFactStore records every
// persisted fact as fact(Type, Hash) and backs EstimateFactCount.
type MemoryStore struct {
	mu sync.RWMutex

	base    factstore.FactStoreWithRemove
	concur  factstore.ConcurrentFactStore
	byKey   map[string]fact.Fact
	byType  map[string][]fact.Reference             // in save order
	succIdx map[string]map[string][]fact.Reference // predecessorKey -> role -> successors

	version     int64
	subscribers map[int]SaveFunc
	nextSubID   int
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	base := factstore.NewSimpleInMemoryStore()
	return &MemoryStore{
		base:        base,
		concur:      factstore.NewConcurrentFactStore(base),
		byKey:       make(map[string]fact.Fact),
		byType:      make(map[string][]fact.Reference),
		succIdx:     make(map[string]map[string][]fact.Reference),
		subscribers: make(map[int]SaveFunc),
	}
}

func factKey(typ, hash string) string {
	return typ + "#" + hash
}

func (s *MemoryStore) Save(ctx context.Context, facts []fact.Fact) ([]fact.Reference, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Save")
	defer timer.Stop()

	s.mu.Lock()
	var added []fact.Reference
	var batchFacts []fact.Fact
	for _, f := range facts {
		ref, err := fact.Hash(f, fact.DefaultHasher)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		key := factKey(ref.Type, ref.Hash)
		if _, exists := s.byKey[key]; exists {
			continue
		}
		s.byKey[key] = f
		s.byType[ref.Type] = append(s.byType[ref.Type], ref)
		for role, edge := range f.Predecessors {
			for _, predRef := range edge.Refs {
				predKey := factKey(predRef.Type, predRef.Hash)
				if s.succIdx[predKey] == nil {
					s.succIdx[predKey] = make(map[string][]fact.Reference)
				}
				s.succIdx[predKey][role] = append(s.succIdx[predKey][role], ref)
			}
		}
		atom := ast.Atom{Predicate: factSym, Args: []ast.BaseTerm{ast.String(ref.Type), ast.String(ref.Hash)}}
		s.concur.Add(atom)

		added = append(added, ref)
		batchFacts = append(batchFacts, f)
	}
	if len(added) == 0 {
		s.mu.Unlock()
		logging.Get(logging.CategoryStore).Debug("Save: batch of %d facts, all duplicates", len(facts))
		return nil, nil
	}
	s.version++
	batch := Batch{Version: s.version, Facts: batchFacts, Refs: added}
	subs := make([]SaveFunc, 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	logging.Get(logging.CategoryStore).Info("Save: %d new facts at version %d", len(added), batch.Version)
	for _, fn := range subs {
		fn(batch)
	}
	return added, nil
}

func (s *MemoryStore) Get(ctx context.Context, ref fact.Reference) (fact.Fact, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.byKey[factKey(ref.Type, ref.Hash)]
	return f, ok, nil
}

func (s *MemoryStore) WhichExist(ctx context.Context, refs []fact.Reference) ([]fact.Reference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []fact.Reference
	for _, ref := range refs {
		if _, ok := s.byKey[factKey(ref.Type, ref.Hash)]; ok {
			out = append(out, ref)
		}
	}
	return out, nil
}

func (s *MemoryStore) Successors(ctx context.Context, of fact.Reference, role, ofType string) ([]fact.Reference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byRole := s.succIdx[factKey(of.Type, of.Hash)]
	if byRole == nil {
		return nil, nil
	}
	var out []fact.Reference
	for _, ref := range byRole[role] {
		if ofType == "" || ref.Type == ofType {
			out = append(out, ref)
		}
	}
	return out, nil
}

func (s *MemoryStore) Predecessors(ctx context.Context, of fact.Reference, role string) ([]fact.Reference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.byKey[factKey(of.Type, of.Hash)]
	if !ok {
		return nil, fmt.Errorf("factgraph: predecessor lookup on unknown fact %s", of)
	}
	edge, ok := f.Predecessors[role]
	if !ok {
		return nil, nil
	}
	return edge.Refs, nil
}

func (s *MemoryStore) AllOfType(ctx context.Context, factType string) ([]fact.Reference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]fact.Reference(nil), s.byType[factType]...), nil
}

func (s *MemoryStore) SubscribeToSaves(fn SaveFunc) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

func (s *MemoryStore) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Stats reports per-type fact counts.
func (s *MemoryStore) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, f := range s.byKey {
		counts[f.Type]++
	}
	return counts
}

// EstimateFactCount returns the mangle fact store's own cardinality estimate.
func (s *MemoryStore) EstimateFactCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.concur.EstimateFactCount()
}
