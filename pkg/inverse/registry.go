package inverse

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/google/mangle/ast"
	"github.com/google/mangle/factstore"

	"factgraph/pkg/skeleton"
)

// inverseOfSym is the predicate a compiled Inverse is recorded under:
// inverseOf(PivotType, SkeletonDigest, Operation), in a google/mangle fact
// store of the kind pkg/store.MemoryStore also uses. The Registry does not
// expose that store; PivotTypes reads the digest map instead.
var inverseOfSym = ast.PredicateSym{Symbol: "inverseOf", Arity: 3}

// Registry records compiled inverses keyed by skeleton digest, for diagnostic
// lookups (e.g. the cmd/factgraph driver's "which specs react to type X"
// introspection).
type Registry struct {
	mu    sync.RWMutex
	facts factstore.FactStoreWithRemove
	byDig map[string]*Inverse
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		facts: factstore.NewSimpleInMemoryStore(),
		byDig: make(map[string]*Inverse),
	}
}

// Register records every inverse compiled for a specification.
func (r *Registry) Register(inverses []*Inverse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range inverses {
		digest := skeletonDigest(inv.Skeleton())
		r.byDig[digest] = inv
		atom := ast.Atom{
			Predicate: inverseOfSym,
			Args: []ast.BaseTerm{
				ast.String(inv.PivotType),
				ast.String(digest),
				ast.String(inv.Operation.String()),
			},
		}
		r.facts.Add(atom)
	}
}

// PivotTypes returns every fact type currently known to trigger at least one
// registered inverse.
func (r *Registry) PivotTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	for _, inv := range r.byDig {
		seen[inv.PivotType] = true
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// skeletonDigest renders a Skeleton's structural identity as a short hex
// string, used only as a diagnostic dedup key for the Registry — not the
// canonical fact hash contract of §4.1, which belongs exclusively to
// pkg/fact.
func skeletonDigest(s *skeleton.Skeleton) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%+v", s)))
	return hex.EncodeToString(sum[:8])
}
