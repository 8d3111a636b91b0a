// Package observer implements the Observer (§4.6): a live binding of a
// Specification to given facts plus a callback tree, maintained incrementally
// as facts arrive through the Notification Router.
//
// Grounded on internal/shards/observer_manager.go's BackgroundObserverManager
// shape (RWMutex-guarded state, context.CancelFunc+sync.WaitGroup lifecycle),
// with pkg/router playing the role its eventChan plays.
package observer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"factgraph/internal/logging"
	"factgraph/pkg/eval"
	"factgraph/pkg/fact"
	"factgraph/pkg/inverse"
	"factgraph/pkg/router"
	"factgraph/pkg/spec"
	"factgraph/pkg/store"
)

// DisposeFunc is returned from an AddedFunc to be called when its row is
// later removed (§4.6 "optional disposer returned from fn for onRemoved").
// A nil return means the caller does not care about removals at that level
// (§9 open question, resolved explicitly): the Observer simply drops the
// node with no callback.
type DisposeFunc func()

// AddedFunc is invoked once for every row that newly appears, at every
// nesting depth.
type AddedFunc func(row *Row) DisposeFunc

// Row is the value delivered to an AddedFunc: the row's projected value,
// its full binding set (useful for diagnostics), and access to any named
// child collections the projection carries.
type Row struct {
	Value    interface{}
	Bindings map[string]fact.Reference
	node     *rowNode
}

// Child returns the named child collection this row's projection carries
// (if any), lazily materializing the observer's internal state for it.
// Calling OnAdded on the result may be done at any time, per §4.6; doing so
// synchronously inside the top-level AddedFunc satisfies the "immediately
// evaluate each child... and invoke onAdded for each child row" clause of
// initial evaluation step 2.
func (r *Row) Child(name string) (*Collection, bool) {
	cc, ok := childCollectionAt(r.Value, name)
	if !ok {
		return nil, false
	}
	cs := r.node.childState(name, cc)
	return &Collection{state: cs}, true
}

// childCollectionAt finds the *eval.ChildCollection a named output of a
// CompositeProjection value carries, descending through nested composites
// the way inverse.LevelLabels's own path-walking does.
func childCollectionAt(value interface{}, name string) (*eval.ChildCollection, bool) {
	parts := strings.SplitN(name, ".", 2)
	m, ok := value.(map[string]interface{})
	if !ok {
		return nil, false
	}
	v, ok := m[parts[0]]
	if !ok {
		return nil, false
	}
	if len(parts) == 1 {
		cc, ok := v.(*eval.ChildCollection)
		return cc, ok
	}
	return childCollectionAt(v, parts[1])
}

// Collection is the handle a Row exposes for one of its named child
// collections.
type Collection struct {
	state *collectionState
}

// OnAdded registers fn against every row this collection ever produces.
// Rows already present are replayed immediately (eagerly evaluating the
// collection on first registration, per §4.6 step 2); future arrivals from
// incremental updates invoke fn as they are discovered.
func (c *Collection) OnAdded(fn AddedFunc) {
	c.state.onAdded(fn)
}

// rowNode is one arena entry: a row's identity, its disposers (one per
// registered handler, in registration order), and its own named child
// collections. No pointer back to its parent (§9).
type rowNode struct {
	mu        sync.Mutex
	key       string
	bindings  map[string]fact.Reference
	value     interface{}
	disposers []DisposeFunc
	children  map[string]*collectionState
}

func (n *rowNode) childState(name string, cc *eval.ChildCollection) *collectionState {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.children == nil {
		n.children = make(map[string]*collectionState)
	}
	cs, ok := n.children[name]
	if !ok {
		var labels []string
		if cc != nil {
			labels = cc.Labels()
		}
		cs = &collectionState{cc: cc, labels: labels, nodes: make(map[string]*rowNode)}
		n.children[name] = cs
		return cs
	}
	if cs.cc == nil && cc != nil {
		cs.cc = cc
		if cs.labels == nil {
			cs.labels = cc.Labels()
		}
	}
	return cs
}

// collectionState is the set of rows currently represented for one named
// child collection of one parent row (or, for the root, the observer's
// top-level rows).
type collectionState struct {
	mu       sync.Mutex
	cc       *eval.ChildCollection // nil for the root collection
	labels   []string              // this level's own identity-contributing labels
	evaluated bool
	handlers []AddedFunc
	nodes    map[string]*rowNode
}

func (cs *collectionState) onAdded(fn AddedFunc) {
	cs.mu.Lock()
	cs.handlers = append(cs.handlers, fn)
	needsEval := cs.cc != nil && !cs.evaluated
	cs.evaluated = true
	existing := make([]*rowNode, 0, len(cs.nodes))
	for _, n := range cs.nodes {
		existing = append(existing, n)
	}
	cs.mu.Unlock()

	for _, n := range existing {
		d := fn(&Row{Value: n.value, Bindings: n.bindings, node: n})
		if d != nil {
			n.mu.Lock()
			n.disposers = append(n.disposers, d)
			n.mu.Unlock()
		}
	}

	if needsEval {
		rows, err := cs.cc.Rows(context.Background())
		if err != nil {
			logging.Get(logging.CategoryObserver).Warn("eager child evaluation failed: %v", err)
			return
		}
		for _, row := range rows {
			addRowTo(cs, nil, row.Bindings, row.Value)
		}
	}
}

// Observer is the public handle returned by Watch.
type Observer struct {
	ctx    context.Context
	cancel context.CancelFunc

	s        store.Store
	eval     *eval.Evaluator
	spec     *spec.Specification
	given    []fact.Reference
	labels   map[string][]string // resultPath key -> this level's own labels
	inverses []*inverse.Inverse
	callback AddedFunc // the handler Watch's caller supplied for the root collection

	sub *router.Subscription

	mu   sync.Mutex
	root *collectionState

	loaded    *future
	failedMu  sync.Mutex
	failedErr error

	sf singleflight.Group

	// catchingUp gates the "baseline then catch-up" window (§4.6): while
	// true, handleWorkItem buffers router deliveries instead of applying
	// them, so the initial Read (which may itself suspend on storage) can't
	// race a notification into a half-built result tree; Watch replays the
	// buffer once the baseline is in place.
	catchingUp atomic.Bool
	bufMu      sync.Mutex
	buffered   []router.WorkItem
}

type future struct {
	done chan struct{}
	err  error
}

func newFuture() *future { return &future{done: make(chan struct{})} }

func (f *future) resolve(err error) {
	f.err = err
	close(f.done)
}

// Wait blocks until the future resolves or ctx is done.
func (f *future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Watch constructs and starts an Observer: it subscribes to router for
// incremental updates (buffering them), evaluates s against given using the
// current store, delivers the initial result through callback, then replays
// the buffered updates (§4.6).
func Watch(ctx context.Context, s store.Store, r *router.Router, spc *spec.Specification, given []fact.Reference, callback AddedFunc) (*Observer, error) {
	timer := logging.StartTimer(logging.CategoryObserver, "Watch")
	defer timer.Stop()

	octx, cancel := context.WithCancel(ctx)
	o := &Observer{
		ctx:    octx,
		cancel: cancel,
		s:      s,
		eval:   eval.New(s),
		spec:   spc,
		given:  given,
		labels:   inverse.LevelLabels(spc),
		root:     &collectionState{nodes: make(map[string]*rowNode)},
		loaded:   newFuture(),
		callback: callback,
	}
	o.root.labels = o.labels[""]
	o.inverses = inverse.InversesOf(spc)

	// Subscribe (and start buffering deliveries) before the baseline read,
	// per §4.6's two-phase "baseline then catch-up": a notification racing
	// in during the Read below must not be lost or double-applied.
	o.catchingUp.Store(true)
	observerID := uuid.New().String()
	sub := r.Subscribe(observerID, o.handleWorkItem)
	for _, inv := range o.inverses {
		sub.AddInverse(inv)
	}
	o.sub = sub

	rows, err := o.eval.Read(octx, given, spc)
	if err != nil {
		sub.Unsubscribe()
		cancel()
		return nil, err
	}

	for _, row := range rows {
		addRowTo(o.root, callback, row.Bindings, row.Value)
	}

	o.catchingUp.Store(false)
	o.bufMu.Lock()
	toReplay := o.buffered
	o.buffered = nil
	o.bufMu.Unlock()
	for _, item := range toReplay {
		// An item whose pivot is already represented in the baseline (it
		// arrived before Read's snapshot but was buffered anyway) is a
		// no-op: addRowTo/removeFrom are idempotent on an already-applied
		// key, so replaying it here never double-delivers (§4.6).
		o.process(octx, item)
	}

	o.loaded.resolve(nil)
	logging.Get(logging.CategoryObserver).Info("observer %s loaded with %d root row(s)", observerID, len(rows))
	return o, nil
}

func addRowTo(cs *collectionState, callback AddedFunc, bindings map[string]fact.Reference, value interface{}) {
	key := identityKey(bindings, cs.labels)
	cs.mu.Lock()
	if _, exists := cs.nodes[key]; exists {
		cs.mu.Unlock()
		return
	}
	n := &rowNode{key: key, bindings: bindings, value: value}
	cs.nodes[key] = n
	handlers := append([]AddedFunc(nil), cs.handlers...)
	cs.mu.Unlock()

	if callback != nil {
		handlers = append([]AddedFunc{callback}, handlers...)
	}

	// Sibling handlers registered against the same row are independent of
	// each other, so they (and any child-collection eager reads OnAdded
	// triggers inside them) run concurrently rather than one at a time
	// (golang.org/x/sync/errgroup, matching the teacher's internal/retrieval
	// fan-out pattern).
	var group errgroup.Group
	for _, h := range handlers {
		h := h
		group.Go(func() error {
			d := h(&Row{Value: value, Bindings: bindings, node: n})
			if d != nil {
				n.mu.Lock()
				n.disposers = append(n.disposers, d)
				n.mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
}

func removeFrom(cs *collectionState) func(key string) {
	return func(key string) {
		cs.mu.Lock()
		n, ok := cs.nodes[key]
		if !ok {
			cs.mu.Unlock()
			return
		}
		delete(cs.nodes, key)
		cs.mu.Unlock()

		n.mu.Lock()
		disposers := n.disposers
		children := n.children
		n.mu.Unlock()

		for _, d := range disposers {
			safeDispose(d)
		}
		for _, child := range children {
			child.mu.Lock()
			keys := make([]string, 0, len(child.nodes))
			for k := range child.nodes {
				keys = append(keys, k)
			}
			child.mu.Unlock()
			remover := removeFrom(child)
			for _, k := range keys {
				remover(k)
			}
		}
	}
}

func safeDispose(d DisposeFunc) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryObserver).Warn("disposer panicked: %v", r)
		}
	}()
	d()
}

// Loaded resolves once the initial evaluation and its callbacks have
// completed.
func (o *Observer) Loaded(ctx context.Context) error {
	return o.loaded.Wait(ctx)
}

// Processed resolves once every notification enqueued on this observer's
// router subscription before the call has been drained (§4.6). If an
// unrecoverable store error marked the observer failed (§7 Propagation)
// at any point up to and including that drain, Processed rejects with it
// rather than reporting success.
func (o *Observer) Processed(ctx context.Context) error {
	select {
	case <-o.sub.Barrier():
		return o.Failed()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop unsubscribes from the router and releases the result tree (§4.6).
// Callbacks already mid-dispatch are not interrupted; no further callback
// fires once Stop returns.
func (o *Observer) Stop() {
	o.sub.Unsubscribe()
	o.cancel()
	o.mu.Lock()
	o.root = &collectionState{nodes: make(map[string]*rowNode)}
	o.mu.Unlock()
}

// handleWorkItem is the router.Handler bound to this observer's
// subscription: it evaluates one inverse against its pivot fact and applies
// the resulting Add/Remove delta to the result tree (§4.6 "Incremental
// update").
func (o *Observer) handleWorkItem(ctx context.Context, item router.WorkItem) {
	if o.catchingUp.Load() {
		o.bufMu.Lock()
		o.buffered = append(o.buffered, item)
		o.bufMu.Unlock()
		return
	}
	o.process(ctx, item)
}

func (o *Observer) process(ctx context.Context, item router.WorkItem) {
	inv := item.Inverse

	sfKey := fmt.Sprintf("%p:%s", inv, item.Ref.String())
	result, err, _ := o.sf.Do(sfKey, func() (interface{}, error) {
		given := o.givenFor(inv, item.Ref)
		return o.eval.Read(ctx, given, inv.InnerSpecification)
	})
	if err != nil {
		if isUnrecoverableStoreError(err) {
			o.fail(err)
			return
		}
		logging.Get(logging.CategoryObserver).Warn("inverse evaluation for pivot type %q failed: %v", inv.PivotType, err)
		return
	}
	rows := result.([]eval.Row)

	for _, row := range rows {
		target, ok := o.locate(inv.ResultPath, row.Bindings)
		if !ok {
			logging.Get(logging.CategoryObserver).Debug("no result-tree node at path %v for pivot %q; dropping notification", inv.ResultPath, inv.PivotType)
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Get(logging.CategoryObserver).Warn("callback panicked for pivot %q: %v", inv.PivotType, r)
				}
			}()
			switch inv.Operation {
			case inverse.Add:
				var cb AddedFunc
				if target == o.root {
					// A fresh root-level row reaches the observer's own
					// top-level handler the same way a baseline row does;
					// nested collections instead carry their handlers on
					// cs.handlers, registered via Collection.OnAdded.
					cb = o.callback
				}
				addRowTo(target, cb, row.Bindings, row.Value)
			case inverse.Remove:
				key := identityKey(row.Bindings, target.labels)
				removeFrom(target)(key)
			}
		}()
	}
}

// givenFor builds the Read given-list for inv: the observer's own top-level
// given facts followed by the pivot, unless inv is the self-inverse (whose
// InnerSpecification is the original specification itself), in which case
// the pivot simply replaces the sole given.
func (o *Observer) givenFor(inv *inverse.Inverse, pivot fact.Reference) []fact.Reference {
	if inv.InnerSpecification == o.spec {
		return []fact.Reference{pivot}
	}
	out := make([]fact.Reference, 0, len(o.given)+1)
	out = append(out, o.given...)
	out = append(out, pivot)
	return out
}

// locate walks path from the root collection to the collectionState that
// resultPath names, using bindings (the just-evaluated inverse row's own
// bindings, which carry every label from the outer given chain down to the
// pivot) to pick out, at each hop, which row of the current collection owns
// the next named child. Intermediate collections are created lazily (with
// no handlers yet) so a later OnAdded registration or eager Row.Child call
// still finds the rows an earlier notification already inserted (childState
// reconciles whichever of cc/labels arrives first).
func (o *Observer) locate(path []string, bindings map[string]fact.Reference) (*collectionState, bool) {
	o.mu.Lock()
	cur := o.root
	o.mu.Unlock()

	for i, name := range path {
		key := identityKey(bindings, cur.labels)
		cur.mu.Lock()
		n, ok := cur.nodes[key]
		cur.mu.Unlock()
		if !ok {
			return nil, false
		}
		cur = n.childState(name, nil)
		if cur.labels == nil {
			cur.labels = o.labels[pathKey(path[:i+1])]
		}
	}
	return cur, true
}

func identityKey(bindings map[string]fact.Reference, labels []string) string {
	t := make(fact.Tuple, 0, len(labels))
	for _, l := range labels {
		t = append(t, bindings[l])
	}
	return t.Key()
}

func pathKey(path []string) string {
	return strings.Join(path, ".")
}

func isUnrecoverableStoreError(err error) bool {
	_, ok := err.(*store.StoreError)
	return ok
}

func (o *Observer) fail(err error) {
	o.failedMu.Lock()
	o.failedErr = err
	o.failedMu.Unlock()
	logging.Get(logging.CategoryObserver).Warn("observer failed: %v", err)
}

// Failed reports the store error (if any) that marked this observer failed.
func (o *Observer) Failed() error {
	o.failedMu.Lock()
	defer o.failedMu.Unlock()
	return o.failedErr
}
