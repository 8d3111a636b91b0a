// Package router implements the Notification Router (§4.5): a single
// process-wide component that fans newly-persisted fact batches out to every
// subscribed (observer, inverse) pair, one FIFO work queue per observer.
//
// Grounded on internal/shards/observer_manager.go's BackgroundObserverManager:
// the same shape (a mutex-guarded map of live subscriptions, a buffered
// channel drained by a goroutine started at Subscribe time, a
// context.CancelFunc + sync.WaitGroup pair for synchronous teardown), but
// generalized from one shared eventChan to one queue per observer so that, as
// §5 requires, "an observer never sees a callback for batch N+1 before it has
// finished processing all work items from batch N" while two different
// observers' callbacks never block one another.
package router

import (
	"context"
	"sync"

	"factgraph/internal/logging"
	"factgraph/pkg/fact"
	"factgraph/pkg/inverse"
	"factgraph/pkg/store"
)

// queueDepth bounds how many work items a slow observer may fall behind by
// before Notify itself blocks. The store calls Notify synchronously at the
// end of Save (§4.5), so an unbounded backlog here would make every writer
// pay for the slowest observer; a bounded channel applies natural
// backpressure instead.
const queueDepth = 256

// WorkItem is one (inverse, fact) pair queued for a single observer, in the
// order §5 requires: storage order within a batch, save order across
// batches.
type WorkItem struct {
	Inverse      *inverse.Inverse
	Fact         fact.Fact
	Ref          fact.Reference
	BatchVersion int64
}

// Handler processes one WorkItem. The router invokes it synchronously from
// the observer's single dispatch goroutine, so handlers for the same
// observer never run concurrently with each other (§5 "serialized
// execution").
type Handler func(ctx context.Context, item WorkItem)

// Router maintains the factType → (observer, inverse) mapping and dispatches
// notify()'d batches to each interested observer's own FIFO (§4.5).
type Router struct {
	mu   sync.RWMutex
	subs map[string]*subscription
}

// New constructs an empty Router.
func New() *Router {
	return &Router{subs: make(map[string]*subscription)}
}

type queuedItem struct {
	item    WorkItem
	barrier func()
}

type subscription struct {
	id       string
	handler  Handler
	queue    chan queuedItem
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	inverses map[string][]*inverse.Inverse // factType -> inverses, insertion order preserved
}

// Subscribe registers an observer with the router and starts its dispatch
// goroutine. handler is invoked for every matching WorkItem, in order,
// one at a time. Call the returned AddInverse to register which fact types
// this observer cares about; call Unsubscribe to stop and discard its
// pending queue.
func (r *Router) Subscribe(observerID string, handler Handler) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		id:       observerID,
		handler:  handler,
		queue:    make(chan queuedItem, queueDepth),
		ctx:      ctx,
		cancel:   cancel,
		inverses: make(map[string][]*inverse.Inverse),
	}

	r.mu.Lock()
	r.subs[observerID] = sub
	r.mu.Unlock()

	sub.wg.Add(1)
	go sub.dispatchLoop()

	logging.Get(logging.CategoryRouter).Debug("subscribed observer %s", observerID)
	return &Subscription{router: r, sub: sub}
}

// Subscription is the handle an Observer holds for its own router
// registration.
type Subscription struct {
	router *Router
	sub    *subscription
}

// AddInverse registers inv as one of this subscription's triggers: future
// Notify calls carrying a fact of inv.PivotType enqueue a WorkItem for it.
func (s *Subscription) AddInverse(inv *inverse.Inverse) {
	s.sub.mu.Lock()
	defer s.sub.mu.Unlock()
	s.sub.inverses[inv.PivotType] = append(s.sub.inverses[inv.PivotType], inv)
}

// Barrier enqueues a marker after every WorkItem currently queued for this
// subscription and returns a channel closed once the dispatch goroutine
// reaches it — the mechanism behind Observer.Processed() (§4.6): "resolves
// when every notification enqueued before the call has been drained."
func (s *Subscription) Barrier() <-chan struct{} {
	ch := make(chan struct{})
	select {
	case s.sub.queue <- queuedItem{barrier: func() { close(ch) }}:
	case <-s.sub.ctx.Done():
		close(ch)
	}
	return ch
}

// Unsubscribe removes the subscription from the router's tables (so no
// subsequent Notify call enqueues further work for it) and stops its
// dispatch goroutine, discarding anything still queued. Synchronous: once
// Unsubscribe returns, no further callback for this observer will run (§5
// "stop safety"), bar the one item that may already be mid-dispatch.
func (s *Subscription) Unsubscribe() {
	s.router.mu.Lock()
	delete(s.router.subs, s.sub.id)
	s.router.mu.Unlock()

	s.sub.cancel()
	s.sub.wg.Wait()
	logging.Get(logging.CategoryRouter).Debug("unsubscribed observer %s", s.sub.id)
}

// dispatchLoop is the single consumer of this subscription's queue (§9
// "cooperative concurrency... a single-consumer FIFO drained by a task").
// Cancellation is checked with priority over dequeuing a new item so that,
// once Unsubscribe has called cancel, queued-but-undelivered items are
// discarded rather than dispatched.
func (s *subscription) dispatchLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		select {
		case <-s.ctx.Done():
			return
		case qi := <-s.queue:
			if qi.barrier != nil {
				qi.barrier()
				continue
			}
			s.handler(s.ctx, qi.item)
		}
	}
}

// Attach wires the Router as s's save subscriber (§4.5 "called by the
// storage layer at the end of every successful save"), so every future
// Notify call happens automatically. The returned func detaches it.
func (r *Router) Attach(s store.Store) (detach func()) {
	return s.SubscribeToSaves(r.Notify)
}

// Notify is the storage layer's hook (§4.5, §6 subscribeToSaves): called
// once per successfully persisted batch. For every fact in the batch, in
// declared order, every subscribed observer's matching inverses are enqueued
// onto that observer's own FIFO.
func (r *Router) Notify(batch store.Batch) {
	r.mu.RLock()
	subs := make([]*subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	for i, f := range batch.Facts {
		ref := batch.Refs[i]
		for _, sub := range subs {
			sub.mu.Lock()
			matching := sub.inverses[f.Type]
			sub.mu.Unlock()
			for _, inv := range matching {
				item := queuedItem{item: WorkItem{Inverse: inv, Fact: f, Ref: ref, BatchVersion: batch.Version}}
				select {
				case sub.queue <- item:
				case <-sub.ctx.Done():
				}
			}
		}
	}
}
