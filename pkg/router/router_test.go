package router_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"factgraph/pkg/fact"
	"factgraph/pkg/inverse"
	"factgraph/pkg/router"
	"factgraph/pkg/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func officeInverse() *inverse.Inverse {
	return &inverse.Inverse{PivotType: "Office", Operation: inverse.Add}
}

// TestHandlerSerializedPerObserver covers §5 "serialized execution": one
// subscription's handler never runs concurrently with itself, and batches
// are delivered in the order Notify was called.
func TestHandlerSerializedPerObserver(t *testing.T) {
	r := router.New()
	inv := officeInverse()

	var mu sync.Mutex
	var order []int64
	var inFlight int32

	sub := r.Subscribe("observer-1", func(ctx context.Context, item router.WorkItem) {
		require.Equal(t, int32(0), inFlight, "handler must not run concurrently with itself")
		inFlight++
		time.Sleep(time.Millisecond)
		inFlight--
		mu.Lock()
		order = append(order, item.BatchVersion)
		mu.Unlock()
	})
	defer sub.Unsubscribe()
	sub.AddInverse(inv)

	for v := int64(1); v <= 5; v++ {
		r.Notify(store.Batch{
			Version: v,
			Facts:   []fact.Fact{{Type: "Office"}},
			Refs:    []fact.Reference{{Type: "Office", Hash: "h"}},
		})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int64{1, 2, 3, 4, 5}, order)
}

// TestBarrierWaitsForQueuedWork covers Observer.Processed's underlying
// mechanism (§4.6): Barrier resolves only once every WorkItem enqueued
// before the call has been dispatched.
func TestBarrierWaitsForQueuedWork(t *testing.T) {
	r := router.New()
	inv := officeInverse()

	var mu sync.Mutex
	processed := 0
	release := make(chan struct{})

	sub := r.Subscribe("observer-1", func(ctx context.Context, item router.WorkItem) {
		<-release
		mu.Lock()
		processed++
		mu.Unlock()
	})
	defer sub.Unsubscribe()
	sub.AddInverse(inv)

	for i := 0; i < 3; i++ {
		r.Notify(store.Batch{
			Version: int64(i + 1),
			Facts:   []fact.Fact{{Type: "Office"}},
			Refs:    []fact.Reference{{Type: "Office", Hash: "h"}},
		})
	}

	barrier := sub.Barrier()

	select {
	case <-barrier:
		t.Fatal("barrier resolved before queued work was drained")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)

	select {
	case <-barrier:
	case <-time.After(time.Second):
		t.Fatal("barrier never resolved")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 3, processed)
}

// TestUnsubscribeStopsFurtherDelivery covers §5 "stop safety": once
// Unsubscribe returns, no Notify call delivers a further WorkItem for that
// subscription, even if items were queued beforehand.
func TestUnsubscribeStopsFurtherDelivery(t *testing.T) {
	r := router.New()
	inv := officeInverse()

	var mu sync.Mutex
	delivered := 0

	sub := r.Subscribe("observer-1", func(ctx context.Context, item router.WorkItem) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})
	sub.AddInverse(inv)

	r.Notify(store.Batch{
		Version: 1,
		Facts:   []fact.Fact{{Type: "Office"}},
		Refs:    []fact.Reference{{Type: "Office", Hash: "h"}},
	})
	require.NoError(t, (func() error { <-sub.Barrier(); return nil })())

	sub.Unsubscribe()

	r.Notify(store.Batch{
		Version: 2,
		Facts:   []fact.Fact{{Type: "Office"}},
		Refs:    []fact.Reference{{Type: "Office", Hash: "h"}},
	})

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, delivered)
}

// TestAttachDeliversSaveOrder covers §4.5/§6: Router.Attach wires Notify as
// the store's save subscriber, and facts within one batch are enqueued in
// their declared order.
func TestAttachDeliversSaveOrder(t *testing.T) {
	s := store.NewMemoryStore()
	r := router.New()
	detach := r.Attach(s)
	defer detach()

	var mu sync.Mutex
	var types []string

	sub := r.Subscribe("observer-1", func(ctx context.Context, item router.WorkItem) {
		mu.Lock()
		types = append(types, item.Fact.Type)
		mu.Unlock()
	})
	defer sub.Unsubscribe()
	sub.AddInverse(&inverse.Inverse{PivotType: "Company"})
	sub.AddInverse(&inverse.Inverse{PivotType: "Office"})

	_, err := s.Save(context.Background(), []fact.Fact{
		{Type: "Company", Fields: fact.Fields{"id": "A"}},
		{Type: "Office", Fields: fact.Fields{"id": "B"}},
	})
	require.NoError(t, err)

	<-sub.Barrier()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"Company", "Office"}, types)
}
