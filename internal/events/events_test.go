package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func TestBusDeliversByType(t *testing.T) {
	bus := NewBus(nil)

	var credits, all recorder
	bus.Subscribe(EventTypeCreditsChanged, credits.handle)
	bus.SubscribeAll(all.handle)

	ctx := context.Background()
	bus.Emit(ctx, CreditsChanged{CreditIDs: []uuid.UUID{uuid.New()}, Reason: "renewal"})
	bus.Emit(ctx, CardsChanged{Reason: "create"})
	bus.Wait()

	require.Len(t, credits.snapshot(), 1)
	assert.Equal(t, EventTypeCreditsChanged, credits.snapshot()[0].Type())
	assert.Len(t, all.snapshot(), 2)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(nil)

	var r recorder
	cancel := bus.Subscribe(EventTypeLoading, r.handle)
	cancel()

	bus.Emit(context.Background(), Loading{Operation: "renewal", Active: true})
	bus.Wait()

	assert.Empty(t, r.snapshot())
}

func TestBusPreservesOrderPerSubscriber(t *testing.T) {
	bus := NewBus(nil)

	var loading, all recorder
	bus.Subscribe(EventTypeLoading, loading.handle)
	bus.SubscribeAll(all.handle)

	const rounds = 1000
	ctx := context.Background()
	for range rounds {
		bus.Emit(ctx, Loading{Operation: "renewal", Active: true})
		bus.Emit(ctx, Loading{Operation: "renewal", Active: false})
	}
	bus.Wait()

	for name, r := range map[string]*recorder{"loading": &loading, "all": &all} {
		got := r.snapshot()
		require.Len(t, got, 2*rounds, name)
		for i, e := range got {
			l, ok := e.(Loading)
			require.True(t, ok, name)
			if l.Active != (i%2 == 0) {
				t.Fatalf("%s: event %d has Active=%v, order broken", name, i, l.Active)
			}
		}
	}
}

func TestBusSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(nil)

	release := make(chan struct{})
	bus.Subscribe(EventTypeLoading, func(context.Context, Event) { <-release })

	var fast recorder
	bus.Subscribe(EventTypeLoading, fast.handle)

	bus.Emit(context.Background(), Loading{Operation: "renewal", Active: true})
	bus.Emit(context.Background(), Loading{Operation: "renewal", Active: false})

	assert.Eventually(t, func() bool { return len(fast.snapshot()) == 2 }, time.Second, 10*time.Millisecond)
	close(release)
	bus.Wait()
}

func TestBusUnsubscribeDropsQueued(t *testing.T) {
	bus := NewBus(nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	cancel := bus.Subscribe(EventTypeLoading, func(context.Context, Event) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
		}
	})

	for range 5 {
		bus.Emit(context.Background(), Loading{Operation: "renewal"})
	}
	<-started
	cancel()
	close(release)
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestBusRecoversFromPanic(t *testing.T) {
	bus := NewBus(nil)

	var r recorder
	bus.Subscribe(EventTypeError, func(context.Context, Event) { panic("boom") })
	bus.Subscribe(EventTypeError, r.handle)

	bus.Emit(context.Background(), Failed{Operation: "renewal", Message: "disk full"})
	bus.Wait()

	assert.Len(t, r.snapshot(), 1)
}

func TestTransactionalBusFlushAndDiscard(t *testing.T) {
	bus := NewBus(nil)

	var r recorder
	bus.SubscribeAll(r.handle)

	tx := NewTransactionalBus(bus)
	tx.Publish(CreditsChanged{Reason: "renewal"})
	assert.Equal(t, 1, tx.Pending())
	bus.Wait()
	assert.Empty(t, r.snapshot(), "nothing is delivered before flush")

	tx.Discard()
	tx.Flush(context.Background())
	bus.Wait()
	assert.Empty(t, r.snapshot())

	tx.Publish(CardsChanged{Reason: "import"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	delivered := make(chan error, 1)
	bus.SubscribeAll(func(ctx context.Context, _ Event) { delivered <- ctx.Err() })
	tx.Flush(ctx)

	select {
	case err := <-delivered:
		assert.NoError(t, err, "flush context must outlive the operation")
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
	bus.Wait()
	assert.Len(t, r.snapshot(), 1)
	assert.Zero(t, tx.Pending())
}
