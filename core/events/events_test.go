package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPublish_Order(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got []string
	record := func(tag string) Handler {
		return func(ctx context.Context, e Event) error {
			got = append(got, tag)
			return nil
		}
	}

	bus.Subscribe("*", record("all"))
	bus.Subscribe("product.*", record("prefix"))
	bus.Subscribe("product.created", record("exact-1"))
	bus.Subscribe("product.created", record("exact-2"))
	bus.Subscribe("order.created", record("other"))

	bus.Publish(context.Background(), Event{Name: "product.created", Collection: "product"})

	want := []string{"exact-1", "exact-2", "prefix", "all"}
	if len(got) != len(want) {
		t.Fatalf("handlers called = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPublish_ErrorsDoNotStopDelivery(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	called := false
	bus.Subscribe("x.y", func(ctx context.Context, e Event) error {
		return errors.New("boom")
	})
	bus.Subscribe("x.y", func(ctx context.Context, e Event) error {
		called = true
		return nil
	})

	if failed := bus.Publish(context.Background(), Event{Name: "x.y"}); failed != 1 {
		t.Errorf("Publish() failed = %d, want 1", failed)
	}
	if !called {
		t.Error("second handler was not called")
	}
}

func TestPublish_HandlerMaySubscribe(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	bus.Subscribe("a", func(ctx context.Context, e Event) error {
		bus.Subscribe("b", func(ctx context.Context, e Event) error { return nil })
		return nil
	})

	done := make(chan struct{})
	go func() {
		bus.Publish(context.Background(), Event{Name: "a"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish deadlocked when a handler subscribed")
	}
	if !bus.HasSubscribers("b") {
		t.Error("subscription from handler was lost")
	}
}

func TestPublishAsync(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var wg sync.WaitGroup
	wg.Add(1)
	var received Event
	bus.Subscribe("product.deleted", func(ctx context.Context, e Event) error {
		defer wg.Done()
		if ctx.Err() != nil {
			t.Error("handler context should not be cancelled")
		}
		received = e
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	bus.PublishAsync(ctx, Event{Name: "product.deleted", Subject: "u1"})
	cancel()
	wg.Wait()

	if received.Subject != "u1" {
		t.Errorf("Subject = %q, want u1", received.Subject)
	}
}

func TestHasSubscribers(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	if bus.HasSubscribers("product.created") {
		t.Error("empty bus should have no subscribers")
	}
	bus.Subscribe("product.*", func(ctx context.Context, e Event) error { return nil })
	if !bus.HasSubscribers("product.created") {
		t.Error("prefix wildcard should match")
	}
	if bus.HasSubscribers("order.created") {
		t.Error("prefix wildcard should not match other collections")
	}
}
