package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestRedisRelay_SharesEventsBetweenHubs(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	newRelayHub := func() *Hub {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		hub := NewHub().WithRelay(NewRedisRelay(client, zerolog.Nop()))
		if err := hub.StartRelay(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		t.Cleanup(func() { hub.Close() })
		return hub
	}

	a := newRelayHub()
	b := newRelayHub()

	onA := a.Listen(ctx, 4, "calls.u1")
	onB := b.Listen(ctx, 4, "calls.u1")

	if err := a.Publish(ctx, Event{Type: "call.ringing", Topic: "calls.u1", ResourceID: "c1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case e := <-onB:
		if e.ResourceID != "c1" {
			t.Errorf("expected c1 on remote hub, got %s", e.ResourceID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("remote hub did not receive the event")
	}

	select {
	case <-onA:
	case <-time.After(time.Second):
		t.Fatal("origin hub did not deliver locally")
	}
	select {
	case e := <-onA:
		t.Fatalf("origin hub received its own event twice: %+v", e)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRedisRelay_StartTwice(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	relay := NewRedisRelay(client, zerolog.Nop())
	ctx := context.Background()
	if err := relay.Start(ctx, func(Event) {}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer relay.Close()

	if err := relay.Start(ctx, func(Event) {}); err == nil {
		t.Error("expected error starting an already started relay")
	}
}

func TestRedisRelay_CloseWithoutStart(t *testing.T) {
	relay := NewRedisRelay(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), zerolog.Nop())
	if err := relay.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
