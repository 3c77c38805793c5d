package feed

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryFeed_DeliversToCollectionSubscribers(t *testing.T) {
	f := NewMemoryFeed()
	ctx := context.Background()

	var invites, lobbies []Change
	if _, err := f.Subscribe(ctx, "gameInvites", func(c Change) { invites = append(invites, c) }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.Subscribe(ctx, "lobbies", func(c Change) { lobbies = append(lobbies, c) }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := f.Publish(ctx, Change{Collection: "gameInvites", ID: "i1", Op: OpSet}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	if len(invites) != 1 || invites[0].ID != "i1" {
		t.Fatalf("expected one invite change, got %+v", invites)
	}
	if len(lobbies) != 0 {
		t.Fatalf("expected no lobby changes, got %+v", lobbies)
	}
}

func TestMemoryFeed_Unsubscribe(t *testing.T) {
	f := NewMemoryFeed()
	ctx := context.Background()

	calls := 0
	sub, err := f.Subscribe(ctx, "gameInvites", func(Change) { calls++ })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(f.subs["gameInvites"]); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unexpected unsubscribe error: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("second unsubscribe should be a no-op, got %v", err)
	}

	_ = f.Publish(ctx, Change{Collection: "gameInvites", ID: "i1", Op: OpDelete})
	if calls != 0 {
		t.Fatalf("expected no calls after unsubscribe, got %d", calls)
	}
	if _, ok := f.subs["gameInvites"]; ok {
		t.Fatal("expected the empty collection entry to be removed")
	}
}

func TestMemoryFeed_HandlerMayUnsubscribe(t *testing.T) {
	f := NewMemoryFeed()
	ctx := context.Background()

	var sub Subscription
	calls := 0
	sub, err := f.Subscribe(ctx, "c", func(Change) {
		calls++
		_ = sub.Unsubscribe()
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_ = f.Publish(ctx, Change{Collection: "c", ID: "1"})
	_ = f.Publish(ctx, Change{Collection: "c", ID: "2"})
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
}

func TestMemoryFeed_Closed(t *testing.T) {
	f := NewMemoryFeed()
	if err := f.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if err := f.Publish(context.Background(), Change{Collection: "c", ID: "1"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := f.Subscribe(context.Background(), "c", func(Change) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := f.Health(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from health, got %v", err)
	}
}

func TestChangeEncoding(t *testing.T) {
	data, err := encodeChange(Change{Collection: "gameInvites", ID: "invite_a_b_1", Op: OpUpdate, At: 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := decodeChange(data)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if got.Collection != "gameInvites" || got.ID != "invite_a_b_1" || got.Op != OpUpdate || got.At != 7 {
		t.Fatalf("unexpected change: %+v", got)
	}
}

func TestDecodeChange_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{"},
		{"missing id", `{"collection":"c"}`},
		{"missing collection", `{"id":"1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeChange([]byte(tt.data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestChannelNames(t *testing.T) {
	if got := RedisChannel("lobbies"); got != "docs:lobbies" {
		t.Fatalf("unexpected redis channel %q", got)
	}
	if got := NATSSubject("lobbies"); got != "docs.lobbies" {
		t.Fatalf("unexpected nats subject %q", got)
	}
}
