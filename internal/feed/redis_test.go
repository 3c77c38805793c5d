package feed

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/HammerMeetNail/quizduel/internal/logging"
)

func newMiniredisFeed(t *testing.T) (*RedisFeed, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:            mr.Addr(),
		Protocol:        2,
		DisableIdentity: true,
	})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisFeed(client, logging.New().SetOutput(io.Discard)), client
}

func waitChange(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func expectNoChange(t *testing.T, ch <-chan Change) {
	t.Helper()
	select {
	case c := <-ch:
		t.Fatalf("unexpected change %+v", c)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisFeed_RoundTrip(t *testing.T) {
	f, client := newMiniredisFeed(t)
	ctx := context.Background()

	got := make(chan Change, 4)
	sub, err := f.Subscribe(ctx, "gameInvites", func(c Change) { got <- c })
	if err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}

	// The subscription is registered by the time Subscribe returns.
	receivers, err := client.Publish(ctx, RedisChannel("gameInvites"), "not json").Result()
	if err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if receivers != 1 {
		t.Fatalf("expected 1 receiver, got %d", receivers)
	}

	if err := f.Publish(ctx, Change{Collection: "lobbies", ID: "friend_1", Op: OpSet}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if err := f.Publish(ctx, Change{Collection: "gameInvites", ID: "invite_a_b_1", Op: OpUpdate, At: 5}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	c := waitChange(t, got)
	if c.ID != "invite_a_b_1" || c.Op != OpUpdate || c.At != 5 {
		t.Fatalf("unexpected change %+v", c)
	}
	expectNoChange(t, got)

	if err := f.Health(ctx); err != nil {
		t.Fatalf("unexpected health error: %v", err)
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unexpected unsubscribe error: %v", err)
	}
	select {
	case <-sub.(*redisSubscription).done:
	default:
		t.Fatal("expected delivery goroutine to have exited")
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("second unsubscribe should be a no-op, got %v", err)
	}

	_ = f.Publish(ctx, Change{Collection: "gameInvites", ID: "invite_a_b_2", Op: OpSet})
	expectNoChange(t, got)
}

func TestRedisFeed_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })
	f := NewRedisFeed(client, nil)
	ctx := context.Background()

	if _, err := f.Subscribe(ctx, "gameInvites", func(Change) {}); err == nil {
		t.Fatal("expected subscribe error")
	}
	if err := f.Publish(ctx, Change{Collection: "gameInvites", ID: "i1", Op: OpSet}); err == nil {
		t.Fatal("expected publish error")
	}
	if err := f.Health(ctx); err == nil {
		t.Fatal("expected health error")
	}
}

func TestRedisFeed_DeliverDropsMalformed(t *testing.T) {
	var buf bytes.Buffer
	f := NewRedisFeed(nil, logging.New().SetOutput(&buf))

	valid, err := encodeChange(Change{Collection: "gameInvites", ID: "i1", Op: OpDelete})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ch := make(chan *redis.Message, 3)
	ch <- &redis.Message{Channel: RedisChannel("gameInvites"), Payload: "{"}
	ch <- &redis.Message{Channel: RedisChannel("gameInvites"), Payload: `{"collection":"gameInvites"}`}
	ch <- &redis.Message{Channel: RedisChannel("gameInvites"), Payload: string(valid)}
	close(ch)

	var changes []Change
	f.deliver(ch, func(c Change) { changes = append(changes, c) })

	if len(changes) != 1 || changes[0].ID != "i1" {
		t.Fatalf("expected only the valid change, got %+v", changes)
	}
	if n := strings.Count(buf.String(), "Dropping malformed change"); n != 2 {
		t.Fatalf("expected 2 drop warnings, got %d: %s", n, buf.String())
	}
}
