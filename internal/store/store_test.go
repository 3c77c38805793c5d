package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HammerMeetNail/quizduel/internal/feed"
	"github.com/HammerMeetNail/quizduel/internal/logging"
)

type record struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

func newTestStore(t *testing.T) (*DocumentStore, *MemoryBackend, *feed.MemoryFeed) {
	t.Helper()
	backend := NewMemoryBackend()
	changes := feed.NewMemoryFeed()
	logger := logging.New().SetOutput(discard{})
	return New(backend, changes, logger), backend, changes
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestDocumentStore_CRUD(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "things", "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "things", "a", record{Name: "A", Status: "new", Count: 1}); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	if err := s.Update(ctx, "things", "a", map[string]any{"status": "done"}); err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}

	doc, err := s.Get(ctx, "things", "a")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	var got record
	if err := doc.DataTo(&got); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if got.Name != "A" || got.Status != "done" || got.Count != 1 {
		t.Fatalf("unexpected record: %+v", got)
	}

	if err := s.Delete(ctx, "things", "a"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if err := s.Delete(ctx, "things", "a"); err != nil {
		t.Fatalf("deleting an absent document should succeed, got %v", err)
	}
	if _, err := s.Get(ctx, "things", "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDocumentStore_UpdateMissing(t *testing.T) {
	s, _, _ := newTestStore(t)
	err := s.Update(context.Background(), "things", "nope", map[string]any{"status": "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type namedStatus string

func TestDocumentStore_QueryEqualityFilters(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "things", "b", record{Name: "x", Status: "open", Count: 2})
	_ = s.Set(ctx, "things", "a", record{Name: "x", Status: "open", Count: 1})
	_ = s.Set(ctx, "things", "c", record{Name: "x", Status: "closed", Count: 1})
	_ = s.Set(ctx, "other", "d", record{Name: "x", Status: "open", Count: 1})

	docs, err := s.Query(ctx, "things", Eq("name", "x"), Eq("status", namedStatus("open")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "a" || docs[1].ID != "b" {
		t.Fatalf("expected a and b in id order, got %+v", docs)
	}

	docs, err = s.Query(ctx, "things", Eq("count", 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 numeric matches, got %d", len(docs))
	}

	if _, err := s.Query(ctx, "things", Eq("", "x")); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
}

func TestDocumentStore_TransactionCommitsAndPublishes(t *testing.T) {
	s, backend, changes := newTestStore(t)
	ctx := context.Background()
	_ = s.Set(ctx, "things", "a", record{Name: "A"})

	var seen []feed.Change
	sub, _ := changes.Subscribe(ctx, "things", func(c feed.Change) { seen = append(seen, c) })
	defer sub.Unsubscribe()

	err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Get(ctx, "things", "a"); err != nil {
			return err
		}
		if err := tx.Update(ctx, "things", "a", map[string]any{"status": "moved"}); err != nil {
			return err
		}
		return tx.Set(ctx, "things", "b", record{Name: "B"})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.Len("things") != 2 {
		t.Fatalf("expected 2 documents, got %d", backend.Len("things"))
	}
	if len(seen) != 2 || seen[0].Op != feed.OpUpdate || seen[1].ID != "b" {
		t.Fatalf("unexpected published changes: %+v", seen)
	}
}

func TestDocumentStore_TransactionRollsBack(t *testing.T) {
	s, backend, changes := newTestStore(t)
	ctx := context.Background()
	_ = s.Set(ctx, "things", "a", record{Name: "A", Status: "open"})

	published := 0
	sub, _ := changes.Subscribe(ctx, "things", func(feed.Change) { published++ })
	defer sub.Unsubscribe()

	boom := errors.New("boom")
	err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.Set(ctx, "things", "b", record{Name: "B"}); err != nil {
			return err
		}
		if err := tx.Delete(ctx, "things", "a"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if backend.Len("things") != 1 {
		t.Fatalf("expected rollback to keep 1 document, got %d", backend.Len("things"))
	}
	if _, err := s.Get(ctx, "things", "a"); err != nil {
		t.Fatalf("expected a to survive rollback, got %v", err)
	}
	if published != 0 {
		t.Fatalf("expected nothing published, got %d", published)
	}
}

func TestDocumentStore_TransactionCreateDoesNotOverwrite(t *testing.T) {
	s, _, changes := newTestStore(t)
	ctx := context.Background()
	_ = s.Set(ctx, "lobbies", "friend_1", record{Name: "first"})

	published := 0
	sub, _ := changes.Subscribe(ctx, "lobbies", func(feed.Change) { published++ })
	defer sub.Unsubscribe()

	err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		return tx.Create(ctx, "lobbies", "friend_1", record{Name: "second"})
	})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	doc, _ := s.Get(ctx, "lobbies", "friend_1")
	var r record
	_ = doc.DataTo(&r)
	if r.Name != "first" {
		t.Fatalf("expected first lobby to survive, got %+v", r)
	}

	err = s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		return tx.Create(ctx, "lobbies", "friend_2", record{Name: "second"})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if published != 1 {
		t.Fatalf("expected one published change, got %d", published)
	}
}

func TestDocumentStore_TransactionReadsOwnWrites(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.Set(ctx, "things", "a", record{Name: "A"}); err != nil {
			return err
		}
		doc, err := tx.Get(ctx, "things", "a")
		if err != nil {
			return err
		}
		var r record
		if err := doc.DataTo(&r); err != nil {
			return err
		}
		if r.Name != "A" {
			t.Errorf("expected staged write to be visible, got %+v", r)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch callback")
	}
	var zero T
	return zero
}

func TestDocumentStore_WatchDeliversSnapshots(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	snaps := make(chan *Document, 10)
	unsubscribe, err := s.Watch(ctx, "things", "a", func(doc *Document) { snaps <- doc })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if doc := waitFor(t, snaps); doc != nil {
		t.Fatalf("expected nil initial snapshot, got %+v", doc)
	}

	_ = s.Set(ctx, "things", "a", record{Name: "A"})
	if doc := waitFor(t, snaps); doc == nil || doc.ID != "a" {
		t.Fatalf("expected snapshot of a, got %+v", doc)
	}

	_ = s.Delete(ctx, "things", "a")
	if doc := waitFor(t, snaps); doc != nil {
		t.Fatalf("expected nil after delete, got %+v", doc)
	}

	unsubscribe()
	unsubscribe()

	_ = s.Set(ctx, "things", "a", record{Name: "again"})
	select {
	case doc := <-snaps:
		t.Fatalf("expected no callback after unsubscribe, got %+v", doc)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDocumentStore_WatchIgnoresOtherDocuments(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	snaps := make(chan *Document, 10)
	unsubscribe, err := s.Watch(ctx, "things", "a", func(doc *Document) { snaps <- doc })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer unsubscribe()
	waitFor(t, snaps)

	_ = s.Set(ctx, "things", "b", record{Name: "B"})
	select {
	case doc := <-snaps:
		t.Fatalf("expected no callback for another document, got %+v", doc)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDocumentStore_WatchQuery(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	results := make(chan []Document, 10)
	unsubscribe, err := s.WatchQuery(ctx, "things", []Filter{Eq("status", "open")}, func(docs []Document) {
		results <- docs
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer unsubscribe()

	if docs := waitFor(t, results); len(docs) != 0 {
		t.Fatalf("expected empty initial result, got %+v", docs)
	}

	_ = s.Set(ctx, "things", "a", record{Status: "open"})
	if docs := waitFor(t, results); len(docs) != 1 {
		t.Fatalf("expected 1 result, got %+v", docs)
	}

	_ = s.Update(ctx, "things", "a", map[string]any{"status": "closed"})
	if docs := waitFor(t, results); len(docs) != 0 {
		t.Fatalf("expected 0 results after status change, got %+v", docs)
	}
}

func TestDocumentStore_WatchInvalidFilter(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.WatchQuery(context.Background(), "things", []Filter{{Value: "x"}}, func([]Document) {})
	if !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
}

type failingFeed struct {
	*feed.MemoryFeed
	subscribeErr error
	publishErr   error
}

func (f *failingFeed) Subscribe(ctx context.Context, collection string, fn feed.Handler) (feed.Subscription, error) {
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	return f.MemoryFeed.Subscribe(ctx, collection, fn)
}

func (f *failingFeed) Publish(ctx context.Context, change feed.Change) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	return f.MemoryFeed.Publish(ctx, change)
}

func TestDocumentStore_PublishFailureKeepsWrite(t *testing.T) {
	backend := NewMemoryBackend()
	changes := &failingFeed{MemoryFeed: feed.NewMemoryFeed(), publishErr: errors.New("feed down")}
	s := New(backend, changes, logging.New().SetOutput(discard{}))

	if err := s.Set(context.Background(), "things", "a", record{Name: "A"}); err != nil {
		t.Fatalf("expected write to succeed despite feed failure, got %v", err)
	}
	if backend.Len("things") != 1 {
		t.Fatal("expected document to be stored")
	}
}

func TestDocumentStore_WatchSubscribeFailure(t *testing.T) {
	changes := &failingFeed{MemoryFeed: feed.NewMemoryFeed(), subscribeErr: errors.New("feed down")}
	s := New(NewMemoryBackend(), changes, logging.New().SetOutput(discard{}))

	called := false
	_, err := s.Watch(context.Background(), "things", "a", func(*Document) { called = true })
	if err == nil {
		t.Fatal("expected error")
	}
	if called {
		t.Fatal("expected no callback when the subscription fails")
	}
}
