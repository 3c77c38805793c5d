package feed

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryFeed delivers changes synchronously to in-process subscribers.
type MemoryFeed struct {
	mu     sync.RWMutex
	subs   map[string]map[uuid.UUID]Handler
	closed bool
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[string]map[uuid.UUID]Handler)}
}

func (f *MemoryFeed) Publish(ctx context.Context, change Change) error {
	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]Handler, 0, len(f.subs[change.Collection]))
	for _, fn := range f.subs[change.Collection] {
		handlers = append(handlers, fn)
	}
	f.mu.RUnlock()

	// Handlers run outside the lock so they may subscribe or unsubscribe.
	for _, fn := range handlers {
		fn(change)
	}
	return nil
}

func (f *MemoryFeed) Subscribe(ctx context.Context, collection string, fn Handler) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}

	id := uuid.New()
	if f.subs[collection] == nil {
		f.subs[collection] = make(map[uuid.UUID]Handler)
	}
	f.subs[collection][id] = fn
	return &memorySubscription{feed: f, collection: collection, id: id}, nil
}

func (f *MemoryFeed) Health(ctx context.Context) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrClosed
	}
	return nil
}

func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.subs = make(map[string]map[uuid.UUID]Handler)
	return nil
}

type memorySubscription struct {
	feed       *MemoryFeed
	collection string
	id         uuid.UUID
}

func (s *memorySubscription) Unsubscribe() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	delete(s.feed.subs[s.collection], s.id)
	if len(s.feed.subs[s.collection]) == 0 {
		delete(s.feed.subs, s.collection)
	}
	return nil
}
