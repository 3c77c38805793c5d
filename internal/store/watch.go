package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/HammerMeetNail/quizduel/internal/feed"
)

// Watch calls fn with the current snapshot of a document, then again after
// every change to it. fn receives nil while the document does not exist.
// Calls never overlap. Unsubscribe waits for an in-flight call to finish and
// must not be called from inside fn.
func (s *DocumentStore) Watch(ctx context.Context, collection, id string, fn func(*Document)) (Unsubscribe, error) {
	read := func(ctx context.Context) {
		doc, err := s.backend.Get(ctx, collection, id)
		if errors.Is(err, ErrNotFound) {
			doc = nil
		} else if err != nil {
			s.logWatchError(ctx, collection, id, err)
			return
		}
		fn(doc)
	}
	match := func(c feed.Change) bool { return c.ID == id }
	return s.watch(ctx, collection, match, read)
}

// WatchQuery is Watch over the result of an equality query.
func (s *DocumentStore) WatchQuery(ctx context.Context, collection string, filters []Filter, fn func([]Document)) (Unsubscribe, error) {
	for _, f := range filters {
		if f.Field == "" {
			return nil, ErrInvalidFilter
		}
	}
	read := func(ctx context.Context) {
		docs, err := s.backend.Query(ctx, collection, filters)
		if err != nil {
			s.logWatchError(ctx, collection, "", err)
			return
		}
		fn(docs)
	}
	match := func(feed.Change) bool { return true }
	return s.watch(ctx, collection, match, read)
}

func (s *DocumentStore) watch(ctx context.Context, collection string, match func(feed.Change) bool, read func(context.Context)) (Unsubscribe, error) {
	wctx, cancel := context.WithCancel(ctx)
	w := &watcher{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	sub, err := s.feed.Subscribe(wctx, collection, func(c feed.Change) {
		if match(c) {
			w.trigger()
		}
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watching %s: %w", collection, err)
	}

	// Subscribed first so nothing written after the initial read is missed.
	read(wctx)

	go func() {
		defer close(w.done)
		for {
			select {
			case <-wctx.Done():
				return
			case <-w.signal:
				if wctx.Err() != nil {
					return
				}
				read(wctx)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			if err := sub.Unsubscribe(); err != nil {
				s.logger.Warn("Failed to unsubscribe watch", map[string]interface{}{
					"collection": collection,
					"error":      err.Error(),
				})
			}
			<-w.done
		})
	}, nil
}

func (s *DocumentStore) logWatchError(ctx context.Context, collection, id string, err error) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Error("Watch read failed", map[string]interface{}{
		"collection": collection,
		"id":         id,
		"error":      err.Error(),
	})
}

// watcher coalesces bursts of changes into one re-read.
type watcher struct {
	signal chan struct{}
	done   chan struct{}
}

func (w *watcher) trigger() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}
