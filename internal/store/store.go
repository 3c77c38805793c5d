// Package store is the document database the invite and lobby records
// live in: per-document CRUD, equality queries, transactions and
// push-based change subscriptions layered over a pluggable backend.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/HammerMeetNail/quizduel/internal/feed"
	"github.com/HammerMeetNail/quizduel/internal/logging"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	ErrInvalidFilter = errors.New("invalid filter")
)

// Document is a stored JSON document.
type Document struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data"`
}

// DataTo decodes the document body into v.
func (d *Document) DataTo(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decoding %s/%s: %w", d.Collection, d.ID, err)
	}
	return nil
}

// Filter is an equality condition on a top-level field.
type Filter struct {
	Field string
	Value any
}

func Eq(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// BackendTx is the set of operations available inside a backend transaction.
type BackendTx interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Set(ctx context.Context, collection, id string, data []byte) error
	// Create fails with ErrAlreadyExists when the document exists. Some
	// backends only detect the conflict at commit.
	Create(ctx context.Context, collection, id string, data []byte) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
}

// Backend persists documents. Watches are implemented above it, so a
// backend only has to store and query.
type Backend interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Set(ctx context.Context, collection, id string, data []byte) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, filters []Filter) ([]Document, error)
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx BackendTx) error) error
	Health(ctx context.Context) error
	Close() error
}

// Tx is the transaction handle given to RunTransaction callbacks.
type Tx interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Set(ctx context.Context, collection, id string, data any) error
	Create(ctx context.Context, collection, id string, data any) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
}

// Unsubscribe stops a watch.
type Unsubscribe func()

// DocumentStore joins a backend with a change feed. Every successful write
// publishes one change per touched document.
type DocumentStore struct {
	backend Backend
	feed    feed.Feed
	logger  *logging.Logger
	now     func() time.Time
}

func New(backend Backend, changes feed.Feed, logger *logging.Logger) *DocumentStore {
	if logger == nil {
		logger = logging.Default
	}
	return &DocumentStore{
		backend: backend,
		feed:    changes,
		logger:  logger.WithField("component", "store"),
		now:     time.Now,
	}
}

func (s *DocumentStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	return s.backend.Get(ctx, collection, id)
}

func (s *DocumentStore) Set(ctx context.Context, collection, id string, data any) error {
	body, err := encode(data)
	if err != nil {
		return err
	}
	if err := s.backend.Set(ctx, collection, id, body); err != nil {
		return err
	}
	s.publish(ctx, feed.Change{Collection: collection, ID: id, Op: feed.OpSet})
	return nil
}

func (s *DocumentStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := s.backend.Update(ctx, collection, id, fields); err != nil {
		return err
	}
	s.publish(ctx, feed.Change{Collection: collection, ID: id, Op: feed.OpUpdate})
	return nil
}

// Delete removes a document. Deleting an absent document succeeds.
func (s *DocumentStore) Delete(ctx context.Context, collection, id string) error {
	if err := s.backend.Delete(ctx, collection, id); err != nil {
		return err
	}
	s.publish(ctx, feed.Change{Collection: collection, ID: id, Op: feed.OpDelete})
	return nil
}

func (s *DocumentStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	for _, f := range filters {
		if f.Field == "" {
			return nil, ErrInvalidFilter
		}
	}
	return s.backend.Query(ctx, collection, filters)
}

// RunTransaction runs fn atomically. Changes are published only after the
// backend commits.
func (s *DocumentStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var changes []feed.Change
	err := s.backend.RunTransaction(ctx, func(ctx context.Context, btx BackendTx) error {
		// Backends may retry fn; only the last attempt's writes count.
		t := &txn{tx: btx}
		if err := fn(ctx, t); err != nil {
			return err
		}
		changes = t.changes
		return nil
	})
	if err != nil {
		return err
	}
	for _, c := range changes {
		s.publish(ctx, c)
	}
	return nil
}

func (s *DocumentStore) Health(ctx context.Context) error {
	return s.backend.Health(ctx)
}

func (s *DocumentStore) Close() error {
	return s.backend.Close()
}

func (s *DocumentStore) publish(ctx context.Context, change feed.Change) {
	change.At = s.now().UnixMilli()
	if err := s.feed.Publish(ctx, change); err != nil {
		// The write is durable; watchers catch up on the next change.
		s.logger.Warn("Failed to publish change", map[string]interface{}{
			"collection": change.Collection,
			"id":         change.ID,
			"op":         string(change.Op),
			"error":      err.Error(),
		})
	}
}

type txn struct {
	tx      BackendTx
	changes []feed.Change
}

func (t *txn) Get(ctx context.Context, collection, id string) (*Document, error) {
	return t.tx.Get(ctx, collection, id)
}

func (t *txn) Set(ctx context.Context, collection, id string, data any) error {
	body, err := encode(data)
	if err != nil {
		return err
	}
	if err := t.tx.Set(ctx, collection, id, body); err != nil {
		return err
	}
	t.changes = append(t.changes, feed.Change{Collection: collection, ID: id, Op: feed.OpSet})
	return nil
}

func (t *txn) Create(ctx context.Context, collection, id string, data any) error {
	body, err := encode(data)
	if err != nil {
		return err
	}
	if err := t.tx.Create(ctx, collection, id, body); err != nil {
		return err
	}
	t.changes = append(t.changes, feed.Change{Collection: collection, ID: id, Op: feed.OpSet})
	return nil
}

func (t *txn) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := t.tx.Update(ctx, collection, id, fields); err != nil {
		return err
	}
	t.changes = append(t.changes, feed.Change{Collection: collection, ID: id, Op: feed.OpUpdate})
	return nil
}

func (t *txn) Delete(ctx context.Context, collection, id string) error {
	if err := t.tx.Delete(ctx, collection, id); err != nil {
		return err
	}
	t.changes = append(t.changes, feed.Change{Collection: collection, ID: id, Op: feed.OpDelete})
	return nil
}

func encode(data any) ([]byte, error) {
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return body, nil
}

// filterJSON renders filters as a JSON object of field -> value.
func filterJSON(filters []Filter) ([]byte, error) {
	obj := make(map[string]any, len(filters))
	for _, f := range filters {
		if f.Field == "" {
			return nil, ErrInvalidFilter
		}
		obj[f.Field] = f.Value
	}
	body, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encoding filter: %w", err)
	}
	return body, nil
}
