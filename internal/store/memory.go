package store

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

type docKey struct {
	collection string
	id         string
}

// MemoryBackend keeps documents in process. Transactions hold the store
// lock for their whole duration.
type MemoryBackend struct {
	mu   sync.Mutex
	docs map[docKey][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[docKey][]byte)}
}

func (m *MemoryBackend) Get(ctx context.Context, collection, id string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(m.docs, collection, id)
}

func (m *MemoryBackend) Set(ctx context.Context, collection, id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set(m.docs, collection, id, data)
}

func (m *MemoryBackend) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.update(m.docs, collection, id, fields)
}

func (m *MemoryBackend) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, docKey{collection, id})
	return nil
}

func (m *MemoryBackend) Query(ctx context.Context, collection string, filters []Filter) ([]Document, error) {
	want := make(map[string]any, len(filters))
	for _, f := range filters {
		v, err := normalizeJSON(f.Value)
		if err != nil {
			return nil, err
		}
		want[f.Field] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var docs []Document
	for key, data := range m.docs {
		if key.collection != collection {
			continue
		}
		ok, err := matches(data, want)
		if err != nil {
			return nil, fmt.Errorf("querying %s: %w", collection, err)
		}
		if ok {
			docs = append(docs, Document{Collection: collection, ID: key.id, Data: clone(data)})
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (m *MemoryBackend) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx BackendTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := make(map[docKey][]byte, len(m.docs))
	for k, v := range m.docs {
		staged[k] = v
	}
	if err := fn(ctx, &memoryTx{backend: m, docs: staged}); err != nil {
		return err
	}
	m.docs = staged
	return nil
}

func (m *MemoryBackend) Health(ctx context.Context) error {
	return nil
}

func (m *MemoryBackend) Close() error {
	return nil
}

// Len returns the number of stored documents in a collection.
func (m *MemoryBackend) Len(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.docs {
		if k.collection == collection {
			n++
		}
	}
	return n
}

func (m *MemoryBackend) get(docs map[docKey][]byte, collection, id string) (*Document, error) {
	data, ok := docs[docKey{collection, id}]
	if !ok {
		return nil, ErrNotFound
	}
	return &Document{Collection: collection, ID: id, Data: clone(data)}, nil
}

func (m *MemoryBackend) set(docs map[docKey][]byte, collection, id string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("setting %s/%s: invalid json", collection, id)
	}
	docs[docKey{collection, id}] = clone(data)
	return nil
}

func (m *MemoryBackend) update(docs map[docKey][]byte, collection, id string, fields map[string]any) error {
	key := docKey{collection, id}
	data, ok := docs[key]
	if !ok {
		return ErrNotFound
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("updating %s/%s: %w", collection, id, err)
	}
	if obj == nil {
		obj = make(map[string]json.RawMessage, len(fields))
	}
	for field, value := range fields {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("updating %s/%s: %w", collection, id, err)
		}
		obj[field] = raw
	}
	merged, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("updating %s/%s: %w", collection, id, err)
	}
	docs[key] = merged
	return nil
}

type memoryTx struct {
	backend *MemoryBackend
	docs    map[docKey][]byte
}

func (t *memoryTx) Get(ctx context.Context, collection, id string) (*Document, error) {
	return t.backend.get(t.docs, collection, id)
}

func (t *memoryTx) Set(ctx context.Context, collection, id string, data []byte) error {
	return t.backend.set(t.docs, collection, id, data)
}

func (t *memoryTx) Create(ctx context.Context, collection, id string, data []byte) error {
	if _, ok := t.docs[docKey{collection, id}]; ok {
		return ErrAlreadyExists
	}
	return t.backend.set(t.docs, collection, id, data)
}

func (t *memoryTx) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return t.backend.update(t.docs, collection, id, fields)
}

func (t *memoryTx) Delete(ctx context.Context, collection, id string) error {
	delete(t.docs, docKey{collection, id})
	return nil
}

func matches(data []byte, want map[string]any) (bool, error) {
	if len(want) == 0 {
		return true, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return false, err
	}
	for field, value := range want {
		got, ok := obj[field]
		if !ok || !reflect.DeepEqual(got, value) {
			return false, nil
		}
	}
	return true, nil
}

// normalizeJSON round-trips v through encoding/json so typed values such as
// named string types compare equal to what a decoded document holds.
func normalizeJSON(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return out, nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
