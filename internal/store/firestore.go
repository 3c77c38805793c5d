package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreBackend stores documents in Cloud Firestore, one Firestore
// collection per store collection.
type FirestoreBackend struct {
	client *firestore.Client
}

func NewFirestoreBackend(client *firestore.Client) *FirestoreBackend {
	return &FirestoreBackend{client: client}
}

func (f *FirestoreBackend) Get(ctx context.Context, collection, id string) (*Document, error) {
	snap, err := f.client.Collection(collection).Doc(id).Get(ctx)
	return snapshotDocument(collection, id, snap, err)
}

func (f *FirestoreBackend) Set(ctx context.Context, collection, id string, data []byte) error {
	fields, err := decodeFields(data)
	if err != nil {
		return fmt.Errorf("setting %s/%s: %w", collection, id, err)
	}
	if _, err := f.client.Collection(collection).Doc(id).Set(ctx, fields); err != nil {
		return fmt.Errorf("setting %s/%s: %w", collection, id, err)
	}
	return nil
}

func (f *FirestoreBackend) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	updates, err := firestoreUpdates(fields)
	if err != nil {
		return fmt.Errorf("updating %s/%s: %w", collection, id, err)
	}
	_, err = f.client.Collection(collection).Doc(id).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("updating %s/%s: %w", collection, id, err)
	}
	return nil
}

func (f *FirestoreBackend) Delete(ctx context.Context, collection, id string) error {
	if _, err := f.client.Collection(collection).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("deleting %s/%s: %w", collection, id, err)
	}
	return nil
}

func (f *FirestoreBackend) Query(ctx context.Context, collection string, filters []Filter) ([]Document, error) {
	q := f.client.Collection(collection).Query
	for _, flt := range filters {
		value, err := normalizeFirestore(flt.Value)
		if err != nil {
			return nil, err
		}
		q = q.Where(flt.Field, "==", value)
	}

	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}

	docs := make([]Document, 0, len(snaps))
	for _, snap := range snaps {
		doc, err := snapshotDocument(collection, snap.Ref.ID, snap, nil)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

// RunTransaction uses Firestore's optimistic transactions; fn may run more
// than once on contention.
func (f *FirestoreBackend) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx BackendTx) error) error {
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, &firestoreTx{client: f.client, tx: tx})
	})
	return commitError(err)
}

// commitError maps a create conflict reported at commit to ErrAlreadyExists.
func commitError(err error) error {
	if err != nil && !errors.Is(err, ErrAlreadyExists) && status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	}
	return err
}

func (f *FirestoreBackend) Health(ctx context.Context) error {
	// Reading a missing document is the cheapest authenticated round-trip.
	_, err := f.client.Collection("_health").Doc("ping").Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return err
	}
	return nil
}

// Close is a no-op: the client is owned by the database package.
func (f *FirestoreBackend) Close() error {
	return nil
}

type firestoreTx struct {
	client *firestore.Client
	tx     *firestore.Transaction
}

func (t *firestoreTx) Get(ctx context.Context, collection, id string) (*Document, error) {
	snap, err := t.tx.Get(t.client.Collection(collection).Doc(id))
	return snapshotDocument(collection, id, snap, err)
}

func (t *firestoreTx) Set(ctx context.Context, collection, id string, data []byte) error {
	fields, err := decodeFields(data)
	if err != nil {
		return fmt.Errorf("setting %s/%s: %w", collection, id, err)
	}
	return t.tx.Set(t.client.Collection(collection).Doc(id), fields)
}

// Create on an existing document fails the commit rather than the call.
func (t *firestoreTx) Create(ctx context.Context, collection, id string, data []byte) error {
	fields, err := decodeFields(data)
	if err != nil {
		return fmt.Errorf("creating %s/%s: %w", collection, id, err)
	}
	return t.tx.Create(t.client.Collection(collection).Doc(id), fields)
}

// Update on a missing document fails the commit rather than the call.
func (t *firestoreTx) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	ref := t.client.Collection(collection).Doc(id)
	updates, err := firestoreUpdates(fields)
	if err != nil {
		return fmt.Errorf("updating %s/%s: %w", collection, id, err)
	}
	return t.tx.Update(ref, updates)
}

func (t *firestoreTx) Delete(ctx context.Context, collection, id string) error {
	return t.tx.Delete(t.client.Collection(collection).Doc(id))
}

func snapshotDocument(collection, id string, snap *firestore.DocumentSnapshot, err error) (*Document, error) {
	if status.Code(err) == codes.NotFound || (err == nil && (snap == nil || !snap.Exists())) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s/%s: %w", collection, id, err)
	}
	data, err := json.Marshal(snap.Data())
	if err != nil {
		return nil, fmt.Errorf("encoding %s/%s: %w", collection, id, err)
	}
	return &Document{Collection: collection, ID: id, Data: data}, nil
}

func firestoreUpdates(fields map[string]any) ([]firestore.Update, error) {
	updates := make([]firestore.Update, 0, len(fields))
	for path, value := range fields {
		v, err := normalizeFirestore(value)
		if err != nil {
			return nil, err
		}
		updates = append(updates, firestore.Update{Path: path, Value: v})
	}
	return updates, nil
}

// decodeFields turns a JSON object into Firestore-friendly values: whole
// numbers stay int64 so epoch milliseconds round-trip exactly.
func decodeFields(data []byte) (map[string]any, error) {
	var obj map[string]any
	if err := unmarshalNumbers(data, &obj); err != nil {
		return nil, err
	}
	fixed, _ := fixNumbers(obj).(map[string]any)
	return fixed, nil
}

func normalizeFirestore(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	var out any
	if err := unmarshalNumbers(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return fixNumbers(out), nil
}

func unmarshalNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func fixNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, err := t.Float64()
		if err != nil || math.IsInf(f, 0) {
			return t.String()
		}
		return f
	case map[string]any:
		for k, val := range t {
			t[k] = fixNumbers(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = fixNumbers(val)
		}
		return t
	default:
		return v
	}
}
