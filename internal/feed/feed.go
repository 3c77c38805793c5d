// Package feed fans document change events out to watchers, in process or
// across API instances.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type Op string

const (
	OpSet    Op = "set"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

var ErrClosed = errors.New("feed closed")

// Change announces that one document was written. Watchers re-read the
// document, so the event carries no payload.
type Change struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Op         Op     `json:"op"`
	At         int64  `json:"at"`
}

// Handler receives changes for a subscribed collection. It must not block
// for long: drivers call it from their delivery goroutine.
type Handler func(Change)

type Subscription interface {
	Unsubscribe() error
}

// Feed publishes and delivers changes grouped by collection.
type Feed interface {
	Publish(ctx context.Context, change Change) error
	Subscribe(ctx context.Context, collection string, fn Handler) (Subscription, error)
	Health(ctx context.Context) error
	Close() error
}

func encodeChange(change Change) ([]byte, error) {
	data, err := json.Marshal(change)
	if err != nil {
		return nil, fmt.Errorf("encoding change: %w", err)
	}
	return data, nil
}

func decodeChange(data []byte) (Change, error) {
	var change Change
	if err := json.Unmarshal(data, &change); err != nil {
		return Change{}, fmt.Errorf("decoding change: %w", err)
	}
	if change.Collection == "" || change.ID == "" {
		return Change{}, fmt.Errorf("decoding change: missing collection or id")
	}
	return change, nil
}

// RedisChannel is the pub/sub channel carrying changes of a collection.
func RedisChannel(collection string) string {
	return "docs:" + collection
}

// NATSSubject is the subject carrying changes of a collection.
func NATSSubject(collection string) string {
	return "docs." + collection
}
