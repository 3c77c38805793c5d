package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/HammerMeetNail/quizduel/internal/logging"
)

const flushTimeout = 5 * time.Second

// NATSFeed carries changes over plain NATS subjects.
type NATSFeed struct {
	conn   *nats.Conn
	logger *logging.Logger
}

func NewNATSFeed(conn *nats.Conn, logger *logging.Logger) *NATSFeed {
	if logger == nil {
		logger = logging.Default
	}
	return &NATSFeed{conn: conn, logger: logger.WithField("component", "nats_feed")}
}

func (f *NATSFeed) Publish(ctx context.Context, change Change) error {
	data, err := encodeChange(change)
	if err != nil {
		return err
	}
	if err := f.conn.Publish(NATSSubject(change.Collection), data); err != nil {
		return fmt.Errorf("publishing change: %w", err)
	}
	return nil
}

func (f *NATSFeed) Subscribe(ctx context.Context, collection string, fn Handler) (Subscription, error) {
	sub, err := f.conn.Subscribe(NATSSubject(collection), f.handle(fn))
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", collection, err)
	}
	// Make sure the server registered interest before returning.
	if err := f.conn.FlushTimeout(flushTimeout); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flushing subscription: %w", err)
	}
	return natsSubscription{sub: sub}, nil
}

// handle decodes each message for fn, dropping payloads that do not decode.
func (f *NATSFeed) handle(fn Handler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		change, err := decodeChange(msg.Data)
		if err != nil {
			f.logger.Warn("Dropping malformed change", map[string]interface{}{
				"subject": msg.Subject,
				"error":   err.Error(),
			})
			return
		}
		fn(change)
	}
}

func (f *NATSFeed) Health(ctx context.Context) error {
	if f.conn == nil || !f.conn.IsConnected() {
		return errors.New("nats not connected")
	}
	return nil
}

// Close is a no-op: the connection is owned by the caller.
func (f *NATSFeed) Close() error {
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s natsSubscription) Unsubscribe() error {
	err := s.sub.Unsubscribe()
	if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
		return nil
	}
	return err
}
