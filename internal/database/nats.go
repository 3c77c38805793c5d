package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/HammerMeetNail/quizduel/internal/logging"
)

var ErrNATSDisconnected = errors.New("nats connection is not connected")

var natsConnect = nats.Connect

// NATSDB is the connection used by the NATS change feed.
type NATSDB struct {
	Conn *nats.Conn
}

type NATSOptions struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

func natsOptions(opts NATSOptions) []nats.Option {
	return []nats.Option{
		nats.Name(opts.Name),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.Timeout(10 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			fields := map[string]interface{}{}
			if err != nil {
				fields["error"] = err.Error()
			}
			logging.Warn("Disconnected from NATS", fields)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("Reconnected to NATS", map[string]interface{}{"url": nc.ConnectedUrl()})
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Info("NATS connection closed")
		}),
	}
}

func NewNATSDB(opts NATSOptions) (*NATSDB, error) {
	conn, err := natsConnect(opts.URL, natsOptions(opts)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &NATSDB{Conn: conn}, nil
}

func (n *NATSDB) Close() {
	if n.Conn != nil {
		n.Conn.Close()
	}
}

func (n *NATSDB) Health(ctx context.Context) error {
	if n.Conn == nil || !n.Conn.IsConnected() {
		return ErrNATSDisconnected
	}
	return nil
}
