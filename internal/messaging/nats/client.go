// Package nats connects eventgate to NATS: the serve command publishes
// admitted events to JetStream, workers consume them, and failed events are
// written to the DLQ stream.
package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/telhawk-systems/eventgate/internal/logging"
	"github.com/telhawk-systems/eventgate/internal/messaging"
)

// Client owns the NATS connection shared by the JetStream publisher,
// the worker consumer and the DLQ.
type Client struct {
	conn   *nats.Conn
	logger *logging.Logger
}

type Config struct {
	URL  string
	Name string
	// MaxReconnects of -1 keeps reconnecting forever; workers must survive
	// a broker restart without being redeployed.
	MaxReconnects int
	ReconnectWait time.Duration
	// Timeout bounds the initial dial. An unreachable broker fails startup.
	Timeout time.Duration
	Logger  *logging.Logger
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "eventgate",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

func NewClient(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With("component", "nats", "client", cfg.Name)

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("lost broker connection; publishes fail until it returns", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("broker connection restored", "url", nc.ConnectedUrlRedacted())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Debug("broker connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", cfg.URL, err)
	}

	return &Client{conn: conn, logger: logger}, nil
}

// Drain lets in-flight acks and publishes finish, then closes.
func (c *Client) Drain() error {
	return c.conn.Drain()
}

func (c *Client) Close() error {
	c.conn.Close()
	return nil
}

// IsConnected backs the readiness check.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// toNatsMsg carries Message.Metadata (correlation id, event id, channel) as
// NATS headers so consumers can log before decoding the body.
func toNatsMsg(msg *messaging.Message) *nats.Msg {
	out := nats.NewMsg(msg.Subject)
	out.Data = msg.Data
	if len(msg.Metadata) == 0 {
		out.Header = nil
		return out
	}
	for k, v := range msg.Metadata {
		out.Header.Set(k, v)
	}
	return out
}

func headersToMetadata(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	md := make(map[string]string, len(h))
	for k := range h {
		md[k] = h.Get(k)
	}
	return md
}
