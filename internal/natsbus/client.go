package natsbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type Client struct {
	conn *nats.Conn
}

func NewClient(bus *Bus) (*Client, error) {
	conn, err := nats.Connect(bus.ClientURL())
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn}, nil
}

func NewClientFromURL(url string) (*Client, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

func (c *Client) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.conn.Publish(subject, data)
}

// PublishMsg sends a prebuilt message; used for replies that must echo a
// correlation id header.
func (c *Client) PublishMsg(msg *nats.Msg) error {
	return c.conn.PublishMsg(msg)
}

func (c *Client) Subscribe(subject string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	return c.conn.Subscribe(subject, handler)
}

// ChanSubscribe delivers messages on a channel, preserving arrival order
// for consumers that need serialized processing.
func (c *Client) ChanSubscribe(subject string, ch chan *nats.Msg) (*nats.Subscription, error) {
	return c.conn.ChanSubscribe(subject, ch)
}

// RequestMsg performs a request/reply round trip bounded by timeout. The
// reply arrives on a private inbox; headers on msg are delivered with it.
func (c *Client) RequestMsg(msg *nats.Msg, timeout time.Duration) (*nats.Msg, error) {
	return c.conn.RequestMsg(msg, timeout)
}

func (c *Client) Flush() error {
	return c.conn.Flush()
}

func (c *Client) Close() {
	c.conn.Close()
}
