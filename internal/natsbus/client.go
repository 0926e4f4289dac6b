package natsbus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/mtzanidakis/swarmlab/internal/events"
)

type Client struct {
	conn *nats.Conn
}

// NewClient connects to bus through the in-process connection.
func NewClient(bus *Bus) (*Client, error) {
	conn, err := nats.Connect("", nats.InProcessServer(bus.server), nats.Name("swarmlab"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) PublishJSON(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.conn.Publish(topic, data)
}

// PublishEvent sends ev on its events.<source>.<type> subject.
func (c *Client) PublishEvent(ev events.Event) error {
	return c.PublishJSON(TopicEvent(ev.Source, ev.Type), ev)
}

// SubscribeEvents decodes every event matching subject and passes it to h.
// Undecodable messages are dropped.
func (c *Client) SubscribeEvents(subject string, h events.Handler) (*nats.Subscription, error) {
	return c.conn.Subscribe(subject, func(msg *nats.Msg) {
		var ev events.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		h(ev)
	})
}

func (c *Client) Flush() error {
	return c.conn.Flush()
}

func (c *Client) Close() {
	c.conn.Close()
}
