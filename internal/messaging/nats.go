// Package messaging provides a NATS client wrapper used to relay presence
// and room events between server instances. A user's connections may be
// spread across instances; publishing to per-user and per-room subjects lets
// every instance deliver to its own local connections.
package messaging

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns.
const (
	SubjectUser = "user" // + .<user_id>: chat requests, match notifications
	SubjectRoom = "room" // + .<room_id>: chat fan-out events
)

// Client wraps the NATS connection with helper methods for pub/sub. All
// subscriptions are keyed so they can be torn down when the connection that
// owns them disconnects.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "nearby",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishUserEvent publishes data to the user.<userID> subject. It satisfies
// the broker's Relay interface.
func (c *Client) PublishUserEvent(userID string, data []byte) error {
	return c.conn.Publish(SubjectUser+"."+userID, data)
}

// PublishRoomEvent publishes data to the room.<roomID> subject.
func (c *Client) PublishRoomEvent(roomID string, data []byte) error {
	return c.conn.Publish(SubjectRoom+"."+roomID, data)
}

// SubscribeUserEvents subscribes the given connection to user.<userID>. The
// subscription is keyed by connID so that several local connections of the
// same user each receive their own delivery.
func (c *Client) SubscribeUserEvents(userID, connID string, handler func(data []byte)) error {
	return c.subscribe("usersub:"+connID, SubjectUser+"."+userID, handler)
}

// SubscribeRoomEvents subscribes the given connection to room.<roomID>. The
// key includes the room so a connection can hold one subscription per room
// it has joined.
func (c *Client) SubscribeRoomEvents(roomID, connID string, handler func(data []byte)) error {
	return c.subscribe("roomsub:"+connID+":"+roomID, SubjectRoom+"."+roomID, handler)
}

func (c *Client) subscribe(key, subject string, handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	if prev, ok := c.subs[key]; ok {
		_ = prev.Unsubscribe()
	}
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeConn drops every subscription held on behalf of a connection:
// its user-event subscription and all of its room subscriptions. Called on
// disconnect so no handler fires for a dead connection.
func (c *Client) UnsubscribeConn(connID string) {
	userKey := "usersub:" + connID
	roomPrefix := "roomsub:" + connID + ":"

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, sub := range c.subs {
		if key == userKey || strings.HasPrefix(key, roomPrefix) {
			_ = sub.Unsubscribe()
			delete(c.subs, key)
		}
	}
}

// Close drains all subscriptions and closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	for key, sub := range c.subs {
		_ = sub.Unsubscribe()
		delete(c.subs, key)
	}
	c.mu.Unlock()

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] drain error: %v", err)
	}
}
