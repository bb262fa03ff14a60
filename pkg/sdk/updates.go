package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrReconnectExhausted is returned by Run once MaxReconnectAttempts consecutive attempts
// have failed.
var ErrReconnectExhausted = errors.New("sdk: reconnect attempts exhausted")

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Envelope is one batched frame from the server. Data keeps the raw topic-specific shape.
type Envelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

type ChannelOptions struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/api/v1/ws.
	URL                  string
	Topics               []string
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	OnStatus             func(Status)
	OnEnvelope           func(Envelope)
	Dialer               *websocket.Dialer
}

// WebSocketURL derives the update channel endpoint from a REST base URL.
func WebSocketURL(baseURL string) (string, error) {
	u, err := url.Parse(ResolveURL(baseURL))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = "/api/v1/ws"
	u.RawQuery = ""
	return u.String(), nil
}

// UpdateChannel keeps one websocket open to the broker, re-declaring its topic interests
// after every reconnect.
type UpdateChannel struct {
	opts ChannelOptions

	mu     sync.Mutex
	topics map[string]struct{}
	conn   *websocket.Conn
	status Status

	writeMu sync.Mutex
}

func NewUpdateChannel(opts ChannelOptions) *UpdateChannel {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 3 * time.Second
	}
	if opts.MaxReconnectAttempts < 0 {
		opts.MaxReconnectAttempts = 0
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	c := &UpdateChannel{
		opts:   opts,
		topics: make(map[string]struct{}, len(opts.Topics)),
		status: StatusDisconnected,
	}
	for _, t := range opts.Topics {
		c.topics[t] = struct{}{}
	}
	return c
}

func (c *UpdateChannel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *UpdateChannel) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (c *UpdateChannel) setStatus(s Status) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	c.mu.Unlock()
	if changed && c.opts.OnStatus != nil {
		c.opts.OnStatus(s)
	}
}

// Subscribe adds a topic interest. It is sent immediately when connected and replayed on
// every reconnect.
func (c *UpdateChannel) Subscribe(topic string) error {
	c.mu.Lock()
	c.topics[topic] = struct{}{}
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return c.write(conn, map[string]string{"type": "SUBSCRIBE", "topic": topic})
}

func (c *UpdateChannel) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.topics, topic)
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return c.write(conn, map[string]string{"type": "UNSUBSCRIBE", "topic": topic})
}

// Publish sends a domain update for the broker to batch under topic.
func (c *UpdateChannel) Publish(topic string, data any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("publish %s: not connected", topic)
	}
	return c.write(conn, map[string]any{"topic": topic, "data": data})
}

func (c *UpdateChannel) write(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v)
}

// Run connects and reads until ctx is cancelled or reconnection gives up. A successful
// connection resets the attempt counter. Status leaves connected as soon as the transport
// drops and stays connecting through the wait before the next dial.
func (c *UpdateChannel) Run(ctx context.Context) error {
	attempts := 0
	for {
		c.setStatus(StatusConnecting)
		conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
		if err == nil {
			attempts = 0
			err = c.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			c.setStatus(StatusDisconnected)
			return ctx.Err()
		}
		if attempts >= c.opts.MaxReconnectAttempts {
			c.setStatus(StatusDisconnected)
			return fmt.Errorf("%w: %v", ErrReconnectExhausted, err)
		}
		attempts++
		c.setStatus(StatusConnecting)

		timer := time.NewTimer(c.opts.ReconnectInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.setStatus(StatusDisconnected)
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *UpdateChannel) serve(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	c.conn = conn
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sort.Strings(topics)
	for _, t := range topics {
		if err := c.write(conn, map[string]string{"type": "SUBSCRIBE", "topic": t}); err != nil {
			return err
		}
	}
	c.setStatus(StatusConnected)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Topic == "" {
			continue
		}
		if c.opts.OnEnvelope != nil {
			c.opts.OnEnvelope(env)
		}
	}
}
