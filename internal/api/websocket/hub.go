// Package websocket bridges gorilla/websocket connections to the update broker: one read
// goroutine and one write goroutine per connection.
package websocket

import (
	"errors"
	"net/http"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"vitalwatch/internal/broker"
	"vitalwatch/internal/config"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultMaxMessage   = 64 << 10
)

type Options struct {
	WriteTimeout    time.Duration
	PongWait        time.Duration
	MaxMessageBytes int64
	// InboundRate limits frames per second read from one connection; zero disables it.
	InboundRate  float64
	InboundBurst int
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		WriteTimeout:    config.BrokerWriteTimeout(cfg),
		MaxMessageBytes: int64(cfg.Broker.MaxMessageSizeKB) << 10,
		InboundRate:     float64(cfg.Broker.InboundRatePerSecond),
		InboundBurst:    cfg.Broker.InboundRateBurst,
	}
}

type Hub struct {
	broker   *broker.Broker
	opts     Options
	log      *logrus.Logger
	upgrader gws.Upgrader
}

func NewHub(b *broker.Broker, opts Options, log *logrus.Logger) *Hub {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaultPongWait
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaultMaxMessage
	}
	if opts.InboundBurst <= 0 {
		opts.InboundBurst = 1
	}
	return &Hub{
		broker: b,
		opts:   opts,
		log:    log,
		upgrader: gws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type client struct {
	hub     *Hub
	conn    *gws.Conn
	session *broker.Session
	limiter *rate.Limiter
}

// ServeWS upgrades the request and runs the connection until either side goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	session, err := h.broker.Connect(r.RemoteAddr)
	if err != nil {
		msg := gws.FormatCloseMessage(gws.CloseGoingAway, "server shutting down")
		_ = conn.WriteControl(gws.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	c := &client{hub: h, conn: conn, session: session}
	if h.opts.InboundRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(h.opts.InboundRate), h.opts.InboundBurst)
	}
	go c.writePump()
	c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.broker.Disconnect(c.session.ID())
		_ = c.conn.Close()
	}()

	pongWait := c.hub.opts.PongWait
	c.conn.SetReadLimit(c.hub.opts.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if gws.IsUnexpectedCloseError(err, gws.CloseGoingAway, gws.CloseNormalClosure, gws.CloseNoStatusReceived) {
				c.hub.log.WithError(err).WithField("session_id", c.session.ID()).Debug("websocket read")
			}
			return
		}
		if msgType != gws.TextMessage {
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.hub.log.WithField("session_id", c.session.ID()).Warn("inbound rate exceeded; frame dropped")
			continue
		}
		if err := c.hub.broker.HandleMessage(c.session.ID(), data); errors.Is(err, broker.ErrUnknownClient) {
			return
		}
	}
}

// writePump is the only writer on the connection apart from control frames.
func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	timeout := c.hub.opts.WriteTimeout
	for {
		select {
		case frame := <-c.session.Send():
			_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
			if err := c.conn.WriteMessage(gws.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(gws.PingMessage, nil, time.Now().Add(timeout)); err != nil {
				return
			}
		case <-c.session.Done():
			msg := gws.FormatCloseMessage(gws.CloseNormalClosure, "")
			_ = c.conn.WriteControl(gws.CloseMessage, msg, time.Now().Add(timeout))
			return
		}
	}
}
