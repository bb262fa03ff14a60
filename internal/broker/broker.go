// Package broker fans batched topic updates out to subscribed client sessions.
package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vitalwatch/internal/batch"
	"vitalwatch/internal/logging"
	"vitalwatch/internal/metrics"
	"vitalwatch/internal/model"
)

const (
	MessageSubscribe   = "SUBSCRIBE"
	MessageUnsubscribe = "UNSUBSCRIBE"

	DefaultSendQueueSize = 64
)

var (
	ErrClosed           = errors.New("broker closed")
	ErrMalformedMessage = errors.New("malformed message")
)

type Options struct {
	BatchTimeout   time.Duration
	BatchThreshold int
	SendQueueSize  int
	Logger         *logrus.Logger
	Metrics        *metrics.Metrics
}

type TopicStats struct {
	Topic       string `json:"topic"`
	Subscribers int    `json:"subscribers"`
	Pending     int    `json:"pending"`
}

type Stats struct {
	Sessions          int          `json:"sessions"`
	Topics            []TopicStats `json:"topics"`
	EnvelopesSent     int64        `json:"envelopes_sent"`
	MalformedMessages int64        `json:"malformed_messages"`
	SlowConsumers     int64        `json:"slow_consumers"`
}

// stampedUpdate is a buffered update tagged with the broker sequence number it was
// accepted under.
type stampedUpdate struct {
	seq    uint64
	update model.Update
}

// Broker owns the subscription registry, the per-topic accumulator and the session table.
// Every buffered update reaches a client only through a flush of its topic, and only if the
// client subscribed before the update was accepted.
type Broker struct {
	log       *logrus.Logger
	metrics   *metrics.Metrics
	queueSize int

	registry *Registry
	acc      *batch.Accumulator[stampedUpdate]
	seq      atomic.Uint64

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	sent      atomic.Int64
	malformed atomic.Int64
	evicted   atomic.Int64
}

func New(opts Options) *Broker {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = DefaultSendQueueSize
	}
	b := &Broker{
		log:       opts.Logger,
		metrics:   opts.Metrics,
		queueSize: opts.SendQueueSize,
		registry:  NewRegistry(),
		sessions:  map[string]*Session{},
	}
	b.acc = batch.New[stampedUpdate](batch.Options{
		Timeout:   opts.BatchTimeout,
		Threshold: opts.BatchThreshold,
	}, b.flush)
	return b
}

func (b *Broker) Registry() *Registry {
	return b.registry
}

// Connect registers a new session with an empty subscription set.
func (b *Broker) Connect(remote string) (*Session, error) {
	s := newSession(uuid.NewString(), remote, b.queueSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.registry.Add(s.id)
	b.sessions[s.id] = s
	b.mu.Unlock()

	b.metrics.Sessions.Inc()
	b.log.WithFields(logrus.Fields{"session_id": s.id, "remote": remote}).Info("client connected")
	return s, nil
}

// Disconnect removes the session and its subscriptions and closes its Done channel. Repeated
// calls are harmless.
func (b *Broker) Disconnect(id string) {
	b.mu.Lock()
	s, ok := b.sessions[id]
	if ok {
		delete(b.sessions, id)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	b.registry.Remove(id)
	s.close()
	b.metrics.Sessions.Dec()
	b.log.WithField("session_id", id).Info("client disconnected")
}

func (b *Broker) Session(id string) (*Session, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[id]
	return s, ok
}

type inboundMessage struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// HandleMessage processes one inbound frame from session id. Control messages change the
// session's subscriptions; any other well-formed frame is buffered as a domain update for its
// topic. Malformed frames are logged, counted and reported as ErrMalformedMessage; the
// session stays connected either way.
func (b *Broker) HandleMessage(id string, raw []byte) error {
	if _, ok := b.Session(id); !ok {
		return ErrUnknownClient
	}

	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return b.dropMalformed(id, err.Error())
	}
	topic := strings.TrimSpace(msg.Topic)
	if topic == "" {
		return b.dropMalformed(id, "missing topic")
	}

	switch msg.Type {
	case MessageSubscribe:
		if err := b.registry.Subscribe(id, topic, b.seq.Load()); err != nil {
			return err
		}
		b.log.WithFields(logrus.Fields{"session_id": id, "topic": topic}).Debug("subscribed")
		return nil
	case MessageUnsubscribe:
		b.registry.Unsubscribe(id, topic)
		b.log.WithFields(logrus.Fields{"session_id": id, "topic": topic}).Debug("unsubscribed")
		return nil
	}

	if len(msg.Data) == 0 || string(msg.Data) == "null" {
		return b.dropMalformed(id, "missing data")
	}
	return b.Publish(topic, model.DecodeUpdate(topic, msg.Data))
}

func (b *Broker) dropMalformed(id, reason string) error {
	b.malformed.Add(1)
	b.metrics.MalformedMessages.Inc()
	b.log.WithFields(logrus.Fields{"session_id": id, "reason": reason}).Warn("dropping malformed message")
	return fmt.Errorf("%w: %s", ErrMalformedMessage, reason)
}

// Publish buffers an update under topic. It is the server-side ingestion point used by the
// REST layer and the simulator.
func (b *Broker) Publish(topic string, update model.Update) error {
	if topic == "" {
		return fmt.Errorf("%w: missing topic", ErrMalformedMessage)
	}
	if update == nil {
		return fmt.Errorf("%w: nil update", ErrMalformedMessage)
	}
	if !b.acc.Add(topic, stampedUpdate{seq: b.seq.Add(1), update: update}) {
		return ErrClosed
	}
	return nil
}

// Flush forces out whatever is pending for topic.
func (b *Broker) Flush(topic string) {
	b.acc.Flush(topic)
}

func (b *Broker) flush(topic string, items []stampedUpdate) {
	b.metrics.Flushes.WithLabelValues(topic).Inc()
	b.metrics.FlushItems.Observe(float64(len(items)))
	b.log.WithFields(logrus.Fields{"topic": topic, "items": len(items)}).Debug("flushing batch")
	b.broadcast(topic, items)
}

// broadcast queues the batch on every open session subscribed to topic. A session sees only
// the items accepted after its subscription; sessions that subscribed before the whole batch
// share one serialized frame. Sessions whose queue is full are evicted after the loop.
func (b *Broker) broadcast(topic string, items []stampedUpdate) {
	if len(items) == 0 {
		return
	}
	first := items[0].seq
	for _, it := range items[1:] {
		first = min(first, it.seq)
	}
	// frames is keyed by subscription mark; 0 stands for the whole batch.
	frames := map[uint64][]byte{}

	var slow []string
	delivered := 0
	b.mu.RLock()
	for id, s := range b.sessions {
		since, ok := b.registry.Since(id, topic)
		if !ok {
			continue
		}
		if since < first {
			since = 0
		}
		frame, ok := frames[since]
		if !ok {
			frame = b.encode(topic, updatesAfter(items, since))
			frames[since] = frame
		}
		if frame == nil {
			continue
		}
		switch s.enqueue(frame) {
		case enqueued:
			delivered++
		case queueFull:
			slow = append(slow, id)
		}
	}
	b.mu.RUnlock()

	if delivered > 0 {
		b.sent.Add(int64(delivered))
		b.metrics.EnvelopesSent.WithLabelValues(topic).Add(float64(delivered))
	}
	for _, id := range slow {
		b.evicted.Add(1)
		b.metrics.SlowConsumers.Inc()
		b.log.WithFields(logrus.Fields{"session_id": id, "topic": topic}).Warn("evicting slow consumer")
		b.Disconnect(id)
	}
}

// encode shapes and serializes updates; it returns nil when there is nothing to send.
func (b *Broker) encode(topic string, updates []model.Update) []byte {
	if len(updates) == 0 {
		return nil
	}
	frame, err := json.Marshal(Shape(topic, updates))
	if err != nil {
		b.log.WithError(err).WithField("topic", topic).Error("encode envelope")
		return nil
	}
	return frame
}

// updatesAfter keeps the items accepted after since, in buffer order.
func updatesAfter(items []stampedUpdate, since uint64) []model.Update {
	out := make([]model.Update, 0, len(items))
	for _, it := range items {
		if it.seq > since {
			out = append(out, it.update)
		}
	}
	return out
}

func (b *Broker) Stats() Stats {
	b.mu.RLock()
	sessions := len(b.sessions)
	b.mu.RUnlock()

	counts := b.registry.Counts()
	seen := map[string]bool{}
	topics := []TopicStats{}
	for _, topic := range b.acc.Topics() {
		seen[topic] = true
		topics = append(topics, TopicStats{Topic: topic, Subscribers: counts[topic], Pending: b.acc.Pending(topic)})
	}
	for topic, n := range counts {
		if !seen[topic] {
			topics = append(topics, TopicStats{Topic: topic, Subscribers: n})
		}
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].Topic < topics[j].Topic })

	return Stats{
		Sessions:          sessions,
		Topics:            topics,
		EnvelopesSent:     b.sent.Load(),
		MalformedMessages: b.malformed.Load(),
		SlowConsumers:     b.evicted.Load(),
	}
}

// Close stops every pending timer, drops buffered updates and disconnects all sessions.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	ids := make([]string, 0, len(b.sessions))
	for id := range b.sessions {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	b.acc.Close()
	for _, id := range ids {
		b.Disconnect(id)
	}
	b.log.Info("broker closed")
}
