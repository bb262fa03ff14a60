package broker

import (
	"sync"
	"time"
)

type enqueueResult int

const (
	enqueued enqueueResult = iota
	skipped
	queueFull
)

// Session is one connected client as seen by the broker. The transport drains Send and stops
// once Done is closed; the send channel itself is never closed.
type Session struct {
	id          string
	remote      string
	connectedAt time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id, remote string, queueSize int) *Session {
	return &Session{
		id:          id,
		remote:      remote,
		connectedAt: time.Now().UTC(),
		send:        make(chan []byte, queueSize),
		done:        make(chan struct{}),
	}
}

func (s *Session) ID() string             { return s.id }
func (s *Session) Remote() string         { return s.remote }
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }
func (s *Session) Send() <-chan []byte    { return s.send }
func (s *Session) Done() <-chan struct{}  { return s.done }

func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) enqueue(frame []byte) enqueueResult {
	if s.Closed() {
		return skipped
	}
	select {
	case s.send <- frame:
		return enqueued
	default:
		return queueFull
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}
