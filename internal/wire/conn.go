package wire

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Conn is the handle an actor uses to reach one client. Send must never
// block the calling actor. Done is closed when the peer becomes
// unreachable; the lobby's liveness watch selects on it.
type Conn interface {
	Send(ev Event)
	Done() <-chan struct{}
}

// ChanConn is a Conn backed by a buffered out channel. The WebSocket write
// pump drains Out; tests read it directly.
type ChanConn struct {
	Out chan Event

	closeOnce sync.Once
	done      chan struct{}
	log       *logrus.Entry
}

func NewChanConn(buf int, log *logrus.Entry) *ChanConn {
	return &ChanConn{
		Out:  make(chan Event, buf),
		done: make(chan struct{}),
		log:  log,
	}
}

// Send pushes the event onto Out without blocking. If the buffer is full the
// event is dropped and logged; a slow client must not stall a match.
func (c *ChanConn) Send(ev Event) {
	select {
	case c.Out <- ev:
	case <-c.done:
	default:
		if c.log != nil {
			c.log.WithField("event", ev.Type).Warn("client out channel full, dropping event")
		}
	}
}

func (c *ChanConn) Done() <-chan struct{} { return c.done }

// Close marks the peer unreachable. Safe to call more than once.
func (c *ChanConn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
