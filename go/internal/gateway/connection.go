package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Transport is the wire under a connection. The websocket adapter is the
// production implementation.
type Transport interface {
	WriteMessage(data []byte) error
	Ping() error
	Close(code int, reason string) error
}

// Connection represents one live client channel.
type Connection struct {
	ID             string
	UserID         string
	GameID         string
	ConnectedAt    time.Time
	ReconnectToken string

	transport Transport
	manager   *ConnectionManager
	send      chan *QueuedMessage
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	mu       sync.Mutex
	lastPing time.Time
	lastPong time.Time
	queue    []*QueuedMessage
	// drained is set once Disconnect has taken the queue; frames failing
	// after that go to the reconnect entry.
	drained bool
}

// IsAlive reports whether the connection still accepts messages.
func (c *Connection) IsAlive() bool {
	return !c.closed.Load()
}

// LastPong returns when the client last proved it was alive.
func (c *Connection) LastPong() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong
}

// LastPing returns when the server last pinged the client.
func (c *Connection) LastPing() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}

// QueueLen returns the number of messages waiting for retry.
func (c *Connection) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Connection) touch(now time.Time) {
	c.mu.Lock()
	c.lastPong = now
	c.mu.Unlock()
}

// trySend hands msg to the write pump without blocking.
func (c *Connection) trySend(msg *QueuedMessage) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	select {
	case <-c.done:
		return ErrConnectionClosed
	case c.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// enqueue keeps msg for the retry sweep. It reports false when the queue is full.
func (c *Connection) enqueue(msg *QueuedMessage, limit int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) >= limit {
		return false
	}
	c.queue = append(c.queue, msg)
	return true
}

// retry re-sends up to batch queued messages in priority order. Messages that
// reach their retry limit are dropped.
func (c *Connection) retry(batch int) (sent, dropped int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return 0, 0
	}
	sortQueue(c.queue)

	n := batch
	if n > len(c.queue) {
		n = len(c.queue)
	}
	kept := make([]*QueuedMessage, 0, len(c.queue))
	for i, msg := range c.queue {
		if i >= n {
			kept = append(kept, msg)
			continue
		}
		if err := c.trySend(msg); err == nil {
			sent++
			continue
		}
		msg.RetryCount++
		if msg.RetryCount >= msg.MaxRetries {
			dropped++
			continue
		}
		kept = append(kept, msg)
	}
	c.queue = kept
	return sent, dropped
}

// takeQueue removes and returns everything still undelivered, including
// frames the write pump never picked up. Each frame keeps its priority and
// enqueue order; transient frames are dropped.
func (c *Connection) takeQueue() []*QueuedMessage {
	c.mu.Lock()
	q := c.queue
	c.queue = nil
	c.drained = true
	c.mu.Unlock()

	for {
		select {
		case msg := <-c.send:
			q = append(q, msg)
		default:
			kept := q[:0]
			for _, msg := range q {
				if !msg.transient {
					kept = append(kept, msg)
				}
			}
			return kept
		}
	}
}

// giveBack returns a frame the pump failed to write. It reports false when
// Disconnect already took the queue.
func (c *Connection) giveBack(msg *QueuedMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drained {
		return false
	}
	c.queue = append(c.queue, msg)
	return true
}

// shutdown stops the write pump and closes the transport once.
func (c *Connection) shutdown(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		if err := c.transport.Close(code, reason); err != nil {
			log.Debug().Err(err).Str("connection_id", c.ID).Msg("transport close failed")
		}
	})
}

// writePump drains the send channel into the transport. A frame that fails
// to write is kept for the reconnect replay.
func (c *Connection) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.transport.WriteMessage(msg.Payload); err != nil {
				c.manager.reclaim(c, msg)
				if !c.IsAlive() {
					return
				}
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Str("user_id", c.UserID).
					Str("priority", msg.Priority.String()).
					Msg("failed to write message")
				c.manager.Disconnect(c, "write failed", true)
				return
			}
		}
	}
}
