package hub

import (
	"sync"
)

// Connection is one live socket. Frames queued with Enqueue are written by
// the socket's write pump in queue order.
type Connection struct {
	ID        string
	UserID    int64
	SessionID string
	Username  string

	mutex  sync.RWMutex
	send   chan []byte
	closed bool

	evictOnce sync.Once
	evict     func()
}

func newConnection(id string, userID int64, sessionID string, username string, bufferSize int) *Connection {
	return &Connection{
		ID:        id,
		UserID:    userID,
		SessionID: sessionID,
		Username:  username,
		send:      make(chan []byte, bufferSize),
	}
}

// Send is closed once the connection is deregistered.
func (c *Connection) Send() <-chan []byte {
	return c.send
}

func (c *Connection) Closed() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.closed
}

// Enqueue never blocks. A full queue drops the frame and schedules the
// connection for eviction.
func (c *Connection) Enqueue(frame []byte) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- frame:
		return true
	default:
		if c.evict != nil {
			c.evictOnce.Do(func() { go c.evict() })
		}
		return false
	}
}

// markClosed reports false if the connection was already closed.
func (c *Connection) markClosed() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}
