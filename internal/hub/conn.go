package hub

import (
	"sync"

	"github.com/signalsfoundry/huntsync/internal/logging"
)

// Conn is one live event channel as seen by the Hub. The transport drains
// Outbound in order and closes the socket once Done is closed.
type Conn struct {
	id  string
	out chan []byte

	done      chan struct{}
	closeOnce sync.Once

	// Guarded by Hub.mu.
	clientID string
	base     logging.Logger
	log      logging.Logger
}

func newConn(id string, size int, log logging.Logger) *Conn {
	base := log.With(logging.String("conn_id", id))
	return &Conn{
		id:   id,
		out:  make(chan []byte, size),
		done: make(chan struct{}),
		base: base,
		log:  base,
	}
}

// ID returns the server-assigned connection id.
func (c *Conn) ID() string { return c.id }

// Outbound yields encoded frames in the order the Hub produced them.
func (c *Conn) Outbound() <-chan []byte { return c.out }

// Done is closed when the Hub no longer serves this connection, either
// because it disconnected or because it fell too far behind.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// send queues frame without blocking. It reports false when the outbox is
// full or the connection is already closed.
func (c *Conn) send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- frame:
		return true
	default:
		return false
	}
}
