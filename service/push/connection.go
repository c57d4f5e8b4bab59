package push

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Sink is the transport under one connection (SSE response, WebSocket, ...).
// Send and Ping are never called concurrently for the same sink; Close may
// race with either and must unblock them.
type Sink interface {
	Send(ev Event) error
	Ping() error
	Close() error
}

// Duplex marks a sink whose peer answers keep-alives (WebSocket pongs).
// Its liveness moves only on inbound traffic reported through
// Supervisor.Touch; a ping that was merely buffered by the kernel proves
// nothing. For other sinks (SSE) a successful keep-alive write is the only
// signal there is.
type Duplex interface {
	Duplex()
}

var errConnClosed = errors.New("push: connection closed")

// Connection is one open server-to-client push stream. It is owned by the
// Registry; sequence numbers are assigned under mu so a client observes
// them strictly increasing.
type Connection struct {
	id       string
	owner    string
	hints    DeviceHints
	openedAt time.Time

	mu         sync.Mutex // serializes writes to sink and guards seq
	seq        uint64
	sink       Sink
	lastPingAt atomic.Int64 // unix nanos

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func newConnection(id, owner string, hints DeviceHints, sink Sink, now time.Time) *Connection {
	c := &Connection{
		id:       id,
		owner:    owner,
		hints:    hints,
		openedAt: now,
		sink:     sink,
		done:     make(chan struct{}),
	}
	c.lastPingAt.Store(now.UnixNano())
	return c
}

func (c *Connection) ID() string               { return c.id }
func (c *Connection) Owner() string            { return c.owner }
func (c *Connection) Authenticated() bool      { return c.owner != "" }
func (c *Connection) DeviceClass() DeviceClass { return c.hints.Class }
func (c *Connection) Hints() DeviceHints       { return c.hints }
func (c *Connection) OpenedAt() time.Time      { return c.openedAt }

// Done is closed once the connection has been removed from the registry.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) Closed() bool { return c.closed.Load() }

func (c *Connection) LastPingAt() time.Time {
	return time.Unix(0, c.lastPingAt.Load())
}

func (c *Connection) LastEventSequence() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// touch records liveness; it only moves forward.
func (c *Connection) touch(now time.Time) {
	n := now.UnixNano()
	for {
		cur := c.lastPingAt.Load()
		if n <= cur || c.lastPingAt.CompareAndSwap(cur, n) {
			return
		}
	}
}

// deliver stamps ev with the next sequence and writes it.
func (c *Connection) deliver(ev Event) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return 0, errConnClosed
	}
	c.seq++
	ev.Sequence = c.seq
	if err := c.sink.Send(ev); err != nil {
		return ev.Sequence, err
	}
	return ev.Sequence, nil
}

func (c *Connection) ping(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return errConnClosed
	}
	if err := c.sink.Ping(); err != nil {
		return err
	}
	if _, duplex := c.sink.(Duplex); !duplex {
		c.touch(now)
	}
	return nil
}

// close marks the connection dead and closes the sink without waiting for
// an in-flight write; closing the sink is what unblocks that write.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.sink.Close()
		close(c.done)
	})
}

// Drain waits for any in-flight write to finish. Transports call it before
// releasing the underlying writer.
func (c *Connection) Drain() {
	c.mu.Lock()
	c.mu.Unlock()
}
