// Package netx counts the bytes that cross the sockets opened by the
// transfer workers, so results can report network-level volume next to
// application-level volume.
package netx

import (
	"net"
	"sync/atomic"
)

// Counter aggregates read and written bytes over any number of Conns.
type Counter struct {
	bytesRead    atomic.Int64
	bytesWritten atomic.Int64
}

// ByteCounters returns the read and written byte counters, in this order.
func (c *Counter) ByteCounters() (int64, int64) {
	return c.bytesRead.Load(), c.bytesWritten.Load()
}

// Conn is a net.Conn whose reads and writes are added to a Counter.
type Conn struct {
	net.Conn

	counter *Counter
}

// FromConn wraps conn. counter may be nil, in which case nothing is
// counted.
func FromConn(conn net.Conn, counter *Counter) *Conn {
	return &Conn{
		Conn:    conn,
		counter: counter,
	}
}

// Read reads from the underlying net.Conn and updates the read bytes counter.
func (c *Conn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if c.counter != nil {
		c.counter.bytesRead.Add(int64(n))
	}
	return n, err
}

// Write writes to the underlying net.Conn and updates the written bytes counter.
func (c *Conn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if c.counter != nil {
		c.counter.bytesWritten.Add(int64(n))
	}
	return n, err
}
