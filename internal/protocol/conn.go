package protocol

import (
	"bufio"
	"net"
	"time"
)

// Conn is a framed message stream over a single persistent connection.
// A Conn is used by one goroutine at a time; the protocol never has more
// than one outstanding request per connection.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader
}

// NewConn wraps c. Reads are buffered in ChunkSize pieces.
func NewConn(c net.Conn) *Conn {
	return &Conn{
		conn: c,
		r:    bufio.NewReaderSize(c, ChunkSize),
	}
}

// Send encodes m and writes it as one frame.
func (c *Conn) Send(m Message) error {
	payload, err := Encode(m)
	if err != nil {
		return err
	}
	return WriteFrame(c.conn, payload)
}

// Receive blocks for the next message. It returns io.EOF when the peer
// closed the connection between messages.
func (c *Conn) Receive() (Message, error) {
	payload, err := ReadFrame(c.r)
	if err != nil {
		return nil, err
	}
	return Decode(payload)
}

// Exchange sends m and waits for the reply.
func (c *Conn) Exchange(m Message) (Message, error) {
	if err := c.Send(m); err != nil {
		return nil, err
	}
	return c.Receive()
}

// SetDeadline bounds both directions of the next operations. A zero
// value clears the deadline.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}
