package enip

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/renej-github/etherip/cip"
)

// DefaultPort is the well-known EtherNet/IP TCP port.
const DefaultPort = 0xAF12

// DefaultTimeout matches the reference ControlLogix client's default
// request deadline.
const DefaultTimeout = 2 * time.Second

// DefaultBufferSize is large enough for every non-fragmented CIP request
// this client builds; requests that would exceed it fail with KindArgument
// rather than silently truncating.
const DefaultBufferSize = 600

// Connection owns the single TCP socket to a controller and the
// little-endian buffer that every layer reads and writes through. It is
// not safe for concurrent use: the protocol is strictly request/response,
// and the buffer, session state, and in-flight correlation belong to
// exactly one owner.
type Connection struct {
	addr       string
	conn       net.Conn
	timeout    time.Duration
	bufferSize int
	session    uint32
}

// Dial opens the TCP connection. It does not register a session; callers
// drive the handshake explicitly via Execute so every wire operation is
// visible through the same uniform contract.
func Dial(addr string, timeout time.Duration, bufferSize int) (*Connection, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, &cip.Error{Kind: cip.KindIO, Detail: "dialing controller", Cause: err}
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
	}
	return &Connection{addr: addr, conn: conn, timeout: timeout, bufferSize: bufferSize}, nil
}

// Close closes the underlying socket. Idempotent.
func (c *Connection) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Connection) Session() uint32     { return c.session }
func (c *Connection) SetSession(s uint32) { c.session = s }

// write encodes layer and drains it to the socket, retrying short writes
// until the buffer is empty or the deadline passes.
func (c *Connection) write(layer cip.Layer) error {
	if c.conn == nil {
		return &cip.Error{Kind: cip.KindNotConnected, Detail: "connection is closed"}
	}
	size := layer.RequestSize()
	if size > c.bufferSize {
		return &cip.Error{Kind: cip.KindArgument, Detail: "encoded request exceeds the configured buffer size"}
	}
	buf, err := layer.Encode(make([]byte, 0, size))
	if err != nil {
		return err
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return &cip.Error{Kind: cip.KindIO, Detail: "setting write deadline", Cause: err}
	}
	for len(buf) > 0 {
		n, err := c.conn.Write(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return &cip.Error{Kind: cip.KindTimeout, Detail: "write deadline exceeded", Cause: err}
			}
			return &cip.Error{Kind: cip.KindIO, Detail: "writing request", Cause: err}
		}
		buf = buf[n:]
	}
	return nil
}

// read repeatedly appends bytes to an internal buffer until
// layer.ResponseSize reports the frame is complete, then decodes it.
func (c *Connection) read(layer cip.Layer) error {
	if c.conn == nil {
		return &cip.Error{Kind: cip.KindNotConnected, Detail: "connection is closed"}
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return &cip.Error{Kind: cip.KindIO, Detail: "setting read deadline", Cause: err}
	}

	buf := make([]byte, 0, c.bufferSize)
	chunk := make([]byte, c.bufferSize)
	for {
		total, ok := layer.ResponseSize(buf)
		if ok && len(buf) >= total {
			break
		}
		n, err := c.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return &cip.Error{Kind: cip.KindTimeout, Detail: "read deadline exceeded", Cause: err}
			}
			if err == io.EOF {
				return &cip.Error{Kind: cip.KindIO, Detail: "controller closed the connection", Cause: err}
			}
			return &cip.Error{Kind: cip.KindIO, Detail: "reading response", Cause: err}
		}
	}
	total, _ := layer.ResponseSize(buf)
	return layer.Decode(buf[:total])
}

// Execute is write(layer); read(layer) — the full transaction for one
// request/response pair.
func (c *Connection) Execute(layer cip.Layer) error {
	if err := c.write(layer); err != nil {
		return err
	}
	return c.read(layer)
}

// writeRaw drains an already-encoded frame to the socket without waiting
// for a response, for commands (UnregisterSession) whose reply may never
// arrive because the controller closes the socket first.
func (c *Connection) writeRaw(buf []byte) error {
	if c.conn == nil {
		return &cip.Error{Kind: cip.KindNotConnected, Detail: "connection is closed"}
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return &cip.Error{Kind: cip.KindIO, Detail: "setting write deadline", Cause: err}
	}
	for len(buf) > 0 {
		n, err := c.conn.Write(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return &cip.Error{Kind: cip.KindTimeout, Detail: "write deadline exceeded", Cause: err}
			}
			return &cip.Error{Kind: cip.KindIO, Detail: "writing request", Cause: err}
		}
		buf = buf[n:]
	}
	return nil
}

// NewContext builds an 8-byte sender context from a monotonically
// increasing counter, round-tripped and verified by Encapsulation.Decode
// as a framing consistency check.
func NewContext(counter uint64) [8]byte {
	var ctx [8]byte
	binary.LittleEndian.PutUint64(ctx[:], counter)
	return ctx
}
