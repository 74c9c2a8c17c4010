package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nutsloop/neonsignal/internal/hpack"
	"github.com/nutsloop/neonsignal/internal/http2codec"
)

// nextConnID hands out the synthetic per-connection identifier used
// everywhere the original keys state by raw fd (conn->fd in
// handle_io_.c++). crypto/tls.Conn doesn't expose the underlying socket
// fd the way a raw accept loop does, so a monotonically increasing
// int serves the same role: a stable, cheap, comparable connection key.
var nextConnID int64

// Connection is the per-accepted-connection state: one goroutine reads
// frames off it and dispatches them; the SSE broadcaster and timer
// callbacks write DATA frames back across connections concurrently, so
// all writes go through writeMu.
type Connection struct {
	id   int
	conn net.Conn

	hdec *hpack.Decoder

	mu      sync.Mutex
	streams map[uint32]*stream

	writeMu      sync.Mutex
	writeErr     error
	backpressure atomic.Bool

	authority string
}

func newConnection(conn net.Conn) *Connection {
	id := int(atomic.AddInt64(&nextConnID, 1))
	return &Connection{
		id:      id,
		conn:    conn,
		hdec:    hpack.NewDecoder(),
		streams: make(map[uint32]*stream),
	}
}

// FD satisfies sse.Writer; see nextConnID above for why this is a
// synthetic id rather than a raw file descriptor.
func (c *Connection) FD() int { return c.id }

// HasWriteBackpressure satisfies sse.Writer. A prior write that hit the
// per-write deadline in writeFrame leaves backpressure set until a
// write succeeds again, giving the broadcaster's "skip if backed up"
// fan-out a real signal without needing non-blocking socket semantics.
func (c *Connection) HasWriteBackpressure() bool {
	return c.backpressure.Load()
}

// writeDeadline bounds each frame write so a stalled peer degrades to
// "backpressured" rather than blocking the writer (an SSE timer
// goroutine, or another connection's handler goroutine funneling a
// broadcast) indefinitely.
const writeDeadline = 2 * time.Second

func (c *Connection) writeFrame(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	_, err := c.conn.Write(payload)
	c.conn.SetWriteDeadline(time.Time{})

	if err != nil {
		c.backpressure.Store(true)
		c.writeErr = err
		return err
	}
	c.backpressure.Store(false)
	return nil
}

// WriteData satisfies sse.Writer: builds and writes one DATA frame.
func (c *Connection) WriteData(streamID uint32, payload []byte, endStream bool) error {
	var flags byte
	if endStream {
		flags = http2codec.FlagEndStream
	}
	frame := http2codec.BuildFrame(nil, http2codec.TypeData, flags, streamID, payload)
	return c.writeFrame(frame)
}

// writeResponse writes a HEADERS+DATA response sequence for one stream,
// mirroring build_response_frames_with_headers.c++'s all-at-once framing.
func (c *Connection) writeResponse(streamID uint32, r http2codec.ResponseHeaders, body []byte) error {
	frame := http2codec.BuildResponseFrames(nil, streamID, r, body)
	return c.writeFrame(frame)
}

func (c *Connection) getStream(id uint32) *stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[id]
	if !ok {
		s = newStream(id)
		c.streams[id] = s
	}
	return s
}

func (c *Connection) dropStream(id uint32) {
	c.mu.Lock()
	delete(c.streams, id)
	c.mu.Unlock()
}

func (c *Connection) streamCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

func (c *Connection) close() {
	c.conn.Close()
}
