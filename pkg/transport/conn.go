package transport

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetmesh/fleetd/pkg/wire"
)

// sendBufferSize bounds the per-connection outbound queue. When full,
// Send drops the new frame rather than blocking the caller or growing
// without bound (spec §5's backpressure model).
const sendBufferSize = 256

// maxConsecutiveMalformedFrames bounds how many malformed frames in a
// row readLoop tolerates before giving up on the connection — spec §7
// asks for malformed frames to be dropped "optionally closing the
// connection after N consecutive occurrences", which guards against a
// peer that's not merely glitchy but sending garbage forever.
const maxConsecutiveMalformedFrames = 16

// Conn wraps one peer TCP connection. Reads happen on the goroutine
// that calls readLoop (normally owned by the Transport that accepted
// or dialed it); writes are serialized through a single writer
// goroutine reading off sendCh, so concurrent callers never interleave
// partial frames on the wire.
type Conn struct {
	netConn net.Conn
	reader  *bufio.Reader

	// RemoteAddr is the address observed from the TCP connection itself,
	// not the peer's self-advertised HELLO address. Broadcast exclusion
	// (not echoing a gossip message back to the peer that sent it) keys
	// off this field per spec §9(c).
	RemoteAddr string

	// NodeID is populated once this connection's HELLO has been
	// processed. Empty until then.
	NodeID string

	sendCh    chan *wire.Envelope
	dropped   atomic.Int64
	malformed atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(netConn net.Conn) *Conn {
	return &Conn{
		netConn:    netConn,
		reader:     bufio.NewReader(netConn),
		RemoteAddr: netConn.RemoteAddr().String(),
		sendCh:     make(chan *wire.Envelope, sendBufferSize),
		done:       make(chan struct{}),
	}
}

// Send enqueues env for delivery. If the send buffer is full the frame
// is dropped and the drop counter is incremented; Send never blocks.
func (c *Conn) Send(env *wire.Envelope) {
	select {
	case c.sendCh <- env:
	default:
		c.dropped.Add(1)
	}
}

// Dropped returns the number of frames dropped due to a full send
// buffer since the connection was established.
func (c *Conn) Dropped() int64 {
	return c.dropped.Load()
}

// Malformed returns the number of malformed frames dropped on this
// connection since it was established (spec §7).
func (c *Conn) Malformed() int64 {
	return c.malformed.Load()
}

// Close shuts down the connection. Safe to call more than once and
// from more than one goroutine.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.netConn.Close()
	})
	return err
}

// writeLoop drains sendCh onto the wire until the connection closes.
// Run this in its own goroutine for the lifetime of the connection.
func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case env := <-c.sendCh:
			if err := wire.WriteFrame(c.netConn, env); err != nil {
				c.Close()
				return
			}
		}
	}
}

// readLoop blocks reading frames off the connection and invoking
// handle for each. A transient I/O error closes the connection
// immediately; a malformed frame (bad JSON) is dropped and counted
// instead, per spec §7 — the connection is only closed once
// maxConsecutiveMalformedFrames have arrived back to back, since a
// genuinely dropped connection is more useful than one wedged forever
// on a peer that can't speak the protocol.
func (c *Conn) readLoop(handle func(*Conn, *wire.Envelope)) {
	defer c.Close()
	var consecutiveMalformed int
	for {
		env, err := wire.ReadFrame(c.reader)
		if err != nil {
			if errors.Is(err, wire.ErrMalformedFrame) {
				c.malformed.Add(1)
				consecutiveMalformed++
				if consecutiveMalformed < maxConsecutiveMalformedFrames {
					continue
				}
			}
			return
		}
		consecutiveMalformed = 0
		handle(c, env)
	}
}

// SetDeadline forwards to the underlying connection, used by callers
// implementing ping/pong liveness checks (spec §6 ping_timeout).
func (c *Conn) SetDeadline(t time.Time) error {
	return c.netConn.SetDeadline(t)
}
