/*
Package transport is the framed TCP layer every mesh connection — peer
to peer, and future discovery lookups — runs over. One goroutine reads
a connection, one goroutine writes it, and the length-prefixed JSON
codec in pkg/wire sits between them and the raw socket (spec §4.1).

Outbound (Dial) and inbound (Listen's accept loop) connections are
otherwise symmetric once established: both produce a *Conn and hand it
to the same OnConnect/OnMessage/OnDisconnect callbacks, following the
indistinguishable-once-connected design other P2P meshes (Sia's
gateway, among them) use to avoid special-casing dial direction
anywhere above this package.
*/
package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/fleetmesh/fleetd/pkg/wire"
)

// Handlers bundles the callbacks a Transport user reacts with. Each is
// invoked on the goroutine owning that connection's readLoop, so
// handlers must not block on anything that depends on another
// connection's progress.
type Handlers struct {
	OnConnect    func(c *Conn)
	OnMessage    func(c *Conn, env *wire.Envelope)
	OnDisconnect func(c *Conn)
}

// Transport listens for inbound peer connections and dials outbound
// ones, wiring every resulting Conn to the same Handlers.
type Transport struct {
	listenAddr string
	handlers   Handlers
	listener   net.Listener
}

// New returns a Transport that will listen on listenAddr once Listen
// is called.
func New(listenAddr string, handlers Handlers) *Transport {
	return &Transport{listenAddr: listenAddr, handlers: handlers}
}

// Listen binds the transport's listen address and accepts connections
// until ctx is cancelled or Close is called. It blocks; callers
// normally run it in its own goroutine.
func (t *Transport) Listen(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.listenAddr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", t.listenAddr, err)
	}
	t.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		netConn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("transport: accept: %w", err)
			}
		}
		go t.serve(newConn(netConn))
	}
}

// Dial opens an outbound connection to addr and begins serving it with
// the same handlers an inbound connection would get.
func (t *Transport) Dial(ctx context.Context, addr string) (*Conn, error) {
	var d net.Dialer
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	c := newConn(netConn)
	go t.serve(c)
	return c, nil
}

func (t *Transport) serve(c *Conn) {
	go c.writeLoop()
	if t.handlers.OnConnect != nil {
		t.handlers.OnConnect(c)
	}
	c.readLoop(func(conn *Conn, env *wire.Envelope) {
		if t.handlers.OnMessage != nil {
			t.handlers.OnMessage(conn, env)
		}
	})
	if t.handlers.OnDisconnect != nil {
		t.handlers.OnDisconnect(c)
	}
}

// Close stops accepting new inbound connections. In-flight connections
// are unaffected; callers close those individually via Conn.Close.
func (t *Transport) Close() error {
	if t.listener == nil {
		return nil
	}
	return t.listener.Close()
}

// Addr returns the transport's bound listen address. Only valid once
// Listen has bound the listener; nil before that.
func (t *Transport) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}
