package transport

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fleetmesh/fleetd/pkg/wire"
	"github.com/stretchr/testify/require"
)

func TestDialAndSendDeliversFrame(t *testing.T) {
	var mu sync.Mutex
	var received []*wire.Envelope
	gotOne := make(chan struct{}, 1)

	server := New("127.0.0.1:0", Handlers{
		OnMessage: func(c *Conn, env *wire.Envelope) {
			mu.Lock()
			received = append(received, env)
			mu.Unlock()
			select {
			case gotOne <- struct{}{}:
			default:
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listenErrCh := make(chan error, 1)
	go func() { listenErrCh <- server.Listen(ctx) }()

	// Wait for the listener to bind.
	var addr string
	require.Eventually(t, func() bool {
		if server.Addr() == nil {
			return false
		}
		addr = server.Addr().String()
		return true
	}, time.Second, 5*time.Millisecond)

	client, err := server.Dial(ctx, addr)
	require.NoError(t, err)
	defer client.Close()

	env, err := wire.NewEnvelope(wire.MsgPing, "client-1", 1, struct{}{})
	require.NoError(t, err)
	client.Send(env)

	select {
	case <-gotOne:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	require.Equal(t, wire.MsgPing, received[0].Type)
	require.Equal(t, "client-1", received[0].From)
}

func TestSendDropsWhenBufferFull(t *testing.T) {
	// No writeLoop running, so sendCh is never drained: this exercises
	// the drop-on-full backpressure path directly (spec §5).
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := newConn(client)
	defer c.Close()

	env, err := wire.NewEnvelope(wire.MsgPing, "c", 1, struct{}{})
	require.NoError(t, err)

	for i := 0; i < sendBufferSize; i++ {
		c.Send(env)
	}
	require.Equal(t, int64(0), c.Dropped())

	c.Send(env)
	require.Equal(t, int64(1), c.Dropped())
}

func TestReadLoopToleratesMalformedFramesButClosesOnIOError(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	c := newConn(server)

	var received atomic.Int64
	done := make(chan struct{})
	go func() {
		c.readLoop(func(_ *Conn, _ *wire.Envelope) { received.Add(1) })
		close(done)
	}()

	writeFrame := func(body []byte) {
		var lenPrefix [4]byte
		binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))
		client.Write(lenPrefix[:])
		client.Write(body)
	}

	// A handful of malformed (non-JSON) frames should be dropped and
	// counted, not tear down the connection.
	for i := 0; i < 3; i++ {
		writeFrame([]byte("not json"))
	}

	env, err := wire.NewEnvelope(wire.MsgPing, "c", 1, struct{}{})
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(client, env))

	require.Eventually(t, func() bool { return received.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int64(3), c.Malformed())

	// Closing the underlying pipe surfaces as a transient I/O error,
	// which does close the connection.
	client.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("readLoop did not exit after connection closed")
	}
}
