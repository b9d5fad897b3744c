package gateway

import (
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	// The gateway proxies to a leader it already trusts; cross-origin
	// checks belong to the leader's own HTTP handlers, not the pump.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// upstreamSocket pumps frames bidirectionally between one client
// connection and the upstream leader connection it is bound to. It is
// closed either by either side dropping, or by the gateway on a
// leader change.
type upstreamSocket struct {
	client   *websocket.Conn
	upstream *websocket.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	leader := g.currentLeader()
	if !leader.known() {
		http.Error(w, "leader unknown, retry shortly", http.StatusServiceUnavailable)
		return
	}

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	upstreamURL := "ws://" + net.JoinHostPort(leader.host, strconv.Itoa(leader.httpPort)) + r.URL.RequestURI()
	upstreamConn, _, err := websocket.DefaultDialer.Dial(upstreamURL, nil)
	if err != nil {
		g.logger.Warn().Err(err).Str("leader", leader.nodeID).Msg("failed to dial upstream websocket")
		_ = clientConn.Close()
		return
	}

	sock := &upstreamSocket{client: clientConn, upstream: upstreamConn, closed: make(chan struct{})}
	g.registerSocket(sock)
	defer g.unregisterSocket(sock)

	sock.pump()
}

// pump runs both copy directions and blocks until either side closes.
func (s *upstreamSocket) pump() {
	done := make(chan struct{}, 2)
	go func() { s.copy(s.upstream, s.client); done <- struct{}{} }()
	go func() { s.copy(s.client, s.upstream); done <- struct{}{} }()

	select {
	case <-done:
	case <-s.closed:
	}
	s.close()
}

func (s *upstreamSocket) copy(dst, src *websocket.Conn) {
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}

// close tears down both legs of the pump exactly once, whether
// triggered by a read/write error or by the gateway's leader-change
// sweep.
func (s *upstreamSocket) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.client != nil {
			_ = s.client.Close()
		}
		if s.upstream != nil {
			_ = s.upstream.Close()
		}
	})
}
