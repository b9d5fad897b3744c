package gateway

import (
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/fleetmesh/fleetd/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway() *Gateway {
	return New(Config{ListenAddr: ":0"})
}

func TestHandleHTTPReturns503WhenLeaderUnknown(t *testing.T) {
	g := newTestGateway()

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	rec := httptest.NewRecorder()
	g.handle(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleHTTPForwardsToLeader(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tasks", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Forwarded-For"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	g := newTestGateway()
	host, port := splitTestServerAddr(t, upstream.URL)
	g.UpdateLeader("0x01", host, port)

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	rec := httptest.NewRecorder()
	g.handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestOnElectionVictoryClosesOpenSockets(t *testing.T) {
	g := newTestGateway()
	sock := &upstreamSocket{closed: make(chan struct{})}
	g.registerSocket(sock)

	g.OnElectionVictory(wire.ElectionVictoryPayload{NodeID: "0x02", HTTPPort: 9000}, "10.0.0.2")

	select {
	case <-sock.closed:
	default:
		t.Fatal("socket should have been closed on leader change")
	}
	assert.Equal(t, "0x02", g.currentLeader().nodeID)
}

func TestUpdateLeaderSameNodeDoesNotCloseSockets(t *testing.T) {
	g := newTestGateway()
	g.UpdateLeader("0x01", "10.0.0.1", 9000)

	sock := &upstreamSocket{closed: make(chan struct{})}
	g.registerSocket(sock)

	g.UpdateLeader("0x01", "10.0.0.1", 9000)

	select {
	case <-sock.closed:
		t.Fatal("socket should not be closed when leader is unchanged")
	default:
	}
}

func splitTestServerAddr(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(parsed.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}
