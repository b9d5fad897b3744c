package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/fleetmesh/fleetd/pkg/log"
	"github.com/fleetmesh/fleetd/pkg/wire"
	"github.com/rs/zerolog"
)

// leaderInfo is the single tracked variable spec §4.12 names:
// (leader_node_id, leader_host, leader_http_port).
type leaderInfo struct {
	nodeID   string
	host     string
	httpPort int
}

func (l leaderInfo) known() bool { return l.nodeID != "" && l.host != "" && l.httpPort != 0 }

func (l leaderInfo) baseURL() string {
	return fmt.Sprintf("http://%s", net.JoinHostPort(l.host, fmt.Sprintf("%d", l.httpPort)))
}

// Config carries gateway's tunables.
type Config struct {
	ListenAddr string // e.g. ":8080"
}

// Gateway forwards client HTTP and WebSocket traffic to the current
// mesh leader, re-targeting itself as the leader changes.
type Gateway struct {
	cfg    Config
	logger zerolog.Logger
	server *http.Server

	mu       sync.RWMutex
	leader   leaderInfo
	sockets  map[*upstreamSocket]struct{}
}

// New returns a Gateway ready to Run.
func New(cfg Config) *Gateway {
	g := &Gateway{
		cfg:     cfg,
		logger:  log.WithComponent("gateway"),
		sockets: make(map[*upstreamSocket]struct{}),
	}
	g.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      http.HandlerFunc(g.handle),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses and WS connections can run indefinitely
		IdleTimeout:  120 * time.Second,
	}
	return g
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", g.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", g.cfg.ListenAddr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info().Str("addr", g.cfg.ListenAddr).Msg("gateway listening")
		if err := g.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	g.closeAllSockets()
	return g.server.Shutdown(shutdownCtx)
}

// UpdateLeader records the current leader at host:httpPort. The On*
// callers pass the host observed on the connection the frame arrived
// over, since HELLO and EMPEROR_HEARTBEAT carry no address of their
// own. A change in leader_node_id closes every open upstream socket.
func (g *Gateway) UpdateLeader(nodeID, host string, httpPort int) {
	next := leaderInfo{nodeID: nodeID, host: host, httpPort: httpPort}

	g.mu.Lock()
	changed := g.leader.nodeID != "" && g.leader.nodeID != next.nodeID
	g.leader = next
	g.mu.Unlock()

	g.logger.Info().Str("leader", nodeID).Str("host", host).Int("http_port", httpPort).Msg("leader updated")
	if changed {
		g.closeAllSockets()
	}
}

// OnHello updates the tracked leader from a HELLO whose sender claims
// the leader role; connHost supplies the host, since HELLO carries
// only the advertised ports.
func (g *Gateway) OnHello(p wire.HelloPayload, connHost string) {
	g.UpdateLeader(p.NodeID, connHost, p.HTTPPort)
}

// OnHeartbeat updates the tracked leader from an EMPEROR_HEARTBEAT.
func (g *Gateway) OnHeartbeat(p wire.EmperorHeartbeatPayload, connHost string) {
	g.UpdateLeader(p.NodeID, connHost, p.HTTPPort)
}

// OnElectionVictory updates the tracked leader from an
// ELECTION_VICTORY, which always signals a leader change worth
// dropping open sockets over even if the node id happens to repeat
// (a leader that lost and regained leadership still invalidated every
// socket in between).
func (g *Gateway) OnElectionVictory(p wire.ElectionVictoryPayload, connHost string) {
	g.mu.Lock()
	g.leader = leaderInfo{nodeID: p.NodeID, host: connHost, httpPort: p.HTTPPort}
	g.mu.Unlock()
	g.logger.Info().Str("leader", p.NodeID).Msg("leader changed by election victory")
	g.closeAllSockets()
}

func (g *Gateway) currentLeader() leaderInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.leader
}

func (g *Gateway) handle(w http.ResponseWriter, r *http.Request) {
	if isWebSocketUpgrade(r) {
		g.handleWebSocket(w, r)
		return
	}
	g.handleHTTP(w, r)
}

func (g *Gateway) handleHTTP(w http.ResponseWriter, r *http.Request) {
	leader := g.currentLeader()
	if !leader.known() {
		http.Error(w, "leader unknown, retry shortly", http.StatusServiceUnavailable)
		return
	}

	target, err := url.Parse(leader.baseURL())
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = r.Host
		req.Header.Set("X-Forwarded-For", r.RemoteAddr)
		req.Header.Set("X-Forwarded-Proto", "http")
		req.Header.Set("X-Forwarded-Host", r.Host)
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		g.logger.Error().Err(err).Str("leader", leader.nodeID).Msg("proxy request failed")
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}
	proxy.ServeHTTP(w, r)
}

func isWebSocketUpgrade(r *http.Request) bool {
	return r.Header.Get("Upgrade") == "websocket"
}

func (g *Gateway) registerSocket(s *upstreamSocket) {
	g.mu.Lock()
	g.sockets[s] = struct{}{}
	g.mu.Unlock()
}

func (g *Gateway) unregisterSocket(s *upstreamSocket) {
	g.mu.Lock()
	delete(g.sockets, s)
	g.mu.Unlock()
}

func (g *Gateway) closeAllSockets() {
	g.mu.Lock()
	sockets := make([]*upstreamSocket, 0, len(g.sockets))
	for s := range g.sockets {
		sockets = append(sockets, s)
	}
	g.sockets = make(map[*upstreamSocket]struct{})
	g.mu.Unlock()

	for _, s := range sockets {
		s.close()
	}
}
