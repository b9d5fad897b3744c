package node

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"sync"

	"github.com/fleetmesh/fleetd/pkg/health"
	"github.com/fleetmesh/fleetd/pkg/transport"
	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/fleetmesh/fleetd/pkg/wire"
)

// connSet tracks every live connection two ways at once: by the remote
// TCP address it was dialed to or accepted from (used for broadcast
// exclusion, spec §9(c)), and by the peer node id learned from its
// HELLO (used to address a specific peer, which is unknown until HELLO
// completes).
type connSet struct {
	mu     sync.RWMutex
	byAddr map[string]*transport.Conn
	byNode map[string]*transport.Conn
}

func newConnSet() *connSet {
	return &connSet{
		byAddr: make(map[string]*transport.Conn),
		byNode: make(map[string]*transport.Conn),
	}
}

func (s *connSet) add(c *transport.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byAddr[c.RemoteAddr] = c
}

// setNodeID records the node-id a HELLO revealed for c. If another live
// connection already claims the same node-id (a racing inbound/outbound
// dial pair), the older connection is evicted — spec §4.2 requires this
// to prevent split-brain from two simultaneously-live links to one peer.
func (s *connSet) setNodeID(c *transport.Conn, nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byNode[nodeID]; ok && old != c {
		delete(s.byAddr, old.RemoteAddr)
		old.Close()
	}
	c.NodeID = nodeID
	s.byNode[nodeID] = c
}

func (s *connSet) remove(c *transport.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byAddr, c.RemoteAddr)
	if c.NodeID != "" && s.byNode[c.NodeID] == c {
		delete(s.byNode, c.NodeID)
	}
}

func (s *connSet) hasAddr(addr string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byAddr[addr]
	return ok
}

func (s *connSet) all() []*transport.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*transport.Conn, 0, len(s.byAddr))
	for _, c := range s.byAddr {
		out = append(out, c)
	}
	return out
}

func (s *connSet) byNodeID(nodeID string) (*transport.Conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byNode[nodeID]
	return c, ok
}

// randomNodeID returns one randomly chosen connected peer's node id.
func (s *connSet) randomNodeID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.byNode) == 0 {
		return "", false
	}
	n := rand.Intn(len(s.byNode))
	i := 0
	for id := range s.byNode {
		if i == n {
			return id, true
		}
		i++
	}
	return "", false
}

// broadcastAll sends env to every connection except the one whose
// RemoteAddr is exceptAddr (an empty exceptAddr excludes nothing).
func (n *Node) broadcastAll(env *wire.Envelope, exceptAddr string) {
	for _, c := range n.conns.all() {
		if exceptAddr != "" && c.RemoteAddr == exceptAddr {
			continue
		}
		c.Send(env)
	}
}

// gossipBroadcaster adapts Node to pkg/gossip.Broadcaster and
// pkg/dht.Broadcaster, both of which share the (env, exceptAddr) shape.
type gossipBroadcaster struct{ n *Node }

func (b gossipBroadcaster) Broadcast(env *wire.Envelope, exceptAddr string) {
	b.n.broadcastAll(env, exceptAddr)
}

// electionBroadcaster adapts Node to pkg/election.Broadcaster, which
// always addresses the whole mesh.
type electionBroadcaster struct{ n *Node }

func (b electionBroadcaster) Broadcast(env *wire.Envelope) {
	b.n.broadcastAll(env, "")
}

// peerUnicaster adapts Node to the RandomPeer/SendTo interfaces shared
// by pkg/antientropy, pkg/dht, and pkg/upgrade.
type peerUnicaster struct{ n *Node }

func (u peerUnicaster) RandomPeer() (string, bool) {
	return u.n.conns.randomNodeID()
}

func (u peerUnicaster) SendTo(nodeID string, env *wire.Envelope) bool {
	c, ok := u.n.conns.byNodeID(nodeID)
	if !ok {
		return false
	}
	c.Send(env)
	return true
}

// confirmUpgradeHealth is wired as upgrade.Config.ConfirmHealth. It is
// a no-op unless the operator opted into the post-relaunch health
// check (spec §4.13).
func (n *Node) confirmUpgradeHealth(ctx context.Context, peer types.Peer) error {
	if !n.cfg.ConfirmUpgradeHealth {
		return nil
	}
	host, _, err := net.SplitHostPort(peer.Address)
	if err != nil {
		host = peer.Address
	}
	url := fmt.Sprintf("http://%s/healthz", net.JoinHostPort(host, strconv.Itoa(peer.HTTPPort)))
	result := health.NewHTTPChecker(url).Check(ctx)
	if !result.Healthy {
		return fmt.Errorf("health check failed: %s", result.Message)
	}
	return nil
}

// p2pPort extracts the numeric port from a "host:port" or ":port"
// listen address, returning 0 if it cannot be parsed.
func p2pPort(listenAddr string) int {
	_, portStr, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}
