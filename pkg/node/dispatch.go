package node

import (
	"net"
	"time"

	"github.com/fleetmesh/fleetd/pkg/events"
	"github.com/fleetmesh/fleetd/pkg/transport"
	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/fleetmesh/fleetd/pkg/wire"
)

// onConnect greets a newly established connection (inbound or outbound)
// with this node's own HELLO, per spec §4.2.
func (n *Node) onConnect(c *transport.Conn) {
	n.conns.add(c)
	_ = c.SetDeadline(time.Now().Add(2 * n.cfg.PingTimeout))
	env, err := wire.NewEnvelope(wire.MsgHello, n.cfg.NodeID, n.clock.Current(), wire.HelloPayload{
		NodeID: n.cfg.NodeID, P2PPort: p2pPort(n.cfg.ListenAddr), HTTPPort: n.cfg.HTTPPort, Role: n.cfg.Role,
	})
	if err != nil {
		n.logger.Error().Err(err).Msg("build hello envelope")
		return
	}
	c.Send(env)
}

// onDisconnect removes the connection from bookkeeping and, if its
// HELLO had completed, removes it from the live peer registry.
func (n *Node) onDisconnect(c *transport.Conn) {
	n.conns.remove(c)
	if c.NodeID == "" {
		return
	}
	n.registry.Remove(c.NodeID)
	n.events.Publish(&events.Event{Type: events.EventPeerLeft, Message: "peer disconnected: " + c.NodeID})
}

// onMessage is the single entry point every inbound frame passes
// through; it refreshes liveness bookkeeping and routes the frame to
// whichever package owns its message type.
func (n *Node) onMessage(c *transport.Conn, env *wire.Envelope) {
	_ = c.SetDeadline(time.Now().Add(2 * n.cfg.PingTimeout))
	if c.NodeID != "" {
		n.registry.Touch(c.NodeID, time.Now())
	}

	switch env.Type {
	case wire.MsgHello:
		n.handleHello(c, env)
	case wire.MsgPing:
		n.handlePing(c, env)
	case wire.MsgPong:
		// liveness already refreshed above; nothing further to do.
	case wire.MsgPEX:
		n.handlePEX(env)

	case wire.MsgTaskCreate, wire.MsgTaskClaim, wire.MsgTaskUpdate, wire.MsgTaskComplete,
		wire.MsgTaskFail, wire.MsgTaskCancel, wire.MsgTaskArchive,
		wire.MsgAgentRegister, wire.MsgAgentHeartbeat, wire.MsgAgentDeregister:
		n.gossip.Receive(env, c.RemoteAddr)

	case wire.MsgEmperorHeartbeat, wire.MsgElectionStart, wire.MsgElectionVictory, wire.MsgCensusRequest:
		n.election.Receive(env, c.NodeID)
		n.feedGateway(c, env)

	case wire.MsgTaskSyncReq, wire.MsgTaskSyncRsp, wire.MsgAgentSyncReq, wire.MsgAgentSyncRsp:
		n.antiEntropy.Receive(env, c.NodeID)

	case wire.MsgDHTPut, wire.MsgDHTDelete, wire.MsgDHTSyncReq, wire.MsgDHTSyncRsp:
		n.dht.Receive(env, c.RemoteAddr)

	case wire.MsgUpgradeRequest:
		n.upgradeWk.Receive(env, c.NodeID)
	case wire.MsgUpgradeStatus:
		n.upgradeCo.Receive(env)
	}
}

func (n *Node) handleHello(c *transport.Conn, env *wire.Envelope) {
	var p wire.HelloPayload
	if err := env.Decode(&p); err != nil {
		n.logger.Warn().Err(err).Msg("malformed hello payload")
		return
	}
	n.conns.setNodeID(c, p.NodeID)
	n.registry.Upsert(types.Peer{
		NodeID: p.NodeID, Address: c.RemoteAddr, P2PPort: p.P2PPort,
		HTTPPort: p.HTTPPort, Role: p.Role, LastSeen: time.Now(),
	})
	n.events.Publish(&events.Event{Type: events.EventPeerJoined, Message: "peer joined: " + p.NodeID})

	n.antiEntropy.RequestTaskSyncFrom(p.NodeID)
	n.antiEntropy.RequestAgentSyncFrom(p.NodeID)
	n.dht.RequestSyncFrom(p.NodeID)

	if n.gateway != nil && p.Role == types.PeerRoleLeader {
		host, _, err := net.SplitHostPort(c.RemoteAddr)
		if err != nil {
			host = c.RemoteAddr
		}
		n.gateway.OnHello(p, host)
	}
}

func (n *Node) handlePing(c *transport.Conn, env *wire.Envelope) {
	pong, err := wire.NewEnvelope(wire.MsgPong, n.cfg.NodeID, n.clock.Current(), struct{}{})
	if err != nil {
		n.logger.Error().Err(err).Msg("build pong envelope")
		return
	}
	c.Send(pong)
}

func (n *Node) handlePEX(env *wire.Envelope) {
	var p wire.PEXPayload
	if err := env.Decode(&p); err != nil {
		n.logger.Warn().Err(err).Msg("malformed pex payload")
		return
	}
	n.discovery.HandlePEX(p)
}

// feedGateway keeps the gateway's tracked leader current from whichever
// election frame just arrived, using the TCP-observed host (never the
// peer's self-advertised address) to build the forwarding target.
func (n *Node) feedGateway(c *transport.Conn, env *wire.Envelope) {
	if n.gateway == nil {
		return
	}
	host, _, err := net.SplitHostPort(c.RemoteAddr)
	if err != nil {
		host = c.RemoteAddr
	}
	switch env.Type {
	case wire.MsgEmperorHeartbeat:
		var p wire.EmperorHeartbeatPayload
		if env.Decode(&p) == nil {
			n.gateway.OnHeartbeat(p, host)
		}
	case wire.MsgElectionVictory:
		var p wire.ElectionVictoryPayload
		if env.Decode(&p) == nil {
			n.gateway.OnElectionVictory(p, host)
		}
	}
}
