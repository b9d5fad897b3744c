package discovery

import (
	"math/rand"

	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/fleetmesh/fleetd/pkg/wire"
)

// BuildPEX samples up to fanout peers (typically the node's
// registry.List() peers) to advertise to one neighbour. Order is
// shuffled so repeated calls across neighbours eventually spread
// knowledge of the whole known set.
func BuildPEX(peers []types.Peer, fanout int) wire.PEXPayload {
	if fanout <= 0 || len(peers) == 0 {
		return wire.PEXPayload{}
	}

	shuffled := make([]types.Peer, len(peers))
	copy(shuffled, peers)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	if len(shuffled) > fanout {
		shuffled = shuffled[:fanout]
	}

	out := make([]wire.PEXPeer, len(shuffled))
	for i, p := range shuffled {
		out[i] = wire.PEXPeer{NodeID: p.NodeID, Address: p.Address, P2PPort: p.P2PPort}
	}
	return wire.PEXPayload{Peers: out}
}

// HandlePEX feeds every peer address in payload not already known
// into the dial queue.
func (d *Discovery) HandlePEX(payload wire.PEXPayload) {
	for _, p := range payload.Peers {
		d.suggest(p.Address)
	}
}
