package dht

import (
	"time"

	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/fleetmesh/fleetd/pkg/wire"
)

const defaultSyncInterval = 45 * time.Second

// RunSync periodically asks a random peer for every DHT entry (tombstones
// included) created since this node's local high-water mark, the same
// pull-based anti-entropy repair pkg/antientropy runs for tasks and
// agents, applied here to the DHT's own replication stream.
func (e *Engine) RunSync(stop <-chan struct{}) {
	ticker := time.NewTicker(defaultSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.RequestSync()
		}
	}
}

// RequestSync sends a DHT_SYNC_REQ to one random peer.
func (e *Engine) RequestSync() {
	nodeID, ok := e.peers.RandomPeer()
	if !ok {
		return
	}
	e.RequestSyncFrom(nodeID)
}

// RequestSyncFrom sends a DHT_SYNC_REQ to nodeID carrying this node's
// highest known LamportTS, so the reply contains only entries it is
// missing.
func (e *Engine) RequestSyncFrom(nodeID string) {
	since, err := e.localMaxLamportTS()
	if err != nil {
		e.logger.Error().Err(err).Msg("compute local dht high-water mark")
		return
	}
	env, err := wire.NewEnvelope(wire.MsgDHTSyncReq, e.cfg.SelfNodeID, e.clock.Current(), wire.DHTSyncReqPayload{SinceLamportTS: since})
	if err != nil {
		e.logger.Error().Err(err).Msg("marshal dht sync request")
		return
	}
	e.peers.SendTo(nodeID, env)
}

func (e *Engine) localMaxLamportTS() (int64, error) {
	entries, err := e.store.ListDHTEntries()
	if err != nil {
		return 0, err
	}
	var max int64
	for _, entry := range entries {
		if entry.LamportTS > max {
			max = entry.LamportTS
		}
	}
	return max, nil
}

// handleSyncReq replies to nodeID with every entry (including
// tombstones) strictly above p.SinceLamportTS.
func (e *Engine) handleSyncReq(p wire.DHTSyncReqPayload, toNodeID string) {
	entries, err := e.store.ListDHTEntriesSince(p.SinceLamportTS)
	if err != nil {
		e.logger.Error().Err(err).Msg("list dht entries since")
		return
	}
	e.sendSyncRsp(entries, toNodeID)
}

func (e *Engine) sendSyncRsp(entries []*types.DHTEntry, toNodeID string) {
	values := make([]types.DHTEntry, len(entries))
	for i, entry := range entries {
		values[i] = *entry
	}
	env, err := wire.NewEnvelope(wire.MsgDHTSyncRsp, e.cfg.SelfNodeID, e.clock.Current(), wire.DHTSyncRspPayload{Entries: values})
	if err != nil {
		e.logger.Error().Err(err).Msg("marshal dht sync response")
		return
	}
	e.peers.SendTo(toNodeID, env)
}

// handleSyncRsp applies every entry in p under the same
// last-writer-wins + integrity rule as a live DHT_PUT/DHT_DELETE.
func (e *Engine) handleSyncRsp(p wire.DHTSyncRspPayload) {
	for _, entry := range p.Entries {
		if entry.Tombstone {
			e.receiveDelete(wire.DHTDeletePayload{Key: entry.Key, NodeID: entry.OriginNodeID, LamportTS: entry.LamportTS}, "")
			continue
		}
		e.receivePut(entry, "")
	}
}
