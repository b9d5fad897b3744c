package dht

import (
	"github.com/fleetmesh/fleetd/pkg/storage"
	"github.com/fleetmesh/fleetd/pkg/wire"

	"github.com/fleetmesh/fleetd/pkg/types"
)

// Receive decodes env's payload and routes it to the matching
// handler. The node wiring layer calls this for every inbound
// envelope whose type this package owns.
func (e *Engine) Receive(env *wire.Envelope, fromAddr string) {
	switch env.Type {
	case wire.MsgDHTPut:
		var p wire.DHTPutPayload
		if e.decode(env, &p) {
			e.receivePut(p.Entry, fromAddr)
		}
	case wire.MsgDHTDelete:
		var p wire.DHTDeletePayload
		if e.decode(env, &p) {
			e.receiveDelete(p, fromAddr)
		}
	case wire.MsgDHTSyncReq:
		var p wire.DHTSyncReqPayload
		if e.decode(env, &p) {
			// env.From is the sender's own node id, which is what a
			// sync response must be addressed to (fromAddr is only
			// meaningful as an except-sender broadcast exclusion).
			e.handleSyncReq(p, env.From)
		}
	case wire.MsgDHTSyncRsp:
		var p wire.DHTSyncRspPayload
		if e.decode(env, &p) {
			e.handleSyncRsp(p)
		}
	}
}

func (e *Engine) decode(env *wire.Envelope, v interface{}) bool {
	if err := env.Decode(v); err != nil {
		e.logger.Warn().Err(err).Str("type", env.Type.String()).Msg("malformed dht payload")
		return false
	}
	return true
}

// receivePut verifies integrity, applies last-writer-wins on
// LamportTS, and forwards to every peer except the sender. A value
// whose hash doesn't match its content hash is rejected and never
// forwarded, per spec §8 scenario 5.
func (e *Engine) receivePut(incoming types.DHTEntry, fromAddr string) {
	if !incoming.Tombstone && contentHash(incoming.Value) != incoming.ContentHash {
		e.logger.Warn().Str("key", incoming.Key).Str("from", fromAddr).Msg("dropping dht entry with content hash mismatch")
		return
	}
	if e.seen.CheckAndAdd(seenKey(incoming.Key, incoming.LamportTS)) {
		return
	}

	existing, err := e.store.GetDHTEntry(incoming.Key)
	if err != nil && err != storage.ErrNotFound {
		e.logger.Error().Err(err).Str("key", incoming.Key).Msg("load dht entry")
		return
	}
	if err == nil && existing.LamportTS >= incoming.LamportTS {
		return
	}

	e.clock.Witness(incoming.LamportTS)
	if err := e.store.PutDHTEntry(&incoming); err != nil {
		e.logger.Error().Err(err).Str("key", incoming.Key).Msg("apply dht entry")
		return
	}
	e.broadcast(wire.MsgDHTPut, incoming.LamportTS, fromAddr, wire.DHTPutPayload{Entry: incoming})
}

// receiveDelete applies a remote tombstone under the same
// last-writer-wins rule as receivePut.
func (e *Engine) receiveDelete(p wire.DHTDeletePayload, fromAddr string) {
	if e.seen.CheckAndAdd(seenKey(p.Key, p.LamportTS)) {
		return
	}

	existing, err := e.store.GetDHTEntry(p.Key)
	if err != nil && err != storage.ErrNotFound {
		e.logger.Error().Err(err).Str("key", p.Key).Msg("load dht entry")
		return
	}
	if err == nil && existing.LamportTS >= p.LamportTS {
		return
	}

	e.clock.Witness(p.LamportTS)
	entry := types.DHTEntry{Key: p.Key, OriginNodeID: p.NodeID, LamportTS: p.LamportTS, Tombstone: true}
	if existing != nil {
		entry.ContentHash = existing.ContentHash
		entry.ReplicaCount = existing.ReplicaCount
		entry.CreatedAt = existing.CreatedAt
	}
	if err := e.store.PutDHTEntry(&entry); err != nil {
		e.logger.Error().Err(err).Str("key", p.Key).Msg("apply dht tombstone")
		return
	}
	e.broadcast(wire.MsgDHTDelete, p.LamportTS, fromAddr, p)
}
