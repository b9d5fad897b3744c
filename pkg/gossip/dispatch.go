package gossip

import "github.com/fleetmesh/fleetd/pkg/wire"

// Receive decodes env's payload and routes it to the matching apply-
// and-forward handler. Message types this engine doesn't own (HELLO,
// election, DHT, sync, upgrade — owned by pkg/election, pkg/dht,
// pkg/antientropy, pkg/upgrade respectively) are ignored; the node
// wiring layer dispatches those elsewhere before or instead of calling
// Receive.
func (e *Engine) Receive(env *wire.Envelope, fromAddr string) {
	switch env.Type {
	case wire.MsgTaskCreate:
		var p wire.TaskMutationPayload
		if e.decode(env, &p) {
			e.receiveTaskCreate(p, fromAddr)
		}
	case wire.MsgTaskClaim:
		var p wire.TaskClaimPayload
		if e.decode(env, &p) {
			e.receiveTaskClaim(p, fromAddr)
		}
	case wire.MsgTaskUpdate:
		var p wire.TaskMutationPayload
		if e.decode(env, &p) {
			e.receiveTaskUpdate(p, fromAddr)
		}
	case wire.MsgTaskComplete:
		var p wire.TaskMutationPayload
		if e.decode(env, &p) {
			e.receiveTaskComplete(p, fromAddr)
		}
	case wire.MsgTaskFail:
		var p wire.TaskMutationPayload
		if e.decode(env, &p) {
			e.receiveTaskFail(p, fromAddr)
		}
	case wire.MsgTaskCancel:
		var p wire.TaskMutationPayload
		if e.decode(env, &p) {
			e.receiveTaskCancel(p, fromAddr)
		}
	case wire.MsgTaskArchive:
		var p wire.TaskMutationPayload
		if e.decode(env, &p) {
			e.receiveTaskArchive(p, fromAddr)
		}
	case wire.MsgAgentRegister:
		var p wire.AgentMutationPayload
		if e.decode(env, &p) {
			e.receiveAgentRegister(p, fromAddr)
		}
	case wire.MsgAgentHeartbeat:
		var p wire.AgentMutationPayload
		if e.decode(env, &p) {
			e.receiveAgentHeartbeat(p, fromAddr)
		}
	case wire.MsgAgentDeregister:
		var p wire.AgentDeregisterPayload
		if e.decode(env, &p) {
			e.receiveAgentDeregister(p, fromAddr)
		}
	}
}

// decode unmarshals env's payload into v, logging and returning false
// on a malformed frame rather than panicking or propagating an error
// (spec §7: drop malformed payloads, keep the connection).
func (e *Engine) decode(env *wire.Envelope, v interface{}) bool {
	if err := env.Decode(v); err != nil {
		e.logger.Warn().Err(err).Str("type", env.Type.String()).Msg("malformed gossip payload")
		return false
	}
	return true
}
