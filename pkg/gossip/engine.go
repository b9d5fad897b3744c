package gossip

import (
	"fmt"

	"github.com/fleetmesh/fleetd/pkg/clock"
	"github.com/fleetmesh/fleetd/pkg/dedup"
	"github.com/fleetmesh/fleetd/pkg/events"
	"github.com/fleetmesh/fleetd/pkg/log"
	"github.com/fleetmesh/fleetd/pkg/storage"
	"github.com/fleetmesh/fleetd/pkg/wire"
	"github.com/rs/zerolog"
)

// Broadcaster sends env to every connected peer except the one whose
// transport address is exceptAddr (an empty exceptAddr broadcasts to
// everyone — the case for a locally originated mutation). Implemented
// by pkg/node over its live connection set.
type Broadcaster interface {
	Broadcast(env *wire.Envelope, exceptAddr string)
}

// Engine is one node's gossip replication engine. Safe for concurrent
// use; every exported method may be called from multiple goroutines
// (one per connection, one per API request) at once.
type Engine struct {
	selfNodeID string

	store       storage.Store
	clock       *clock.Clock
	seen        *dedup.SeenSet
	tombstones  *dedup.TombstoneTracker
	broadcaster Broadcaster
	events      *events.Broker

	logger zerolog.Logger
}

// New returns an Engine for selfNodeID. tombstones tracks agent
// deregistration only — tasks have no tombstone state, per spec §4.7
// (archive sets a flag but never deletes).
func New(selfNodeID string, store storage.Store, clk *clock.Clock, seen *dedup.SeenSet, tombstones *dedup.TombstoneTracker, broadcaster Broadcaster, evts *events.Broker) *Engine {
	return &Engine{
		selfNodeID:  selfNodeID,
		store:       store,
		clock:       clk,
		seen:        seen,
		tombstones:  tombstones,
		broadcaster: broadcaster,
		events:      evts,
		logger:      log.WithComponent("gossip"),
	}
}

// seenKey builds the dedup key spec §9(b) specifies:
// "{kind}:{id}:{event}:{lamport_ts}".
func seenKey(kind, id, event string, lamportTS int64) string {
	return fmt.Sprintf("%s:%s:%s:%d", kind, id, event, lamportTS)
}

// publish is a best-effort local notification; it never blocks and
// never fails the caller's mutation.
func (e *Engine) publish(typ events.EventType, message string, metadata map[string]string) {
	if e.events == nil {
		return
	}
	e.events.Publish(&events.Event{Type: typ, Message: message, Metadata: metadata})
}

// broadcast marshals payload into an envelope stamped with lamportTS
// and sends it to every peer except exceptAddr.
func (e *Engine) broadcast(t wire.MsgType, lamportTS int64, exceptAddr string, payload interface{}) {
	if e.broadcaster == nil {
		return
	}
	env, err := wire.NewEnvelope(t, e.selfNodeID, lamportTS, payload)
	if err != nil {
		e.logger.Error().Err(err).Str("type", t.String()).Msg("marshal envelope for broadcast")
		return
	}
	e.broadcaster.Broadcast(env, exceptAddr)
}
