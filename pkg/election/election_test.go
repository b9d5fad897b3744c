package election

import (
	"testing"
	"time"

	"github.com/fleetmesh/fleetd/pkg/clock"
	"github.com/fleetmesh/fleetd/pkg/registry"
	"github.com/fleetmesh/fleetd/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	envelopes []*wire.Envelope
}

func (b *recordingBroadcaster) Broadcast(env *wire.Envelope) {
	b.envelopes = append(b.envelopes, env)
}

func newTestEngine(selfID string) (*Engine, *recordingBroadcaster) {
	b := &recordingBroadcaster{}
	e := New(Config{SelfNodeID: selfID, HTTPPort: 9000, ElectionTimeout: 20 * time.Millisecond}, clock.New(0), registry.New(selfID), b, nil)
	return e, b
}

func TestStartElectionNoContenderBecomesLeader(t *testing.T) {
	e, b := newTestEngine("0x01")

	e.StartElection()

	assert.True(t, e.IsLeader())
	require.GreaterOrEqual(t, len(b.envelopes), 2)
	assert.Equal(t, wire.MsgElectionStart, b.envelopes[0].Type)

	var sawVictory bool
	for _, env := range b.envelopes {
		if env.Type == wire.MsgElectionVictory {
			sawVictory = true
		}
	}
	assert.True(t, sawVictory)
}

func TestReceiveElectionStartFromLowerNodeIDYields(t *testing.T) {
	e, _ := newTestEngine("0x02")

	done := make(chan struct{})
	go func() {
		e.StartElection()
		close(done)
	}()

	time.Sleep(2 * time.Millisecond)
	e.ReceiveElectionStart(wire.ElectionStartPayload{NodeID: "0x01", LamportTS: 1})
	<-done

	assert.False(t, e.IsLeader(), "must yield to a lower node id")
}

func TestReceiveElectionVictoryAdoptsLeader(t *testing.T) {
	e, _ := newTestEngine("0x02")

	e.ReceiveElectionVictory(wire.ElectionVictoryPayload{NodeID: "0x01", HTTPPort: 9000, LamportTS: 5})

	peer, ok := e.registry.Get("0x01")
	require.True(t, ok)
	assert.Equal(t, "0x01", peer.NodeID)
	assert.EqualValues(t, 5, e.clock.Current())
}

func TestReceiveHeartbeatHigherIDPretenderDoesNotDemoteLowerIDLeader(t *testing.T) {
	e, _ := newTestEngine("0x01")
	e.promote()
	require.True(t, e.IsLeader())

	e.ReceiveHeartbeat(wire.EmperorHeartbeatPayload{NodeID: "0x02", HTTPPort: 9001, LamportTS: 1})

	assert.True(t, e.IsLeader(), "lower node id must stand against a higher-id pretender's heartbeat")
}

func TestReceiveHeartbeatLowerIDHeartbeatDemotesSelf(t *testing.T) {
	e, _ := newTestEngine("0x02")
	e.promote()
	require.True(t, e.IsLeader())

	e.ReceiveHeartbeat(wire.EmperorHeartbeatPayload{NodeID: "0x01", HTTPPort: 9000, LamportTS: 1})

	assert.False(t, e.IsLeader())
}

func TestReceiveCensusRequestInvokesCallback(t *testing.T) {
	e, _ := newTestEngine("0x02")
	called := false
	e.OnCensusRequest = func() { called = true }

	e.ReceiveCensusRequest()

	assert.True(t, called)
}
