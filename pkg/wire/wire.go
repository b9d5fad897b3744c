/*
Package wire defines the mesh's on-the-wire message catalogue and the
length-prefixed JSON frame codec every peer connection speaks.

Frame shape: a 4-byte big-endian length prefix followed by that many
bytes of UTF-8 JSON, decoding to an Envelope. Unknown fields on ingress
are ignored by encoding/json by default, which gives the forward
compatibility spec §6 requires for free.
*/
package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrMalformedFrame wraps the ReadFrame failure for a fully read body
// that is not valid JSON, as opposed to an I/O error or a bad length
// prefix, which ReadFrame returns unwrapped. Callers use
// errors.Is to tell the two apart: spec §7 drops the former and keeps
// the connection, but closes on the latter.
var ErrMalformedFrame = errors.New("wire: malformed frame")

// MsgType is the wire discriminator. Zero is reserved so a zero-value
// Envelope is never mistaken for a real message.
type MsgType int

const (
	_ MsgType = iota

	// Transport / liveness
	MsgHello
	MsgPing
	MsgPong

	// Discovery
	MsgPEX
	MsgDHTDiscLookup
	MsgDHTDiscLookupRsp
	MsgDHTDiscAnnounce

	// Task gossip
	MsgTaskCreate
	MsgTaskClaim
	MsgTaskUpdate
	MsgTaskComplete
	MsgTaskFail
	MsgTaskCancel
	MsgTaskArchive
	MsgTaskAssign

	// Task sync
	MsgTaskSyncReq
	MsgTaskSyncRsp

	// Agent gossip
	MsgAgentRegister
	MsgAgentHeartbeat
	MsgAgentDeregister

	// Agent sync
	MsgAgentSyncReq
	MsgAgentSyncRsp

	// Election
	MsgEmperorHeartbeat
	MsgElectionStart
	MsgElectionVictory
	MsgCensusRequest

	// DHT
	MsgDHTPut
	MsgDHTGet
	MsgDHTGetRsp
	MsgDHTDelete
	MsgDHTSyncReq
	MsgDHTSyncRsp

	// Upgrade
	MsgUpgradeRequest
	MsgUpgradeStatus
)

func (t MsgType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("MsgType(%d)", int(t))
}

var typeNames = map[MsgType]string{
	MsgHello:            "HELLO",
	MsgPing:             "PING",
	MsgPong:             "PONG",
	MsgPEX:              "PEX",
	MsgDHTDiscLookup:    "DHT_DISC_LOOKUP",
	MsgDHTDiscLookupRsp: "DHT_DISC_LOOKUP_RSP",
	MsgDHTDiscAnnounce:  "DHT_DISC_ANNOUNCE",
	MsgTaskCreate:       "TASK_CREATE",
	MsgTaskClaim:        "TASK_CLAIM",
	MsgTaskUpdate:       "TASK_UPDATE",
	MsgTaskComplete:     "TASK_COMPLETE",
	MsgTaskFail:         "TASK_FAIL",
	MsgTaskCancel:       "TASK_CANCEL",
	MsgTaskArchive:      "TASK_ARCHIVE",
	MsgTaskAssign:       "TASK_ASSIGN",
	MsgTaskSyncReq:      "TASK_SYNC_REQ",
	MsgTaskSyncRsp:      "TASK_SYNC_RSP",
	MsgAgentRegister:    "AGENT_REGISTER",
	MsgAgentHeartbeat:   "AGENT_HEARTBEAT",
	MsgAgentDeregister:  "AGENT_DEREGISTER",
	MsgAgentSyncReq:     "AGENT_SYNC_REQ",
	MsgAgentSyncRsp:     "AGENT_SYNC_RSP",
	MsgEmperorHeartbeat: "EMPEROR_HEARTBEAT",
	MsgElectionStart:    "ELECTION_START",
	MsgElectionVictory:  "ELECTION_VICTORY",
	MsgCensusRequest:    "CENSUS_REQUEST",
	MsgDHTPut:           "DHT_PUT",
	MsgDHTGet:           "DHT_GET",
	MsgDHTGetRsp:        "DHT_GET_RSP",
	MsgDHTDelete:        "DHT_DELETE",
	MsgDHTSyncReq:       "DHT_SYNC_REQ",
	MsgDHTSyncRsp:       "DHT_SYNC_RSP",
	MsgUpgradeRequest:   "UPGRADE_REQUEST",
	MsgUpgradeStatus:    "UPGRADE_STATUS",
}

// Envelope is the outer frame every message is wrapped in. Payload is
// deferred decoding (json.RawMessage) so the transport layer can inspect
// Type and LamportTS without unmarshalling the type-specific body, and so
// unrecognized future fields round-trip untouched.
type Envelope struct {
	Type      MsgType         `json:"type"`
	From      string          `json:"from"`
	LamportTS int64           `json:"lamport_ts,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope ready to send.
func NewEnvelope(t MsgType, from string, lamportTS int64, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal payload: %w", err)
	}
	return &Envelope{Type: t, From: from, LamportTS: lamportTS, Payload: raw}, nil
}

// Decode unmarshals the envelope's payload into v.
func (e *Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

const maxFrameBytes = 16 * 1024 * 1024

// WriteFrame writes a length-prefixed JSON frame for env to w.
func WriteFrame(w io.Writer, env *Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("wire: marshal envelope: %w", err)
	}
	if len(body) > maxFrameBytes {
		return fmt.Errorf("wire: frame too large: %d bytes", len(body))
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadFrame reads one length-prefixed JSON frame from r. An error
// reading or sizing the length prefix (connection reset, EOF, a bad
// length that would desync the framing) is returned unwrapped — that's
// a transient or unrecoverable transport failure. Once the length-
// prefixed body has been fully read off the wire, a JSON decode failure
// can't desync anything further, so it's returned wrapping
// ErrMalformedFrame instead: the caller can drop just this frame (spec
// §7) and keep reading the connection.
func ReadFrame(r *bufio.Reader) (*Envelope, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n == 0 {
		return nil, fmt.Errorf("wire: zero-length frame")
	}
	if n > maxFrameBytes {
		return nil, fmt.Errorf("wire: frame too large: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("wire: malformed frame: %v: %w", err, ErrMalformedFrame)
	}
	return &env, nil
}
