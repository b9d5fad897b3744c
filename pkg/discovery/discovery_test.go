package discovery

import (
	"testing"

	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/fleetmesh/fleetd/pkg/wire"
)

func TestSuggestDedupes(t *testing.T) {
	d := New(Config{NodeID: "n1"})

	d.suggest("10.0.0.1:7000")
	d.suggest("10.0.0.1:7000")
	d.suggest("10.0.0.2:7000")

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case addr := <-d.DialQueue():
			got = append(got, addr)
		default:
			t.Fatalf("expected 2 queued addresses, got %d", len(got))
		}
	}

	select {
	case addr := <-d.DialQueue():
		t.Fatalf("expected no third suggestion, got %s", addr)
	default:
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 distinct addresses, got %v", got)
	}
}

func TestSuggestIgnoresEmpty(t *testing.T) {
	d := New(Config{NodeID: "n1"})
	d.suggest("")

	select {
	case addr := <-d.DialQueue():
		t.Fatalf("expected no suggestion for empty address, got %s", addr)
	default:
	}
}

func TestForgetAllowsResuggestion(t *testing.T) {
	d := New(Config{NodeID: "n1"})
	d.suggest("10.0.0.1:7000")
	<-d.DialQueue()

	d.Forget("10.0.0.1:7000")
	d.suggest("10.0.0.1:7000")

	select {
	case addr := <-d.DialQueue():
		if addr != "10.0.0.1:7000" {
			t.Fatalf("unexpected address %s", addr)
		}
	default:
		t.Fatal("expected resuggestion after Forget")
	}
}

func TestBuildPEXCapsAtFanout(t *testing.T) {
	peers := []types.Peer{
		{NodeID: "a", Address: "10.0.0.1:7000", P2PPort: 7000},
		{NodeID: "b", Address: "10.0.0.2:7000", P2PPort: 7000},
		{NodeID: "c", Address: "10.0.0.3:7000", P2PPort: 7000},
	}

	payload := BuildPEX(peers, 2)
	if len(payload.Peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(payload.Peers))
	}
}

func TestBuildPEXEmptyInput(t *testing.T) {
	payload := BuildPEX(nil, 8)
	if len(payload.Peers) != 0 {
		t.Fatalf("expected empty payload, got %d peers", len(payload.Peers))
	}
}

func TestHandlePEXQueuesUnknownAddresses(t *testing.T) {
	d := New(Config{NodeID: "n1"})
	payload := wire.PEXPayload{Peers: []wire.PEXPeer{
		{NodeID: "b", Address: "10.0.0.2:7000", P2PPort: 7000},
		{NodeID: "c", Address: "10.0.0.3:7000", P2PPort: 7000},
	}}

	d.HandlePEX(payload)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case addr := <-d.DialQueue():
			seen[addr] = true
		default:
			t.Fatalf("expected 2 queued addresses, got %d", len(seen))
		}
	}
	if !seen["10.0.0.2:7000"] || !seen["10.0.0.3:7000"] {
		t.Fatalf("unexpected queued set: %v", seen)
	}
}
