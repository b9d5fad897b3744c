package discovery

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"time"

	"github.com/fleetmesh/fleetd/pkg/types"
)

// beaconPayload is the UDP datagram spec §4.3 describes: enough to
// locate and dial a peer's TCP listener, nothing more.
type beaconPayload struct {
	NodeID  string         `json:"node_id"`
	P2PPort int            `json:"p2p_port"`
	Role    types.PeerRole `json:"role"`
}

// sendBeaconsLoop periodically sends this node's beacon to the
// broadcast address and/or the multicast group until ctx is cancelled.
func (d *Discovery) sendBeaconsLoop(ctx context.Context) {
	body, err := json.Marshal(beaconPayload{NodeID: d.cfg.NodeID, P2PPort: d.cfg.P2PPort, Role: d.cfg.Role})
	if err != nil {
		d.logger.Error().Err(err).Msg("marshal beacon payload")
		return
	}

	ticker := time.NewTicker(d.cfg.BeaconInterval)
	defer ticker.Stop()

	send := func() {
		if d.cfg.BroadcastAddr != "" {
			d.sendDatagram(d.cfg.BroadcastAddr, body)
		}
		if d.cfg.MulticastAddr != "" {
			d.sendDatagram(d.cfg.MulticastAddr, body)
		}
	}

	send()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			send()
		}
	}
}

func (d *Discovery) sendDatagram(dest string, body []byte) {
	conn, err := net.Dial("udp4", dest)
	if err != nil {
		d.logger.Debug().Err(err).Str("dest", dest).Msg("beacon send dial failed")
		return
	}
	defer conn.Close()
	if _, err := conn.Write(body); err != nil {
		d.logger.Debug().Err(err).Str("dest", dest).Msg("beacon send write failed")
	}
}

// listenBeacons binds the configured beacon listen address and/or
// multicast group and feeds every well-formed, non-self beacon into
// the dial queue until ctx is cancelled.
func (d *Discovery) listenBeacons(ctx context.Context) {
	var conns []net.PacketConn

	if d.cfg.BeaconListenAddr != "" {
		addr, err := net.ResolveUDPAddr("udp4", d.cfg.BeaconListenAddr)
		if err != nil {
			d.logger.Error().Err(err).Msg("resolve beacon listen addr")
		} else if conn, err := net.ListenUDP("udp4", addr); err != nil {
			d.logger.Warn().Err(err).Msg("listen for beacons failed")
		} else {
			conns = append(conns, conn)
		}
	}

	if d.cfg.MulticastAddr != "" {
		addr, err := net.ResolveUDPAddr("udp4", d.cfg.MulticastAddr)
		if err != nil {
			d.logger.Error().Err(err).Msg("resolve multicast addr")
		} else if conn, err := net.ListenMulticastUDP("udp4", nil, addr); err != nil {
			d.logger.Warn().Err(err).Msg("join multicast group failed")
		} else {
			conns = append(conns, conn)
		}
	}

	if len(conns) == 0 {
		return
	}

	go func() {
		<-ctx.Done()
		for _, c := range conns {
			c.Close()
		}
	}()

	for _, c := range conns {
		go d.readBeacons(c)
	}
	<-ctx.Done()
}

func (d *Discovery) readBeacons(conn net.PacketConn) {
	buf := make([]byte, 512)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		var beacon beaconPayload
		if err := json.Unmarshal(buf[:n], &beacon); err != nil {
			continue // malformed datagram, per spec §7 drop and continue
		}
		if beacon.NodeID == "" || beacon.NodeID == d.cfg.NodeID || beacon.P2PPort == 0 {
			continue
		}
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			continue
		}
		d.suggest(net.JoinHostPort(host, strconv.Itoa(beacon.P2PPort)))
	}
}
