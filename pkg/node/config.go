package node

import (
	"time"

	"github.com/fleetmesh/fleetd/pkg/types"
)

// Config carries every tunable a node needs to boot, matching the
// defaults spec §6 lists. Zero-value durations are replaced with those
// defaults in New.
type Config struct {
	// NodeID is this process's identity. Left empty, New generates one
	// with uuid.New() and persists it via the first PutClusterState
	// call, so a node's id survives restarts reading the same DataDir.
	NodeID string
	Role   types.PeerRole

	DataDir    string
	ListenAddr string // p2p TCP listen address, e.g. ":7950"
	HTTPPort   int    // advertised to peers; the task/agent API this node answers on

	SeedAddrs []string

	BeaconListenAddr string
	BroadcastAddr    string
	MulticastAddr    string
	BeaconInterval   time.Duration

	PEXInterval time.Duration
	PEXFanout   int

	AgentHeartbeatInterval time.Duration
	AgentOfflineThreshold  time.Duration
	AgentStartupGrace      time.Duration

	EmperorHeartbeatInterval time.Duration
	ElectionTimeout          time.Duration
	EmperorStaleThreshold    time.Duration

	AntiEntropyInterval  time.Duration
	ClockPersistInterval time.Duration

	PingTimeout time.Duration

	TombstoneTTL      time.Duration
	DHTPurgeInterval  time.Duration
	DHTTombstoneGrace time.Duration

	SeenSetCapacity int

	// GatewayListenAddr, if non-empty, starts the reverse-proxy/WS
	// gateway (pkg/gateway) on this address.
	GatewayListenAddr string

	// UpgradeTargetVersion and UpgradeContinueOnError configure the
	// rolling-upgrade coordinator (pkg/upgrade) a leader drives when the
	// operator asks for one; they have no effect until RunUpgrade is
	// called explicitly.
	UpgradeTargetVersion   string
	UpgradeContinueOnError bool
	// ConfirmUpgradeHealth enables the coordinator's post-relaunch HTTP
	// health check (spec §4.13's "optionally hits its health endpoint").
	ConfirmUpgradeHealth bool

	// OnSelfReplace performs this node's own version pull, graceful
	// shutdown, and relaunch when asked to upgrade. Required only on
	// nodes that may receive UPGRADE_REQUEST.
	OnSelfReplace func(targetVersion string) error
}

const (
	defaultAgentHeartbeatInterval   = 15 * time.Second
	defaultAgentOfflineThreshold    = 45 * time.Second
	defaultAgentStartupGrace        = 10 * time.Second
	defaultEmperorHeartbeatInterval = 10 * time.Second
	defaultElectionTimeout          = 5 * time.Second
	defaultEmperorStaleThreshold    = 30 * time.Second
	defaultAntiEntropyInterval      = 60 * time.Second
	defaultClockPersistInterval     = 30 * time.Second
	defaultPingTimeout              = 5 * time.Second
	defaultTombstoneTTL             = 120 * time.Second
	defaultDHTPurgeInterval         = 120 * time.Second
	defaultDHTTombstoneGrace        = 300 * time.Second
	defaultSeenSetCapacity          = 10000
	defaultPEXInterval              = 30 * time.Second
	defaultPEXFanout                = 8
)

func (c Config) withDefaults() Config {
	if c.Role == "" {
		c.Role = types.PeerRoleWorker
	}
	if c.AgentHeartbeatInterval <= 0 {
		c.AgentHeartbeatInterval = defaultAgentHeartbeatInterval
	}
	if c.AgentOfflineThreshold <= 0 {
		c.AgentOfflineThreshold = defaultAgentOfflineThreshold
	}
	if c.AgentStartupGrace <= 0 {
		c.AgentStartupGrace = defaultAgentStartupGrace
	}
	if c.EmperorHeartbeatInterval <= 0 {
		c.EmperorHeartbeatInterval = defaultEmperorHeartbeatInterval
	}
	if c.ElectionTimeout <= 0 {
		c.ElectionTimeout = defaultElectionTimeout
	}
	if c.EmperorStaleThreshold <= 0 {
		c.EmperorStaleThreshold = defaultEmperorStaleThreshold
	}
	if c.AntiEntropyInterval <= 0 {
		c.AntiEntropyInterval = defaultAntiEntropyInterval
	}
	if c.ClockPersistInterval <= 0 {
		c.ClockPersistInterval = defaultClockPersistInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = defaultPingTimeout
	}
	if c.TombstoneTTL <= 0 {
		c.TombstoneTTL = defaultTombstoneTTL
	}
	if c.DHTPurgeInterval <= 0 {
		c.DHTPurgeInterval = defaultDHTPurgeInterval
	}
	if c.DHTTombstoneGrace <= 0 {
		c.DHTTombstoneGrace = defaultDHTTombstoneGrace
	}
	if c.SeenSetCapacity <= 0 {
		c.SeenSetCapacity = defaultSeenSetCapacity
	}
	if c.PEXInterval <= 0 {
		c.PEXInterval = defaultPEXInterval
	}
	if c.PEXFanout <= 0 {
		c.PEXFanout = defaultPEXFanout
	}
	return c
}
