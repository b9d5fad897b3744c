package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fleetmesh/fleetd/pkg/node"
	"github.com/fleetmesh/fleetd/pkg/types"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of a fleetd config file. Durations are
// strings so the file can say "15s" rather than a raw nanosecond count,
// the same convenience cmd/warren's resource YAML gives callers for
// free by round-tripping through time.ParseDuration.
type File struct {
	NodeID     string   `yaml:"node_id"`
	Role       string   `yaml:"role"`
	DataDir    string   `yaml:"data_dir"`
	ListenAddr string   `yaml:"listen_addr"`
	HTTPPort   int      `yaml:"http_port"`
	SeedAddrs  []string `yaml:"seed_addrs"`

	BeaconListenAddr string `yaml:"beacon_listen_addr"`
	BroadcastAddr    string `yaml:"broadcast_addr"`
	MulticastAddr    string `yaml:"multicast_addr"`
	BeaconInterval   string `yaml:"beacon_interval"`

	PEXInterval string `yaml:"pex_interval"`
	PEXFanout   int    `yaml:"pex_fanout"`

	AgentHeartbeatInterval string `yaml:"agent_heartbeat_interval"`
	AgentOfflineThreshold  string `yaml:"agent_offline_threshold"`
	AgentStartupGrace      string `yaml:"agent_startup_grace"`

	EmperorHeartbeatInterval string `yaml:"emperor_heartbeat_interval"`
	ElectionTimeout          string `yaml:"election_timeout"`
	EmperorStaleThreshold    string `yaml:"emperor_stale_threshold"`

	AntiEntropyInterval  string `yaml:"anti_entropy_interval"`
	ClockPersistInterval string `yaml:"clock_persist_interval"`

	PingTimeout string `yaml:"ping_timeout"`

	TombstoneTTL      string `yaml:"tombstone_ttl"`
	DHTPurgeInterval  string `yaml:"dht_purge_interval"`
	DHTTombstoneGrace string `yaml:"dht_tombstone_grace"`

	SeenSetCapacity int `yaml:"seen_set_capacity"`

	GatewayListenAddr string `yaml:"gateway_listen_addr"`

	UpgradeTargetVersion   string `yaml:"upgrade_target_version"`
	UpgradeContinueOnError bool   `yaml:"upgrade_continue_on_error"`
	ConfirmUpgradeHealth   bool   `yaml:"confirm_upgrade_health"`
}

// Load reads and parses a YAML config file. A missing file is not an
// error: callers get a zero-value File, which ToNodeConfig turns into
// node.Config{}.withDefaults()-equivalent behavior purely from flags.
func Load(path string) (*File, error) {
	if path == "" {
		return &File{}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &File{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &f, nil
}

// ToNodeConfig translates the file into a node.Config, parsing every
// duration field. A malformed duration is reported with the offending
// config key so the operator doesn't have to guess which one.
func (f *File) ToNodeConfig() (node.Config, error) {
	durations := map[string]string{
		"beacon_interval":            f.BeaconInterval,
		"pex_interval":               f.PEXInterval,
		"agent_heartbeat_interval":   f.AgentHeartbeatInterval,
		"agent_offline_threshold":    f.AgentOfflineThreshold,
		"agent_startup_grace":        f.AgentStartupGrace,
		"emperor_heartbeat_interval": f.EmperorHeartbeatInterval,
		"election_timeout":           f.ElectionTimeout,
		"emperor_stale_threshold":    f.EmperorStaleThreshold,
		"anti_entropy_interval":      f.AntiEntropyInterval,
		"clock_persist_interval":     f.ClockPersistInterval,
		"ping_timeout":               f.PingTimeout,
		"tombstone_ttl":              f.TombstoneTTL,
		"dht_purge_interval":         f.DHTPurgeInterval,
		"dht_tombstone_grace":        f.DHTTombstoneGrace,
	}
	parsed := make(map[string]time.Duration, len(durations))
	for key, raw := range durations {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return node.Config{}, fmt.Errorf("config: %s: %w", key, err)
		}
		parsed[key] = d
	}

	return node.Config{
		NodeID:     f.NodeID,
		Role:       types.PeerRole(f.Role),
		DataDir:    f.DataDir,
		ListenAddr: f.ListenAddr,
		HTTPPort:   f.HTTPPort,
		SeedAddrs:  f.SeedAddrs,

		BeaconListenAddr: f.BeaconListenAddr,
		BroadcastAddr:    f.BroadcastAddr,
		MulticastAddr:    f.MulticastAddr,
		BeaconInterval:   parsed["beacon_interval"],

		PEXInterval: parsed["pex_interval"],
		PEXFanout:   f.PEXFanout,

		AgentHeartbeatInterval: parsed["agent_heartbeat_interval"],
		AgentOfflineThreshold:  parsed["agent_offline_threshold"],
		AgentStartupGrace:      parsed["agent_startup_grace"],

		EmperorHeartbeatInterval: parsed["emperor_heartbeat_interval"],
		ElectionTimeout:          parsed["election_timeout"],
		EmperorStaleThreshold:    parsed["emperor_stale_threshold"],

		AntiEntropyInterval:  parsed["anti_entropy_interval"],
		ClockPersistInterval: parsed["clock_persist_interval"],

		PingTimeout: parsed["ping_timeout"],

		TombstoneTTL:      parsed["tombstone_ttl"],
		DHTPurgeInterval:  parsed["dht_purge_interval"],
		DHTTombstoneGrace: parsed["dht_tombstone_grace"],

		SeenSetCapacity: f.SeenSetCapacity,

		GatewayListenAddr: f.GatewayListenAddr,

		UpgradeTargetVersion:   f.UpgradeTargetVersion,
		UpgradeContinueOnError: f.UpgradeContinueOnError,
		ConfirmUpgradeHealth:   f.ConfirmUpgradeHealth,
	}, nil
}

// ApplyFlags overrides cfg with whichever of the given flags the
// operator actually set, letting a one-off command-line override beat
// the config file without needing a full flag-per-field diff. Flags not
// present in fs (e.g. a subcommand that only exposes a subset) are
// silently skipped.
func ApplyFlags(cfg node.Config, fs *pflag.FlagSet) node.Config {
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			*dst, _ = fs.GetString(name)
		}
	}
	dur := func(name string, dst *time.Duration) {
		if fs.Changed(name) {
			*dst, _ = fs.GetDuration(name)
		}
	}
	i := func(name string, dst *int) {
		if fs.Changed(name) {
			*dst, _ = fs.GetInt(name)
		}
	}
	b := func(name string, dst *bool) {
		if fs.Changed(name) {
			*dst, _ = fs.GetBool(name)
		}
	}

	str("node-id", &cfg.NodeID)
	if fs.Changed("role") {
		v, _ := fs.GetString("role")
		cfg.Role = types.PeerRole(v)
	}
	str("data-dir", &cfg.DataDir)
	str("listen-addr", &cfg.ListenAddr)
	i("http-port", &cfg.HTTPPort)
	if fs.Changed("seeds") {
		cfg.SeedAddrs, _ = fs.GetStringSlice("seeds")
	}
	str("gateway-listen-addr", &cfg.GatewayListenAddr)
	str("upgrade-target-version", &cfg.UpgradeTargetVersion)
	b("upgrade-continue-on-error", &cfg.UpgradeContinueOnError)
	b("confirm-upgrade-health", &cfg.ConfirmUpgradeHealth)
	dur("election-timeout", &cfg.ElectionTimeout)
	dur("anti-entropy-interval", &cfg.AntiEntropyInterval)

	return cfg
}
