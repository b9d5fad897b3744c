package metrics

import (
	"time"

	"github.com/fleetmesh/fleetd/pkg/node"
	"github.com/fleetmesh/fleetd/pkg/types"
)

// Collector periodically snapshots a node's live state into the package
// gauges, the same ticker-driven shape the teacher's manager-backed
// collector used, repointed from Raft/container state at the peer
// registry, task/agent store, DHT, and election engine this package now
// tracks.
type Collector struct {
	node   *node.Node
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector for n.
func NewCollector(n *node.Node) *Collector {
	return &Collector{
		node:   n,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectPeerMetrics()
	c.collectTaskMetrics()
	c.collectAgentMetrics()
	c.collectDHTMetrics()
	c.collectElectionMetrics()
}

func (c *Collector) collectPeerMetrics() {
	counts := make(map[types.PeerRole]int)
	for _, p := range c.node.Registry().List() {
		counts[p.Role]++
	}
	for role, count := range counts {
		PeersTotal.WithLabelValues(string(role)).Set(float64(count))
	}
}

func (c *Collector) collectTaskMetrics() {
	tasks, err := c.node.Store().ListTasks()
	if err != nil {
		return
	}
	counts := make(map[types.TaskStatus]int)
	for _, t := range tasks {
		counts[t.Status]++
	}
	for status, count := range counts {
		TasksTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectAgentMetrics() {
	agents, err := c.node.Store().ListAgents()
	if err != nil {
		return
	}
	counts := make(map[types.AgentStatus]int)
	for _, a := range agents {
		counts[a.Status]++
	}
	for status, count := range counts {
		AgentsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectDHTMetrics() {
	entries, err := c.node.Store().ListDHTEntries()
	if err != nil {
		return
	}
	live := 0
	for _, e := range entries {
		if !e.Tombstone {
			live++
		}
	}
	DHTEntriesTotal.Set(float64(live))
}

func (c *Collector) collectElectionMetrics() {
	if c.node.IsLeader() {
		ElectionIsLeader.Set(1)
	} else {
		ElectionIsLeader.Set(0)
	}
}
