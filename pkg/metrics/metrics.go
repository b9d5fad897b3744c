package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Mesh membership metrics
	PeersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetd_peers_total",
			Help: "Total number of known mesh peers by role",
		},
		[]string{"role"},
	)

	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetd_agents_total",
			Help: "Total number of agents by status",
		},
		[]string{"status"},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetd_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)

	DHTEntriesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_dht_entries_total",
			Help: "Total number of live (non-tombstoned) DHT entries",
		},
	)

	// Election metrics
	ElectionIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_election_is_leader",
			Help: "Whether this node currently believes it is leader (1 = leader, 0 = follower)",
		},
	)

	ElectionsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetd_elections_started_total",
			Help: "Total number of elections this node has started",
		},
	)

	// Gossip metrics
	GossipOriginatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_gossip_originated_total",
			Help: "Total number of gossip events originated by this node, by entity kind",
		},
		[]string{"kind"},
	)

	GossipReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_gossip_received_total",
			Help: "Total number of gossip events received, by entity kind and outcome (applied, duplicate, stale)",
		},
		[]string{"kind", "outcome"},
	)

	GossipFanoutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetd_gossip_fanout_duration_seconds",
			Help:    "Time taken to broadcast a gossip event to connected peers",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Anti-entropy metrics
	AntiEntropySyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_anti_entropy_syncs_total",
			Help: "Total number of anti-entropy sync round trips, by entity kind",
		},
		[]string{"kind"},
	)

	// DHT metrics
	DHTPutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetd_dht_put_duration_seconds",
			Help:    "Time taken to originate and replicate a DHT put",
			Buckets: prometheus.DefBuckets,
		},
	)

	DHTPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetd_dht_purged_total",
			Help: "Total number of DHT tombstones purged by garbage collection",
		},
	)

	// Gateway metrics
	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_gateway_requests_total",
			Help: "Total number of requests forwarded by the gateway, by status",
		},
		[]string{"status"},
	)

	GatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetd_gateway_request_duration_seconds",
			Help:    "Gateway forwarded request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	GatewayLeaderChangesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetd_gateway_leader_changes_total",
			Help: "Total number of times the gateway observed a new leader",
		},
	)

	// Upgrade metrics
	UpgradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_upgrades_total",
			Help: "Total number of rolling upgrades, by outcome (completed, failed)",
		},
		[]string{"outcome"},
	)

	UpgradeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetd_upgrade_duration_seconds",
			Help:    "Time taken for a full rolling upgrade",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	WorkerUpgradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_worker_upgrades_total",
			Help: "Total number of per-worker upgrade attempts, by outcome",
		},
		[]string{"outcome"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_api_requests_total",
			Help: "Total number of HTTP API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetd_api_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(PeersTotal)
	prometheus.MustRegister(AgentsTotal)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(DHTEntriesTotal)

	prometheus.MustRegister(ElectionIsLeader)
	prometheus.MustRegister(ElectionsStartedTotal)

	prometheus.MustRegister(GossipOriginatedTotal)
	prometheus.MustRegister(GossipReceivedTotal)
	prometheus.MustRegister(GossipFanoutDuration)

	prometheus.MustRegister(AntiEntropySyncsTotal)

	prometheus.MustRegister(DHTPutDuration)
	prometheus.MustRegister(DHTPurgedTotal)

	prometheus.MustRegister(GatewayRequestsTotal)
	prometheus.MustRegister(GatewayRequestDuration)
	prometheus.MustRegister(GatewayLeaderChangesTotal)

	prometheus.MustRegister(UpgradesTotal)
	prometheus.MustRegister(UpgradeDuration)
	prometheus.MustRegister(WorkerUpgradesTotal)

	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
