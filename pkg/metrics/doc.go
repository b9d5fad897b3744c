/*
Package metrics defines fleetd's Prometheus collectors and the HTTP
health/readiness/liveness endpoints, which report the components
registered through RegisterComponent/UpdateComponent. Metrics are
registered at package init against the default registry and exposed via
Handler(); Collector snapshots a running node's peer registry, task and
agent store, DHT, and election state into those gauges on a ticker, the
way the teacher's own manager-backed Collector did for cluster state.

Timer is the one piece of this package every operation-latency metric
goes through: NewTimer at the start of an operation, then
ObserveDuration (or ObserveDurationVec for a labeled histogram) at the
end.
*/
package metrics
