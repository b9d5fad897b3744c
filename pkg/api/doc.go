/*
Package api exposes a node's task, agent and DHT operations over plain
HTTP. Every handler is a thin decoder/encoder wrapped around a
pkg/gossip.Engine Originate* call, a pkg/dht.Engine call, or a
pkg/storage.Store list method —
this package owns no business logic of its own, matching spec.md's
decision to keep planning and scheduling policy an external
collaborator. /healthz reports the same readiness surface
pkg/metrics exposes for scraping, and /ws/events streams the local
pkg/events.Broker as JSON frames for a CLI or dashboard to tail.
*/
package api
