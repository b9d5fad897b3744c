/*
Package node wires one process's entire mesh stack together: transport
accepts and dials connections, every inbound frame is routed to the
engine that owns its message type, and every engine's outbound frames
are funneled back through the same live connection set. Nothing here
implements mesh semantics itself — that lives in pkg/registry,
pkg/discovery, pkg/gossip, pkg/antientropy, pkg/election, pkg/dht,
pkg/gateway, and pkg/upgrade. Node is the glue, grounded on the Agent
wiring shape in
_examples/other_examples/dd5b3132_Pew-X-sutra__internal-agent-agent.go.go
and the teacher's manager/worker constructor style: one constructor
that builds every subsystem from a single Config, one Run that starts
them all and blocks until its context is cancelled.
*/
package node
