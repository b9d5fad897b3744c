/*
Package log provides the mesh's structured logging, a thin wrapper
around zerolog. A single global Logger is configured once at startup
via Init; every component derives a child logger from it scoped with
fields (WithComponent, WithNodeID, WithPeerID, WithAgentID, WithTaskID)
rather than constructing its own zerolog instance, so every log line
carries consistent fields regardless of which package emitted it.

Console output is the default for interactive use; JSONOutput switches
to newline-delimited JSON for production deployments where logs are
shipped to a collector.
*/
package log
