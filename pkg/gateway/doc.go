/*
Package gateway binds the client-facing port spec §4.12 describes: a
stable host/port that forwards every request to whichever node
currently believes itself leader, tracked from HELLO, EMPEROR_HEARTBEAT,
and ELECTION_VICTORY traffic rather than from a client-visible
redirect. HTTP requests are proxied with httputil.ReverseProxy to the
single tracked leader, with X-Forwarded-* headers added; WebSocket
connections are pumped bidirectionally on a dedicated goroutine pair
and closed the instant the tracked leader changes, so a client's own
reconnect is what re-targets it at the new leader.
*/
package gateway
