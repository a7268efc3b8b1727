// Package core provides the foundational domain types and contracts of
// agentnet. It defines:
//
//   - Messages (immutable communicative acts linked by reply_to)
//   - MessageGraph (the causal DAG derived from an ordered message set)
//   - Agents, Handlers and Results (typed dispatch of message kinds)
//   - Stream (a consumer-driven, cancellable sequence of messages)
//   - The error taxonomy shared by agents, networks and the propagator
//
// The package keeps topology, propagation and protocol concerns out of scope,
// exposing small interfaces so networks and protocols can be composed freely.
package core
