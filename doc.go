// Package partisan is a cluster membership and messaging substrate.
//
// Nodes discover each other and maintain a negotiated, eventually
// consistent view of cluster membership using a HyParView-style
// partial-view protocol: every node keeps a small *active* view of
// peers it stays connected to and a larger *passive* view it can draw
// replacements from when an active peer fails.
//
// ## How it works
//
// A [Node] is created with [Create] and joins a cluster by contacting
// one or more seed peers (see [WithNeighbours]). Membership is
// maintained by an internal actor that runs the HyParView protocol:
// forward-joins propagate a new peer through the cluster along a
// random walk, periodic shuffles mix active and passive samples
// between peers, and a failed active peer is suspected and replaced
// from the passive view.
//
// Once two nodes are peers, application messages are exchanged over
// named, multiplexed channels (see [ChannelConfig]). Each channel has
// its own parallelism (independent sockets), optional monotonic
// (strictly ordered) delivery, and optional compression. The node's
// internal dispatcher resolves a message's destination, applies any
// registered interposition filter, picks a socket from the connection
// registry, and sends.
//
// ## Design principles
//
// Partisan is anti-fragile: the membership protocol is probabilistic
// and eventually consistent by design, not strongly consistent. It
// favours scale and resilience over exactly-once or totally-ordered
// delivery.
//
// Interposition filters and the causal delivery layer let tests
// observe and manipulate message flow without changing application
// code, to make the probabilistic protocol itself testable.
package partisan
