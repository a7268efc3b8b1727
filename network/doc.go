// Package network provides the topology layer: a fixed set of member agents
// joined by labelled links. A Network routes messages for a propagation run
// and refuses any delivery that does not follow a declared link.
//
// A Network is also a core.Agent. Give it handlers through Options.Handlers
// and it can be a member of an outer network, answering with the stream of a
// propagation among its own members.
package network
