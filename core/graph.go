package core

import (
	"slices"
	"sync"
)

// MessageGraph is the causal DAG derived from an ordered message collection.
// Nodes are message ids and edges follow reply_to links. Acyclicity follows
// from insertion order: a message may only reply to one inserted before it.
//
// Queries are safe for concurrent use; ancestor sets are memoized.
type MessageGraph struct {
	order    []string
	parent   map[string]string
	children map[string][]string

	mu        sync.Mutex
	ancestors map[string]map[string]struct{}
}

// BuildGraph builds a MessageGraph in one ordered pass. A reply_to that names
// an id not seen earlier in msgs fails with a *ReferenceError; duplicate ids
// fail with a *ConstructionError.
func BuildGraph(msgs []Message) (*MessageGraph, error) {
	g := &MessageGraph{
		order:     make([]string, 0, len(msgs)),
		parent:    make(map[string]string, len(msgs)),
		children:  make(map[string][]string),
		ancestors: make(map[string]map[string]struct{}),
	}
	for _, m := range msgs {
		if err := g.add(m); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *MessageGraph) add(m Message) error {
	if m.ID == "" {
		return NewConstructionError("message graph", "message of kind %q has no id", m.Kind)
	}
	if _, dup := g.parent[m.ID]; dup {
		return NewConstructionError("message graph", "duplicate message id %s", m.ID)
	}
	if m.ReplyTo != "" {
		if _, seen := g.parent[m.ReplyTo]; !seen {
			return &ReferenceError{MessageID: m.ID, ReplyTo: m.ReplyTo}
		}
		g.children[m.ReplyTo] = append(g.children[m.ReplyTo], m.ID)
	}
	g.parent[m.ID] = m.ReplyTo
	g.order = append(g.order, m.ID)
	return nil
}

// Len returns the number of nodes.
func (g *MessageGraph) Len() int { return len(g.order) }

// Contains reports whether id is a node of the graph.
func (g *MessageGraph) Contains(id string) bool {
	_, ok := g.parent[id]
	return ok
}

// Parent returns the id msg directly replies to.
func (g *MessageGraph) Parent(id string) (string, bool) {
	p, ok := g.parent[id]
	if !ok || p == "" {
		return "", false
	}
	return p, true
}

// Children returns the ids of direct replies to id in insertion order.
func (g *MessageGraph) Children(id string) []string {
	return append([]string(nil), g.children[id]...)
}

// Roots returns the ids of conversation-initiating messages in insertion order.
func (g *MessageGraph) Roots() []string {
	var roots []string
	for _, id := range g.order {
		if g.parent[id] == "" {
			roots = append(roots, id)
		}
	}
	return roots
}

// Ancestors returns the chain of ids from id's parent up to its root.
func (g *MessageGraph) Ancestors(id string) []string {
	var chain []string
	for p, ok := g.Parent(id); ok; p, ok = g.Parent(p) {
		chain = append(chain, p)
	}
	return chain
}

// Branch returns the path from id's root down to id, root first.
func (g *MessageGraph) Branch(id string) []string {
	if !g.Contains(id) {
		return nil
	}
	chain := g.Ancestors(id)
	slices.Reverse(chain)
	return append(chain, id)
}

// Descendants returns every id transitively replying to id, in insertion order.
func (g *MessageGraph) Descendants(id string) []string {
	var out []string
	for _, other := range g.order {
		if other != id && g.HasPredecessorID(other, id) {
			out = append(out, other)
		}
	}
	return out
}

// HasPredecessor reports whether ancestor is reachable from msg along reply_to
// edges (directly or transitively).
func (g *MessageGraph) HasPredecessor(msg, ancestor Message) bool {
	return g.HasPredecessorID(msg.ID, ancestor.ID)
}

// HasPredecessorID is HasPredecessor over message ids.
func (g *MessageGraph) HasPredecessorID(id, ancestorID string) bool {
	if !g.Contains(id) || !g.Contains(ancestorID) {
		return false
	}
	_, ok := g.ancestorSet(id)[ancestorID]
	return ok
}

func (g *MessageGraph) ancestorSet(id string) map[string]struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ancestorSetLocked(id)
}

func (g *MessageGraph) ancestorSetLocked(id string) map[string]struct{} {
	if set, ok := g.ancestors[id]; ok {
		return set
	}
	set := map[string]struct{}{}
	if p := g.parent[id]; p != "" {
		set[p] = struct{}{}
		for a := range g.ancestorSetLocked(p) {
			set[a] = struct{}{}
		}
	}
	g.ancestors[id] = set
	return set
}
