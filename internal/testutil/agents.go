package testutil

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/agentnet/core"
)

// ScriptedAgent is a core.Agent whose handlers are plain functions. It
// records every message it receives and is safe for concurrent use.
//
//	a := NewScriptedAgent("c1").On("cfp", func(ctx context.Context, m core.Message) (core.Result, error) { ... })
type ScriptedAgent struct {
	id       string
	factory  *core.Factory
	handlers map[core.Kind]core.Handler

	mu       sync.Mutex
	received []core.Message
	calls    atomic.Int64
}

// NewScriptedAgent creates an agent with the given id and no handlers.
func NewScriptedAgent(id string) *ScriptedAgent {
	return &ScriptedAgent{
		id:       id,
		factory:  core.NewFactory(core.UUIDGenerator{}),
		handlers: map[core.Kind]core.Handler{},
	}
}

// On registers a handler for kind (chainable). Not safe after first Receive.
func (a *ScriptedAgent) On(kind core.Kind, h core.Handler) *ScriptedAgent {
	a.handlers[kind] = h
	return a
}

// Reply registers a handler answering kind with a single reply of replyKind (chainable).
func (a *ScriptedAgent) Reply(kind, replyKind core.Kind) *ScriptedAgent {
	return a.On(kind, func(_ context.Context, m core.Message) (core.Result, error) {
		return core.Single(a.factory.Reply(m, replyKind)), nil
	})
}

// Sink registers a handler that accepts kind without replying (chainable).
func (a *ScriptedAgent) Sink(kind core.Kind) *ScriptedAgent {
	return a.On(kind, func(context.Context, core.Message) (core.Result, error) {
		return core.None(), nil
	})
}

// Fail registers a handler returning err for kind (chainable).
func (a *ScriptedAgent) Fail(kind core.Kind, err error) *ScriptedAgent {
	return a.On(kind, func(context.Context, core.Message) (core.Result, error) {
		return core.None(), err
	})
}

// ID implements core.Agent.
func (a *ScriptedAgent) ID() string { return a.id }

// Receivable implements core.Agent.
func (a *ScriptedAgent) Receivable() []core.Kind {
	return slices.Sorted(maps.Keys(a.handlers))
}

// Receive implements core.Agent.
func (a *ScriptedAgent) Receive(ctx context.Context, msg core.Message) (core.Result, error) {
	a.calls.Add(1)
	a.mu.Lock()
	a.received = append(a.received, msg)
	a.mu.Unlock()

	h, ok := a.handlers[msg.Kind]
	if !ok {
		return core.None(), &core.UnsupportedKindError{AgentID: a.id, Kind: msg.Kind}
	}
	return h(ctx, msg)
}

// Factory returns the message factory used for scripted replies.
func (a *ScriptedAgent) Factory() *core.Factory { return a.factory }

// Calls returns the number of Receive invocations.
func (a *ScriptedAgent) Calls() int { return int(a.calls.Load()) }

// Received returns a copy of the received messages in arrival order.
func (a *ScriptedAgent) Received() []core.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.received)
}
