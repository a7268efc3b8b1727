package agent

import (
	"context"
	"maps"
	"slices"

	"github.com/hupe1980/agentnet/core"
	"github.com/hupe1980/agentnet/logging"
)

// Handlers maps each receivable message kind to its handler.
type Handlers map[core.Kind]core.Handler

// Options configures a BaseAgent.
type Options struct {
	// ID overrides the generated identifier ("<name>:<uuid>" by default).
	ID string
	// Description is a human readable summary of the agent's purpose.
	Description string
	// IDGenerator creates ids for the agent and every message it builds.
	// Defaults to core.UUIDGenerator.
	IDGenerator core.IDGenerator
	// Logger defaults to logging.NoOpLogger.
	Logger logging.Logger
	// Metadata is opaque, rendered with the agent's textual form.
	Metadata map[string]any
}

// BaseAgent bundles identity, the receivable set and the handler table.
// Embed it in concrete agents or use it directly with closures as handlers.
// The handler table is fixed at construction, so BaseAgent is safe for
// concurrent Receive calls.
type BaseAgent struct {
	id          string
	name        string
	description string
	handlers    map[core.Kind]core.Handler
	kinds       []core.Kind
	factory     *core.Factory
	logger      logging.Logger
	metadata    map[string]any
}

// New constructs a BaseAgent. It fails with a core.ConstructionError when no
// handler is given, a kind is empty or a handler is nil.
func New(name string, handlers Handlers, optFns ...func(o *Options)) (*BaseAgent, error) {
	opts := Options{
		IDGenerator: core.UUIDGenerator{},
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if len(handlers) == 0 {
		return nil, core.NewConstructionError("agent "+name, "no handlers registered")
	}
	for kind, h := range handlers {
		if kind == "" {
			return nil, core.NewConstructionError("agent "+name, "handler registered for empty kind")
		}
		if h == nil {
			return nil, core.NewConstructionError("agent "+name, "nil handler for kind %q", kind)
		}
	}

	factory := core.NewFactory(opts.IDGenerator)
	id := opts.ID
	if id == "" {
		id = factory.IDs().NewID(name)
	}
	kinds := slices.Sorted(maps.Keys(handlers))

	return &BaseAgent{
		id:          id,
		name:        name,
		description: opts.Description,
		handlers:    maps.Clone(handlers),
		kinds:       kinds,
		factory:     factory,
		logger:      logging.OrNoOp(opts.Logger),
		metadata:    maps.Clone(opts.Metadata),
	}, nil
}

// ID returns the agent's unique identifier.
func (b *BaseAgent) ID() string { return b.id }

// Name returns the human-readable name.
func (b *BaseAgent) Name() string { return b.name }

// Description returns the agent's description.
func (b *BaseAgent) Description() string { return b.description }

// Metadata returns a copy of the agent's metadata.
func (b *BaseAgent) Metadata() map[string]any { return maps.Clone(b.metadata) }

// Receivable returns the kinds this agent accepts, sorted.
func (b *BaseAgent) Receivable() []core.Kind { return slices.Clone(b.kinds) }

// Accepts reports whether kind is in the receivable set.
func (b *BaseAgent) Accepts(kind core.Kind) bool {
	_, ok := b.handlers[kind]
	return ok
}

// Receive dispatches msg to the handler registered for its kind.
func (b *BaseAgent) Receive(ctx context.Context, msg core.Message) (core.Result, error) {
	h, ok := b.handlers[msg.Kind]
	if !ok {
		b.logger.Debug("agent.receive.unsupported", "agent", b.id, "kind", string(msg.Kind), "message_id", msg.ID)
		return core.None(), &core.UnsupportedKindError{AgentID: b.id, Kind: msg.Kind}
	}
	b.logger.Debug("agent.receive", "agent", b.id, "kind", string(msg.Kind), "message_id", msg.ID)
	return h(ctx, msg)
}

// Factory returns the message factory owned by this agent.
func (b *BaseAgent) Factory() *core.Factory { return b.factory }

// Logger returns the agent's logger.
func (b *BaseAgent) Logger() logging.Logger { return b.logger }

// Reply builds a reply to src sent by this agent.
func (b *BaseAgent) Reply(src core.Message, kind core.Kind, opts ...core.Option) core.Message {
	return b.factory.Reply(src, kind, append([]core.Option{core.WithSender(b.id)}, opts...)...)
}

// Forward relays src on behalf of this agent (sender defaults to this agent).
func (b *BaseAgent) Forward(src core.Message, opts ...core.Option) core.Message {
	return b.factory.Forward(src, append([]core.Option{core.WithSender(b.id)}, opts...)...)
}

// NewMessage builds a conversation-initiating message sent by this agent.
func (b *BaseAgent) NewMessage(kind core.Kind, opts ...core.Option) core.Message {
	return b.factory.New(kind, append([]core.Option{core.WithSender(b.id)}, opts...)...)
}

// String renders the agent's descriptor as YAML.
func (b *BaseAgent) String() string { return core.Dump(core.Describe(b)) }
