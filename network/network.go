package network

import (
	"context"
	"slices"

	"github.com/hupe1980/agentnet/agent"
	"github.com/hupe1980/agentnet/core"
	"github.com/hupe1980/agentnet/logging"
	"github.com/hupe1980/agentnet/propagation"
)

// Link is a labelled, undirected connection between two members. The role
// describes To from the perspective of From (e.g. "contractor").
type Link struct {
	From string `yaml:"from" json:"from"`
	Role string `yaml:"role,omitempty" json:"role,omitempty"`
	To   string `yaml:"to" json:"to"`
}

// Options configures a Network.
type Options struct {
	// ID overrides the generated identifier.
	ID string
	// Description is rendered with the network's textual form.
	Description string
	// Handlers are the network's own handlers when it acts as an agent.
	// A network without handlers cannot be addressed by an outer network.
	Handlers agent.Handlers
	// IDGenerator creates ids for the network and the messages it builds.
	IDGenerator core.IDGenerator
	// Config tunes propagation runs started by the network.
	Config propagation.Config
	// ReplyPolicy is applied to every reply propagated inside the network.
	ReplyPolicy core.ReplyPolicy
	// Logger defaults to logging.NoOpLogger.
	Logger logging.Logger
}

// Network is a fixed set of member agents and the links between them. It
// authorizes message delivery only along declared links and is itself an
// agent, so networks nest as members of outer networks.
//
// The topology is immutable after New; a Network is safe for concurrent use.
type Network struct {
	id          string
	name        string
	description string

	members map[string]core.Agent
	order   []string
	links   []Link
	linked  map[[2]string]struct{}

	self       *agent.BaseAgent
	factory    *core.Factory
	propagator *propagation.Propagator
	logger     logging.Logger
}

// New constructs a Network. It fails with a core.ConstructionError when a
// member is nil or duplicated, or a link names an unknown member.
func New(name string, members []core.Agent, links []Link, optFns ...func(o *Options)) (*Network, error) {
	opts := Options{
		IDGenerator: core.UUIDGenerator{},
		Config:      propagation.DefaultConfig,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	logger := logging.OrNoOp(opts.Logger)
	factory := core.NewFactory(opts.IDGenerator)

	id := opts.ID
	if id == "" {
		id = factory.IDs().NewID(name)
	}

	n := &Network{
		id:          id,
		name:        name,
		description: opts.Description,
		members:     make(map[string]core.Agent, len(members)),
		order:       make([]string, 0, len(members)),
		linked:      make(map[[2]string]struct{}, len(links)),
		factory:     factory,
		logger:      logger,
	}

	component := "network " + name
	for i, m := range members {
		if m == nil {
			return nil, core.NewConstructionError(component, "member %d is nil", i)
		}
		if m.ID() == "" {
			return nil, core.NewConstructionError(component, "member %d has no id", i)
		}
		if _, dup := n.members[m.ID()]; dup {
			return nil, core.NewConstructionError(component, "duplicate member %s", m.ID())
		}
		n.members[m.ID()] = m
		n.order = append(n.order, m.ID())
	}

	for _, l := range links {
		if _, ok := n.members[l.From]; !ok {
			return nil, core.NewConstructionError(component, "link %s -> %s: unknown member %q", l.From, l.To, l.From)
		}
		if _, ok := n.members[l.To]; !ok {
			return nil, core.NewConstructionError(component, "link %s -> %s: unknown member %q", l.From, l.To, l.To)
		}
		n.links = append(n.links, l)
		n.linked[[2]string{l.From, l.To}] = struct{}{}
		n.linked[[2]string{l.To, l.From}] = struct{}{}
	}

	if len(opts.Handlers) > 0 {
		self, err := agent.New(name, opts.Handlers, func(o *agent.Options) {
			o.ID = id
			o.Description = opts.Description
			o.IDGenerator = opts.IDGenerator
			o.Logger = logger
		})
		if err != nil {
			return nil, err
		}
		n.self = self
	}

	n.propagator = propagation.New(n, func(o *propagation.Options) {
		o.Config = opts.Config
		o.ReplyPolicy = opts.ReplyPolicy
		o.Factory = factory
		o.Logger = logger
	})

	logger.Debug("network.created", "network", id, "members", len(n.order), "links", len(n.links))

	return n, nil
}

// ID returns the network's unique identifier.
func (n *Network) ID() string { return n.id }

// Name returns the human-readable name.
func (n *Network) Name() string { return n.name }

// Description returns the network's description.
func (n *Network) Description() string { return n.description }

// Members returns the members in declaration order.
func (n *Network) Members() []core.Agent {
	out := make([]core.Agent, len(n.order))
	for i, id := range n.order {
		out[i] = n.members[id]
	}
	return out
}

// Member looks up a member by id.
func (n *Network) Member(id string) (core.Agent, bool) {
	a, ok := n.members[id]
	return a, ok
}

// Links returns a copy of the declared links.
func (n *Network) Links() []Link { return slices.Clone(n.links) }

// Linked reports whether a link exists between a and b in either direction.
func (n *Network) Linked(a, b string) bool {
	_, ok := n.linked[[2]string{a, b}]
	return ok
}

// Neighbors returns the ids linked to id, in member order.
func (n *Network) Neighbors(id string) []string {
	var out []string
	for _, other := range n.order {
		if n.Linked(id, other) {
			out = append(out, other)
		}
	}
	return out
}

// Authorize reports whether sender may deliver to receiver. Both must be
// members joined by a link. Messages without a sender, or sent by the network
// itself, enter from outside and may reach any member.
func (n *Network) Authorize(sender, receiver string) error {
	if _, ok := n.members[receiver]; !ok {
		return &core.RouteError{Sender: sender, Receiver: receiver, Reason: "receiver is not a member of " + n.id}
	}
	if sender == "" || sender == n.id {
		return nil
	}
	if _, ok := n.members[sender]; !ok {
		return &core.RouteError{Sender: sender, Receiver: receiver, Reason: "sender is not a member of " + n.id}
	}
	if !n.Linked(sender, receiver) {
		return &core.RouteError{Sender: sender, Receiver: receiver, Reason: "no link"}
	}
	return nil
}

// Route implements propagation.Router.
func (n *Network) Route(msg core.Message) (core.Agent, error) {
	if err := n.Authorize(msg.Sender, msg.Receiver); err != nil {
		n.logger.Debug("network.route.denied", "network", n.id, "message_id", msg.ID, "kind", string(msg.Kind), "error", err.Error())
		return nil, err
	}
	return n.members[msg.Receiver], nil
}

// Propagate delivers msgs inside the network and returns the merged stream
// of everything the members reply with.
func (n *Network) Propagate(ctx context.Context, msgs ...core.Message) (*core.Stream, error) {
	return n.propagator.Propagate(ctx, msgs...)
}

// Factory returns the network's message factory.
func (n *Network) Factory() *core.Factory { return n.factory }

// Logger returns the network's logger.
func (n *Network) Logger() logging.Logger { return n.logger }

// Receivable implements core.Agent.
func (n *Network) Receivable() []core.Kind {
	if n.self == nil {
		return nil
	}
	return n.self.Receivable()
}

// Receive implements core.Agent using the network's own handlers.
func (n *Network) Receive(ctx context.Context, msg core.Message) (core.Result, error) {
	if n.self == nil {
		return core.None(), &core.UnsupportedKindError{AgentID: n.id, Kind: msg.Kind}
	}
	return n.self.Receive(ctx, msg)
}

// Descriptor is the textual form of a network.
type Descriptor struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Receivable  []core.Kind       `yaml:"receivable,omitempty"`
	Members     []core.Descriptor `yaml:"members"`
	Links       []Link            `yaml:"links,omitempty"`
}

// Describe returns the network's descriptor.
func (n *Network) Describe() Descriptor {
	d := Descriptor{
		ID:          n.id,
		Name:        n.name,
		Description: n.description,
		Receivable:  n.Receivable(),
		Links:       n.Links(),
	}
	for _, m := range n.Members() {
		d.Members = append(d.Members, core.Describe(m))
	}
	return d
}

// String renders the network descriptor as YAML.
func (n *Network) String() string { return core.Dump(n.Describe()) }
