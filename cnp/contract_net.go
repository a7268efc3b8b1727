package cnp

import (
	"context"
	"time"

	"github.com/hupe1980/agentnet/agent"
	"github.com/hupe1980/agentnet/core"
	"github.com/hupe1980/agentnet/logging"
	"github.com/hupe1980/agentnet/network"
	"github.com/hupe1980/agentnet/propagation"
)

// RoleContractor labels the manager-to-contractor links.
const RoleContractor = "contractor"

// Options configures a ContractNet.
type Options struct {
	// ID overrides the generated identifier.
	ID string
	// Name defaults to "contract_net".
	Name        string
	Description string
	// IDGenerator creates ids for the network and the CFPs it builds.
	IDGenerator core.IDGenerator
	Config      propagation.Config
	// ReplyPolicy defaults to the protocol's reply table (see ExpectedReplies).
	ReplyPolicy core.ReplyPolicy
	// Logger defaults to logging.NoOpLogger.
	Logger logging.Logger
}

// ContractNet is a network of one manager and a non-empty, ordered list of
// contractors, each linked to the manager with role "contractor". It keeps no
// state between requests; negotiation state lives in the message stream.
//
// As an agent, a ContractNet receives "request" messages and answers with
// the stream of the negotiation.
type ContractNet struct {
	*network.Network

	manager     core.Agent
	contractors []core.Agent
	logger      logging.Logger
}

// New builds a ContractNet. It fails with a core.ConstructionError before
// any message is built when the manager is nil or no contractor is given.
func New(manager core.Agent, contractors []core.Agent, optFns ...func(o *Options)) (*ContractNet, error) {
	opts := Options{
		Name:        "contract_net",
		IDGenerator: core.UUIDGenerator{},
		Config:      propagation.DefaultConfig,
		ReplyPolicy: ReplyPolicy(),
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if manager == nil {
		return nil, core.NewConstructionError(opts.Name, "manager is nil")
	}
	if len(contractors) == 0 {
		return nil, core.NewConstructionError(opts.Name, "contractors must be non-empty")
	}

	members := make([]core.Agent, 0, len(contractors)+1)
	members = append(members, manager)
	links := make([]network.Link, 0, len(contractors))
	for i, c := range contractors {
		if c == nil {
			return nil, core.NewConstructionError(opts.Name, "contractor %d is nil", i)
		}
		members = append(members, c)
		links = append(links, network.Link{From: manager.ID(), Role: RoleContractor, To: c.ID()})
	}

	cn := &ContractNet{
		manager:     manager,
		contractors: append([]core.Agent(nil), contractors...),
		logger:      logging.OrNoOp(opts.Logger),
	}

	net, err := network.New(opts.Name, members, links, func(o *network.Options) {
		o.ID = opts.ID
		o.Description = opts.Description
		o.IDGenerator = opts.IDGenerator
		o.Config = opts.Config
		o.ReplyPolicy = opts.ReplyPolicy
		o.Logger = cn.logger
		o.Handlers = agent.Handlers{KindRequest: cn.handleRequest}
	})
	if err != nil {
		return nil, err
	}
	cn.Network = net

	return cn, nil
}

// Manager returns the initiator.
func (cn *ContractNet) Manager() core.Agent { return cn.manager }

// Contractors returns the participants in declaration order.
func (cn *ContractNet) Contractors() []core.Agent {
	return append([]core.Agent(nil), cn.contractors...)
}

// ContractorIDs returns the participant ids in declaration order.
func (cn *ContractNet) ContractorIDs() []string {
	ids := make([]string, len(cn.contractors))
	for i, c := range cn.contractors {
		ids[i] = c.ID()
	}
	return ids
}

// CFPs builds one call for proposals per contractor by forwarding req from
// the manager. Each CFP keeps req's body and metadata and replies to req.
func (cn *ContractNet) CFPs(req core.Message) []core.Message {
	cfps := make([]core.Message, 0, len(cn.contractors))
	for _, c := range cn.contractors {
		cfps = append(cfps, cn.Factory().Forward(req,
			core.WithKind(KindCFP),
			core.WithSender(cn.manager.ID()),
			core.WithReceiver(c.ID()),
		))
	}
	return cfps
}

// Request starts a negotiation for req and returns the interleaved stream of
// every message produced across every branch, starting with the CFPs. The
// caller may stop consumption at any time.
func (cn *ContractNet) Request(ctx context.Context, req core.Message) (*core.Stream, error) {
	if req.ID == "" {
		return nil, core.NewConstructionError(cn.Name(), "request of kind %q has no id", req.Kind)
	}
	cn.logger.Info("cnp.request", "network", cn.ID(), "request_id", req.ID, "contractors", len(cn.contractors))
	return cn.Propagate(ctx, cn.CFPs(req)...)
}

func (cn *ContractNet) handleRequest(ctx context.Context, msg core.Message) (core.Result, error) {
	stream, err := cn.Request(ctx, msg)
	if err != nil {
		return core.None(), err
	}
	return core.FromStream(ctx, stream), nil
}

type negotiationLogger interface {
	LogNegotiation(contractors, messages int, dur time.Duration, err error)
}

// Negotiate runs a request to completion and returns its Outcome. On a
// propagation error the partial outcome is returned with it.
func (cn *ContractNet) Negotiate(ctx context.Context, req core.Message) (*Outcome, error) {
	stream, err := cn.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return cn.Await(ctx, req, stream)
}

// Await drains the stream of req, feeding every message through a Tracker.
// The returned Outcome summarizes the stream and the final branch states.
func (cn *ContractNet) Await(ctx context.Context, req core.Message, stream *core.Stream) (*Outcome, error) {
	start := time.Now()

	tracker := NewTracker(cn.ContractorIDs()...)
	var msgs []core.Message
	var runErr error
	for m, err := range stream.All(ctx) {
		if err != nil {
			runErr = err
			break
		}
		msgs = append(msgs, m)
		if terr := tracker.Observe(m); terr != nil {
			cn.logger.Warn("cnp.tracker.transition", "message_id", m.ID, "kind", string(m.Kind), "error", terr.Error())
		}
	}

	outcome := Summarize(msgs)
	outcome.Request = req.ID
	outcome.States = tracker.States()

	if nl, ok := cn.logger.(negotiationLogger); ok {
		nl.LogNegotiation(len(cn.contractors), len(msgs), time.Since(start), runErr)
	} else {
		cn.logger.Info("cnp.negotiation.complete", "contractors", len(cn.contractors), "message_count", len(msgs), "duration_ms", time.Since(start).Milliseconds())
	}

	return outcome, runErr
}
