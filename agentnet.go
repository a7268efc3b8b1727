// Package agentnet provides a high-level façade over networks, Contract Net
// negotiations and transcripts, enabling rapid construction of multi-agent
// systems that coordinate by exchanging messages. Most applications interact
// with this package by:
//  1. Creating an AgentNet via New() (optionally overriding logger, id
//     generator and propagation limits)
//  2. Building networks or contract nets from their agents
//  3. Running requests synchronously (Negotiate) or consuming the stream
//     (Request)
//
// Every run is recorded in the transcript under the id of its request, so the
// causal graph of a conversation can be inspected afterwards. All defaults
// are safe for local development and testing.
package agentnet

import (
	"context"

	"github.com/hupe1980/agentnet/cnp"
	"github.com/hupe1980/agentnet/core"
	"github.com/hupe1980/agentnet/logging"
	"github.com/hupe1980/agentnet/network"
	"github.com/hupe1980/agentnet/propagation"
	"github.com/hupe1980/agentnet/transcript"
)

// Options configures the AgentNet instance.
type Options struct {
	// Config tunes every propagation run (concurrency, buffers, dispatch
	// limit). Set MaxDispatches to bound runaway conversations.
	Config propagation.Config

	// IDGenerator creates ids for networks and messages.
	IDGenerator core.IDGenerator

	// Transcript records every run (defaults to an in-memory recorder).
	Transcript *transcript.Recorder

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// AgentNet is the high-level façade sharing options across networks.
type AgentNet struct {
	opts    Options
	factory *core.Factory
}

// New creates a new AgentNet instance with optional overrides.
func New(optFns ...func(o *Options)) *AgentNet {
	opts := Options{
		Config:      propagation.DefaultConfig,
		IDGenerator: core.UUIDGenerator{},
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Transcript == nil {
		opts.Transcript = transcript.NewRecorder(func(o *transcript.Options) {
			o.Logger = opts.Logger
		})
	}

	return &AgentNet{opts: opts, factory: core.NewFactory(opts.IDGenerator)}
}

// Factory returns the message factory shared by the façade.
func (n *AgentNet) Factory() *core.Factory { return n.factory }

// Transcript returns the recorder of all runs.
func (n *AgentNet) Transcript() *transcript.Recorder { return n.opts.Transcript }

// Network builds a network inheriting the façade's options.
func (n *AgentNet) Network(name string, members []core.Agent, links []network.Link, optFns ...func(o *network.Options)) (*network.Network, error) {
	return network.New(name, members, links, append([]func(o *network.Options){func(o *network.Options) {
		o.IDGenerator = n.opts.IDGenerator
		o.Config = n.opts.Config
		o.Logger = n.opts.Logger
	}}, optFns...)...)
}

// ContractNet builds a contract net inheriting the façade's options.
func (n *AgentNet) ContractNet(manager core.Agent, contractors []core.Agent, optFns ...func(o *cnp.Options)) (*cnp.ContractNet, error) {
	return cnp.New(manager, contractors, append([]func(o *cnp.Options){func(o *cnp.Options) {
		o.IDGenerator = n.opts.IDGenerator
		o.Config = n.opts.Config
		o.Logger = n.opts.Logger
	}}, optFns...)...)
}

// NewRequest builds a contract net request.
func (n *AgentNet) NewRequest(body string, opts ...core.Option) core.Message {
	return n.factory.New(cnp.KindRequest, append([]core.Option{core.WithBody(body)}, opts...)...)
}

// Propagate starts a run in net and records it under conversationID.
func (n *AgentNet) Propagate(ctx context.Context, net *network.Network, conversationID string, msgs ...core.Message) (*core.Stream, error) {
	stream, err := net.Propagate(ctx, msgs...)
	if err != nil {
		return nil, err
	}
	return n.opts.Transcript.Record(ctx, conversationID, stream), nil
}

// Request starts a negotiation in cn and returns its recorded stream. The
// conversation id is the request id.
func (n *AgentNet) Request(ctx context.Context, cn *cnp.ContractNet, req core.Message) (*core.Stream, error) {
	stream, err := cn.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return n.opts.Transcript.Record(ctx, req.ID, stream, req), nil
}

// Negotiate is a synchronous helper running a negotiation to completion.
func (n *AgentNet) Negotiate(ctx context.Context, cn *cnp.ContractNet, req core.Message) (*cnp.Outcome, error) {
	stream, err := n.Request(ctx, cn, req)
	if err != nil {
		return nil, err
	}
	return cn.Await(ctx, req, stream)
}

// Graph returns the causal graph of a recorded conversation.
func (n *AgentNet) Graph(conversationID string) (*core.MessageGraph, error) {
	return n.opts.Transcript.Graph(conversationID)
}
