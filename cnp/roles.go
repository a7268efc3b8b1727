package cnp

import (
	"context"
	"maps"

	"github.com/hupe1980/agentnet/agent"
	"github.com/hupe1980/agentnet/core"
)

// CFPHandler answers a call for proposals with a bid or a refusal.
type CFPHandler interface {
	CFP(ctx context.Context, msg core.Message) (Bid, error)
}

// AcceptProposalHandler performs the awarded task and reports the outcome.
type AcceptProposalHandler interface {
	AcceptProposal(ctx context.Context, msg core.Message) (Report, error)
}

// RejectProposalHandler observes a rejected bid.
type RejectProposalHandler interface {
	RejectProposal(ctx context.Context, msg core.Message) error
}

// ProposeHandler decides whether to award a bid.
type ProposeHandler interface {
	Propose(ctx context.Context, msg core.Message) (Decision, error)
}

// RefuseHandler observes a refused call for proposals.
type RefuseHandler interface {
	Refuse(ctx context.Context, msg core.Message) error
}

// InformDoneHandler observes a completed task.
type InformDoneHandler interface {
	InformDone(ctx context.Context, msg core.Message) error
}

// InformResultHandler observes a task result. The initiator relays the result
// to the caller as a response.
type InformResultHandler interface {
	InformResult(ctx context.Context, msg core.Message) error
}

// FailureHandler observes a failure reported by the counterpart.
type FailureHandler interface {
	Failure(ctx context.Context, msg core.Message) error
}

// Participant is the contractor role. Implementations may additionally
// implement FailureHandler.
type Participant interface {
	CFPHandler
	AcceptProposalHandler
	RejectProposalHandler
}

// Initiator is the manager role. Implementations may additionally implement
// RefuseHandler.
type Initiator interface {
	ProposeHandler
	InformDoneHandler
	InformResultHandler
	FailureHandler
}

// Bid is a contractor's answer to a call for proposals.
type Bid struct {
	Refused  bool
	Body     string
	Metadata map[string]any
}

// Proposal returns a bid offering body.
func Proposal(body string) Bid { return Bid{Body: body} }

// Refusal returns a bid declining the call for the given reason.
func Refusal(reason string) Bid { return Bid{Refused: true, Body: reason} }

// Kind returns propose or refuse.
func (b Bid) Kind() core.Kind {
	if b.Refused {
		return KindRefuse
	}
	return KindPropose
}

// Decision is the manager's answer to a proposal.
type Decision struct {
	Accept   bool
	Body     string
	Metadata map[string]any
}

// Accept awards the proposal.
func Accept(body string) Decision { return Decision{Accept: true, Body: body} }

// Reject declines the proposal.
func Reject(reason string) Decision { return Decision{Body: reason} }

// Kind returns accept_proposal or reject_proposal.
func (d Decision) Kind() core.Kind {
	if d.Accept {
		return KindAcceptProposal
	}
	return KindRejectProposal
}

// Report is a contractor's account of an awarded task. Kind is one of
// inform_done, inform_result or failure.
type Report struct {
	Kind     core.Kind
	Body     string
	Metadata map[string]any
}

// Done reports completion without a result.
func Done(body string) Report { return Report{Kind: KindInformDone, Body: body} }

// Result reports completion with a result.
func Result(body string) Report { return Report{Kind: KindInformResult, Body: body} }

// Failed reports that the task could not be performed.
func Failed(reason string) Report { return Report{Kind: KindFailure, Body: reason} }

func payload(body string, md map[string]any) []core.Option {
	opts := []core.Option{core.WithBody(body)}
	if len(md) > 0 {
		opts = append(opts, core.WithMetadata(maps.Clone(md)))
	}
	return opts
}

// NewParticipant adapts p to an agent receiving cfp, accept_proposal,
// reject_proposal and failure.
func NewParticipant(name string, p Participant, optFns ...func(o *agent.Options)) (*agent.BaseAgent, error) {
	if p == nil {
		return nil, core.NewConstructionError("participant "+name, "nil participant")
	}

	var self *agent.BaseAgent
	handlers := agent.Handlers{
		KindCFP: func(ctx context.Context, msg core.Message) (core.Result, error) {
			bid, err := p.CFP(ctx, msg)
			if err != nil {
				return core.None(), err
			}
			return core.Single(self.Reply(msg, bid.Kind(), payload(bid.Body, bid.Metadata)...)), nil
		},
		KindAcceptProposal: func(ctx context.Context, msg core.Message) (core.Result, error) {
			report, err := p.AcceptProposal(ctx, msg)
			if err != nil {
				return core.None(), err
			}
			return core.Single(self.Reply(msg, report.Kind, payload(report.Body, report.Metadata)...)), nil
		},
		KindRejectProposal: func(ctx context.Context, msg core.Message) (core.Result, error) {
			return core.None(), p.RejectProposal(ctx, msg)
		},
		KindFailure: func(ctx context.Context, msg core.Message) (core.Result, error) {
			if fh, ok := p.(FailureHandler); ok {
				return core.None(), fh.Failure(ctx, msg)
			}
			return core.None(), nil
		},
	}

	self, err := agent.New(name, handlers, optFns...)
	if err != nil {
		return nil, err
	}
	return self, nil
}

// NewInitiator adapts i to an agent receiving propose, refuse, inform_done,
// inform_result and failure. An inform_result is relayed to the caller as an
// unaddressed response.
func NewInitiator(name string, i Initiator, optFns ...func(o *agent.Options)) (*agent.BaseAgent, error) {
	if i == nil {
		return nil, core.NewConstructionError("initiator "+name, "nil initiator")
	}

	var self *agent.BaseAgent
	handlers := agent.Handlers{
		KindPropose: func(ctx context.Context, msg core.Message) (core.Result, error) {
			d, err := i.Propose(ctx, msg)
			if err != nil {
				return core.None(), err
			}
			return core.Single(self.Reply(msg, d.Kind(), payload(d.Body, d.Metadata)...)), nil
		},
		KindRefuse: func(ctx context.Context, msg core.Message) (core.Result, error) {
			if rh, ok := i.(RefuseHandler); ok {
				return core.None(), rh.Refuse(ctx, msg)
			}
			return core.None(), nil
		},
		KindInformDone: func(ctx context.Context, msg core.Message) (core.Result, error) {
			return core.None(), i.InformDone(ctx, msg)
		},
		KindInformResult: func(ctx context.Context, msg core.Message) (core.Result, error) {
			if err := i.InformResult(ctx, msg); err != nil {
				return core.None(), err
			}
			return core.Single(self.Forward(msg, core.WithKind(KindResponse), core.WithReceiver(""))), nil
		},
		KindFailure: func(ctx context.Context, msg core.Message) (core.Result, error) {
			return core.None(), i.Failure(ctx, msg)
		},
	}

	self, err := agent.New(name, handlers, optFns...)
	if err != nil {
		return nil, err
	}
	return self, nil
}
