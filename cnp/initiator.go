package cnp

import (
	"context"

	"github.com/hupe1980/agentnet/core"
)

// AcceptPolicy decides whether a proposal is awarded.
type AcceptPolicy func(ctx context.Context, proposal core.Message) (bool, error)

// AcceptAll awards every proposal.
func AcceptAll(context.Context, core.Message) (bool, error) { return true, nil }

// AcceptFrom awards proposals from the given contractors only.
func AcceptFrom(contractors ...string) AcceptPolicy {
	allowed := make(map[string]struct{}, len(contractors))
	for _, c := range contractors {
		allowed[c] = struct{}{}
	}
	return func(_ context.Context, proposal core.Message) (bool, error) {
		_, ok := allowed[proposal.Sender]
		return ok, nil
	}
}

// DefaultInitiator is an Initiator driven by an AcceptPolicy. The observer
// callbacks are optional.
type DefaultInitiator struct {
	// Accept defaults to AcceptAll.
	Accept AcceptPolicy

	OnRefuse  func(ctx context.Context, msg core.Message) error
	OnDone    func(ctx context.Context, msg core.Message) error
	OnResult  func(ctx context.Context, msg core.Message) error
	OnFailure func(ctx context.Context, msg core.Message) error
}

// Propose implements ProposeHandler.
func (d *DefaultInitiator) Propose(ctx context.Context, msg core.Message) (Decision, error) {
	policy := d.Accept
	if policy == nil {
		policy = AcceptAll
	}
	ok, err := policy(ctx, msg)
	if err != nil {
		return Decision{}, err
	}
	if ok {
		return Accept(msg.Body), nil
	}
	return Reject(""), nil
}

// Refuse implements RefuseHandler.
func (d *DefaultInitiator) Refuse(ctx context.Context, msg core.Message) error {
	return call(ctx, msg, d.OnRefuse)
}

// InformDone implements InformDoneHandler.
func (d *DefaultInitiator) InformDone(ctx context.Context, msg core.Message) error {
	return call(ctx, msg, d.OnDone)
}

// InformResult implements InformResultHandler.
func (d *DefaultInitiator) InformResult(ctx context.Context, msg core.Message) error {
	return call(ctx, msg, d.OnResult)
}

// Failure implements FailureHandler.
func (d *DefaultInitiator) Failure(ctx context.Context, msg core.Message) error {
	return call(ctx, msg, d.OnFailure)
}

func call(ctx context.Context, msg core.Message, fn func(context.Context, core.Message) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, msg)
}

// FuncParticipant is a Participant built from functions. Nil functions
// refuse every call, complete every award and ignore rejections.
type FuncParticipant struct {
	OnCFP    func(ctx context.Context, msg core.Message) (Bid, error)
	OnAccept func(ctx context.Context, msg core.Message) (Report, error)
	OnReject func(ctx context.Context, msg core.Message) error
}

// CFP implements CFPHandler.
func (f *FuncParticipant) CFP(ctx context.Context, msg core.Message) (Bid, error) {
	if f.OnCFP == nil {
		return Refusal("not interested"), nil
	}
	return f.OnCFP(ctx, msg)
}

// AcceptProposal implements AcceptProposalHandler.
func (f *FuncParticipant) AcceptProposal(ctx context.Context, msg core.Message) (Report, error) {
	if f.OnAccept == nil {
		return Done(""), nil
	}
	return f.OnAccept(ctx, msg)
}

// RejectProposal implements RejectProposalHandler.
func (f *FuncParticipant) RejectProposal(ctx context.Context, msg core.Message) error {
	return call(ctx, msg, f.OnReject)
}
