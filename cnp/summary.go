package cnp

import (
	"github.com/hupe1980/agentnet/core"
)

// Outcome groups the messages of one negotiation by their protocol role.
type Outcome struct {
	Request   string
	Proposals []core.Message
	Refusals  []core.Message
	Awards    []core.Message // accept_proposal
	Rejects   []core.Message // reject_proposal
	Completed []core.Message // inform_done
	Results   []core.Message // inform_result
	Responses []core.Message
	Failures  []core.Message
	States    map[string]State
	Total     int
}

// Summarize groups msgs by kind. Kinds outside the protocol are counted only.
func Summarize(msgs []core.Message) *Outcome {
	o := &Outcome{Total: len(msgs)}
	for _, m := range msgs {
		switch m.Kind {
		case KindPropose:
			o.Proposals = append(o.Proposals, m)
		case KindRefuse:
			o.Refusals = append(o.Refusals, m)
		case KindAcceptProposal:
			o.Awards = append(o.Awards, m)
		case KindRejectProposal:
			o.Rejects = append(o.Rejects, m)
		case KindInformDone:
			o.Completed = append(o.Completed, m)
		case KindInformResult:
			o.Results = append(o.Results, m)
		case KindResponse:
			o.Responses = append(o.Responses, m)
		case KindFailure:
			o.Failures = append(o.Failures, m)
		}
	}
	return o
}

// Winners returns the contractors whose proposals were accepted, in stream order.
func (o *Outcome) Winners() []string {
	out := make([]string, 0, len(o.Awards))
	for _, m := range o.Awards {
		out = append(out, m.Receiver)
	}
	return out
}

// Succeeded returns the contractors that reported completion or a result.
func (o *Outcome) Succeeded() []string {
	out := make([]string, 0, len(o.Completed)+len(o.Results))
	for _, m := range o.Completed {
		out = append(out, m.Sender)
	}
	for _, m := range o.Results {
		out = append(out, m.Sender)
	}
	return out
}
