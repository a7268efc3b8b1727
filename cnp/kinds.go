package cnp

import "github.com/hupe1980/agentnet/core"

// Message kinds of the Contract Net Protocol.
const (
	KindRequest        core.Kind = "request"
	KindResponse       core.Kind = "response"
	KindCFP            core.Kind = "cfp"
	KindAccept         core.Kind = "accept"
	KindRefuse         core.Kind = "refuse"
	KindPropose        core.Kind = "propose"
	KindAcceptProposal core.Kind = "accept_proposal"
	KindRejectProposal core.Kind = "reject_proposal"
	KindFailure                  = core.KindFailure
	KindInformDone     core.Kind = "inform_done"
	KindInformResult   core.Kind = "inform_result"
)

// Kinds returns the protocol vocabulary in declaration order.
func Kinds() []core.Kind {
	return []core.Kind{
		KindRequest, KindResponse, KindCFP, KindAccept, KindRefuse, KindPropose,
		KindAcceptProposal, KindRejectProposal, KindFailure, KindInformDone, KindInformResult,
	}
}

// ExpectedReplies is the protocol's reply table: which kinds may answer which.
// Kinds missing from the table (request, accept) are unconstrained.
func ExpectedReplies() core.ExpectedReplies {
	return core.ExpectedReplies{
		KindCFP:            {KindPropose, KindRefuse},
		KindPropose:        {KindAcceptProposal, KindRejectProposal},
		KindRefuse:         {},
		KindAcceptProposal: {KindInformDone, KindInformResult, KindFailure},
		KindRejectProposal: {},
		KindInformDone:     {},
		KindInformResult:   {KindResponse},
		KindFailure:        {},
		KindResponse:       {},
	}
}

// ReplyPolicy returns ExpectedReplies as a core.ReplyPolicy.
func ReplyPolicy() core.ReplyPolicy { return ExpectedReplies().Check }
