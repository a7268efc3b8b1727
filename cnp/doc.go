// Package cnp implements the FIPA Contract Net Protocol on top of networks
// and propagation.
//
// A ContractNet links one manager (Initiator) to an ordered list of
// contractors (Participants). A request produces one call for proposals per
// contractor; bids, awards and reports flow back through a single
// consumer-driven stream:
//
//	cfp -> propose | refuse
//	propose -> accept_proposal | reject_proposal
//	accept_proposal -> inform_done | inform_result | failure
//
// Roles are small capability interfaces. NewParticipant and NewInitiator
// adapt implementations to agents, turning typed decisions (Bid, Decision,
// Report) into reply messages. ModelParticipant and ModelInitiator take their
// decisions from a language model.
package cnp
