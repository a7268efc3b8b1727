package cnp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hupe1980/agentnet/core"
	"github.com/hupe1980/agentnet/logging"
	"github.com/hupe1980/agentnet/model"
)

// ErrUnstructuredReply is returned when a model answers with neither a
// function call nor a JSON object naming an action.
var ErrUnstructuredReply = errors.New("model reply is not a structured decision")

func tool(name, description, field, fieldDescription string) model.ToolDefinition {
	return model.ToolDefinition{
		Name:        name,
		Description: description,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				field: map[string]any{"type": "string", "description": fieldDescription},
			},
			"required": []string{field},
		},
	}
}

var (
	bidTools = []model.ToolDefinition{
		tool(string(KindPropose), "Bid for the task.", "body", "The offer: price, approach and timeline."),
		tool(string(KindRefuse), "Decline the task.", "reason", "Why the task is declined."),
	}
	reportTools = []model.ToolDefinition{
		tool(string(KindInformDone), "Report that the task is done.", "summary", "What was done."),
		tool(string(KindInformResult), "Report the result of the task.", "result", "The result."),
		tool(string(KindFailure), "Report that the task could not be performed.", "reason", "What went wrong."),
	}
	decisionTools = []model.ToolDefinition{
		tool(string(KindAcceptProposal), "Award the task to this contractor.", "reason", "Why the proposal wins."),
		tool(string(KindRejectProposal), "Reject this proposal.", "reason", "Why the proposal is rejected."),
	}
)

// decision is a parsed structured reply: the chosen action and its arguments.
type decision struct {
	action string
	args   gjson.Result
}

func (d decision) text(fields ...string) string {
	for _, f := range fields {
		if v := d.args.Get(f); v.Exists() {
			return v.String()
		}
	}
	return ""
}

// decide asks m to pick one of tools for msg. Providers without function
// calling may answer with a JSON object {"action": ..., ...} instead.
func decide(ctx context.Context, m model.Model, instructions string, msg core.Message, tools []model.ToolDefinition) (decision, error) {
	req := model.Prompt(instructions, msg.String())
	if m.Info().SupportsTools {
		req.Tools = tools
	}
	resp, err := model.Complete(ctx, m, req)
	if err != nil {
		return decision{}, err
	}
	return parseDecision(resp)
}

func parseDecision(resp model.Response) (decision, error) {
	if len(resp.ToolCalls) > 0 {
		tc := resp.ToolCalls[0]
		args := tc.Arguments
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		if !gjson.Valid(args) {
			return decision{}, fmt.Errorf("%w: invalid arguments for %s", ErrUnstructuredReply, tc.Name)
		}
		return decision{action: tc.Name, args: gjson.Parse(args)}, nil
	}

	text := strings.TrimSpace(resp.Text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if !gjson.Valid(text) {
		return decision{}, fmt.Errorf("%w: %q", ErrUnstructuredReply, resp.Text)
	}
	parsed := gjson.Parse(text)
	action := parsed.Get("action")
	if !action.Exists() {
		return decision{}, fmt.Errorf("%w: missing action", ErrUnstructuredReply)
	}
	return decision{action: action.String(), args: parsed}, nil
}

// ModelParticipant is a contractor whose bids and reports come from a model.
type ModelParticipant struct {
	Model model.Model
	// Persona is the system prompt describing the contractor's skills.
	Persona string
	Logger  logging.Logger
}

// CFP implements CFPHandler.
func (p *ModelParticipant) CFP(ctx context.Context, msg core.Message) (Bid, error) {
	d, err := decide(ctx, p.Model, p.Persona+"\nYou received a call for proposals. Either propose or refuse.", msg, bidTools)
	if err != nil {
		return Bid{}, err
	}
	switch core.Kind(d.action) {
	case KindPropose:
		return Proposal(d.text("body")), nil
	case KindRefuse:
		return Refusal(d.text("reason", "body")), nil
	default:
		return Bid{}, &core.UnexpectedReplyError{Request: KindCFP, Reply: core.Kind(d.action)}
	}
}

// AcceptProposal implements AcceptProposalHandler.
func (p *ModelParticipant) AcceptProposal(ctx context.Context, msg core.Message) (Report, error) {
	d, err := decide(ctx, p.Model, p.Persona+"\nYour proposal was accepted. Perform the task and report.", msg, reportTools)
	if err != nil {
		return Report{}, err
	}
	switch core.Kind(d.action) {
	case KindInformDone:
		return Done(d.text("summary", "body")), nil
	case KindInformResult:
		return Result(d.text("result", "body")), nil
	case KindFailure:
		return Failed(d.text("reason", "body")), nil
	default:
		return Report{}, &core.UnexpectedReplyError{Request: KindAcceptProposal, Reply: core.Kind(d.action)}
	}
}

// RejectProposal implements RejectProposalHandler.
func (p *ModelParticipant) RejectProposal(_ context.Context, msg core.Message) error {
	logging.OrNoOp(p.Logger).Info("cnp.proposal.rejected", "message_id", msg.ID, "reason", msg.Body)
	return nil
}

// ModelInitiator is a manager that lets a model award proposals.
type ModelInitiator struct {
	Model model.Model
	// Goal is the system prompt describing what the manager wants done.
	Goal   string
	Logger logging.Logger
}

// Propose implements ProposeHandler.
func (i *ModelInitiator) Propose(ctx context.Context, msg core.Message) (Decision, error) {
	d, err := decide(ctx, i.Model, i.Goal+"\nYou received a proposal. Accept or reject it.", msg, decisionTools)
	if err != nil {
		return Decision{}, err
	}
	switch core.Kind(d.action) {
	case KindAcceptProposal:
		return Accept(d.text("reason", "body")), nil
	case KindRejectProposal:
		return Reject(d.text("reason", "body")), nil
	default:
		return Decision{}, &core.UnexpectedReplyError{Request: KindPropose, Reply: core.Kind(d.action)}
	}
}

// Refuse implements RefuseHandler.
func (i *ModelInitiator) Refuse(_ context.Context, msg core.Message) error {
	logging.OrNoOp(i.Logger).Info("cnp.refused", "contractor", msg.Sender, "reason", msg.Body)
	return nil
}

// InformDone implements InformDoneHandler.
func (i *ModelInitiator) InformDone(_ context.Context, msg core.Message) error {
	logging.OrNoOp(i.Logger).Info("cnp.done", "contractor", msg.Sender, "summary", msg.Body)
	return nil
}

// InformResult implements InformResultHandler.
func (i *ModelInitiator) InformResult(_ context.Context, msg core.Message) error {
	logging.OrNoOp(i.Logger).Info("cnp.result", "contractor", msg.Sender, "result", msg.Body)
	return nil
}

// Failure implements FailureHandler.
func (i *ModelInitiator) Failure(_ context.Context, msg core.Message) error {
	logging.OrNoOp(i.Logger).Warn("cnp.failure", "contractor", msg.Sender, "error", msg.Body)
	return nil
}
