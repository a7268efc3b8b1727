// Package agent contains the base agent used by every participant of an
// agentnet network. A BaseAgent declares its receivable set as a table of
// handlers, one per message kind, validated when the agent is built:
//
//	a, err := agent.New("echo", agent.Handlers{
//		"ping": func(ctx context.Context, m core.Message) (core.Result, error) {
//			return core.Single(core.NewFactory(nil).Reply(m, "pong")), nil
//		},
//	})
//
// Design principles:
//   - Explicit wiring: identifiers come from an injected core.IDGenerator
//   - Typed dispatch: unknown kinds fail with core.UnsupportedKindError
//   - Composability: anything implementing core.Agent (including networks)
//     can take part in a network
//
// Protocol roles (see package cnp) build on BaseAgent by adapting typed
// capability interfaces into handler tables.
package agent
