package core

import (
	"context"
	"iter"
)

// Agent is a participant that accepts a declared set of message kinds.
//
// Implementations must:
//   - Return an *UnsupportedKindError for kinds outside Receivable
//   - Be safe for concurrent Receive calls (branches dispatch in parallel)
//   - Treat ctx cancellation as a hint; the propagator never forces a handler to stop
type Agent interface {
	ID() string
	Receivable() []Kind
	Receive(ctx context.Context, msg Message) (Result, error)
}

// Handler processes one message kind for an agent.
type Handler func(ctx context.Context, msg Message) (Result, error)

// Result is what a handler hands back: nothing, one message or a lazily
// produced sequence of messages. The zero Result carries no reply.
type Result struct {
	seq     iter.Seq2[Message, error]
	relayed bool
}

// None returns a terminal Result without replies.
func None() Result { return Result{} }

// Single returns a Result with exactly one reply.
func Single(m Message) Result {
	return Result{seq: func(yield func(Message, error) bool) {
		yield(m, nil)
	}}
}

// Sequence returns a Result backed by a lazy sequence. The consumer may stop
// early; a sequence must then stop producing (yield returns false).
func Sequence(seq iter.Seq2[Message, error]) Result {
	return Result{seq: seq}
}

// Slice returns a Result replying with msgs in order.
func Slice(msgs ...Message) Result {
	if len(msgs) == 0 {
		return None()
	}
	return Sequence(func(yield func(Message, error) bool) {
		for _, m := range msgs {
			if !yield(m, nil) {
				return
			}
		}
	})
}

// FromStream adapts the stream of a nested propagation into a Result. Its
// messages were already delivered inside the nested run, so the Result is
// relayed: an outer propagator yields them without dispatching them again.
// Stopping the Result stops the stream.
func FromStream(ctx context.Context, s *Stream) Result {
	return Result{seq: s.All(ctx), relayed: true}
}

// IsNone reports whether the Result carries no replies by construction.
func (r Result) IsNone() bool { return r.seq == nil }

// Relayed reports whether the messages were delivered elsewhere already.
func (r Result) Relayed() bool { return r.relayed }

// Messages returns the reply sequence. It is empty for None.
func (r Result) Messages() iter.Seq2[Message, error] {
	if r.seq == nil {
		return func(func(Message, error) bool) {}
	}
	return r.seq
}

// Collect drains the Result into a slice, stopping at the first error.
func (r Result) Collect() ([]Message, error) {
	var out []Message
	for m, err := range r.Messages() {
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ReplyPolicy validates that reply is an acceptable answer to req. A non-nil
// error is turned into a failure for the branch.
type ReplyPolicy func(req, reply Message) error

// ExpectedReplies is a ReplyPolicy table mapping a request kind to the reply
// kinds it allows. Kinds missing from the table are unconstrained; a kind
// mapped to an empty set allows no replies at all.
type ExpectedReplies map[Kind][]Kind

// Check implements ReplyPolicy.
func (e ExpectedReplies) Check(req, reply Message) error {
	allowed, constrained := e[req.Kind]
	if !constrained {
		return nil
	}
	for _, k := range allowed {
		if reply.Kind == k {
			return nil
		}
	}
	return &UnexpectedReplyError{Request: req.Kind, Reply: reply.Kind, AgentID: req.Receiver}
}
