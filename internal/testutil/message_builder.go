package testutil

import (
	"github.com/hupe1980/agentnet/core"
)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	msg := NewMessageBuilder("cfp").From("manager").To("c1").ReplyTo("request:1").Build()
//
// Chain only the fields you need; an id is generated when none is set.
type MessageBuilder struct {
	ids core.IDGenerator
	msg core.Message
}

// NewMessageBuilder creates a builder for a message of the given kind.
func NewMessageBuilder(kind core.Kind) *MessageBuilder {
	return &MessageBuilder{msg: core.Message{Kind: kind}}
}

// IDs sets the generator used when no explicit id is given (chainable).
func (b *MessageBuilder) IDs(g core.IDGenerator) *MessageBuilder { b.ids = g; return b }

// ID overrides the generated id (chainable). Use where determinism matters.
func (b *MessageBuilder) ID(id string) *MessageBuilder { b.msg.ID = id; return b }

// From sets the sender (chainable).
func (b *MessageBuilder) From(id string) *MessageBuilder { b.msg.Sender = id; return b }

// To sets the receiver (chainable).
func (b *MessageBuilder) To(id string) *MessageBuilder { b.msg.Receiver = id; return b }

// ReplyTo sets the causal link (chainable).
func (b *MessageBuilder) ReplyTo(id string) *MessageBuilder { b.msg.ReplyTo = id; return b }

// Body sets the body (chainable).
func (b *MessageBuilder) Body(body string) *MessageBuilder { b.msg.Body = body; return b }

// Meta sets a metadata entry (chainable).
func (b *MessageBuilder) Meta(key string, value any) *MessageBuilder {
	if b.msg.Metadata == nil {
		b.msg.Metadata = map[string]any{}
	}
	b.msg.Metadata[key] = value
	return b
}

// Build returns the message.
func (b *MessageBuilder) Build() core.Message {
	m := b.msg
	if m.ID == "" {
		ids := b.ids
		if ids == nil {
			ids = core.UUIDGenerator{}
		}
		m.ID = ids.NewID(string(m.Kind))
	}
	return m
}

// Chain builds n messages of kind where each replies to the previous one.
func Chain(ids core.IDGenerator, kind core.Kind, n int) []core.Message {
	out := make([]core.Message, 0, n)
	parent := ""
	for i := 0; i < n; i++ {
		m := NewMessageBuilder(kind).IDs(ids).ReplyTo(parent).Build()
		out = append(out, m)
		parent = m.ID
	}
	return out
}

// Kinds returns the kinds of msgs in order.
func Kinds(msgs []core.Message) []core.Kind {
	out := make([]core.Kind, len(msgs))
	for i, m := range msgs {
		out[i] = m.Kind
	}
	return out
}

// CountKind returns how many of msgs have kind.
func CountKind(msgs []core.Message, kind core.Kind) int {
	n := 0
	for _, m := range msgs {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

// Find returns the first message of kind, or false.
func Find(msgs []core.Message, kind core.Kind) (core.Message, bool) {
	for _, m := range msgs {
		if m.Kind == kind {
			return m, true
		}
	}
	return core.Message{}, false
}
