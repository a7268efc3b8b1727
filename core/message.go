package core

import (
	"maps"
)

// Kind is the fixed tag identifying a communicative act (e.g. "cfp").
type Kind string

// KindFailure is the kind of messages produced when a handler fails. It is
// defined here because the propagator wraps handler failures itself.
const KindFailure Kind = "failure"

// Metadata keys set on failure messages produced by the propagator.
const (
	MetadataError     = "error"
	MetadataErrorKind = "error_kind"
)

// Message is one communicative act between agents. After construction it
// should be treated as immutable; derive new messages with Factory.Reply or
// Factory.Forward instead of mutating fields.
//
// Field order is the order of the textual form (see String).
type Message struct {
	ID       string         `yaml:"id" json:"id"`
	Kind     Kind           `yaml:"kind" json:"kind"`
	Sender   string         `yaml:"sender,omitempty" json:"sender,omitempty"`
	Receiver string         `yaml:"receiver,omitempty" json:"receiver,omitempty"`
	ReplyTo  string         `yaml:"reply_to,omitempty" json:"reply_to,omitempty"`
	Body     string         `yaml:"body,omitempty" json:"body,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// IsZero reports whether m is the zero Message.
func (m Message) IsZero() bool { return m.ID == "" && m.Kind == "" }

// Is reports whether the message has the given kind.
func (m Message) Is(kind Kind) bool { return m.Kind == kind }

// IsBroadcast reports whether the message has no receiver.
func (m Message) IsBroadcast() bool { return m.Receiver == "" }

// Meta returns the metadata value for key.
func (m Message) Meta(key string) (any, bool) {
	v, ok := m.Metadata[key]
	return v, ok
}

// MetaString returns the metadata value for key if it is a string.
func (m Message) MetaString(key string) string {
	s, _ := m.Metadata[key].(string)
	return s
}

// Option overrides a field of a message under construction.
type Option func(m *Message)

// WithID sets an explicit id instead of a generated one.
func WithID(id string) Option { return func(m *Message) { m.ID = id } }

// WithKind overrides the message kind.
func WithKind(kind Kind) Option { return func(m *Message) { m.Kind = kind } }

// WithSender overrides the sender.
func WithSender(id string) Option { return func(m *Message) { m.Sender = id } }

// WithReceiver overrides the receiver. An empty id leaves the message unaddressed.
func WithReceiver(id string) Option { return func(m *Message) { m.Receiver = id } }

// WithReplyTo overrides the causal link.
func WithReplyTo(id string) Option { return func(m *Message) { m.ReplyTo = id } }

// WithBody sets the body.
func WithBody(body string) Option { return func(m *Message) { m.Body = body } }

// WithMetadata replaces the metadata with a copy of md.
func WithMetadata(md map[string]any) Option {
	return func(m *Message) { m.Metadata = maps.Clone(md) }
}

// WithMeta sets a single metadata entry.
func WithMeta(key string, value any) Option {
	return func(m *Message) {
		if m.Metadata == nil {
			m.Metadata = map[string]any{}
		}
		m.Metadata[key] = value
	}
}

// Factory constructs messages using an injected IDGenerator.
type Factory struct {
	ids IDGenerator
}

// NewFactory returns a factory using ids, or UUIDGenerator when ids is nil.
func NewFactory(ids IDGenerator) *Factory {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	return &Factory{ids: ids}
}

// IDs returns the factory's id generator.
func (f *Factory) IDs() IDGenerator { return f.ids }

// New builds a conversation-initiating message of the given kind.
func (f *Factory) New(kind Kind, opts ...Option) Message {
	m := Message{Kind: kind}
	return f.finish(m, opts)
}

// Reply builds a message of the given kind answering src. The reply is routed
// back: its sender is src's receiver and its receiver is src's sender.
func (f *Factory) Reply(src Message, kind Kind, opts ...Option) Message {
	m := Message{
		Kind:     kind,
		Sender:   src.Receiver,
		Receiver: src.Sender,
		ReplyTo:  src.ID,
	}
	return f.finish(m, opts)
}

// Forward relays src: the copy keeps kind, routing, body and metadata of src
// unless overridden, links back to src and always receives a fresh id.
func (f *Factory) Forward(src Message, opts ...Option) Message {
	m := Message{
		Kind:     src.Kind,
		Sender:   src.Sender,
		Receiver: src.Receiver,
		ReplyTo:  src.ID,
		Body:     src.Body,
		Metadata: maps.Clone(src.Metadata),
	}
	return f.finish(m, opts)
}

func (f *Factory) finish(m Message, opts []Option) Message {
	for _, opt := range opts {
		opt(&m)
	}
	if m.ID == "" {
		m.ID = f.ids.NewID(string(m.Kind))
	}
	if len(m.Metadata) == 0 {
		m.Metadata = nil
	}
	return m
}
