package core

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_StringRoundTrip(t *testing.T) {
	tests := []Message{
		{ID: "request:1", Kind: "request"},
		{
			ID:       "cfp:2",
			Kind:     "cfp",
			Sender:   "manager",
			Receiver: "painter",
			ReplyTo:  "request:1",
			Body:     "paint the fence\nwhite, two coats",
			Metadata: map[string]any{"budget": 100, "urgent": true, "note": "call first"},
		},
		{ID: "failure:3", Kind: KindFailure, Body: "key: value: with colons"},
		{
			ID:   "propose:4",
			Kind: "propose",
			Metadata: map[string]any{
				"price":    1.0,
				"discount": 0.15,
				"big":      1e21,
				"quote":    map[string]any{"hours": 4, "rate": 25.0},
				"options":  []any{2.0, 3, "later"},
			},
		},
	}
	for _, m := range tests {
		t.Run(m.ID, func(t *testing.T) {
			parsed, err := ParseMessage(m.String())
			require.NoError(t, err)
			assert.Equal(t, m, parsed)
		})
	}
}

func TestMessage_StringFloatMetadata(t *testing.T) {
	f := NewFactory(&SequenceGenerator{})
	m := f.New("cfp", WithMeta("price", 1.0))

	parsed, err := ParseMessage(m.String())
	require.NoError(t, err)
	assert.IsType(t, float64(0), parsed.Metadata["price"])
	assert.Equal(t, m, parsed)

	empty := f.New("cfp", WithMetadata(map[string]any{}))
	assert.Nil(t, empty.Metadata)
	parsed, err = ParseMessage(empty.String())
	require.NoError(t, err)
	assert.Equal(t, empty, parsed)
}

func TestMessage_StringFieldOrder(t *testing.T) {
	m := Message{ID: "x", Kind: "cfp", Sender: "s", Receiver: "r", ReplyTo: "p", Body: "b"}
	text := m.String()

	last := -1
	for _, key := range []string{"id:", "kind:", "sender:", "receiver:", "reply_to:", "body:"} {
		i := strings.Index(text, key)
		require.GreaterOrEqual(t, i, 0, key)
		assert.Greater(t, i, last, key)
		last = i
	}
	assert.NotContains(t, Message{ID: "x", Kind: "cfp"}.String(), "metadata")
}

func TestParseMessage_Invalid(t *testing.T) {
	_, err := ParseMessage("id: [unterminated")
	assert.Error(t, err)
}

type describedAgent struct{}

func (describedAgent) ID() string               { return "painter" }
func (describedAgent) Name() string             { return "Painter" }
func (describedAgent) Description() string      { return "paints fences" }
func (describedAgent) Receivable() []Kind       { return []Kind{"cfp", "accept_proposal"} }
func (describedAgent) Metadata() map[string]any { return map[string]any{"rate": 25} }

func (describedAgent) Receive(context.Context, Message) (Result, error) {
	return None(), nil
}

func TestDescriptor_RoundTrip(t *testing.T) {
	d := Describe(describedAgent{})
	assert.Equal(t, "Painter", d.Name)
	assert.Equal(t, "paints fences", d.Description)

	parsed, err := ParseDescriptor(Dump(d))
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
}
