package rabbitmq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hupe1980/agentnet/core"
)

// ContentType of encoded envelopes.
const ContentType = "application/json"

// QueuePrefix prefixes the default request queue of an agent.
const QueuePrefix = "agentnet.agent."

// QueueName returns the default request queue of agentID.
func QueueName(agentID string) string { return QueuePrefix + agentID }

// Channel is the subset of *amqp.Channel used by clients and servers.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Cancel(consumer string, noWait bool) error
}

var _ Channel = (*amqp.Channel)(nil)

// Envelope is the wire format of requests and replies. A request carries the
// message to deliver; a reply carries the produced messages or the handler
// error.
type Envelope struct {
	Messages  []core.Message `json:"messages"`
	Error     string         `json:"error,omitempty"`
	ErrorKind string         `json:"error_kind,omitempty"`
}

// Encode marshals e for publishing.
func (e Envelope) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return b, nil
}

// DecodeEnvelope unmarshals a delivery body. Metadata numbers that fit an
// int decode as int, all others as float64. JSON does not distinguish 1 from
// 1.0, so a whole-number float arrives as int.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var e Envelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&e); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	for i := range e.Messages {
		for k, v := range e.Messages[i].Metadata {
			e.Messages[i].Metadata[k] = number(v)
		}
	}
	return e, nil
}

// number replaces json.Number values, descending into maps and slices.
func number(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(v.String(), 10, 0); err == nil {
			return int(i)
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case map[string]any:
		for k, item := range v {
			v[k] = number(item)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = number(item)
		}
		return v
	default:
		return v
	}
}

// errorEnvelope records err the way the receiving side reconstructs it.
func errorEnvelope(err error) Envelope {
	return Envelope{Error: err.Error(), ErrorKind: core.ErrorKind(err)}
}

// Err rebuilds the remote handler error of a reply, nil if there is none.
// msg is the request the reply answers.
func (e Envelope) Err(agentID string, msg core.Message) error {
	if e.Error == "" {
		return nil
	}
	switch e.ErrorKind {
	case core.ErrorKindUnsupported:
		return &core.UnsupportedKindError{AgentID: agentID, Kind: msg.Kind}
	case core.ErrorKindUnexpected:
		return &core.HandlerError{AgentID: agentID, MessageID: msg.ID, Err: fmt.Errorf("%w: %s", core.ErrUnexpectedReply, e.Error)}
	default:
		return &core.HandlerError{AgentID: agentID, MessageID: msg.ID, Err: errors.New(e.Error)}
	}
}
