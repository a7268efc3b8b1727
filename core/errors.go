package core

import (
	"errors"
	"fmt"
)

var (
	// ErrConstruction marks invalid topology or message sets detected at build time.
	ErrConstruction = errors.New("construction error")
	// ErrDanglingReference marks a reply_to pointing to a message never seen.
	ErrDanglingReference = fmt.Errorf("%w: dangling causal link", ErrConstruction)
	// ErrUnsupportedMessageKind is returned when an agent receives a kind outside its receivable set.
	ErrUnsupportedMessageKind = errors.New("unsupported message kind")
	// ErrUnexpectedReply is returned when a reply violates the protocol's expected response set.
	ErrUnexpectedReply = errors.New("unexpected reply")
	// ErrHandlerFailure wraps any error raised while a handler executes.
	ErrHandlerFailure = errors.New("handler failure")
	// ErrRouteNotPermitted is returned when the topology forbids a sender/receiver pair.
	ErrRouteNotPermitted = errors.New("route not permitted")
	// ErrStreamStopped is returned by Stream.Next after the consumer called Stop.
	ErrStreamStopped = errors.New("stream stopped")
	// ErrDispatchLimit is returned when a propagation run exceeds its dispatch budget.
	ErrDispatchLimit = errors.New("dispatch limit exceeded")
)

// Error kinds recorded in failure message metadata.
const (
	ErrorKindUnsupported = "unsupported_kind"
	ErrorKindUnexpected  = "unexpected_reply"
	ErrorKindHandler     = "handler_failure"
	ErrorKindRoute       = "route"
)

// ConstructionError describes an invalid build-time input.
type ConstructionError struct {
	Component string
	Reason    string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrConstruction, e.Component, e.Reason)
}

// Unwrap implements errors.Unwrap.
func (e *ConstructionError) Unwrap() error { return ErrConstruction }

// NewConstructionError returns a ConstructionError for component.
func NewConstructionError(component, format string, args ...any) error {
	return &ConstructionError{Component: component, Reason: fmt.Sprintf(format, args...)}
}

// ReferenceError reports a message whose reply_to was not observed before it.
type ReferenceError struct {
	MessageID string
	ReplyTo   string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s: message %s replies to unknown message %s", ErrDanglingReference, e.MessageID, e.ReplyTo)
}

// Unwrap implements errors.Unwrap.
func (e *ReferenceError) Unwrap() error { return ErrDanglingReference }

// UnsupportedKindError reports a message kind an agent cannot receive.
type UnsupportedKindError struct {
	AgentID string
	Kind    Kind
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("%s: agent %s cannot receive %q", ErrUnsupportedMessageKind, e.AgentID, e.Kind)
}

// Unwrap implements errors.Unwrap.
func (e *UnsupportedKindError) Unwrap() error { return ErrUnsupportedMessageKind }

// UnexpectedReplyError reports a reply kind not allowed in answer to a request kind.
type UnexpectedReplyError struct {
	Request Kind
	Reply   Kind
	AgentID string
}

func (e *UnexpectedReplyError) Error() string {
	return fmt.Sprintf("%s: agent %s answered %q with %q", ErrUnexpectedReply, e.AgentID, e.Request, e.Reply)
}

// Unwrap implements errors.Unwrap.
func (e *UnexpectedReplyError) Unwrap() error { return ErrUnexpectedReply }

// HandlerError wraps an error (or recovered panic) raised by a handler.
type HandlerError struct {
	AgentID   string
	MessageID string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: agent %s on message %s: %v", ErrHandlerFailure, e.AgentID, e.MessageID, e.Err)
}

// Unwrap returns both the sentinel and the cause.
func (e *HandlerError) Unwrap() []error { return []error{ErrHandlerFailure, e.Err} }

// RouteError reports a send the topology does not permit.
type RouteError struct {
	Sender   string
	Receiver string
	Reason   string
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("%s: %s -> %s: %s", ErrRouteNotPermitted, e.Sender, e.Receiver, e.Reason)
}

// Unwrap implements errors.Unwrap.
func (e *RouteError) Unwrap() error { return ErrRouteNotPermitted }

// PropagationError is a failure that could not be routed back into the
// stream. It terminates the propagation run.
type PropagationError struct {
	Message Message
	Err     error
}

func (e *PropagationError) Error() string {
	return fmt.Sprintf("propagation failed at message %s (%s): %v", e.Message.ID, e.Message.Kind, e.Err)
}

// Unwrap implements errors.Unwrap.
func (e *PropagationError) Unwrap() error { return e.Err }

// ErrorKind classifies err for failure message metadata.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedMessageKind):
		return ErrorKindUnsupported
	case errors.Is(err, ErrUnexpectedReply):
		return ErrorKindUnexpected
	case errors.Is(err, ErrRouteNotPermitted):
		return ErrorKindRoute
	default:
		return ErrorKindHandler
	}
}
