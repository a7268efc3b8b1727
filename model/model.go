package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Chat roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall represents a function call request surfaced by a model provider.
// Unified across vendors so downstream logic does not need per-provider branching.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON object
}

// ToolDefinition declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Message is one chat turn.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`  // assistant turns
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool turns
}

// Request captures the normalized model input.
type Request struct {
	Instructions string           `json:"instructions"` // System prompt
	Messages     []Message        `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// Prompt builds a single-turn request.
func Prompt(instructions, user string) Request {
	return Request{
		Instructions: instructions,
		Messages:     []Message{{Role: RoleUser, Content: user}},
	}
}

// LastUserText returns the content of the last user turn.
func (r Request) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a streaming model.
type Response struct {
	ID           string      `json:"id"`
	Partial      bool        `json:"partial"`
	Text         string      `json:"text,omitempty"`
	ToolCalls    []ToolCall  `json:"tool_calls,omitempty"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "gemini", "mock"
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by agents to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// ErrNoResponse is returned by Complete when the model closed without a final response.
var ErrNoResponse = errors.New("model returned no final response")

// Complete drains a generation and returns the final response. Partial chunks
// are ignored; providers always emit a final, aggregated chunk.
func Complete(ctx context.Context, m Model, req Request) (Response, error) {
	respCh, errCh := m.Generate(ctx, req)

	var final *Response
	for respCh != nil || errCh != nil {
		select {
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !r.Partial {
				final = &r
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, fmt.Errorf("%s generation failed: %w", m.Info().Provider, err)
			}
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	if final == nil {
		return Response{}, ErrNoResponse
	}
	return *final, nil
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Responses are keyed by the text of the last user turn.
type MockModel struct {
	info Info

	mu        sync.Mutex
	responses map[string]Response
	fallback  *Response
	requests  []Request
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]Response),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = Response{Text: response, FinishReason: "stop"}
}

// AddToolCall registers a canned function call for an input prompt.
func (m *MockModel) AddToolCall(prompt, name, arguments string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = Response{
		ToolCalls:    []ToolCall{{ID: "call_" + name, Name: name, Arguments: arguments}},
		FinishReason: "tool_calls",
	}
}

// SetDefaultToolCall registers a function call answering every prompt
// without a canned response.
func (m *MockModel) SetDefaultToolCall(name, arguments string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &Response{
		ToolCalls:    []ToolCall{{ID: "call_" + name, Name: name, Arguments: arguments}},
		FinishReason: "tool_calls",
	}
}

// Requests returns the requests seen so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Generate implements Model; emits optional streaming char chunks then final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)
		if len(req.Messages) == 0 {
			errCh <- fmt.Errorf("no messages provided")
			return
		}
		input := req.LastUserText()

		m.mu.Lock()
		full, ok := m.responses[input]
		if !ok && m.fallback != nil {
			full, ok = *m.fallback, true
		}
		m.mu.Unlock()
		if !ok {
			full = Response{Text: fmt.Sprintf("Mock response to: %s", input), FinishReason: "stop"}
		}

		if req.Stream && full.Text != "" {
			for _, r := range strings.Split(full.Text, "") {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: r}:
				}
			}
		}
		respCh <- full
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
