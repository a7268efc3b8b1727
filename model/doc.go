// Package model defines the provider-agnostic abstractions for interacting
// with language models inside agentnet.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition, ToolCall)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (OpenAI, Anthropic, Gemini) implement Model in their own
// sub-packages so the negotiation roles stay decoupled from vendor SDKs.
package model
