// Package gemini provides an implementation of model.Model on top of the
// Google Gen AI SDK (Gemini Developer API backend).
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"

	"github.com/hupe1980/agentnet/model"
)

// Options configures the Gemini model adapter.
type Options struct {
	Model  string
	APIKey string
}

// Model wraps genai.Client behind the generic model.Model interface.
type Model struct {
	client *genai.Client
	opts   Options
}

// NewModel creates a Gemini model. Without an explicit APIKey it reads
// GEMINI_API_KEY from the environment.
func NewModel(ctx context.Context, optFns ...func(o *Options)) (*Model, error) {
	opts := Options{Model: "gemini-2.0-flash-exp"}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.APIKey == "" {
		opts.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("gemini: missing api key (set GEMINI_API_KEY)")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGoogleAI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}
	return &Model{client: client, opts: opts}, nil
}

// Generate implements model.Model with a single final chunk per request.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		result, err := m.client.Models.GenerateContent(ctx, m.opts.Model, buildContents(req), nil)
		if err != nil {
			errCh <- fmt.Errorf("gemini api error: %w", err)
			return
		}
		if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
			errCh <- fmt.Errorf("no candidates returned")
			return
		}

		cand := result.Candidates[0]
		final := model.Response{FinishReason: strings.ToLower(string(cand.FinishReason))}
		var text strings.Builder
		for _, p := range cand.Content.Parts {
			if p == nil {
				continue
			}
			text.WriteString(p.Text)
			if p.FunctionCall != nil {
				args, err := json.Marshal(p.FunctionCall.Args)
				if err != nil {
					args = []byte("{}")
				}
				final.ToolCalls = append(final.ToolCalls, model.ToolCall{
					ID:        p.FunctionCall.Name,
					Name:      p.FunctionCall.Name,
					Arguments: string(args),
				})
			}
		}
		final.Text = text.String()
		if final.FinishReason == "" {
			final.FinishReason = "stop"
		}
		out <- final
	}()

	return out, errCh
}

// buildContents flattens the request into Gemini contents. Instructions are
// sent as a leading user turn; assistant turns map to the "model" role.
func buildContents(req model.Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.Messages)+1)
	if req.Instructions != "" {
		contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: req.Instructions}}})
	}
	for _, msg := range req.Messages {
		if msg.Content == "" {
			continue
		}
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: msg.Content}}})
	}
	return contents
}

// Info returns metadata describing this Gemini model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "gemini",
		SupportsTools: false,
	}
}
