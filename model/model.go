package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/parley-ai/parley/core"
)

// ToolDefinition declaratively exposes a callable capability to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual capability exposed to the model.
// Parameters is a minimal JSON Schema object.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is the normalized model input assembled by the orchestrator: the
// agent's persona instructions, the transcript (plus any retrieved context),
// and the tool surface of the agent's capabilities.
type Request struct {
	Instructions string           `json:"instructions"`
	Contents     []core.Content   `json:"contents"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// TokenUsage carries the token counts of a completed generation. The ledger
// prices these per provider/model.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is a partial or final chunk emitted by a model. Usage is only set
// on the final chunk.
type Response struct {
	ID           string       `json:"id,omitempty"`
	Partial      bool         `json:"partial"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason,omitempty"` // "stop", "length", "tool_calls"
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info identifies a model implementation. Provider and Name are the key into
// the pricing table.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface an agent needs to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)
	Info() Info
}

// MockModel is an in-memory Model for tests. Responses can be canned per
// prompt and scripted in order; unscripted prompts get a generic echo.
type MockModel struct {
	info      Info
	responses map[string]string
	script    []Response
	usage     TokenUsage
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock", SupportsTools: true},
		responses: make(map[string]string),
		usage:     TokenUsage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
	}
}

// AddResponse registers a canned completion for an exact input prompt.
func (m *MockModel) AddResponse(prompt, response string) { m.responses[prompt] = response }

// Script queues final responses returned in order regardless of input. Useful
// for driving tool-call rounds.
func (m *MockModel) Script(responses ...Response) { m.script = append(m.script, responses...) }

// SetUsage overrides the token usage reported on final chunks.
func (m *MockModel) SetUsage(u TokenUsage) { m.usage = u }

// Generate implements Model. With Stream set it emits per-rune partial chunks
// before the final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if len(m.script) > 0 {
			next := m.script[0]
			m.script = m.script[1:]
			if next.Usage == nil {
				u := m.usage
				next.Usage = &u
			}
			respCh <- next
			return
		}

		if len(req.Contents) == 0 {
			errCh <- fmt.Errorf("no contents provided")
			return
		}
		inputText := req.Contents[len(req.Contents)-1].Text()
		full, ok := m.responses[inputText]
		if !ok {
			full = fmt.Sprintf("Mock response to: %s", inputText)
		}
		if req.Stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{
					Partial: true,
					Content: core.NewTextContent(core.RoleAssistant, string(r)),
				}:
				}
			}
		}
		u := m.usage
		respCh <- Response{
			Content:      core.NewTextContent(core.RoleAssistant, full),
			FinishReason: "stop",
			Usage:        &u,
		}
	}()
	return respCh, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }

// Collect drains a Generate stream into the final response, concatenating any
// partial text that never made it into a final chunk. Convenience for callers
// that do not forward deltas.
func Collect(respCh <-chan Response, errCh <-chan error) (Response, error) {
	var final Response
	var partials strings.Builder
	sawFinal := false
	for resp := range respCh {
		if resp.Partial {
			partials.WriteString(resp.Content.Text())
			continue
		}
		final = resp
		sawFinal = true
	}
	if err := <-errCh; err != nil {
		return Response{}, err
	}
	if !sawFinal {
		final = Response{
			Content:      core.NewTextContent(core.RoleAssistant, partials.String()),
			FinishReason: "stop",
		}
	}
	return final, nil
}
