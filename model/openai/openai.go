// Package openai adapts the OpenAI Chat Completions API (with function/tool
// calling) to the model.Model interface. It renders the normalized transcript
// into the SDK's message format, maps tool specifications to function
// definitions, and translates the completion back into a single decision.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/model"
)

// Options configure the OpenAI model adapter.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; extend via functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Model wraps the OpenAI Chat Completions API behind the model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

var _ model.Model = (*Model)(nil)

// NewModel creates a new OpenAI model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	client := openai.NewClient()
	return NewModelFromClient(&client, optFns...)
}

// NewModelFromClient creates a new OpenAI model from an existing client
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Decide implements model.Model via a non-streaming completion. The first
// tool call of the response wins; a plain text response becomes the final
// answer.
func (m *Model) Decide(ctx context.Context, req model.Request) (*model.Decision, error) {
	params := m.buildParams(req, buildMessages(req))

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) > 0 {
		tc := msg.ToolCalls[0]
		return model.DecisionFromToolUse(tc.ID, tc.Function.Name, tc.Function.Arguments)
	}

	return model.FinalFromText(msg.Content), nil
}

// buildMessages converts the normalized transcript into OpenAI chat messages.
// Tool results already follow their calls in transcript order, so no
// reordering is needed.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion

	system := req.Instructions + model.SchemaHint(req.Schema)
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}

	for _, msg := range req.Transcript {
		switch msg.Role {
		case core.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Text))
		case core.RoleToolCall:
			if msg.ToolCall == nil {
				continue
			}
			args, _ := json.Marshal(msg.ToolCall.Args)
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role: "assistant",
					ToolCalls: []openai.ChatCompletionMessageToolCallParam{{
						ID:   msg.ToolCall.ID,
						Type: "function",
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      msg.ToolCall.Name,
							Arguments: string(args),
						},
					}},
				},
			})
		case core.RoleToolResult:
			if msg.ToolResult == nil {
				continue
			}
			messages = append(messages, openai.ToolMessage(renderToolResult(msg.ToolResult), msg.ToolResult.CallID))
		case core.RoleReasoning, core.RoleFinalAnswer:
			if msg.Text != "" {
				messages = append(messages, openai.AssistantMessage(msg.Text))
			}
		}
	}

	return messages
}

// renderToolResult serializes a tool outcome into the single text payload the
// tool role carries.
func renderToolResult(rec *core.ToolResultRecord) string {
	if !rec.Success {
		return fmt.Sprintf(`{"success":false,"error":%q}`, rec.Error)
	}
	encoded, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Sprintf("%v", rec.Result)
	}
	return string(encoded)
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (m *Model) buildParams(
	req model.Request,
	messages []openai.ChatCompletionMessageParamUnion,
) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}
	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, spec := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters:  openai.FunctionParameters(spec.Parameters),
			},
		}
	}
	params.Tools = tools
	return params
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:     m.opts.Model,
		Provider: "openai",
	}
}
