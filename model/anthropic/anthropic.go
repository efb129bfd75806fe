// Package anthropic adapts the Anthropic Messages API to the model.Model
// interface.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/model"
)

// Options configure the Anthropic model adapter (temperature, model id,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind the model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

var _ model.Model = (*Model)(nil)

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// NewModel creates a new Anthropic model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Decide implements model.Model via a non-streaming Messages call. The first
// tool_use block of the response wins; otherwise the concatenated text blocks
// become the final answer.
func (m *Model) Decide(ctx context.Context, req model.Request) (*model.Decision, error) {
	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    m.buildMessages(req.Transcript),
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
	}

	if system := req.Instructions + model.SchemaHint(req.Schema); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		params.Tools = m.buildTools(req.Tools)
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			toolBlock := block.AsToolUse()
			args := ""
			if toolBlock.Input != nil {
				if argsBytes, err := json.Marshal(toolBlock.Input); err == nil {
					args = string(argsBytes)
				}
			}
			return model.DecisionFromToolUse(toolBlock.ID, toolBlock.Name, args)
		}
	}

	return model.FinalFromText(text.String()), nil
}

// buildMessages converts the normalized transcript to the Anthropic message
// format. Tool results ride in user messages as tool_result blocks, paired by
// call ID with the preceding assistant tool_use block.
func (m *Model) buildMessages(transcript []core.Message) []anthropic.MessageParam {
	var messages []anthropic.MessageParam

	for _, msg := range transcript {
		switch msg.Role {
		case core.RoleUser:
			if msg.Text != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text)))
			}
		case core.RoleToolCall:
			if msg.ToolCall == nil {
				continue
			}
			var input any = msg.ToolCall.Args
			if input == nil {
				input = map[string]any{}
			}
			messages = append(messages, anthropic.NewAssistantMessage(
				anthropic.NewToolUseBlock(msg.ToolCall.ID, input, msg.ToolCall.Name),
			))
		case core.RoleToolResult:
			if msg.ToolResult == nil {
				continue
			}
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolResult.CallID, renderToolResult(msg.ToolResult), !msg.ToolResult.Success),
			))
		case core.RoleReasoning, core.RoleFinalAnswer:
			if msg.Text != "" {
				messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Text)))
			}
		}
	}

	return messages
}

func renderToolResult(rec *core.ToolResultRecord) string {
	if !rec.Success {
		return rec.Error
	}
	encoded, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Sprintf("%v", rec.Result)
	}
	return string(encoded)
}

// buildTools converts tool specifications to the Anthropic tool format
func (m *Model) buildTools(specs []model.ToolSpec) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(specs))

	for i, spec := range specs {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}

		if spec.Parameters != nil {
			if properties, exists := spec.Parameters["properties"]; exists {
				inputSchema.Properties = properties
			}
			switch required := spec.Parameters["required"].(type) {
			case []string:
				inputSchema.Required = required
			case []any:
				var reqStrings []string
				for _, r := range required {
					if s, ok := r.(string); ok {
						reqStrings = append(reqStrings, s)
					}
				}
				inputSchema.Required = reqStrings
			}
		}

		tools[i] = anthropic.ToolUnionParamOfTool(inputSchema, spec.Name)
	}

	return tools
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:     string(m.opts.Model),
		Provider: "anthropic",
	}
}
