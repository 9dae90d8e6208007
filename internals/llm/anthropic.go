package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jadenj13/analyst/internals/conversation"
)

const (
	DefaultAnthropicModel = anthropic.ModelClaude4Sonnet20250514
	DefaultMaxTokens      = 8192
)

type Anthropic struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	reqOpts   []option.RequestOption
	log       *slog.Logger
}

type AnthropicOption func(*Anthropic)

func WithAnthropicModel(model string) AnthropicOption {
	return func(c *Anthropic) {
		if model != "" {
			c.model = anthropic.Model(model)
		}
	}
}

func WithAnthropicMaxTokens(n int64) AnthropicOption {
	return func(c *Anthropic) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

func WithAnthropicBaseURL(url string) AnthropicOption {
	return func(c *Anthropic) {
		if url != "" {
			c.reqOpts = append(c.reqOpts, option.WithBaseURL(url))
		}
	}
}

func WithAnthropicLogger(log *slog.Logger) AnthropicOption {
	return func(c *Anthropic) { c.log = log }
}

func NewAnthropic(apiKey string, opts ...AnthropicOption) *Anthropic {
	c := &Anthropic{
		model:     DefaultAnthropicModel,
		maxTokens: DefaultMaxTokens,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.client = anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, c.reqOpts...)...)
	return c
}

func (c *Anthropic) Name() string { return "anthropic/" + string(c.model) }

func (c *Anthropic) Complete(ctx context.Context, msgs []conversation.Message, tools []mcp.Tool) (conversation.Message, error) {
	system, apiMessages, err := toAnthropicMessages(msgs)
	if err != nil {
		return conversation.Message{}, err
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages:  apiMessages,
		Tools:     anthropicTools(tools),
	})
	if err != nil {
		return conversation.Message{}, fmt.Errorf("anthropic api: %w", err)
	}
	c.log.Debug("anthropic usage",
		"input", resp.Usage.InputTokens,
		"output", resp.Usage.OutputTokens,
		"cache_read", resp.Usage.CacheReadInputTokens,
		"stop", resp.StopReason,
	)

	return fromAnthropic(resp.Content)
}

// toAnthropicMessages maps a transmitted sequence onto the Messages API.
// Instructions become cached system blocks and runs of tool results are
// merged into a single user message of tool_result blocks.
func toAnthropicMessages(msgs []conversation.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam, error) {
	var (
		system  []anthropic.TextBlockParam
		out     []anthropic.MessageParam
		results []anthropic.ContentBlockParamUnion
	)
	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for i, m := range msgs {
		switch m.Role {
		case conversation.RoleInstruction:
			system = append(system, anthropic.TextBlockParam{
				Text:         m.Content,
				CacheControl: anthropic.NewCacheControlEphemeralParam(),
			})
		case conversation.RoleUser:
			flush()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text())))
		case conversation.RoleAssistant:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if text := strings.TrimSpace(m.Text()); text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, argumentsOrEmpty(tc.Arguments), tc.Name))
			}
			if len(blocks) == 0 {
				return nil, nil, fmt.Errorf("message[%d]: empty assistant message", i)
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case conversation.RoleTool:
			results = append(results, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		default:
			return nil, nil, fmt.Errorf("message[%d]: unknown role %q", i, m.Role)
		}
	}
	flush()

	if len(out) == 0 {
		return nil, nil, fmt.Errorf("messages cannot be empty")
	}
	if last := out[len(out)-1]; last.Role != anthropic.MessageParamRoleUser {
		return nil, nil, fmt.Errorf("last message must be from user, got %q", last.Role)
	}
	return system, out, nil
}

func fromAnthropic(content []anthropic.ContentBlockUnion) (conversation.Message, error) {
	msg := conversation.Message{Role: conversation.RoleAssistant}
	var parts []string
	for _, block := range content {
		switch block.Type {
		case "text":
			if strings.TrimSpace(block.Text) != "" {
				parts = append(parts, block.Text)
			}
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, conversation.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: normalizeArguments(string(block.Input)),
			})
		}
	}
	msg.Content = strings.Join(parts, "\n")
	if strings.TrimSpace(msg.Content) == "" && len(msg.ToolCalls) == 0 {
		return conversation.Message{}, ErrEmptyResponse
	}
	return msg, nil
}

// anthropicTools converts tool specs to the Messages API format.
func anthropicTools(tools []mcp.Tool) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		schema := anthropic.ToolInputSchemaParam{Properties: tool.InputSchema.Properties}
		if len(tool.InputSchema.Required) > 0 {
			schema.Required = tool.InputSchema.Required
		}
		out[i] = anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if tool.Description != "" {
			out[i].OfTool.Description = anthropic.String(tool.Description)
		}
	}
	return out
}
