package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jadenj13/analyst/internals/conversation"
)

const (
	OpenAIBaseURL     = "https://api.openai.com/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"

	DefaultOpenAIModel     = "gpt-4.1"
	DefaultOpenRouterModel = "anthropic/claude-sonnet-4.5"
)

// OpenAI speaks the Chat Completions API, which also covers OpenRouter,
// DeepSeek and other compatible gateways.
type OpenAI struct {
	client    openai.Client
	model     string
	baseURL   string
	maxTokens int64
	log       *slog.Logger
}

type OpenAIOption func(*OpenAI)

func WithOpenAIModel(model string) OpenAIOption {
	return func(c *OpenAI) {
		if model != "" {
			c.model = model
		}
	}
}

func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *OpenAI) {
		if url != "" {
			c.baseURL = url
		}
	}
}

func WithOpenAIMaxTokens(n int64) OpenAIOption {
	return func(c *OpenAI) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

func WithOpenAILogger(log *slog.Logger) OpenAIOption {
	return func(c *OpenAI) { c.log = log }
}

func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAI {
	c := &OpenAI{
		model:     DefaultOpenAIModel,
		baseURL:   OpenAIBaseURL,
		maxTokens: DefaultMaxTokens,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.client = openai.NewClient(
		option.WithBaseURL(c.baseURL),
		option.WithAPIKey(apiKey),
	)
	return c
}

func (c *OpenAI) Name() string { return c.model }

func (c *OpenAI) Complete(ctx context.Context, msgs []conversation.Message, tools []mcp.Tool) (conversation.Message, error) {
	apiMessages, err := toOpenAIMessages(msgs)
	if err != nil {
		return conversation.Message{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.model),
		Messages:            apiMessages,
		MaxCompletionTokens: openai.Int(c.maxTokens),
	}
	if len(tools) > 0 {
		params.Tools = openAITools(tools)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return conversation.Message{}, fmt.Errorf("chat completions (%s): %w", c.baseURL, err)
	}
	if len(resp.Choices) == 0 {
		return conversation.Message{}, ErrEmptyResponse
	}
	c.log.Debug("completion usage",
		"input", resp.Usage.PromptTokens,
		"output", resp.Usage.CompletionTokens,
		"finish", resp.Choices[0].FinishReason,
	)

	return fromOpenAI(resp.Choices[0].Message)
}

func toOpenAIMessages(msgs []conversation.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for i, m := range msgs {
		switch m.Role {
		case conversation.RoleInstruction:
			out = append(out, openai.SystemMessage(m.Content))
		case conversation.RoleUser:
			out = append(out, openai.UserMessage(m.Text()))
		case conversation.RoleAssistant:
			out = append(out, assistantParam(m))
		case conversation.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			return nil, fmt.Errorf("message[%d]: unknown role %q", i, m.Role)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("messages cannot be empty")
	}
	return out, nil
}

func assistantParam(m conversation.Message) openai.ChatCompletionMessageParamUnion {
	p := openai.ChatCompletionAssistantMessageParam{}
	if text := strings.TrimSpace(m.Text()); text != "" {
		p.Content.OfString = openai.String(text)
	}
	for _, tc := range m.ToolCalls {
		p.ToolCalls = append(p.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: string(argumentsOrEmpty(tc.Arguments)),
				},
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &p}
}

func fromOpenAI(m openai.ChatCompletionMessage) (conversation.Message, error) {
	msg := conversation.Message{
		Role:    conversation.RoleAssistant,
		Content: m.Content,
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, conversation.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: normalizeArguments(tc.Function.Arguments),
		})
	}
	if strings.TrimSpace(msg.Content) == "" && len(msg.ToolCalls) == 0 {
		return conversation.Message{}, ErrEmptyResponse
	}
	return msg, nil
}

// openAITools converts tool specs to function tools. The format is shared by
// OpenAI and OpenRouter.
func openAITools(tools []mcp.Tool) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, len(tools))
	for i, tool := range tools {
		params := openai.FunctionParameters{
			"type":       "object",
			"properties": tool.InputSchema.Properties,
		}
		if len(tool.InputSchema.Required) > 0 {
			params["required"] = tool.InputSchema.Required
		}
		out[i] = openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: openai.String(tool.Description),
			Parameters:  params,
		})
	}
	return out
}
