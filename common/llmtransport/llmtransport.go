// Package llmtransport is the external collaborator wrapping model
// access: text completion, tool-call completion, and two model tiers
// (fast, reasoning), backed by github.com/openai/openai-go — grounded
// on the relay/common/llm.{Client,AgentClient} split.
package llmtransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Tier selects which capability set / model a request targets.
// generate and generateReasoning use Client.Complete; generateWithTools
// uses Client.ChatWithTools. Both tiers support both capabilities — the
// split is about model choice, not which methods exist.
type Tier string

const (
	TierFast      Tier = "fast"
	TierReasoning Tier = "reasoning"
)

// Message is one turn of a tool-calling conversation.
type Message struct {
	Role string // "system", "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// Tool describes a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters any // JSON Schema
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// CompleteRequest is a single-shot structured-output request.
type CompleteRequest struct {
	Tier         Tier
	SystemPrompt string
	UserPrompt   string
	SchemaName   string
	Schema       any
	MaxTokens    int
	Temperature  *float64
}

// CompleteResponse carries the raw text (pre-parse) plus usage.
type CompleteResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// ToolRequest is one turn of a multi-turn tool-calling conversation.
type ToolRequest struct {
	Tier        Tier
	Messages    []Message
	Tools       []Tool
	MaxTokens   int
	Temperature *float64
}

// ToolResponse is the model's reply to a ToolRequest: either free text
// (conversation is over) or a set of tool calls to execute.
type ToolResponse struct {
	Content          string
	ToolCalls        []ToolCall
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
}

// Client is the LLMTransport contract consumed by every component that
// talks to the model: CycleContextBuilder, ModulePipeline (static and
// adaptive write, reviewer), and PlanPipeline (plan generation/review,
// section generation).
type Client interface {
	// Complete issues a single structured-output completion and returns
	// the raw JSON text; the caller parses it and decides how to handle
	// a structured-output parse failure.
	Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error)
	// ChatWithTools issues one turn of a tool-calling conversation.
	ChatWithTools(ctx context.Context, req ToolRequest) (*ToolResponse, error)
	// ModelFor returns the concrete model name bound to tier, for logging.
	ModelFor(tier Tier) string
}

// Config configures the OpenAI-backed client.
type Config struct {
	APIKey         string
	BaseURL        string
	FastModel      string
	ReasoningModel string
}

type client struct {
	openai         openai.Client
	fastModel      string
	reasoningModel string
}

// New constructs an OpenAI-backed Client with both tiers bound to the
// given models.
func New(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llmtransport: API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	fast := cfg.FastModel
	if fast == "" {
		fast = "gpt-4o-mini"
	}
	reasoning := cfg.ReasoningModel
	if reasoning == "" {
		reasoning = "gpt-4o"
	}

	return &client{
		openai:         openai.NewClient(opts...),
		fastModel:      fast,
		reasoningModel: reasoning,
	}, nil
}

func (c *client) ModelFor(tier Tier) string {
	if tier == TierReasoning {
		return c.reasoningModel
	}
	return c.fastModel
}

func (c *client) Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2000
	}

	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        req.SchemaName,
		Description: openai.String("Structured response schema"),
		Schema:      req.Schema,
		Strict:      openai.Bool(true),
	}

	params := openai.ChatCompletionNewParams{
		Model: c.ModelFor(req.Tier),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemPrompt),
			openai.UserMessage(req.UserPrompt),
		},
		MaxTokens: openai.Int(int64(maxTokens)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schemaParam},
		},
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	start := time.Now()
	resp, err := c.openai.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("llmtransport complete: %w", err)
	}
	slog.DebugContext(ctx, "llm complete",
		"tier", string(req.Tier),
		"model", c.ModelFor(req.Tier),
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llmtransport complete: no choices in response")
	}

	return &CompleteResponse{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

func (c *client) ChatWithTools(ctx context.Context, req ToolRequest) (*ToolResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	params := openai.ChatCompletionNewParams{
		Model:               c.ModelFor(req.Tier),
		Messages:            convertMessages(req.Messages),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	if tools := convertTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	start := time.Now()
	resp, err := c.openai.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("llmtransport chat with tools: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llmtransport chat with tools: no choices in response")
	}

	choice := resp.Choices[0]
	slog.DebugContext(ctx, "llm chat with tools",
		"tier", string(req.Tier),
		"model", c.ModelFor(req.Tier),
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"finish_reason", choice.FinishReason,
		"tool_call_count", len(choice.Message.ToolCalls))

	out := &ToolResponse{
		Content:          choice.Message.Content,
		FinishReason:     string(choice.FinishReason),
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func convertMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "user":
			out = append(out, openai.UserMessage(m.Content))
		case "assistant":
			if len(m.ToolCalls) > 0 {
				calls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
				for i, tc := range m.ToolCalls {
					calls[i] = openai.ChatCompletionMessageToolCallParam{
						ID:   tc.ID,
						Type: "function",
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: tc.Arguments,
						},
					}
				}
				out = append(out, openai.ChatCompletionMessageParamUnion{
					OfAssistant: &openai.ChatCompletionAssistantMessageParam{
						Content:   openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(m.Content)},
						ToolCalls: calls,
					},
				})
			} else {
				out = append(out, openai.AssistantMessage(m.Content))
			}
		case "tool":
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}

func convertTools(tools []Tool) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		var params map[string]any
		if t.Parameters != nil {
			data, _ := json.Marshal(t.Parameters)
			_ = json.Unmarshal(data, &params)
		}
		out[i] = openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  params,
			},
		}
	}
	return out
}

// GenerateSchema reflects a JSON Schema for T, for use as CompleteRequest.Schema.
func GenerateSchema[T any]() any {
	reflector := jsonschema.Reflector{AllowAdditionalProperties: false, DoNotReference: true}
	var v T
	return reflector.Reflect(v)
}

// IsRetryable classifies a transport error: 429 and 5xx responses and
// network-level failures (no structured API error) are transient; context
// cancellation or deadline expiry and every other API status are not.
func IsRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			slog.WarnContext(ctx, "llm rate limited, will retry", "status_code", apiErr.StatusCode)
			return true
		case apiErr.StatusCode >= 500:
			slog.WarnContext(ctx, "llm server error, will retry", "status_code", apiErr.StatusCode)
			return true
		default:
			return false
		}
	}

	// No structured API error means a network-level failure; treat it as
	// transient.
	return true
}

// IsContextTooLong detects the "context too long" failure CycleContextBuilder
// halves its per-member budget and retries on.
func IsContextTooLong(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 400 && apiErr.Code == "context_length_exceeded"
	}
	return false
}
