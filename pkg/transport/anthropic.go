package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicTransport streams from the Anthropic Messages API. Tool input
// arrives as partial JSON fragments per content block index.
type AnthropicTransport struct {
	id          string
	baseURL     string
	client      *http.Client
	maxTokens   int
	temperature float64
}

// NewAnthropicTransport creates an Anthropic transport.
func NewAnthropicTransport(opts Options) *AnthropicTransport {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicTransport{
		id:          opts.ProviderID,
		baseURL:     opts.BaseURL,
		client:      opts.httpClient(),
		maxTokens:   maxTokens,
		temperature: opts.Temperature,
	}
}

// Provider returns the provider id.
func (t *AnthropicTransport) Provider() string {
	return t.id
}

// StreamTurn sends one round and streams its content blocks.
func (t *AnthropicTransport) StreamTurn(ctx context.Context, req TurnRequest) (<-chan Event, error) {
	params := t.buildParams(req)

	opts := []option.RequestOption{
		option.WithAPIKey(req.APIKey),
		option.WithHTTPClient(t.client),
		option.WithMaxRetries(0),
	}
	if t.baseURL != "" {
		opts = append(opts, option.WithBaseURL(t.baseURL))
	}
	client := anthropic.NewClient(opts...)

	a := startAttempt(ctx, req.StartupTimeout)
	out := make(chan Event)
	go func() {
		defer close(out)
		defer a.stop()

		stream := client.Messages.NewStreaming(a.ctx, params)
		defer stream.Close()

		var raw strings.Builder
		asm := newDeltaAssembler()
		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if block, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					asm.add(ev.Index, block.ID, block.Name, "")
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropic.InputJSONDelta:
					asm.add(ev.Index, "", "", delta.PartialJSON)
				case anthropic.TextDelta:
					if delta.Text == "" {
						continue
					}
					raw.WriteString(delta.Text)
					if !a.send(out, Event{TextDelta: delta.Text}) {
						a.fail(out, a.ctx.Err())
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			a.fail(out, t.wrapError(err))
			return
		}

		calls := asm.toolCalls()
		a.send(out, Event{
			ToolCalls: calls,
			Complete:  &TurnComplete{RawText: raw.String(), ToolCalls: calls},
		})
	}()

	return out, nil
}

func (t *AnthropicTransport) wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return statusError(t.id, apiErr.StatusCode, apiErr.Error())
	}
	return err
}

// buildParams converts the conversation to Anthropic format.
func (t *AnthropicTransport) buildParams(req TurnRequest) anthropic.MessageNewParams {
	messages := []anthropic.MessageParam{}

	for _, turn := range req.Conversation {
		switch turn.Role {
		case RoleUser:
			if turn.Content == "" {
				continue
			}
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
		case RoleModel:
			blocks := []anthropic.ContentBlockParamUnion{}
			if turn.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(turn.Content))
			}
			for _, tc := range turn.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, json.RawMessage(tc.ArgumentsObject()), tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		case RoleTool:
			blocks := []anthropic.ContentBlockParamUnion{}
			for _, result := range turn.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(result.ToolCallID, result.ResultContent(), result.ErrorKind != ""))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewUserMessage(blocks...))
			}
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(t.maxTokens),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if t.temperature > 0 {
		params.Temperature = anthropic.Float(t.temperature)
	}

	if len(req.Tools) > 0 {
		tools := []anthropic.ToolUnionParam{}
		for _, tool := range req.Tools {
			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.Parameters["properties"],
				},
			}
			if required, ok := tool.Parameters["required"].([]string); ok {
				toolParam.InputSchema.Required = required
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
	}

	return params
}
