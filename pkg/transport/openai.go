package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAITransport streams from any OpenAI-compatible chat completions API.
// Records carry deltas keyed by tool-call index that are concatenated until
// the stream ends.
type OpenAITransport struct {
	id          string
	baseURL     string
	client      *http.Client
	maxTokens   int
	temperature float64
}

// NewOpenAITransport creates an OpenAI-compatible transport.
func NewOpenAITransport(opts Options) *OpenAITransport {
	return &OpenAITransport{
		id:          opts.ProviderID,
		baseURL:     opts.BaseURL,
		client:      opts.httpClient(),
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
	}
}

// Provider returns the provider id.
func (t *OpenAITransport) Provider() string {
	return t.id
}

// StreamTurn sends one round and streams its deltas.
func (t *OpenAITransport) StreamTurn(ctx context.Context, req TurnRequest) (<-chan Event, error) {
	params, err := t.buildParams(req)
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{
		option.WithAPIKey(req.APIKey),
		option.WithHTTPClient(t.client),
		option.WithMaxRetries(0),
	}
	if t.baseURL != "" {
		opts = append(opts, option.WithBaseURL(t.baseURL))
	}
	client := openai.NewClient(opts...)

	a := startAttempt(ctx, req.StartupTimeout)
	out := make(chan Event)
	go func() {
		defer close(out)
		defer a.stop()

		stream := client.Chat.Completions.NewStreaming(a.ctx, params)
		defer stream.Close()

		var raw strings.Builder
		asm := newDeltaAssembler()
		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Index != 0 {
					continue
				}
				for _, tc := range choice.Delta.ToolCalls {
					asm.add(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)
				}
				if choice.Delta.Content == "" {
					continue
				}
				raw.WriteString(choice.Delta.Content)
				if !a.send(out, Event{TextDelta: choice.Delta.Content}) {
					a.fail(out, a.ctx.Err())
					return
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

func (t *OpenAITransport) wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return statusError(t.id, apiErr.StatusCode, apiErr.Message)
	}
	return err
}

// buildParams converts the conversation to OpenAI format.
func (t *OpenAITransport) buildParams(req TurnRequest) (openai.ChatCompletionNewParams, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}

	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}

	for _, turn := range req.Conversation {
		switch turn.Role {
		case RoleUser:
			messages = append(messages, openai.UserMessage(turn.Content))
		case RoleModel:
			if len(turn.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(turn.Content))
				continue
			}
			toolCalls := []openai.ChatCompletionMessageToolCall{}
			for _, tc := range turn.ToolCalls {
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: string(tc.ArgumentsObject()),
					},
				})
			}
			assistantMsg := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   turn.Content,
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistantMsg.ToParam())
		case RoleTool:
			for _, result := range turn.ToolResults {
				messages = append(messages, openai.ToolMessage(result.ResultContent(), result.ToolCallID))
			}
		default:
			return openai.ChatCompletionNewParams{}, fmt.Errorf("unsupported turn role: %s", turn.Role)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if t.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(t.maxTokens))
	}
	if t.temperature > 0 {
		params.Temperature = openai.Float(t.temperature)
	}

	if len(req.Tools) > 0 {
		tools := []openai.ChatCompletionToolParam{}
		for _, tool := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.Parameters),
				},
			})
		}
		params.Tools = tools
	}

	return params, nil
}
