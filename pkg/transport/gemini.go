package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiTransport streams from the Gemini generateContent API. Each record
// holds complete parts: text, or a fully formed functionCall.
type GeminiTransport struct {
	id          string
	baseURL     string
	client      *http.Client
	maxTokens   int
	temperature float64
}

// NewGeminiTransport creates a Gemini transport.
func NewGeminiTransport(opts Options) *GeminiTransport {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &GeminiTransport{
		id:          opts.ProviderID,
		baseURL:     baseURL,
		client:      opts.httpClient(),
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
	}
}

// Provider returns the provider id.
func (t *GeminiTransport) Provider() string {
	return t.id
}

// StreamTurn sends one round and streams its parts.
func (t *GeminiTransport) StreamTurn(ctx context.Context, req TurnRequest) (<-chan Event, error) {
	payload, err := t.buildPayload(req)
	if err != nil {
		return nil, fmt.Errorf("failed to build gemini request: %w", err)
	}

	a := startAttempt(ctx, req.StartupTimeout)
	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", t.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(a.ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		a.stop()
		return nil, fmt.Errorf("failed to create gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", req.APIKey)

	out := make(chan Event)
	go func() {
		defer close(out)
		defer a.stop()

		resp, err := t.client.Do(httpReq)
		if err != nil {
			a.fail(out, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
			a.fail(out, NewProviderError(t.id, resp.StatusCode, body))
			return
		}

		t.consume(a, resp.Body, out)
	}()

	return out, nil
}

func (t *GeminiTransport) consume(a *attempt, body io.Reader, out chan<- Event) {
	dec := newRecordReader(body)
	var raw strings.Builder
	var calls []ToolCall

	for {
		record, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			a.fail(out, err)
			return
		}
		if !gjson.ValidBytes(record) {
			a.fail(out, streamError(t.id, "malformed stream record"))
			return
		}
		root := gjson.ParseBytes(record)
		if apiErr := root.Get("error"); apiErr.Exists() {
			a.fail(out, NewProviderError(t.id, int(apiErr.Get("code").Int()), []byte(root.Raw)))
			return
		}

		var text strings.Builder
		root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
			if part.Get("thought").Bool() {
				return true
			}
			if fc := part.Get("functionCall"); fc.Exists() {
				args := fc.Get("args").Raw
				if args == "" {
					args = "{}"
				}
				id := fc.Get("id").String()
				if id == "" {
					id = newCallID()
				}
				calls = append(calls, ToolCall{ID: id, Name: fc.Get("name").String(), Arguments: []byte(args)})
				return true
			}
			text.WriteString(part.Get("text").String())
			return true
		})

		if text.Len() > 0 {
			raw.WriteString(text.String())
			if !a.send(out, Event{TextDelta: text.String()}) {
				a.fail(out, a.ctx.Err())
				return
			}
		}

		if reason := root.Get("candidates.0.finishReason").String(); isBlockedFinish(reason) && raw.Len() == 0 && len(calls) == 0 {
			a.fail(out, streamError(t.id, "response blocked: %s", reason))
			return
		}
	}

	a.send(out, Event{
		ToolCalls: calls,
		Complete:  &TurnComplete{RawText: raw.String(), ToolCalls: calls},
	})
}

func isBlockedFinish(reason string) bool {
	switch reason {
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "MALFORMED_FUNCTION_CALL":
		return true
	}
	return false
}

// buildPayload translates the conversation into a generateContent body.
func (t *GeminiTransport) buildPayload(req TurnRequest) ([]byte, error) {
	payload := []byte(`{"contents":[]}`)
	var err error

	set := func(path string, value interface{}) {
		if err == nil {
			payload, err = sjson.SetBytes(payload, path, value)
		}
	}
	setRaw := func(path string, raw []byte) {
		if err == nil {
			payload, err = sjson.SetRawBytes(payload, path, raw)
		}
	}

	if req.SystemPrompt != "" {
		set("systemInstruction.parts.0.text", req.SystemPrompt)
	}

	idx := 0
	for _, turn := range req.Conversation {
		prefix := fmt.Sprintf("contents.%d", idx)
		switch turn.Role {
		case RoleUser:
			if turn.Content == "" {
				continue
			}
			set(prefix+".role", "user")
			set(prefix+".parts.0.text", turn.Content)
		case RoleModel:
			if turn.Content == "" && len(turn.ToolCalls) == 0 {
				continue
			}
			set(prefix+".role", "model")
			part := 0
			if turn.Content != "" {
				set(fmt.Sprintf("%s.parts.%d.text", prefix, part), turn.Content)
				part++
			}
			for _, call := range turn.ToolCalls {
				set(fmt.Sprintf("%s.parts.%d.functionCall.name", prefix, part), call.Name)
				setRaw(fmt.Sprintf("%s.parts.%d.functionCall.args", prefix, part), call.ArgumentsObject())
				part++
			}
		case RoleTool:
			if len(turn.ToolResults) == 0 {
				continue
			}
			set(prefix+".role", "user")
			for i, result := range turn.ToolResults {
				set(fmt.Sprintf("%s.parts.%d.functionResponse.name", prefix, i), result.Name)
				setRaw(fmt.Sprintf("%s.parts.%d.functionResponse.response.content", prefix, i), []byte(result.ResultContent()))
			}
		default:
			continue
		}
		idx++
	}

	if len(req.Tools) > 0 {
		for i, tool := range req.Tools {
			prefix := fmt.Sprintf("tools.0.functionDeclarations.%d", i)
			set(prefix+".name", tool.Name)
			set(prefix+".description", tool.Description)
			if len(tool.Parameters) > 0 {
				set(prefix+".parameters", tool.Parameters)
			}
		}
	}

	if t.maxTokens > 0 {
		set("generationConfig.maxOutputTokens", t.maxTokens)
	}
	if t.temperature > 0 {
		set("generationConfig.temperature", t.temperature)
	}

	return payload, err
}
