package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type roundOutcome struct {
	deltas   []string
	complete *TurnComplete
	err      error
}

func (o roundOutcome) text() string {
	return strings.Join(o.deltas, "")
}

func collect(t *testing.T, events <-chan Event) roundOutcome {
	t.Helper()
	var out roundOutcome
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			switch {
			case ev.Err != nil:
				out.err = ev.Err
			case ev.Complete != nil:
				out.complete = ev.Complete
			default:
				out.deltas = append(out.deltas, ev.TextDelta)
			}
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func sseServer(t *testing.T, records []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, rec := range records {
			// Split every record across two writes to exercise partial lines.
			line := "data: " + rec + "\n\n"
			half := len(line) / 2
			_, _ = io.WriteString(w, line[:half])
			flusher.Flush()
			_, _ = io.WriteString(w, line[half:])
			flusher.Flush()
		}
	}))
}

func TestGeminiTransport(t *testing.T) {
	t.Run("should stream text and complete function calls", func(t *testing.T) {
		srv := sseServer(t, []string{
			`{"candidates":[{"content":{"role":"model","parts":[{"text":"Checking "}]}}]}`,
			`{"candidates":[{"content":{"role":"model","parts":[{"text":"stock."},{"functionCall":{"name":"low_stock_products","args":{"threshold":5}}}]}}]}`,
			`{"candidates":[{"content":{"role":"model","parts":[{"text":""}]},"finishReason":"STOP"}]}`,
		})
		defer srv.Close()

		tr := NewGeminiTransport(Options{ProviderID: "gemini", BaseURL: srv.URL})
		events, err := tr.StreamTurn(context.Background(), TurnRequest{APIKey: "AIzaTest", Model: "gemini-2.0-flash"})
		require.NoError(t, err)

		out := collect(t, events)
		require.NoError(t, out.err)
		require.NotNil(t, out.complete)
		assert.Equal(t, "Checking stock.", out.text())
		assert.Equal(t, "Checking stock.", out.complete.RawText)
		require.Len(t, out.complete.ToolCalls, 1)
		assert.Equal(t, "low_stock_products", out.complete.ToolCalls[0].Name)
		assert.JSONEq(t, `{"threshold":5}`, string(out.complete.ToolCalls[0].Arguments))
		assert.NotEmpty(t, out.complete.ToolCalls[0].ID)
	})

	t.Run("should classify 429 as rate limited", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`)
		}))
		defer srv.Close()

		tr := NewGeminiTransport(Options{ProviderID: "gemini", BaseURL: srv.URL})
		events, err := tr.StreamTurn(context.Background(), TurnRequest{APIKey: "k", Model: "m"})
		require.NoError(t, err)

		out := collect(t, events)
		require.Error(t, out.err)
		assert.True(t, errors.Is(out.err, ErrRateLimited))

		var pe *ProviderError
		require.True(t, errors.As(out.err, &pe))
		assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
		assert.Equal(t, "Resource has been exhausted", pe.Message)
	})

	t.Run("should report other statuses as provider errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"error":{"message":"backend exploded"}}`)
		}))
		defer srv.Close()

		tr := NewGeminiTransport(Options{ProviderID: "gemini", BaseURL: srv.URL})
		events, err := tr.StreamTurn(context.Background(), TurnRequest{APIKey: "k", Model: "m"})
		require.NoError(t, err)

		out := collect(t, events)
		var pe *ProviderError
		require.True(t, errors.As(out.err, &pe))
		assert.Equal(t, http.StatusInternalServerError, pe.StatusCode)
		assert.False(t, errors.Is(out.err, ErrRateLimited))
	})

	t.Run("should time out when no byte arrives", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		tr := NewGeminiTransport(Options{ProviderID: "gemini", BaseURL: srv.URL})
		events, err := tr.StreamTurn(context.Background(), TurnRequest{
			APIKey: "k", Model: "m", StartupTimeout: 50 * time.Millisecond,
		})
		require.NoError(t, err)

		out := collect(t, events)
		assert.ErrorIs(t, out.err, ErrStartupTimeout)
	})

	t.Run("should not cut off a slow but active stream", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			flusher := w.(http.Flusher)
			for i := 0; i < 3; i++ {
				_, _ = fmt.Fprintf(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"%d\"}]}}]}\n\n", i)
				flusher.Flush()
				time.Sleep(60 * time.Millisecond)
			}
		}))
		defer srv.Close()

		tr := NewGeminiTransport(Options{ProviderID: "gemini", BaseURL: srv.URL})
		events, err := tr.StreamTurn(context.Background(), TurnRequest{
			APIKey: "k", Model: "m", StartupTimeout: 50 * time.Millisecond,
		})
		require.NoError(t, err)

		out := collect(t, events)
		require.NoError(t, out.err)
		assert.Equal(t, "012", out.complete.RawText)
	})

	t.Run("should surface cancellation distinctly", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		defer srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		tr := NewGeminiTransport(Options{ProviderID: "gemini", BaseURL: srv.URL})
		events, err := tr.StreamTurn(ctx, TurnRequest{APIKey: "k", Model: "m", StartupTimeout: time.Second})
		require.NoError(t, err)

		time.AfterFunc(30*time.Millisecond, cancel)
		out := collect(t, events)
		if out.err != nil {
			assert.ErrorIs(t, out.err, ErrCancelled)
		}
		assert.Nil(t, out.complete)
	})
}

func TestGeminiPayload(t *testing.T) {
	tr := NewGeminiTransport(Options{ProviderID: "gemini", MaxTokens: 512})
	payload, err := tr.buildPayload(TurnRequest{
		SystemPrompt: "be brief",
		Conversation: []Turn{
			{Role: RoleUser, Content: "how many chairs?"},
			{Role: RoleModel, Content: "Let me look.", ToolCalls: []ToolCall{{ID: "c1", Name: "get_product", Arguments: []byte(`{"name":"chair"}`)}}},
			{Role: RoleTool, ToolResults: []ToolResult{{ToolCallID: "c1", Name: "get_product", Payload: map[string]interface{}{"stock": 4}}}},
		},
		Tools: []ToolSpec{{Name: "get_product", Description: "Find a product", Parameters: map[string]interface{}{"type": "object"}}},
	})
	require.NoError(t, err)

	body := string(payload)
	assert.Contains(t, body, `"systemInstruction":{"parts":[{"text":"be brief"}]}`)
	assert.Contains(t, body, `"functionCall":{"name":"get_product","args":{"name":"chair"}}`)
	assert.Contains(t, body, `"functionResponse":{"name":"get_product","response":{"content":{"stock":4}}}`)
	assert.Contains(t, body, `"maxOutputTokens":512`)
	assert.Contains(t, body, `"functionDeclarations":[{"name":"get_product"`)
}

func TestOpenAITransport(t *testing.T) {
	chunk := func(delta string) string {
		return `{"id":"c","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":` + delta + `,"finish_reason":null}]}`
	}

	t.Run("should assemble tool call fragments by index", func(t *testing.T) {
		srv := sseServer(t, []string{
			chunk(`{"role":"assistant","content":"Look"}`),
			chunk(`{"content":"ing up."}`),
			chunk(`{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"list_sales","arguments":""}}]}`),
			chunk(`{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"list_clients","arguments":"{\"li"}}]}`),
			chunk(`{"tool_calls":[{"index":0,"function":{"arguments":"{\"day\":"}}]}`),
			chunk(`{"tool_calls":[{"index":0,"function":{"arguments":"\"today\"}"}}]}`),
			chunk(`{"tool_calls":[{"index":1,"function":{"arguments":"mit\":3}"}}]}`),
			`[DONE]`,
		})
		defer srv.Close()

		tr := NewOpenAITransport(Options{ProviderID: "groq", BaseURL: srv.URL + "/v1/"})
		events, err := tr.StreamTurn(context.Background(), TurnRequest{APIKey: "gsk_test", Model: "llama"})
		require.NoError(t, err)

		out := collect(t, events)
		require.NoError(t, out.err)
		require.NotNil(t, out.complete)
		assert.Equal(t, "Looking up.", out.complete.RawText)
		require.Len(t, out.complete.ToolCalls, 2)
		assert.Equal(t, "call_a", out.complete.ToolCalls[0].ID)
		assert.Equal(t, "list_sales", out.complete.ToolCalls[0].Name)
		assert.JSONEq(t, `{"day":"today"}`, string(out.complete.ToolCalls[0].Arguments))
		assert.Equal(t, "list_clients", out.complete.ToolCalls[1].Name)
		assert.JSONEq(t, `{"limit":3}`, string(out.complete.ToolCalls[1].Arguments))
	})

	t.Run("should classify 429 as rate limited", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":{"message":"Rate limit reached","type":"tokens","code":"rate_limit_exceeded"}}`)
		}))
		defer srv.Close()

		tr := NewOpenAITransport(Options{ProviderID: "groq", BaseURL: srv.URL + "/v1/"})
		events, err := tr.StreamTurn(context.Background(), TurnRequest{APIKey: "k", Model: "m"})
		require.NoError(t, err)

		out := collect(t, events)
		assert.ErrorIs(t, out.err, ErrRateLimited)
	})
}

// namedEventServer writes SSE records with an event line, the framing the
// Anthropic stream decoder dispatches on.
func namedEventServer(t *testing.T, records [][2]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, rec := range records {
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", rec[0], rec[1])
			flusher.Flush()
		}
	}))
}

func TestAnthropicTransport(t *testing.T) {
	t.Run("should assemble tool input fragments by block index", func(t *testing.T) {
		srv := namedEventServer(t, [][2]string{
			{"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude-3-5-haiku-latest","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":10,"output_tokens":1}}}`},
			{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
			{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`},
			{"content_block_stop", `{"type":"content_block_stop","index":0}`},
			{"ping", `{"type":"ping"}`},
			{"content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"tu_1","name":"list_sales","input":{}}}`},
			{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"day\":"}}`},
			{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"today\"}"}}`},
			{"content_block_stop", `{"type":"content_block_stop","index":1}`},
			{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":12}}`},
			{"message_stop", `{"type":"message_stop"}`},
		})
		defer srv.Close()

		tr := NewAnthropicTransport(Options{ProviderID: "anthropic", BaseURL: srv.URL + "/"})
		events, err := tr.StreamTurn(context.Background(), TurnRequest{APIKey: "sk-ant-test", Model: "claude-3-5-haiku-latest"})
		require.NoError(t, err)

		out := collect(t, events)
		require.NoError(t, out.err)
		require.NotNil(t, out.complete)
		assert.Equal(t, "Hi", out.text())
		assert.Equal(t, "Hi", out.complete.RawText)
		require.Len(t, out.complete.ToolCalls, 1)
		assert.Equal(t, "tu_1", out.complete.ToolCalls[0].ID)
		assert.Equal(t, "list_sales", out.complete.ToolCalls[0].Name)
		assert.JSONEq(t, `{"day":"today"}`, string(out.complete.ToolCalls[0].Arguments))
	})

	t.Run("should classify 429 as rate limited", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"Number of request tokens has exceeded your per-minute rate limit"}}`)
		}))
		defer srv.Close()

		tr := NewAnthropicTransport(Options{ProviderID: "anthropic", BaseURL: srv.URL + "/"})
		events, err := tr.StreamTurn(context.Background(), TurnRequest{APIKey: "k", Model: "m"})
		require.NoError(t, err)

		out := collect(t, events)
		assert.ErrorIs(t, out.err, ErrRateLimited)
		var pe *ProviderError
		require.True(t, errors.As(out.err, &pe))
		assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	})

	t.Run("should time out when headers arrive but the body stays silent", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		tr := NewAnthropicTransport(Options{ProviderID: "anthropic", BaseURL: srv.URL + "/"})
		events, err := tr.StreamTurn(context.Background(), TurnRequest{
			APIKey: "k", Model: "m", StartupTimeout: 50 * time.Millisecond,
		})
		require.NoError(t, err)

		out := collect(t, events)
		assert.ErrorIs(t, out.err, ErrStartupTimeout)
		assert.Nil(t, out.complete)
	})
}

func TestAnthropicParams(t *testing.T) {
	tr := NewAnthropicTransport(Options{ProviderID: "anthropic"})
	params := tr.buildParams(TurnRequest{
		Model:        "claude-3-5-haiku-latest",
		SystemPrompt: "be brief",
		Conversation: []Turn{
			{Role: RoleUser, Content: "sales today?"},
			{Role: RoleModel, Content: "Checking.", ToolCalls: []ToolCall{
				{ID: "tu_1", Name: "list_sales", Arguments: []byte(`{"day":"today"}`)},
				{ID: "tu_2", Name: "get_client", Arguments: []byte(`{"id":`)},
			}},
			{Role: RoleTool, ToolResults: []ToolResult{
				{ToolCallID: "tu_1", Name: "list_sales", Payload: []int{3}},
				{ToolCallID: "tu_2", Name: "get_client", Payload: map[string]string{"error": "bad arguments"}, ErrorKind: "invalid_arguments"},
			}},
		},
		Tools: []ToolSpec{{
			Name:        "list_sales",
			Description: "List sales",
			Parameters:  map[string]interface{}{"type": "object", "properties": map[string]interface{}{"day": map[string]interface{}{"type": "string"}}, "required": []string{"day"}},
		}},
	})

	data, err := json.Marshal(params)
	require.NoError(t, err)
	body := gjson.ParseBytes(data)

	assert.Equal(t, int64(defaultAnthropicMaxTokens), body.Get("max_tokens").Int())
	assert.Equal(t, "be brief", body.Get("system.0.text").String())
	assert.Equal(t, "user", body.Get("messages.0.role").String())
	assert.Equal(t, "assistant", body.Get("messages.1.role").String())
	assert.Equal(t, "Checking.", body.Get("messages.1.content.0.text").String())
	assert.Equal(t, "tool_use", body.Get("messages.1.content.1.type").String())
	assert.Equal(t, "today", body.Get("messages.1.content.1.input.day").String())
	assert.JSONEq(t, `{}`, body.Get("messages.1.content.2.input").Raw)
	assert.Equal(t, "user", body.Get("messages.2.role").String())
	assert.Equal(t, "tool_result", body.Get("messages.2.content.0.type").String())
	assert.Equal(t, "tu_1", body.Get("messages.2.content.0.tool_use_id").String())
	assert.False(t, body.Get("messages.2.content.0.is_error").Bool())
	assert.Equal(t, "tu_2", body.Get("messages.2.content.1.tool_use_id").String())
	assert.True(t, body.Get("messages.2.content.1.is_error").Bool())
	assert.Equal(t, "list_sales", body.Get("tools.0.name").String())
	assert.Equal(t, "day", body.Get("tools.0.input_schema.required.0").String())
}

func TestRecordReader(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		for _, piece := range []string{"da", "ta: {\"a\"", ":1}\n", "\n: keepalive\n\ndata: {\"b\":2}\n\n", "{\"c\":3}\n", "data: {\"d\":4}"} {
			_, _ = io.WriteString(pw, piece)
		}
		pw.Close()
	}()

	dec := newRecordReader(pr)
	var records []string
	for {
		rec, err := dec.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		records = append(records, string(rec))
	}
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`, `{"c":3}`, `{"d":4}`}, records)
}

func TestDeltaAssembler(t *testing.T) {
	asm := newDeltaAssembler()
	asm.add(2, "", "late", "")
	asm.add(0, "id0", "get_", `{"x"`)
	asm.add(0, "", "client", `:1}`)
	asm.add(1, "id1", "", "ignored")

	calls := asm.toolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "get_client", calls[0].Name)
	assert.Equal(t, `{"x":1}`, string(calls[0].Arguments))
	assert.Equal(t, "late", calls[1].Name)
	assert.Equal(t, "{}", string(calls[1].Arguments))
	assert.NotEmpty(t, calls[1].ID)
}

func TestNewProviderError(t *testing.T) {
	err := NewProviderError("gemini", http.StatusForbidden, []byte(`{"error":{"message":"Quota exceeded for metric"}}`))
	assert.ErrorIs(t, err, ErrRateLimited)

	plain := NewProviderError("gemini", http.StatusBadGateway, nil)
	assert.Equal(t, "Bad Gateway", plain.Message)
	assert.NotErrorIs(t, plain, ErrRateLimited)
}
