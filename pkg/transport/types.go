package transport

import (
	"context"
	"encoding/json"
	"time"
)

// Turn roles. A conversation never starts with a model turn.
const (
	RoleUser  = "user"
	RoleModel = "model"
	RoleTool  = "tool"
)

// Turn is one unit of conversation fed back into later provider requests.
type Turn struct {
	Role        string       `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolCall is a model-requested tool invocation. Arguments hold the raw JSON text
// as assembled from the wire; it is not guaranteed to be valid.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of one ToolCall. ErrorKind is empty on success.
type ToolResult struct {
	ToolCallID string      `json:"tool_call_id"`
	Name       string      `json:"name"`
	Payload    interface{} `json:"payload,omitempty"`
	ErrorKind  string      `json:"error_kind,omitempty"`
	Truncated  bool        `json:"truncated,omitempty"`
}

// ToolSpec declares a tool to the provider. Parameters is a JSON Schema object.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// TurnRequest carries everything a transport needs for one provider round.
type TurnRequest struct {
	APIKey       string
	Model        string
	SystemPrompt string
	Conversation []Turn
	Tools        []ToolSpec

	// StartupTimeout aborts the round when no response byte arrived within the
	// budget. Zero disables the watchdog.
	StartupTimeout time.Duration
}

// TurnComplete closes a successful round.
type TurnComplete struct {
	RawText   string
	ToolCalls []ToolCall
}

// Event is one element of a streamed round. Exactly one of TextDelta, Complete
// or Err is meaningful; Complete and Err are always the last event.
type Event struct {
	TextDelta string
	ToolCalls []ToolCall
	Complete  *TurnComplete
	Err       error
}

// Transport translates one round into a provider wire protocol and yields
// uniform events.
type Transport interface {
	// Provider returns the provider id this transport serves.
	Provider() string

	// StreamTurn starts the round. The returned channel is closed after the
	// final event. A closed channel without Complete or Err means the round
	// was abandoned because ctx ended.
	StreamTurn(ctx context.Context, req TurnRequest) (<-chan Event, error)
}

// ArgumentsObject returns the call arguments as a JSON object, falling back to
// an empty object when the raw text is missing or malformed.
func (c ToolCall) ArgumentsObject() json.RawMessage {
	if len(c.Arguments) == 0 || !json.Valid(c.Arguments) {
		return json.RawMessage(`{}`)
	}
	return c.Arguments
}

// ResultContent renders a tool result as the JSON text handed back to the model.
func (r ToolResult) ResultContent() string {
	data, err := json.Marshal(r.Payload)
	if err != nil {
		return `{"error":"unserializable tool result"}`
	}
	return string(data)
}
