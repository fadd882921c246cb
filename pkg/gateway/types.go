package gateway

import (
	"fmt"
	"strings"

	"github.com/harun/storechat/pkg/transport"
)

// HistoryTurn is one prior message sent by the client.
type HistoryTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Identity is the authenticated end user.
type Identity struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// ChatRequest is the inbound chat payload.
type ChatRequest struct {
	Message          string        `json:"message"`
	History          []HistoryTurn `json:"history,omitempty"`
	SelectedModel    string        `json:"selectedModel,omitempty"`
	SelectedProvider string        `json:"selectedProvider,omitempty"`

	Identity Identity `json:"-"`
}

// Validate checks the request before any provider is contacted.
func (r ChatRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("message is required")
	}
	if r.SelectedProvider != "" && r.SelectedModel == "" {
		return fmt.Errorf("selectedModel is required when selectedProvider is set")
	}
	return nil
}

// Conversation converts history plus the new message into transport turns.
// Leading model turns are dropped since a conversation must open with the user.
func (r ChatRequest) Conversation() []transport.Turn {
	turns := make([]transport.Turn, 0, len(r.History)+1)
	for _, h := range r.History {
		if strings.TrimSpace(h.Content) == "" {
			continue
		}
		role := transport.RoleUser
		switch strings.ToLower(h.Role) {
		case "assistant", "model", "bot":
			role = transport.RoleModel
		}
		if role == transport.RoleModel && len(turns) == 0 {
			continue
		}
		turns = append(turns, transport.Turn{Role: role, Content: h.Content})
	}
	return append(turns, transport.Turn{Role: transport.RoleUser, Content: r.Message})
}

// ResponseMeta is announced when the client response starts.
type ResponseMeta struct {
	RequestID string `json:"requestId,omitempty"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
}

// ResponseStarter opens the client response. Start is called at most once per
// chat, right before the first byte is delivered.
type ResponseStarter interface {
	Start(meta ResponseMeta) (ResponseStream, error)
}

// ResponseStream is an open client response.
type ResponseStream interface {
	Write(text string) error
	// Notice appends a visible in-band failure notice.
	Notice(message string) error
	Close() error
}

// AttemptFailure describes one failed attempt in a ChatError.
type AttemptFailure struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	KeyID    string `json:"keyId,omitempty"`
	Reason   string `json:"reason"`
}

// Error codes reported in ChatError.
const (
	CodeNoCandidates = "no_candidates"
	CodeAllFailed    = "all_candidates_failed"
	CodeInvalidInput = "invalid_request"
	CodeUnauthorized = "unauthorized"
	CodeRateLimited  = "rate_limited"
	CodeShuttingDown = "shutting_down"
)

// ChatError is returned when a chat failed before any byte reached the client.
type ChatError struct {
	Status   int              `json:"-"`
	Message  string           `json:"error"`
	Code     string           `json:"code"`
	Attempts []AttemptFailure `json:"attempts,omitempty"`
}

// Error implements the error interface
func (e *ChatError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// wsFrame is one server-to-client WebSocket message.
type wsFrame struct {
	Type     string           `json:"type"`
	Text     string           `json:"text,omitempty"`
	Provider string           `json:"provider,omitempty"`
	Model    string           `json:"model,omitempty"`
	ID       string           `json:"id,omitempty"`
	Code     string           `json:"code,omitempty"`
	Attempts []AttemptFailure `json:"attempts,omitempty"`
}
