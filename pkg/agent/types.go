package agent

import (
	"context"
	"time"

	"github.com/harun/storechat/pkg/transport"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxRounds bounds tool round trips per attempt.
	DefaultMaxRounds = 5
	// DefaultFirstTimeout is the start-up budget of an attempt's first round.
	DefaultFirstTimeout = 15 * time.Second
	// DefaultToolRoundTimeout is the start-up budget of rounds that follow a
	// tool execution. Providers take longer to answer with large tool payloads.
	DefaultToolRoundTimeout = 30 * time.Second
)

// ToolRunner exposes the tool set to the loop.
type ToolRunner interface {
	Specs(ctx context.Context) []transport.ToolSpec
	ExecuteAll(ctx context.Context, calls []transport.ToolCall) []transport.ToolResult
}

// Sink receives client-visible text. The client response starts on the first
// Write, so an attempt that fails before any text leaves no trace.
type Sink interface {
	Write(text string) error
	// Close finishes a successful response, starting it if nothing was
	// written yet.
	Close() error
}

// Config holds loop configuration
type Config struct {
	// Tools may be nil, in which case no tools are declared.
	Tools            ToolRunner
	MaxRounds        int
	FirstTimeout     time.Duration
	ToolRoundTimeout time.Duration
	Logger           zerolog.Logger
}

// Attempt is one (provider, model, key) try.
type Attempt struct {
	Transport    transport.Transport
	APIKey       string
	Model        string
	SystemPrompt string
	Conversation []transport.Turn

	// FirstTimeout overrides Config.FirstTimeout when set.
	FirstTimeout time.Duration
	// OnToolRound, when set, is called after each executed tool round.
	OnToolRound func()
}

// Result describes a finished attempt.
type Result struct {
	// Text is the raw output of the last round.
	Text           string
	Rounds         int
	ToolRoundTrips int
	// Conversation is the input conversation plus every model and tool turn
	// produced by tool rounds.
	Conversation []transport.Turn
}
