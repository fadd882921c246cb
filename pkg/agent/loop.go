package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/storechat/internal/observability"
	"github.com/harun/storechat/internal/tracing"
	"github.com/harun/storechat/pkg/dedup"
	"github.com/harun/storechat/pkg/transport"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Loop runs provider rounds until the model answers without tool calls.
type Loop struct {
	tools            ToolRunner
	maxRounds        int
	firstTimeout     time.Duration
	toolRoundTimeout time.Duration
	logger           zerolog.Logger
}

// NewLoop creates a new agent loop
func NewLoop(cfg Config) (*Loop, error) {
	observability.EnsureRegistered()

	if cfg.MaxRounds < 0 {
		return nil, fmt.Errorf("max rounds must not be negative")
	}
	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.FirstTimeout <= 0 {
		cfg.FirstTimeout = DefaultFirstTimeout
	}
	if cfg.ToolRoundTimeout <= 0 {
		cfg.ToolRoundTimeout = DefaultToolRoundTimeout
	}

	return &Loop{
		tools:            cfg.Tools,
		maxRounds:        cfg.MaxRounds,
		firstTimeout:     cfg.FirstTimeout,
		toolRoundTimeout: cfg.ToolRoundTimeout,
		logger:           cfg.Logger.With().Str("component", "agent").Logger(),
	}, nil
}

// ToolRoundTimeout is the start-up budget used after a tool round.
func (l *Loop) ToolRoundTimeout() time.Duration {
	return l.toolRoundTimeout
}

// Run executes one attempt, streaming client-visible text into sink.
// Transport failures are returned as-is.
func (l *Loop) Run(ctx context.Context, att Attempt, sink Sink) (*Result, error) {
	if att.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	ctx, span := tracing.StartSpan(ctx, "storechat.agent", "agent.run",
		attribute.String("provider", att.Transport.Provider()),
		attribute.String("model", att.Model),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, l.logger)

	var tools []transport.ToolSpec
	if l.tools != nil {
		tools = l.tools.Specs(ctx)
	}

	timeout := l.firstTimeout
	if att.FirstTimeout > 0 {
		timeout = att.FirstTimeout
	}

	conversation := append([]transport.Turn(nil), att.Conversation...)
	result := &Result{}
	previous := ""

	for {
		result.Rounds++
		complete, err := l.round(ctx, att, conversation, tools, timeout, previous, sink)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		result.Text = complete.RawText

		if len(complete.ToolCalls) == 0 || l.tools == nil {
			break
		}
		if result.ToolRoundTrips >= l.maxRounds {
			logger.Warn().
				Int("rounds", result.Rounds).
				Int("pending_calls", len(complete.ToolCalls)).
				Msg("Tool round limit reached, finishing with current output")
			break
		}

		conversation = append(conversation, transport.Turn{
			Role:      transport.RoleModel,
			Content:   complete.RawText,
			ToolCalls: complete.ToolCalls,
		})
		results := l.tools.ExecuteAll(ctx, complete.ToolCalls)
		conversation = append(conversation, transport.Turn{
			Role:        transport.RoleTool,
			ToolResults: results,
		})
		result.ToolRoundTrips++
		if att.OnToolRound != nil {
			att.OnToolRound()
		}

		logger.Debug().
			Int("round", result.Rounds).
			Int("tool_calls", len(complete.ToolCalls)).
			Msg("Tool round finished")

		if ctx.Err() != nil {
			return nil, transport.ErrCancelled
		}

		previous = complete.RawText
		timeout = l.toolRoundTimeout
	}

	result.Conversation = conversation
	observability.RecordAgentRounds(result.Rounds)
	span.SetAttributes(
		attribute.Int("rounds", result.Rounds),
		attribute.Int("tool_round_trips", result.ToolRoundTrips),
	)

	if err := sink.Close(); err != nil {
		return nil, fmt.Errorf("failed to close response: %w", err)
	}
	return result, nil
}

// round streams one provider round. Text deltas pass through a filter seeded
// with the previous round's raw text so restated preambles are not repeated.
func (l *Loop) round(
	ctx context.Context,
	att Attempt,
	conversation []transport.Turn,
	tools []transport.ToolSpec,
	timeout time.Duration,
	previous string,
	sink Sink,
) (*transport.TurnComplete, error) {
	events, err := att.Transport.StreamTurn(ctx, transport.TurnRequest{
		APIKey:         att.APIKey,
		Model:          att.Model,
		SystemPrompt:   att.SystemPrompt,
		Conversation:   conversation,
		Tools:          tools,
		StartupTimeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	filter := dedup.NewFilter(previous)
	for ev := range events {
		switch {
		case ev.Err != nil:
			drain(events)
			return nil, ev.Err
		case ev.Complete != nil:
			drain(events)
			return ev.Complete, nil
		case ev.TextDelta != "":
			text := filter.Apply(ev.TextDelta)
			if text == "" {
				continue
			}
			if err := sink.Write(text); err != nil {
				drain(events)
				return nil, fmt.Errorf("failed to write response: %w", err)
			}
		}
	}

	// Closed without a final event: the context ended.
	return nil, transport.ErrCancelled
}

// drain lets the producer goroutine finish after the consumer stopped reading.
func drain(events <-chan transport.Event) {
	go func() {
		for range events {
		}
	}()
}
