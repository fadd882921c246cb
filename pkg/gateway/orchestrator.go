package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/harun/storechat/internal/observability"
	"github.com/harun/storechat/internal/tracing"
	"github.com/harun/storechat/pkg/agent"
	"github.com/harun/storechat/pkg/ledger"
	"github.com/harun/storechat/pkg/toolexecutor"
	"github.com/harun/storechat/pkg/transport"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Attempt outcomes recorded in metrics.
const (
	outcomeSuccess     = "success"
	outcomeRateLimited = "rate_limited"
	outcomeTimeout     = "startup_timeout"
	outcomeCancelled   = "cancelled"
	outcomeError       = "error"
)

// Orchestrator picks a (provider, model, key) for each chat and fails over
// until one attempt succeeds.
type Orchestrator struct {
	transports   *transport.Registry
	loop         *agent.Loop
	quota        ledger.Quota
	keys         *KeyRing
	candidates   []Candidate
	prompt       PromptBuilder
	firstTimeout time.Duration
	now          func() time.Time
	logger       zerolog.Logger
}

// OrchestratorConfig holds orchestrator dependencies
type OrchestratorConfig struct {
	Transports   *transport.Registry
	Loop         *agent.Loop
	Quota        ledger.Quota
	Keys         *KeyRing
	Candidates   []Candidate
	Prompt       PromptBuilder
	FirstTimeout time.Duration
	Logger       zerolog.Logger
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	observability.EnsureRegistered()

	if cfg.Transports == nil {
		return nil, fmt.Errorf("transport registry is required")
	}
	if cfg.Loop == nil {
		return nil, fmt.Errorf("agent loop is required")
	}
	if cfg.Quota == nil {
		return nil, fmt.Errorf("quota ledger is required")
	}
	if cfg.Keys == nil {
		return nil, fmt.Errorf("key ring is required")
	}
	if cfg.Prompt == nil {
		cfg.Prompt = NewPromptBuilder("")
	}
	if cfg.FirstTimeout <= 0 {
		cfg.FirstTimeout = agent.DefaultFirstTimeout
	}

	return &Orchestrator{
		transports:   cfg.Transports,
		loop:         cfg.Loop,
		quota:        cfg.Quota,
		keys:         cfg.Keys,
		candidates:   append([]Candidate(nil), cfg.Candidates...),
		prompt:       cfg.Prompt,
		firstTimeout: cfg.FirstTimeout,
		now:          time.Now,
		logger:       cfg.Logger.With().Str("component", "gateway").Logger(),
	}, nil
}

// chatState tracks whether the client response has started and whether any
// attempt got through a tool round. It is shared by every attempt of one chat.
type chatState struct {
	starter   ResponseStarter
	stream    ResponseStream
	toolRound bool
}

// firstTimeout is the start-up budget for the next attempt's first round.
// Once any attempt finished a tool round, later attempts get the long budget.
func (c *chatState) firstTimeout(short, long time.Duration) time.Duration {
	if c.toolRound {
		return long
	}
	return short
}

func (c *chatState) started() bool {
	return c.stream != nil
}

// attemptSink adapts the shared response to one attempt. The response is
// started lazily with this attempt's metadata.
type attemptSink struct {
	state *chatState
	meta  ResponseMeta
}

func (s *attemptSink) open() error {
	if s.state.stream != nil {
		return nil
	}
	stream, err := s.state.starter.Start(s.meta)
	if err != nil {
		return err
	}
	s.state.stream = stream
	return nil
}

func (s *attemptSink) Write(text string) error {
	if err := s.open(); err != nil {
		return err
	}
	return s.state.stream.Write(text)
}

func (s *attemptSink) Close() error {
	if err := s.open(); err != nil {
		return err
	}
	return s.state.stream.Close()
}

// Chat serves one request. It returns nil once a response was delivered,
// including a response that ended with an in-band notice. A *ChatError means
// nothing reached the client. transport.ErrCancelled means the client left.
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest, starter ResponseStarter) error {
	if err := req.Validate(); err != nil {
		return &ChatError{Status: http.StatusBadRequest, Code: CodeInvalidInput, Message: err.Error()}
	}

	ctx = toolexecutor.ContextWithCaller(ctx, toolexecutor.Caller{Name: req.Identity.Name, Role: req.Identity.Role})
	ctx, span := tracing.StartSpan(ctx, "storechat.gateway", "gateway.chat",
		attribute.String("selected_provider", req.SelectedProvider),
		attribute.String("selected_model", req.SelectedModel),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, o.logger)

	candidates := rankCandidates(o.candidates, req.SelectedProvider, req.SelectedModel, o.keys)
	if len(candidates) == 0 {
		span.SetStatus(codes.Error, CodeNoCandidates)
		return &ChatError{Status: http.StatusInternalServerError, Code: CodeNoCandidates, Message: "no provider candidates configured"}
	}

	state := &chatState{starter: starter}
	systemPrompt := o.prompt(req.Identity, o.now())
	conversation := req.Conversation()
	var failures []AttemptFailure

	for _, cand := range candidates {
		tr, ok := o.transports.Get(cand.Provider)
		if !ok {
			logger.Debug().Str("provider", cand.Provider).Msg("Skipping candidate without transport")
			continue
		}
		keys := o.keys.Keys(cand.Provider)
		if len(keys) == 0 {
			logger.Debug().Str("provider", cand.Provider).Msg("Skipping candidate without keys")
			continue
		}

		start := o.quota.Cursor(cand.Provider) % len(keys)
		for i := 0; i < len(keys); i++ {
			idx := (start + i) % len(keys)
			keyID := ledger.KeyID(keys[idx])
			if !o.quota.IsEligible(keyID, cand.Model) {
				logger.Debug().
					Str("provider", cand.Provider).
					Str("model", cand.Model).
					Str("key_id", keyID).
					Msg("Skipping key in cooldown")
				continue
			}

			attemptCtx := tracing.NewAttemptContext(ctx)
			attemptLogger := tracing.LoggerFromContext(attemptCtx, o.logger).With().
				Str("provider", cand.Provider).
				Str("model", cand.Model).
				Str("key_id", keyID).
				Logger()

			started := time.Now()
			_, err := o.loop.Run(attemptCtx, agent.Attempt{
				Transport:    tr,
				APIKey:       keys[idx],
				Model:        cand.Model,
				SystemPrompt: systemPrompt,
				Conversation: conversation,
				FirstTimeout: state.firstTimeout(o.firstTimeout, o.loop.ToolRoundTimeout()),
				OnToolRound:  func() { state.toolRound = true },
			}, &attemptSink{
				state: state,
				meta:  ResponseMeta{RequestID: tracing.GetRequestID(ctx), Provider: cand.Provider, Model: cand.Model},
			})

			if err == nil {
				observability.RecordAttempt(cand.Provider, cand.Model, outcomeSuccess, time.Since(started))
				o.quota.RecordSuccess(keyID, cand.Model)
				o.quota.AdvanceCursor(cand.Provider, idx, len(keys))
				attemptLogger.Info().Dur("duration", time.Since(started)).Msg("Chat attempt succeeded")
				span.SetAttributes(attribute.String("provider", cand.Provider), attribute.String("model", cand.Model))
				return nil
			}

			if ctx.Err() != nil || errors.Is(err, transport.ErrCancelled) {
				observability.RecordAttempt(cand.Provider, cand.Model, outcomeCancelled, time.Since(started))
				attemptLogger.Info().Msg("Client went away, aborting chat")
				span.SetStatus(codes.Error, outcomeCancelled)
				return transport.ErrCancelled
			}

			outcome := o.classify(err, keyID, cand.Model)
			observability.RecordAttempt(cand.Provider, cand.Model, outcome, time.Since(started))
			attemptLogger.Warn().Err(err).Str("outcome", outcome).Msg("Chat attempt failed")
			span.RecordError(err)

			if state.started() {
				return o.interrupt(state, err, logger)
			}

			failures = append(failures, AttemptFailure{
				Provider: cand.Provider,
				Model:    cand.Model,
				KeyID:    keyID,
				Reason:   outcome,
			})
		}
	}

	span.SetStatus(codes.Error, CodeAllFailed)
	logger.Error().Int("attempts", len(failures)).Msg("All chat candidates failed")
	return &ChatError{
		Status:   http.StatusServiceUnavailable,
		Code:     CodeAllFailed,
		Message:  "all providers are unavailable, please try again later",
		Attempts: failures,
	}
}

// classify applies the ledger side effects of a failed attempt and returns the
// metrics outcome.
func (o *Orchestrator) classify(err error, keyID, model string) string {
	switch {
	case errors.Is(err, transport.ErrRateLimited):
		o.quota.MarkExhausted(keyID, model)
		return outcomeRateLimited
	case errors.Is(err, transport.ErrStartupTimeout):
		o.quota.MarkExhausted(keyID, model)
		return outcomeTimeout
	default:
		return outcomeError
	}
}

// interrupt ends a response that already reached the client. Failover is no
// longer possible, so a notice is appended and the stream is closed.
func (o *Orchestrator) interrupt(state *chatState, cause error, logger zerolog.Logger) error {
	if err := state.stream.Notice(noticeFor(cause)); err != nil {
		logger.Warn().Err(err).Msg("Failed to write interruption notice")
	}
	if err := state.stream.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close interrupted response")
	}
	return nil
}

func noticeFor(err error) string {
	switch {
	case errors.Is(err, transport.ErrRateLimited):
		return "The response was interrupted: the provider quota was exhausted. Please retry."
	case errors.Is(err, transport.ErrStartupTimeout):
		return "The response was interrupted: the provider stopped responding. Please retry."
	default:
		return "The response was interrupted by a provider error. Please retry."
	}
}
