package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/storechat/internal/observability"
	"github.com/harun/storechat/internal/tracing"
	"github.com/harun/storechat/pkg/ledger"
	"github.com/harun/storechat/pkg/transport"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const (
	maxRequestBytes        = 1 << 20
	defaultShutdownTimeout = 30 * time.Second
)

// QuotaSummaryFunc reports per-bucket usage for the quota endpoint.
type QuotaSummaryFunc func(ctx context.Context) (map[string]ledger.BucketSummary, error)

// Server is the HTTP surface of the gateway
type Server struct {
	host            string
	port            int
	server          *http.Server
	listener        net.Listener
	upgrader        websocket.Upgrader
	orchestrator    *Orchestrator
	auth            Authenticator
	limiter         *ClientRateLimiter
	quotaSummary    QuotaSummaryFunc
	shutdownTimeout time.Duration
	logger          zerolog.Logger
	isShuttingDown  bool
	shutdownMu      sync.RWMutex
	inFlightReqs    sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host              string
	Port              int
	Orchestrator      *Orchestrator
	Authenticator     Authenticator
	RequestsPerMinute int
	MaxConcurrent     int
	QuotaSummary      QuotaSummaryFunc
	ShutdownTimeout   time.Duration
	Logger            zerolog.Logger
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	observability.EnsureRegistered()

	if cfg.Port < 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if cfg.Authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}

	return &Server{
		host:            cfg.Host,
		port:            cfg.Port,
		orchestrator:    cfg.Orchestrator,
		auth:            cfg.Authenticator,
		limiter:         NewClientRateLimiterWithLimits(cfg.RequestsPerMinute, cfg.MaxConcurrent),
		quotaSummary:    cfg.QuotaSummary,
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          cfg.Logger.With().Str("component", "server").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// UpdateLimits swaps the per-identity limits. Requests in flight keep their
// slots.
func (s *Server) UpdateLimits(requestsPerMinute, maxConcurrent int) {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	s.limiter.UpdateLimits(requestsPerMinute, maxConcurrent)
	s.logger.Info().
		Int("requests_per_minute", requestsPerMinute).
		Int("max_concurrent", maxConcurrent).
		Msg("Rate limits updated")
}

// Limits returns the current per-identity limits.
func (s *Server) Limits() (requestsPerMinute, maxConcurrent int) {
	return s.limiter.Limits()
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat", s.handleChat)
	mux.HandleFunc("/v1/chat/ws", s.handleWebSocket)
	mux.HandleFunc("/v1/quota", s.handleQuota)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop refuses new chats, waits for in-flight chats and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight chats completed")
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown context ended, forcing close")
	}

	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

// admit authenticates and rate limits a request. On success the returned
// release func must be called when the request ends.
func (s *Server) admit(w http.ResponseWriter, r *http.Request) (Identity, func(), bool) {
	s.shutdownMu.RLock()
	shuttingDown := s.isShuttingDown
	if !shuttingDown {
		s.inFlightReqs.Add(1)
	}
	s.shutdownMu.RUnlock()
	if shuttingDown {
		writeChatError(w, &ChatError{Status: http.StatusServiceUnavailable, Code: CodeShuttingDown, Message: "server is shutting down"})
		return Identity{}, nil, false
	}

	id, err := s.auth.Authenticate(r)
	if err != nil {
		s.inFlightReqs.Done()
		observability.RecordSecurityAudit(r.Context(), "authenticate", r.Header.Get(HeaderUserName), "denied", map[string]interface{}{
			"remote_addr": r.RemoteAddr,
			"path":        r.URL.Path,
		})
		writeChatError(w, &ChatError{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Message: err.Error()})
		return Identity{}, nil, false
	}

	key := identityKey(id, r)
	allowed, reason := s.limiter.Acquire(key)
	if !allowed {
		s.inFlightReqs.Done()
		writeChatError(w, &ChatError{Status: http.StatusTooManyRequests, Code: CodeRateLimited, Message: reason})
		return Identity{}, nil, false
	}

	release := func() {
		s.limiter.Release(key)
		s.inFlightReqs.Done()
	}
	return id, release, true
}

func (s *Server) requestContext(r *http.Request, id Identity) (context.Context, string) {
	requestID, err := gonanoid.New()
	if err != nil {
		requestID = tracing.NewTraceID()
	}
	ctx := r.Context()
	if traceID := r.Header.Get("X-Trace-Id"); traceID != "" {
		ctx = tracing.WithTraceID(ctx, traceID)
	}
	ctx = tracing.NewRequestContext(ctx, requestID)
	ctx = tracing.WithUser(ctx, id.Name)
	return withIdentity(ctx, id), requestID
}

// handleChat serves the chunked plain-text chat endpoint.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, release, ok := s.admit(w, r)
	if !ok {
		return
	}
	defer release()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeChatError(w, &ChatError{Status: http.StatusBadRequest, Code: CodeInvalidInput, Message: "failed to read request body"})
		return
	}
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeChatError(w, &ChatError{Status: http.StatusBadRequest, Code: CodeInvalidInput, Message: "invalid JSON body"})
		return
	}
	req.Identity = id

	ctx, requestID := s.requestContext(r, id)
	stream := newHTTPStream(w)
	err = s.serveChat(ctx, "http", req, stream)

	var chatErr *ChatError
	if errors.As(err, &chatErr) && !stream.started {
		w.Header().Set(HeaderRequestID, requestID)
		writeChatError(w, chatErr)
	}
}

// handleWebSocket serves the WebSocket chat variant. The first client frame
// is the chat request; closing the socket cancels the chat.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id, release, ok := s.admit(w, r)
	if !ok {
		return
	}
	defer release()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxRequestBytes)
	var req ChatRequest
	if err := conn.ReadJSON(&req); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to read chat frame")
		return
	}
	req.Identity = id

	ctx, requestID := s.requestContext(r, id)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A read error means the client closed the socket.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	stream := newWSStream(conn, requestID)
	err = s.serveChat(ctx, "websocket", req, stream)

	var chatErr *ChatError
	if errors.As(err, &chatErr) {
		if err := stream.fail(chatErr); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to send error frame")
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait))
}

// serveChat runs one orchestration with metrics, audit and logging.
func (s *Server) serveChat(ctx context.Context, channel string, req ChatRequest, starter ResponseStarter) error {
	observability.ChatStarted()
	defer observability.ChatFinished()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("channel", channel).
		Str("selected_provider", req.SelectedProvider).
		Str("selected_model", req.SelectedModel).
		Int("history", len(req.History)).
		Msg("Chat request received")

	started := time.Now()
	err := s.orchestrator.Chat(ctx, req, starter)

	outcome := "success"
	var chatErr *ChatError
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrCancelled):
		outcome = "cancelled"
	case errors.As(err, &chatErr):
		outcome = chatErr.Code
	default:
		outcome = "error"
	}

	observability.RecordChat(channel, outcome, time.Since(started))
	observability.RecordChatAudit(ctx, req.Identity.Name, outcome, map[string]interface{}{
		"channel":  channel,
		"role":     req.Identity.Role,
		"duration": time.Since(started).String(),
	})
	logger.Info().Str("outcome", outcome).Dur("duration", time.Since(started)).Msg("Chat request finished")
	return err
}

// handleQuota reports today's usage per provider bucket.
func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.auth.Authenticate(r); err != nil {
		writeChatError(w, &ChatError{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Message: err.Error()})
		return
	}
	if s.quotaSummary == nil {
		http.Error(w, "quota summary unavailable", http.StatusNotFound)
		return
	}

	summary, err := s.quotaSummary(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build quota summary")
		http.Error(w, "failed to build quota summary", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode quota summary")
	}
}

func writeChatError(w http.ResponseWriter, chatErr *ChatError) {
	status := chatErr.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(chatErr)
}
