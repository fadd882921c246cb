package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/storechat/internal/config"
	"github.com/harun/storechat/internal/logger"
	"github.com/harun/storechat/internal/observability"
	"github.com/harun/storechat/internal/tracing"
	"github.com/harun/storechat/pkg/agent"
	"github.com/harun/storechat/pkg/gateway"
	"github.com/harun/storechat/pkg/ledger"
	"github.com/harun/storechat/pkg/storetools"
	"github.com/harun/storechat/pkg/toolexecutor"
	"github.com/harun/storechat/pkg/transport"
)

const loadTimeout = 10 * time.Second

// Daemon assembles the gateway process: quota ledger, provider transports,
// tools, agent loop, orchestrator and HTTP server.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	lifecycle    *LifecycleManager
	ledger       *ledger.Ledger
	scheduler    *ledger.Scheduler
	transports   *transport.Registry
	keys         *gateway.KeyRing
	tools        *toolexecutor.ToolExecutor
	loop         *agent.Loop
	orchestrator *gateway.Orchestrator
	server       *gateway.Server
	buckets      []ledger.Bucket
	traceFile    *os.File

	mu        sync.RWMutex
	running   bool
	startTime time.Time
}

// Status represents daemon status
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Addr      string
}

// New creates a daemon from cfg. Nothing listens until Start.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	d := &Daemon{
		config: cfg,
		logger: log,
	}
	d.lifecycle = NewLifecycleManager(d)

	auditPath := cfg.Logging.AuditFile
	if auditPath == "" {
		auditPath = filepath.Join(cfg.DataDir, "audit.log")
	}
	if err := observability.InitAuditLogger(auditPath); err != nil {
		log.Warn().Err(err).Str("path", auditPath).Msg("Audit log disabled")
	}
	if err := d.initializeTracing(); err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
	}

	if err := d.initializeLedger(); err != nil {
		return nil, err
	}
	if err := d.initializeProviders(); err != nil {
		return nil, err
	}
	if err := d.initializeTools(); err != nil {
		return nil, err
	}
	if err := d.initializeGateway(); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *Daemon) initializeLedger() error {
	cfg := d.config.Ledger
	store, err := ledger.NewStore(cfg.Driver, cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to open ledger store: %w", err)
	}

	d.ledger, err = ledger.New(ledger.Config{
		Store:         store,
		Cooldown:      cfg.Cooldown,
		FlushDebounce: cfg.FlushDebounce,
		Logger:        d.logger.Component("ledger"),
	})
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to create ledger: %w", err)
	}

	if cfg.ResetSchedule != "" {
		d.scheduler, err = ledger.NewScheduler(d.ledger, cfg.ResetSchedule, d.logger.Component("ledger"))
		if err != nil {
			return fmt.Errorf("failed to create ledger scheduler: %w", err)
		}
	}

	d.buckets = BucketsFromConfig(d.config.Quota.Buckets)
	return nil
}

func (d *Daemon) initializeProviders() error {
	d.transports = transport.NewRegistry()
	d.keys = gateway.NewKeyRing()

	for _, p := range d.config.Providers {
		t, err := transport.New(transport.Options{
			ProviderID:  p.ID,
			Kind:        p.Kind,
			BaseURL:     p.BaseURL,
			MaxTokens:   d.config.Agent.MaxTokens,
			Temperature: d.config.Agent.Temperature,
		})
		if err != nil {
			return fmt.Errorf("provider %s: %w", p.ID, err)
		}
		d.transports.Register(t)
		d.keys.Set(p.ID, p.APIKeys, p.Models)

		d.logger.Info().
			Str("provider", p.ID).
			Str("kind", p.Kind).
			Int("keys", len(p.APIKeys)).
			Int("models", len(p.Models)).
			Msg("Provider registered")
	}
	return nil
}

func (d *Daemon) initializeTools() error {
	d.tools = toolexecutor.New(toolexecutor.Config{
		Timeout:        d.config.Tools.Timeout,
		MaxOutputBytes: d.config.Tools.MaxOutputBytes,
		Policies:       PoliciesFromConfig(d.config.Tools.Policies),
	})

	if d.config.Backend.BaseURL == "" {
		d.logger.Warn().Msg("No backend configured, store tools disabled")
		return nil
	}

	backend, err := storetools.NewHTTPBackend(storetools.HTTPConfig{
		BaseURL: d.config.Backend.BaseURL,
		Token:   d.config.Backend.Token,
		Timeout: d.config.Backend.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create store backend: %w", err)
	}
	if err := storetools.Register(d.tools, backend); err != nil {
		return fmt.Errorf("failed to register store tools: %w", err)
	}

	d.logger.Info().Int("tools", len(d.tools.ListTools())).Msg("Store tools registered")
	return nil
}

func (d *Daemon) initializeGateway() error {
	var err error
	d.loop, err = agent.NewLoop(agent.Config{
		Tools:            d.tools,
		MaxRounds:        d.config.Agent.MaxRounds,
		FirstTimeout:     d.config.Agent.FirstTimeout,
		ToolRoundTimeout: d.config.Agent.ToolRoundTimeout,
		Logger:           d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create agent loop: %w", err)
	}

	d.orchestrator, err = gateway.NewOrchestrator(gateway.OrchestratorConfig{
		Transports:   d.transports,
		Loop:         d.loop,
		Quota:        d.ledger,
		Keys:         d.keys,
		Candidates:   CandidatesFromConfig(d.config.Candidates),
		Prompt:       gateway.NewPromptBuilder(d.config.Agent.SystemPrompt),
		FirstTimeout: d.config.Agent.FirstTimeout,
		Logger:       d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	d.server, err = gateway.NewServer(gateway.Config{
		Host:              d.config.Gateway.Host,
		Port:              d.config.Gateway.Port,
		Orchestrator:      d.orchestrator,
		Authenticator:     gateway.NewHeaderAuthenticator(d.config.Gateway.SharedSecret),
		RequestsPerMinute: d.config.Gateway.RequestsPerMinute,
		MaxConcurrent:     d.config.Gateway.MaxConcurrent,
		QuotaSummary: func(ctx context.Context) (map[string]ledger.BucketSummary, error) {
			return d.ledger.Summary(d.buckets), nil
		},
		ShutdownTimeout: d.config.Gateway.ShutdownTimeout,
		Logger:          d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	return nil
}

// Start loads the ledger and starts serving.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting storechat daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	if err := d.ledger.Load(ctx); err != nil {
		d.setStopped()
		_ = d.lifecycle.Stop()
		return fmt.Errorf("failed to load quota ledger: %w", err)
	}
	logger.Info().Str("path", d.config.Ledger.Path).Msg("Quota ledger loaded")

	if d.scheduler != nil {
		d.scheduler.Start()
		logger.Info().Str("schedule", d.config.Ledger.ResetSchedule).Msg("Ledger reset scheduler started")
	}

	if err := d.server.Start(); err != nil {
		d.setStopped()
		if d.scheduler != nil {
			d.scheduler.Stop()
		}
		_ = d.lifecycle.Stop()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}

	logger.Info().Str("addr", d.server.Addr()).Msg("Storechat daemon started")
	return nil
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop drains in-flight chats, then flushes the ledger.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping storechat daemon")

	timeout := d.config.Gateway.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout+loadTimeout)
	defer cancel()

	if err := d.server.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop gateway server")
	}

	if d.scheduler != nil {
		d.scheduler.Stop()
		logger.Info().Msg("Ledger reset scheduler stopped")
	}

	if err := d.ledger.Close(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to flush quota ledger")
	}

	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to shut down tracing")
	}
	if d.traceFile != nil {
		_ = d.traceFile.Close()
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	logger.Info().Msg("Storechat daemon stopped")
	return nil
}

// Status returns daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{Running: d.running}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.Addr = d.server.Addr()
	}
	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// WatchConfig reloads provider key lists and gateway rate limits when the
// config file changes. Other settings take effect on restart.
func (d *Daemon) WatchConfig(loader *config.Loader) error {
	return loader.Watch(d.ApplyConfig)
}

// initializeTracing installs the tracer provider with the configured span
// exporter. trace_file redirects the stdout exporter to a file.
func (d *Daemon) initializeTracing() error {
	var w io.Writer
	if d.config.Logging.Trace == tracing.ExporterStdout && d.config.Logging.TraceFile != "" {
		if err := os.MkdirAll(filepath.Dir(d.config.Logging.TraceFile), 0755); err != nil {
			return fmt.Errorf("failed to create trace directory: %w", err)
		}
		f, err := os.OpenFile(d.config.Logging.TraceFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("failed to open trace file: %w", err)
		}
		d.traceFile = f
		w = f
	}

	exporter, err := tracing.NewExporter(d.config.Logging.Trace, w, d.logger.GetZerolog())
	if err != nil {
		return err
	}
	return tracing.InitOpenTelemetry("storechat", exporter)
}

// ApplyConfig applies the reloadable parts of cfg.
func (d *Daemon) ApplyConfig(cfg *config.Config) {
	d.ApplyKeys(cfg)
	d.server.UpdateLimits(cfg.Gateway.RequestsPerMinute, cfg.Gateway.MaxConcurrent)
}

// ApplyKeys replaces the key and model lists of providers already
// registered. Providers added to the file need a restart.
func (d *Daemon) ApplyKeys(cfg *config.Config) {
	for _, p := range cfg.Providers {
		if _, ok := d.transports.Get(p.ID); !ok {
			d.logger.Warn().Str("provider", p.ID).Msg("New provider ignored until restart")
			continue
		}
		d.keys.Set(p.ID, p.APIKeys, p.Models)
		d.logger.Info().Str("provider", p.ID).Int("keys", len(p.APIKeys)).Msg("Provider keys reloaded")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLedger returns the quota ledger
func (d *Daemon) GetLedger() *ledger.Ledger {
	return d.ledger
}

// GetKeyRing returns the provider key ring
func (d *Daemon) GetKeyRing() *gateway.KeyRing {
	return d.keys
}

// GetToolExecutor returns the tool executor
func (d *Daemon) GetToolExecutor() *toolexecutor.ToolExecutor {
	return d.tools
}

// GetGatewayServer returns the gateway server
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.server
}

// CandidatesFromConfig converts the configured candidate list.
func CandidatesFromConfig(list []config.CandidateConfig) []gateway.Candidate {
	out := make([]gateway.Candidate, 0, len(list))
	for _, c := range list {
		out = append(out, gateway.Candidate{Provider: c.Provider, Model: c.Model, Priority: c.Priority})
	}
	return out
}

// PoliciesFromConfig converts per-role tool policies.
func PoliciesFromConfig(policies map[string]config.ToolPolicyConfig) map[string]*toolexecutor.ToolPolicy {
	if len(policies) == 0 {
		return nil
	}
	out := make(map[string]*toolexecutor.ToolPolicy, len(policies))
	for role, p := range policies {
		out[role] = &toolexecutor.ToolPolicy{Allow: p.Allow, Deny: p.Deny}
	}
	return out
}

// BucketsFromConfig converts the quota summary buckets.
func BucketsFromConfig(list []config.BucketConfig) []ledger.Bucket {
	out := make([]ledger.Bucket, 0, len(list))
	for _, b := range list {
		out = append(out, ledger.Bucket{
			Name:          b.Name,
			Patterns:      b.Patterns,
			Limit:         b.Limit,
			LimitPerModel: b.LimitPerModel,
		})
	}
	return out
}
