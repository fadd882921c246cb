package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	chatRequestsTotal *prometheus.CounterVec
	chatDuration      *prometheus.HistogramVec
	activeChats       prometheus.Gauge

	attemptTotal     *prometheus.CounterVec
	attemptDuration  *prometheus.HistogramVec
	exhaustionsTotal *prometheus.CounterVec
	agentRounds      prometheus.Histogram

	ledgerFlushTotal    *prometheus.CounterVec
	ledgerFlushDuration prometheus.Histogram

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			chatRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "storechat_chat_requests_total",
					Help: "Total chat requests by channel and outcome.",
				},
				[]string{"channel", "outcome"},
			),
			chatDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "storechat_chat_duration_seconds",
					Help:    "End-to-end chat duration in seconds by channel.",
					Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
				},
				[]string{"channel"},
			),
			activeChats: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "storechat_active_chats",
					Help: "Chats currently being streamed.",
				},
			),
			attemptTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "storechat_provider_attempts_total",
					Help: "Total provider attempts by provider, model and outcome.",
				},
				[]string{"provider", "model", "outcome"},
			),
			attemptDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "storechat_provider_attempt_duration_seconds",
					Help:    "Provider attempt duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			exhaustionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "storechat_key_exhaustions_total",
					Help: "Total key exhaustion marks by model.",
				},
				[]string{"model"},
			),
			agentRounds: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "storechat_agent_rounds",
					Help:    "Rounds used by successful agent loops.",
					Buckets: []float64{1, 2, 3, 4, 5},
				},
			),
			ledgerFlushTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "storechat_ledger_flush_total",
					Help: "Total ledger persists by status.",
				},
				[]string{"status"},
			),
			ledgerFlushDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "storechat_ledger_flush_duration_seconds",
					Help:    "Ledger persist duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "storechat_tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "storechat_tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "storechat_tool_errors_total",
					Help: "Total tool execution errors by tool and kind.",
				},
				[]string{"tool", "kind"},
			),
		}

		prometheus.MustRegister(
			m.chatRequestsTotal,
			m.chatDuration,
			m.activeChats,
			m.attemptTotal,
			m.attemptDuration,
			m.exhaustionsTotal,
			m.agentRounds,
			m.ledgerFlushTotal,
			m.ledgerFlushDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordChat(channel, outcome string, duration time.Duration) {
	m := getMetrics()
	m.chatRequestsTotal.WithLabelValues(channel, outcome).Inc()
	m.chatDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

func ChatStarted() {
	getMetrics().activeChats.Inc()
}

func ChatFinished() {
	getMetrics().activeChats.Dec()
}

// RecordAttempt counts one provider attempt. Outcome is one of success,
// rate_limited, timeout, error or cancelled.
func RecordAttempt(provider, model, outcome string, duration time.Duration) {
	m := getMetrics()
	m.attemptTotal.WithLabelValues(provider, model, outcome).Inc()
	m.attemptDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordExhaustion(model string) {
	getMetrics().exhaustionsTotal.WithLabelValues(model).Inc()
}

func RecordAgentRounds(rounds int) {
	getMetrics().agentRounds.Observe(float64(rounds))
}

func RecordLedgerFlush(duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.ledgerFlushTotal.WithLabelValues(status).Inc()
	m.ledgerFlushDuration.Observe(duration.Seconds())
}

func RecordToolExecution(tool string, duration time.Duration, errorKind string) {
	m := getMetrics()
	status := "success"
	if errorKind != "" {
		status = "error"
		m.toolErrorsTotal.WithLabelValues(tool, errorKind).Inc()
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}
