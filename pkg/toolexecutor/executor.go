package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/storechat/internal/observability"
	"github.com/harun/storechat/pkg/transport"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"github.com/xeipuuv/gojsonschema"
)

// Error kinds reported in transport.ToolResult.ErrorKind.
const (
	ErrorKindNotFound         = "tool_not_found"
	ErrorKindInvalidArguments = "invalid_arguments"
	ErrorKindToolError        = "tool_error"
	ErrorKindTimeout          = "timeout"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultMaxOutput = 10 * 1024
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Enum        []string    `json:"enum,omitempty"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Config configures a ToolExecutor.
type Config struct {
	// Timeout bounds a single handler call. Zero means 30s.
	Timeout time.Duration
	// MaxOutputBytes caps the JSON-encoded result. Zero means 10KB.
	MaxOutputBytes int
	// Policies restricts tools per caller role. Roles without an entry see
	// every tool.
	Policies map[string]*ToolPolicy
}

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	tools     map[string]*ToolDefinition
	schemas   map[string]*gojsonschema.Schema
	params    map[string]map[string]interface{}
	timeout   time.Duration
	maxOutput int
	policies  map[string]*ToolPolicy
	mu        sync.RWMutex
}

// New creates a new ToolExecutor
func New(cfg Config) *ToolExecutor {
	observability.EnsureRegistered()

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutput
	}

	return &ToolExecutor{
		tools:     make(map[string]*ToolDefinition),
		schemas:   make(map[string]*gojsonschema.Schema),
		params:    make(map[string]map[string]interface{}),
		timeout:   cfg.Timeout,
		maxOutput: cfg.MaxOutputBytes,
		policies:  cfg.Policies,
	}
}

// RegisterTool registers a new tool
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	params := parametersSchema(def)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(params))
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema
	te.params[def.Name] = params

	log.Debug().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// UnregisterTool removes a tool
func (te *ToolExecutor) UnregisterTool(name string) {
	te.mu.Lock()
	defer te.mu.Unlock()

	delete(te.tools, name)
	delete(te.schemas, name)
	delete(te.params, name)
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// ListTools returns all registered tool names, sorted.
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tools := make([]string, 0, len(te.tools))
	for name := range te.tools {
		tools = append(tools, name)
	}
	sort.Strings(tools)
	return tools
}

// Specs returns the tool catalog visible to the caller in ctx, in the form
// sent to providers.
func (te *ToolExecutor) Specs(ctx context.Context) []transport.ToolSpec {
	policy := te.policyFor(ctx)

	te.mu.RLock()
	defer te.mu.RUnlock()

	names := make([]string, 0, len(te.tools))
	for name := range te.tools {
		if policy.IsToolAllowed(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	specs := make([]transport.ToolSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, transport.ToolSpec{
			Name:        name,
			Description: te.tools[name].Description,
			Parameters:  te.params[name],
		})
	}
	return specs
}

func (te *ToolExecutor) policyFor(ctx context.Context) *ToolPolicy {
	if te.policies == nil {
		return nil
	}
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return nil
	}
	return te.policies[caller.Role]
}

// ExecuteAll runs one round of tool calls concurrently. Results keep the
// order of calls and carry their call ids.
func (te *ToolExecutor) ExecuteAll(ctx context.Context, calls []transport.ToolCall) []transport.ToolResult {
	results := make([]transport.ToolResult, len(calls))

	var wg conc.WaitGroup
	for i, call := range calls {
		wg.Go(func() {
			results[i] = te.Execute(ctx, call)
		})
	}
	wg.Wait()

	return results
}

// Execute runs one tool call. It never fails: every problem is reported as a
// structured error result the model can read.
func (te *ToolExecutor) Execute(ctx context.Context, call transport.ToolCall) transport.ToolResult {
	startTime := time.Now()
	result := te.execute(ctx, call)
	result.ToolCallID = call.ID
	result.Name = call.Name
	observability.RecordToolExecution(call.Name, time.Since(startTime), result.ErrorKind)
	return result
}

func (te *ToolExecutor) execute(ctx context.Context, call transport.ToolCall) transport.ToolResult {
	te.mu.RLock()
	tool := te.tools[call.Name]
	schema := te.schemas[call.Name]
	te.mu.RUnlock()

	if tool == nil || !te.policyFor(ctx).IsToolAllowed(call.Name) {
		log.Warn().Str("tool", call.Name).Msg("Tool not found")
		return errorResult(ErrorKindNotFound, fmt.Sprintf("tool not found: %s", call.Name))
	}

	params, err := decodeArguments(call.Arguments)
	if err != nil {
		log.Warn().Str("tool", call.Name).Err(err).Msg("Malformed tool arguments")
		return errorResult(ErrorKindInvalidArguments, err.Error())
	}
	if err := validateParameters(schema, params); err != nil {
		log.Warn().Str("tool", call.Name).Err(err).Msg("Parameter validation failed")
		return errorResult(ErrorKindInvalidArguments, fmt.Sprintf("parameter validation failed: %v", err))
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, te.timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		var out outcome
		var pc panics.Catcher
		pc.Try(func() {
			out.value, out.err = tool.Handler(timeoutCtx, params)
		})
		if r := pc.Recovered(); r != nil {
			out.err = fmt.Errorf("tool panicked: %v", r.Value)
		}
		done <- out
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
				return errorResult(ErrorKindTimeout, fmt.Sprintf("tool execution timeout after %v", te.timeout))
			}
			log.Error().Str("tool", call.Name).Err(out.err).Msg("Tool execution failed")
			return errorResult(ErrorKindToolError, out.err.Error())
		}
		payload, truncated := te.truncateOutput(out.value)
		return transport.ToolResult{Payload: payload, Truncated: truncated}

	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return errorResult(ErrorKindToolError, "tool execution cancelled")
		}
		log.Error().Str("tool", call.Name).Dur("timeout", te.timeout).Msg("Tool execution timeout")
		return errorResult(ErrorKindTimeout, fmt.Sprintf("tool execution timeout after %v", te.timeout))
	}
}

func errorResult(kind, msg string) transport.ToolResult {
	return transport.ToolResult{
		Payload:   map[string]interface{}{"error": msg},
		ErrorKind: kind,
	}
}

// decodeArguments parses raw call arguments into an object. Empty and null
// arguments mean no arguments; anything else must be a JSON object.
func decodeArguments(raw json.RawMessage) (map[string]interface{}, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return map[string]interface{}{}, nil
	}

	var params map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &params); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	return params, nil
}

// validateToolDefinition validates a tool definition
func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
	}

	return nil
}

// parametersSchema builds the JSON Schema object for a tool. It is used both
// for validation and as the provider-facing declaration, so it sticks to the
// subset every provider accepts.
func parametersSchema(def ToolDefinition) map[string]interface{} {
	properties := make(map[string]interface{}, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if len(param.Enum) > 0 {
			paramSchema["enum"] = param.Enum
		}
		if param.Type == "array" {
			paramSchema["items"] = map[string]interface{}{"type": "string"}
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// validateParameters validates parameters against a JSON Schema
func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		messages := []string{}
		for _, e := range result.Errors() {
			messages = append(messages, e.String())
		}
		return fmt.Errorf("%s", strings.Join(messages, "; "))
	}

	return nil
}

// truncateOutput caps the encoded size of a result. Oversized results are
// replaced by their truncated JSON text.
func (te *ToolExecutor) truncateOutput(output interface{}) (interface{}, bool) {
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Sprintf("%v", output), false
	}
	if len(data) <= te.maxOutput {
		return output, false
	}

	log.Warn().
		Int("original", len(data)).
		Int("truncated", te.maxOutput).
		Msg("Output truncated")

	return strings.ToValidUTF8(string(data[:te.maxOutput]), "") + "\n... [output truncated]", true
}
