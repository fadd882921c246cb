// Package toolexecutor registers data-retrieval tools and executes the calls a
// model requests.
//
// Invariants:
// - Tool names are unique.
// - Arguments are schema-validated before the handler runs.
// - Execute never returns a Go error; failures become ToolResult.ErrorKind.
// - ExecuteAll keeps results aligned with calls regardless of completion order.
//
// Usage:
//
//	exec := toolexecutor.New(toolexecutor.Config{})
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name:        "get_product",
//		Description: "Look up a product",
//		Parameters:  []toolexecutor.ToolParameter{{Name: "name", Type: "string", Description: "product name", Required: true}},
//		Handler:     handler,
//	})
//	results := exec.ExecuteAll(ctx, calls)
package toolexecutor
