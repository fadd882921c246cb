package storetools

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/harun/storechat/pkg/toolexecutor"
)

const defaultLimit = 20

// Register adds the store data tools to exec, bound to backend.
func Register(exec *toolexecutor.ToolExecutor, backend Backend) error {
	if exec == nil {
		return fmt.Errorf("tool executor is required")
	}
	if backend == nil {
		return fmt.Errorf("backend is required")
	}

	for _, def := range Catalog(backend) {
		if err := exec.RegisterTool(def); err != nil {
			return fmt.Errorf("failed to register %s: %w", def.Name, err)
		}
	}
	return nil
}

// Catalog returns the store tool definitions bound to backend.
func Catalog(backend Backend) []toolexecutor.ToolDefinition {
	limit := toolexecutor.ToolParameter{Name: "limit", Type: "integer", Description: "Maximum number of rows to return (default 20)"}

	return []toolexecutor.ToolDefinition{
		{
			Name:        "list_products",
			Description: "List products in the inventory, optionally filtered by a search term or category.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "search", Type: "string", Description: "Text to match against product names"},
				{Name: "category", Type: "string", Description: "Category name"},
				limit,
			},
			Handler: fetch(backend, "products", "search", "category", "limit"),
		},
		{
			Name:        "get_product",
			Description: "Get one product with its price and current stock, by id.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "id", Type: "string", Description: "Product id", Required: true},
			},
			Handler: fetchByID(backend, "products"),
		},
		{
			Name:        "low_stock_products",
			Description: "List products whose stock is at or below a threshold.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "threshold", Type: "integer", Description: "Stock threshold (default 5)"},
			},
			Handler: fetch(backend, "products/low-stock", "threshold"),
		},
		{
			Name:        "list_sales",
			Description: "List sales, newest first, optionally within a date range (YYYY-MM-DD).",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "from", Type: "string", Description: "Start date, inclusive"},
				{Name: "to", Type: "string", Description: "End date, inclusive"},
				{Name: "client_id", Type: "string", Description: "Only sales for this client"},
				limit,
			},
			Handler: fetch(backend, "sales", "from", "to", "client_id", "limit"),
		},
		{
			Name:        "sales_summary",
			Description: "Totals of revenue and number of sales for a period.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "period", Type: "string", Description: "Period to summarize", Enum: []string{"today", "week", "month", "year"}, Required: true},
			},
			Handler: fetch(backend, "sales/summary", "period"),
		},
		{
			Name:        "list_employees",
			Description: "List employees, optionally filtered by role.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "role", Type: "string", Description: "Employee role"},
			},
			Handler: fetch(backend, "employees", "role"),
		},
		{
			Name:        "list_clients",
			Description: "List clients, optionally filtered by a search term.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "search", Type: "string", Description: "Text to match against client names or emails"},
				limit,
			},
			Handler: fetch(backend, "clients", "search", "limit"),
		},
		{
			Name:        "get_client",
			Description: "Get one client with contact details, by id.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "id", Type: "string", Description: "Client id", Required: true},
			},
			Handler: fetchByID(backend, "clients"),
		},
	}
}

func fetch(backend Backend, resource string, keys ...string) toolexecutor.ToolHandler {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		query := url.Values{}
		for _, key := range keys {
			if v, ok := params[key]; ok {
				query.Set(key, formatParam(v))
			}
		}
		if contains(keys, "limit") && query.Get("limit") == "" {
			query.Set("limit", strconv.Itoa(defaultLimit))
		}
		return backend.Fetch(ctx, resource, query)
	}
}

func fetchByID(backend Backend, resource string) toolexecutor.ToolHandler {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		id := formatParam(params["id"])
		if id == "" {
			return nil, fmt.Errorf("id is required")
		}
		return backend.Fetch(ctx, resource+"/"+url.PathEscape(id), nil)
	}
}

// formatParam renders a decoded JSON value as a query string value. Whole
// numbers lose their decimal point.
func formatParam(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
