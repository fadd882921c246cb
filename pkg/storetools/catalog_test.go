package storetools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/harun/storechat/pkg/toolexecutor"
	"github.com/harun/storechat/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	path   string
	query  url.Values
	auth   string
	caller string
}

type recorder struct {
	mu   sync.Mutex
	reqs []recordedRequest
}

func (r *recorder) all() []recordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedRequest(nil), r.reqs...)
}

func setupTestBackend(t *testing.T, handler http.HandlerFunc) (*HTTPBackend, *recorder) {
	t.Helper()
	seen := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.mu.Lock()
		seen.reqs = append(seen.reqs, recordedRequest{
			path:   r.URL.Path,
			query:  r.URL.Query(),
			auth:   r.Header.Get("Authorization"),
			caller: r.Header.Get("X-User-Name"),
		})
		seen.mu.Unlock()
		if handler != nil {
			handler(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"items":[{"id":"p1","name":"Chair","stock":3}]}`)
	}))
	t.Cleanup(srv.Close)

	backend, err := NewHTTPBackend(HTTPConfig{BaseURL: srv.URL + "/api/", Token: "backend-token"})
	require.NoError(t, err)
	return backend, seen
}

func setupTestExecutor(t *testing.T, backend Backend) *toolexecutor.ToolExecutor {
	t.Helper()
	exec := toolexecutor.New(toolexecutor.Config{})
	require.NoError(t, Register(exec, backend))
	return exec
}

func TestRegister(t *testing.T) {
	t.Run("should register the whole catalog", func(t *testing.T) {
		exec := setupTestExecutor(t, BackendFunc(func(ctx context.Context, resource string, query url.Values) (interface{}, error) {
			return nil, nil
		}))

		assert.Equal(t, []string{
			"get_client", "get_product", "list_clients", "list_employees",
			"list_products", "list_sales", "low_stock_products", "sales_summary",
		}, exec.ListTools())
	})

	t.Run("should require an executor and a backend", func(t *testing.T) {
		assert.Error(t, Register(nil, BackendFunc(nil)))
		assert.Error(t, Register(toolexecutor.New(toolexecutor.Config{}), nil))
	})
}

func TestCatalogCalls(t *testing.T) {
	ctx := toolexecutor.ContextWithCaller(context.Background(), toolexecutor.Caller{Name: "dana", Role: "manager"})

	t.Run("should map list arguments onto query parameters", func(t *testing.T) {
		backend, seen := setupTestBackend(t, nil)
		exec := setupTestExecutor(t, backend)

		r := exec.Execute(ctx, transport.ToolCall{ID: "c1", Name: "list_sales", Arguments: json.RawMessage(`{"from":"2026-05-01","limit":5}`)})
		require.Empty(t, r.ErrorKind)

		require.Len(t, seen.all(), 1)
		req := seen.all()[0]
		assert.Equal(t, "/api/sales", req.path)
		assert.Equal(t, "2026-05-01", req.query.Get("from"))
		assert.Equal(t, "5", req.query.Get("limit"))
		assert.Equal(t, "Bearer backend-token", req.auth)
		assert.Equal(t, "dana", req.caller)

		payload, ok := r.Payload.(map[string]interface{})
		require.True(t, ok)
		assert.Len(t, payload["items"], 1)
	})

	t.Run("should apply the default limit", func(t *testing.T) {
		backend, seen := setupTestBackend(t, nil)
		exec := setupTestExecutor(t, backend)

		exec.Execute(ctx, transport.ToolCall{ID: "c1", Name: "list_clients", Arguments: json.RawMessage(`{}`)})
		require.Len(t, seen.all(), 1)
		assert.Equal(t, "20", seen.all()[0].query.Get("limit"))
	})

	t.Run("should address a single record by id", func(t *testing.T) {
		backend, seen := setupTestBackend(t, nil)
		exec := setupTestExecutor(t, backend)

		exec.Execute(ctx, transport.ToolCall{ID: "c1", Name: "get_client", Arguments: json.RawMessage(`{"id":"cl 7"}`)})
		require.Len(t, seen.all(), 1)
		assert.Equal(t, "/api/clients/cl 7", seen.all()[0].path)
	})

	t.Run("should return backend failures to the model", func(t *testing.T) {
		backend, _ := setupTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"error":"database is locked"}`)
		})
		exec := setupTestExecutor(t, backend)

		r := exec.Execute(ctx, transport.ToolCall{ID: "c1", Name: "low_stock_products", Arguments: json.RawMessage(`{"threshold":2}`)})
		assert.Equal(t, toolexecutor.ErrorKindToolError, r.ErrorKind)
		payload := r.Payload.(map[string]interface{})
		assert.Contains(t, payload["error"], "database is locked")
	})

	t.Run("should report missing records", func(t *testing.T) {
		backend, _ := setupTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		exec := setupTestExecutor(t, backend)

		r := exec.Execute(ctx, transport.ToolCall{ID: "c1", Name: "get_product", Arguments: json.RawMessage(`{"id":"p404"}`)})
		assert.Equal(t, toolexecutor.ErrorKindToolError, r.ErrorKind)
		assert.Contains(t, r.Payload.(map[string]interface{})["error"], "not found")
	})

	t.Run("should reject periods outside the enum", func(t *testing.T) {
		backend, seen := setupTestBackend(t, nil)
		exec := setupTestExecutor(t, backend)

		r := exec.Execute(ctx, transport.ToolCall{ID: "c1", Name: "sales_summary", Arguments: json.RawMessage(`{"period":"decade"}`)})
		assert.Equal(t, toolexecutor.ErrorKindInvalidArguments, r.ErrorKind)
		assert.Empty(t, seen.all())
	})
}

func TestNewHTTPBackend(t *testing.T) {
	_, err := NewHTTPBackend(HTTPConfig{})
	assert.Error(t, err)
}

func TestFormatParam(t *testing.T) {
	assert.Equal(t, "5", formatParam(float64(5)))
	assert.Equal(t, "2.5", formatParam(2.5))
	assert.Equal(t, "true", formatParam(true))
	assert.Equal(t, "", formatParam(nil))
}
