package storetools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harun/storechat/pkg/toolexecutor"
	"github.com/tidwall/gjson"
)

// Backend is the data-access capability set of the surrounding application.
// Fetch reads one resource path (e.g. "products/low-stock") with query
// parameters and returns its decoded JSON body.
type Backend interface {
	Fetch(ctx context.Context, resource string, query url.Values) (interface{}, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, resource string, query url.Values) (interface{}, error)

// Fetch calls f.
func (f BackendFunc) Fetch(ctx context.Context, resource string, query url.Values) (interface{}, error) {
	return f(ctx, resource, query)
}

// HTTPConfig configures an HTTPBackend.
type HTTPConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Client  *http.Client
}

// HTTPBackend reads resources from the application's REST API.
type HTTPBackend struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPBackend creates an HTTP backend.
func NewHTTPBackend(cfg HTTPConfig) (*HTTPBackend, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid backend base url: %w", err)
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPBackend{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  client,
	}, nil
}

// Fetch performs GET {base}/{resource}?{query}.
func (b *HTTPBackend) Fetch(ctx context.Context, resource string, query url.Values) (interface{}, error) {
	endpoint := b.baseURL + "/" + strings.TrimLeft(resource, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	if caller, ok := toolexecutor.CallerFromContext(ctx); ok {
		req.Header.Set("X-User-Name", caller.Name)
		req.Header.Set("X-User-Role", caller.Role)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read backend response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("not found: %s", resource)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = gjson.GetBytes(body, "message").String()
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("backend returned %d: %s", resp.StatusCode, msg)
	}

	if len(body) == 0 {
		return nil, nil
	}
	var out interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("backend returned invalid JSON: %w", err)
	}
	return out, nil
}
