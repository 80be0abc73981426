package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Dispatcher performs the backend call behind a task endpoint.
type Dispatcher interface {
	Dispatch(ctx context.Context, endpoint string, params map[string]any) (string, error)
}

// MockDispatcher answers every call with a canned success payload.
type MockDispatcher struct {
	Logger *zap.Logger
}

func (m MockDispatcher) Dispatch(_ context.Context, endpoint string, params map[string]any) (string, error) {
	if m.Logger != nil {
		m.Logger.Info("mock endpoint call", zap.String("endpoint", endpoint), zap.Any("params", params))
	}
	out, err := json.Marshal(map[string]string{
		"status": "success",
		"data":   "Mock response for " + endpoint,
	})
	return string(out), err
}

// HTTPDispatcher POSTs the params as JSON to the endpoint URL and returns
// the response body.
type HTTPDispatcher struct {
	Client *http.Client
}

// NewHTTPDispatcher builds a dispatcher with the given per-call timeout.
func NewHTTPDispatcher(timeout time.Duration) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDispatcher{Client: &http.Client{Timeout: timeout}}
}

const maxEndpointResponse = 64 << 10

func (d *HTTPDispatcher) Dispatch(ctx context.Context, endpoint string, params map[string]any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, maxEndpointResponse))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", endpoint, err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%s returned HTTP %d: %s", endpoint, resp.StatusCode, out)
	}
	return string(out), nil
}

// EndpointTool exposes one roster task to the model. Tasks without an
// endpoint are still advertised but fail when called.
type EndpointTool struct {
	TaskName   string
	TaskDesc   string
	Endpoint   string
	Schema     map[string]any
	Dispatcher Dispatcher
}

func (t *EndpointTool) Name() string        { return t.TaskName }
func (t *EndpointTool) Description() string { return t.TaskDesc }

func (t *EndpointTool) Parameters() map[string]any {
	if len(t.Schema) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return t.Schema
}

func (t *EndpointTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	if t.Endpoint == "" {
		return "", fmt.Errorf("task %s has no endpoint", t.TaskName)
	}
	return t.Dispatcher.Dispatch(ctx, t.Endpoint, args)
}
