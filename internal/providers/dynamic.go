package providers

import (
	"context"
	"sync"
)

// DynamicProvider proxies to a replaceable backend so the server can pick
// up new LLM settings (SIGHUP) without restarting running sessions.
// In-flight calls finish on the backend they started with.
type DynamicProvider struct {
	mu    sync.RWMutex
	inner LLMProvider
}

func NewDynamicProvider(initial LLMProvider) *DynamicProvider {
	return &DynamicProvider{inner: initial}
}

func (d *DynamicProvider) current() LLMProvider {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.inner
}

func (d *DynamicProvider) Chat(ctx context.Context, req ChatRequest) (*LLMResponse, error) {
	return d.current().Chat(ctx, req)
}

func (d *DynamicProvider) DefaultModel() string {
	return d.current().DefaultModel()
}

// Swap installs next and returns the backend it replaced.
func (d *DynamicProvider) Swap(next LLMProvider) LLMProvider {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.inner
	d.inner = next
	return prev
}
