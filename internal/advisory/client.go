package advisory

import (
	"context"
	"fmt"
	"time"

	"wayfind/internal/types"
)

// Completer is the minimal surface a provider backend must offer. Each
// backend is a thin transport; prompt construction and response parsing are
// shared.
type Completer interface {
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Client adapts any Completer into a types.AdvisoryClient.
type Client struct {
	backend        Completer
	defaultTimeout time.Duration
}

// NewClient wraps a backend with the default call timeout.
func NewClient(backend Completer, defaultTimeout time.Duration) *Client {
	if defaultTimeout <= 0 {
		defaultTimeout = 8 * time.Second
	}
	return &Client{backend: backend, defaultTimeout: defaultTimeout}
}

// Invoke implements types.AdvisoryClient. The request timeout is always
// enforced here so every backend is bounded uniformly.
func (c *Client) Invoke(ctx context.Context, req types.AdvisoryRequest) (types.AdvisoryResult, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	system, user := buildPrompt(req)
	resp, err := c.backend.CompleteWithSystem(ctx, system, user)
	if err != nil {
		return types.AdvisoryResult{}, fmt.Errorf("advisory call failed: %w", err)
	}
	return parseResult(resp, req.Mode), nil
}
